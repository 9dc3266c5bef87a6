package graph_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harekrishnarai/flowscope/pkg/analysis/graph"
	"github.com/harekrishnarai/flowscope/pkg/parser"
	"github.com/harekrishnarai/flowscope/pkg/rules"
)

func parse(t *testing.T, content string) parser.WorkflowFile {
	t.Helper()
	wf, err := parser.Parse("ci.yml", []byte(content))
	require.NoError(t, err)
	return wf
}

func build(t *testing.T, content string) (parser.WorkflowFile, graph.Extraction, *graph.Graph) {
	t.Helper()
	wf := parse(t, content)
	x := graph.Extract(wf)
	return wf, x, graph.New(wf.JobIDs(), x.Edges, graph.ExplicitOrder)
}

func findingsFor(findings []rules.Finding, ruleID string) []rules.Finding {
	var out []rules.Finding
	for _, f := range findings {
		if f.RuleID == ruleID {
			out = append(out, f)
		}
	}
	return out
}

func TestEmptyWorkflow(t *testing.T) {
	_, x, g := build(t, "on: push\njobs: {}\n")

	assert.Empty(t, x.Edges)
	assert.Empty(t, x.Findings)

	pa := graph.AnalyzePaths(g)
	assert.Empty(t, pa.Roots)
	assert.Empty(t, pa.Leaves)
	assert.Empty(t, pa.Isolated)
	assert.Empty(t, pa.CriticalPaths)
	assert.Empty(t, graph.DetectCycles(g))
}

func TestDanglingNeeds(t *testing.T) {
	_, x, g := build(t, `on: push
jobs:
  a:
    runs-on: ubuntu-latest
    needs: [b, b]
    steps:
      - run: echo a
`)

	dangling := findingsFor(x.Findings, graph.DanglingRuleID)
	require.Len(t, dangling, 1)
	assert.Equal(t, rules.Structure, dangling[0].Category)
	assert.Equal(t, rules.Error, dangling[0].Severity)
	assert.Equal(t, "a", dangling[0].JobID())
	assert.Equal(t, 3, dangling[0].Line())

	assert.Empty(t, x.Edges)
	assert.Equal(t, 1, g.Len())
}

func TestNeedsNormalization(t *testing.T) {
	_, x, _ := build(t, `on: push
jobs:
  a:
    runs-on: ubuntu-latest
    steps: [{run: echo}]
  b:
    runs-on: ubuntu-latest
    needs: a
    steps: [{run: echo}]
  c:
    runs-on: ubuntu-latest
    needs: [a, b]
    steps: [{run: echo}]
`)

	assert.Equal(t, []graph.Edge{
		{From: "a", To: "b", Kind: graph.ExplicitOrder},
		{From: "a", To: "c", Kind: graph.ExplicitOrder},
		{From: "b", To: "c", Kind: graph.ExplicitOrder},
	}, x.Edges)
}

func TestThreeJobCycle(t *testing.T) {
	wf, _, g := build(t, `on: push
jobs:
  a:
    needs: c
    runs-on: ubuntu-latest
  b:
    needs: a
    runs-on: ubuntu-latest
  c:
    needs: b
    runs-on: ubuntu-latest
`)

	cycles := graph.DetectCycles(g)
	require.Len(t, cycles, 1)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, cycles[0])
	assert.Equal(t, []string{"a", "b", "c"}, cycles[0])

	findings := graph.CycleFindings(wf, cycles)
	require.Len(t, findings, 1)
	assert.Equal(t, rules.Error, findings[0].Severity)
	assert.Equal(t, rules.Structure, findings[0].Category)
	assert.Contains(t, findings[0].Description, "a -> b -> c -> a")
}

func TestSelfLoopAndIndependentCycles(t *testing.T) {
	wf, _, g := build(t, `on: push
jobs:
  solo:
    needs: solo
    runs-on: ubuntu-latest
  x:
    needs: y
    runs-on: ubuntu-latest
  y:
    needs: x
    runs-on: ubuntu-latest
  free:
    runs-on: ubuntu-latest
`)

	cycles := graph.DetectCycles(g)
	require.Len(t, cycles, 2)
	assert.Equal(t, []string{"solo"}, cycles[0])
	assert.ElementsMatch(t, []string{"x", "y"}, cycles[1])

	findings := graph.CycleFindings(wf, cycles)
	require.Len(t, findings, 2)
	assert.Contains(t, findings[0].Description, "depends on itself")
}

func TestLinearChain(t *testing.T) {
	_, _, g := build(t, `on: push
jobs:
  a:
    runs-on: ubuntu-latest
  b:
    needs: a
    runs-on: ubuntu-latest
  c:
    needs: b
    runs-on: ubuntu-latest
`)

	pa := graph.AnalyzePaths(g)
	assert.Equal(t, [][]string{{"a", "b", "c"}}, pa.CriticalPaths)
	assert.Equal(t, []string{"a"}, pa.Roots)
	assert.Equal(t, []string{"c"}, pa.Leaves)
	assert.Empty(t, pa.Isolated)
}

func TestIsolatedJob(t *testing.T) {
	_, _, g := build(t, `on: push
jobs:
  lint:
    runs-on: ubuntu-latest
  build:
    runs-on: ubuntu-latest
  test:
    needs: build
    runs-on: ubuntu-latest
`)

	pa := graph.AnalyzePaths(g)
	assert.Equal(t, []string{"lint"}, pa.Isolated)
	assert.Equal(t, []string{"lint", "build"}, pa.Roots)
	assert.Equal(t, [][]string{{"build", "test"}}, pa.CriticalPaths)
}

func TestCriticalPathTieBreak(t *testing.T) {
	_, _, g := build(t, `on: push
jobs:
  root:
    runs-on: ubuntu-latest
  left:
    needs: root
    runs-on: ubuntu-latest
  right:
    needs: root
    runs-on: ubuntu-latest
  deep:
    needs: right
    runs-on: ubuntu-latest
  end:
    needs: left
    runs-on: ubuntu-latest
`)

	pa := graph.AnalyzePaths(g)
	require.Len(t, pa.CriticalPaths, 1)
	assert.Equal(t, []string{"root", "left", "end"}, pa.CriticalPaths[0])
}

func TestCriticalPathWithCycle(t *testing.T) {
	_, _, g := build(t, `on: push
jobs:
  a:
    runs-on: ubuntu-latest
  b:
    needs: [a, c]
    runs-on: ubuntu-latest
  c:
    needs: b
    runs-on: ubuntu-latest
`)

	pa := graph.AnalyzePaths(g)
	assert.Equal(t, [][]string{{"a", "b", "c"}}, pa.CriticalPaths)
}

func TestCriticalPathOnDenseCycleTerminates(t *testing.T) {
	// Every job needs every other job, so simple paths number 14!
	const n = 14
	ids := []string{"root"}
	for i := 0; i < n; i++ {
		ids = append(ids, fmt.Sprintf("j%02d", i))
	}
	var edges []graph.Edge
	for _, to := range ids[1:] {
		edges = append(edges, graph.Edge{From: "root", To: to, Kind: graph.ExplicitOrder})
		for _, from := range ids[1:] {
			if from != to {
				edges = append(edges, graph.Edge{From: from, To: to, Kind: graph.ExplicitOrder})
			}
		}
	}

	pa := graph.AnalyzePaths(graph.New(ids, edges))
	assert.Equal(t, []string{"root"}, pa.Roots)
	require.Len(t, pa.CriticalPaths, 1)
	assert.Equal(t, ids, pa.CriticalPaths[0])
}

func TestArtifactEdges(t *testing.T) {
	wf, x, _ := build(t, `on: push
jobs:
  build:
    runs-on: ubuntu-latest
    steps:
      - uses: actions/upload-artifact@v4
        with:
          name: dist
      - uses: actions/upload-artifact@v4
        with:
          name: coverage
      - uses: actions/upload-artifact@v4
  deploy:
    needs: build
    runs-on: ubuntu-latest
    steps:
      - uses: actions/download-artifact@v4
        with:
          name: dist
      - uses: actions/download-artifact@v4
`)

	var artifacts []graph.Edge
	for _, e := range x.Edges {
		if e.Kind == graph.Artifact {
			artifacts = append(artifacts, e)
		}
	}
	require.Len(t, artifacts, 2)
	assert.Equal(t, "dist", artifacts[0].Detail)
	assert.Equal(t, "artifact", artifacts[1].Detail)

	// Every artifact edge pairs an upload in From with a download in To
	for _, e := range artifacts {
		assert.True(t, hasArtifactStep(wf, e.From, "actions/upload-artifact", e.Detail))
		assert.True(t, hasArtifactStep(wf, e.To, "actions/download-artifact", e.Detail))
	}

	unused := findingsFor(x.Findings, graph.UnusedArtifactRule)
	require.Len(t, unused, 1)
	assert.Equal(t, rules.Performance, unused[0].Category)
	assert.Contains(t, unused[0].Description, "coverage")
	idx, ok := unused[0].StepIndex()
	assert.True(t, ok)
	assert.Equal(t, 1, idx)
}

func hasArtifactStep(wf parser.WorkflowFile, jobID, action, name string) bool {
	for _, step := range wf.Workflow.Jobs[jobID].Steps {
		ref := parser.ParseActionRef(step.Uses)
		stepName := step.WithString("name")
		if stepName == "" {
			stepName = "artifact"
		}
		if ref.Owner+"/"+ref.Repo == action && stepName == name {
			return true
		}
	}
	return false
}

func TestSameJobArtifactIsNotAnEdge(t *testing.T) {
	_, x, _ := build(t, `on: push
jobs:
  build:
    runs-on: ubuntu-latest
    steps:
      - uses: actions/upload-artifact@v4
        with: {name: tmp}
      - uses: actions/download-artifact@v4
        with: {name: tmp}
`)
	assert.Empty(t, x.Edges)
	assert.Len(t, findingsFor(x.Findings, graph.UnusedArtifactRule), 1)
}

func TestOutputEdges(t *testing.T) {
	_, x, _ := build(t, `on: push
jobs:
  version:
    runs-on: ubuntu-latest
    outputs:
      tag: ${{ steps.v.outputs.tag }}
    steps:
      - id: v
        run: echo "tag=1.0" >> "$GITHUB_OUTPUT"
  release:
    needs: version
    if: needs.version.outputs.tag != ''
    runs-on: ubuntu-latest
    steps:
      - run: echo ${{ needs.version.outputs.tag }} ${{ needs.version.outputs.sha }}
  notify:
    runs-on: ubuntu-latest
    steps:
      - run: echo ${{ needs.release.outputs.url }} ${{ needs.ghost.outputs.x }}
`)

	var outputs []graph.Edge
	for _, e := range x.Edges {
		if e.Kind == graph.Output {
			outputs = append(outputs, e)
		}
	}
	assert.Equal(t, []graph.Edge{
		{From: "version", To: "release", Kind: graph.Output, Detail: "tag"},
		{From: "version", To: "release", Kind: graph.Output, Detail: "tag"},
		{From: "version", To: "release", Kind: graph.Output, Detail: "sha"},
		{From: "release", To: "notify", Kind: graph.Output, Detail: "url"},
	}, outputs)

	assert.Len(t, findingsFor(x.Findings, graph.OutputNeedsRuleID), 1)
	assert.Len(t, findingsFor(x.Findings, graph.DanglingRuleID), 1)

	undeclared := findingsFor(x.Findings, graph.UndeclaredOutRuleID)
	require.Len(t, undeclared, 1)
	assert.Contains(t, undeclared[0].Description, `"sha"`)
}

func TestReusableWorkflowOutputEdges(t *testing.T) {
	wf, x, _ := build(t, `on: push
jobs:
  a:
    runs-on: ubuntu-latest
    outputs:
      v: ${{ steps.s.outputs.v }}
      token: ${{ steps.s.outputs.token }}
    steps:
      - id: s
        run: echo "v=1" >> "$GITHUB_OUTPUT"
  b:
    needs: a
    uses: org/repo/.github/workflows/deploy.yml@main
    with:
      version: ${{ needs.a.outputs.v }}
    secrets:
      token: ${{ needs.a.outputs.token }}
`)

	job := wf.Workflow.Jobs["b"]
	assert.Equal(t, "${{ needs.a.outputs.v }}", job.With["version"])
	assert.NotNil(t, job.Secrets)

	assert.Equal(t, []graph.Edge{
		{From: "a", To: "b", Kind: graph.ExplicitOrder},
		{From: "a", To: "b", Kind: graph.Output, Detail: "v"},
		{From: "a", To: "b", Kind: graph.Output, Detail: "token"},
	}, x.Edges)
	assert.Empty(t, x.Findings)
}

func TestEnvironmentShadowing(t *testing.T) {
	_, x, _ := build(t, `on: push
env:
  NODE_ENV: production
  REGION: eu
jobs:
  test:
    runs-on: ubuntu-latest
    env:
      NODE_ENV: test
    steps:
      - run: make
        env:
          REGION: us
          OTHER: x
`)

	for _, e := range x.Edges {
		assert.NotEqual(t, graph.EnvironmentShadow, e.Kind)
	}

	shadows := findingsFor(x.Findings, graph.EnvShadowRuleID)
	require.Len(t, shadows, 2)
	assert.Equal(t, rules.BestPractice, shadows[0].Category)
	assert.Contains(t, shadows[0].Description, "NODE_ENV")
	assert.Contains(t, shadows[1].Description, "REGION")
	_, hasStep := shadows[1].StepIndex()
	assert.True(t, hasStep)
}

func TestGraphIgnoresUnknownEndpointsAndDuplicates(t *testing.T) {
	g := graph.New([]string{"a", "b"}, []graph.Edge{
		{From: "a", To: "b", Kind: graph.ExplicitOrder},
		{From: "a", To: "b", Kind: graph.Output},
		{From: "ghost", To: "b", Kind: graph.ExplicitOrder},
	})

	assert.Equal(t, 1, g.OutDegree(0))
	assert.Equal(t, 1, g.InDegree(1))
	i, ok := g.Index("b")
	assert.True(t, ok)
	assert.Equal(t, "b", g.ID(i))
}
