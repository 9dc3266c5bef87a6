package reachability_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harekrishnarai/flowscope/pkg/analysis/reachability"
	"github.com/harekrishnarai/flowscope/pkg/parser"
	"github.com/harekrishnarai/flowscope/pkg/rules"
)

func evaluator(t *testing.T, content string) *reachability.Evaluator {
	t.Helper()
	wf, err := parser.Parse("ci.yml", []byte(content))
	require.NoError(t, err)
	return reachability.NewEvaluator(wf, nil)
}

func securityFinding(title string, severity rules.Severity, job string, step ...int) rules.Finding {
	loc := &rules.Location{JobID: job, Line: 5}
	if len(step) > 0 {
		loc.StepIndex = rules.StepAt(step[0])
	}
	return rules.Finding{
		ID:          "x-1",
		RuleID:      "X",
		Category:    rules.Security,
		Severity:    severity,
		Title:       title,
		Description: "Something risky happens",
		FilePath:    "ci.yml",
		Location:    loc,
		Remediation: "Fix it.",
	}
}

func TestPushGatedJobIsLowRisk(t *testing.T) {
	e := evaluator(t, `on: push
jobs:
  build:
    if: github.event_name == 'push'
    runs-on: ubuntu-latest
    steps:
      - run: make
`)

	info := e.Evaluate(securityFinding("Unsafe build step", rules.Error, "build"))
	require.NotNil(t, info)
	assert.True(t, info.Reachable)
	assert.Equal(t, reachability.Low, info.Risk)
	assert.Equal(t, []string{"github.event_name == 'push'"}, info.RequiredConditions)
	assert.Equal(t, []string{"push"}, info.Triggers)
	assert.Equal(t, []string{
		"runs only when github.event_name == 'push'",
		reachability.NoteNoSecrets,
		reachability.NoteNoPrivilegedTrigger,
	}, info.MitigatingFactors)

	sf := reachability.Adjust(securityFinding("Unsafe build step", rules.Error, "build"), info)
	assert.Equal(t, rules.Info, sf.Severity)
	assert.Equal(t, rules.Error, sf.OriginalSeverity)
	assert.Equal(t, "Fix it. Mitigating factors: runs only when github.event_name == 'push'; "+
		reachability.NoteNoSecrets+"; "+reachability.NoteNoPrivilegedTrigger+".", sf.Remediation)
}

func TestAlwaysFalseGates(t *testing.T) {
	e := evaluator(t, `on: pull_request_target
jobs:
  disabled:
    if: false
    runs-on: ubuntu-latest
    steps:
      - run: make
  cleanup:
    runs-on: ubuntu-latest
    steps:
      - run: make
      - if: ${{ cancelled() }}
        run: ./cleanup.sh
`)

	for _, f := range []rules.Finding{
		securityFinding("Unsafe build step", rules.Error, "disabled"),
		securityFinding("Hardcoded secret", rules.Error, "disabled", 0),
		securityFinding("Unsafe build step", rules.Warning, "cleanup", 1),
	} {
		info := e.Evaluate(f)
		require.NotNil(t, info)
		assert.False(t, info.Reachable, f.Title)
		assert.Equal(t, reachability.Informational, info.Risk)

		sf := reachability.Adjust(f, info)
		assert.Equal(t, rules.Info, sf.Severity)
		assert.Contains(t, sf.Description, "Not reachable:")
	}

	// The sibling step without the gate stays reachable
	info := e.Evaluate(securityFinding("Unsafe build step", rules.Warning, "cleanup", 0))
	assert.True(t, info.Reachable)
	assert.Equal(t, reachability.High, info.Risk)
}

func TestGenericTriggerPolicy(t *testing.T) {
	tests := []struct {
		name     string
		workflow string
		risk     reachability.RiskTier
		severity rules.Severity
	}{
		{
			name:     "privileged trigger",
			workflow: "on: [workflow_run]\njobs:\n  a:\n    runs-on: ubuntu-latest\n",
			risk:     reachability.High,
			severity: rules.Error,
		},
		{
			name:     "public trigger with secrets",
			workflow: "on: pull_request\nenv:\n  TOKEN: ${{ secrets.TOKEN }}\njobs:\n  a:\n    runs-on: ubuntu-latest\n",
			risk:     reachability.Medium,
			severity: rules.Warning,
		},
		{
			name:     "public trigger without secrets",
			workflow: "on: issue_comment\njobs:\n  a:\n    runs-on: ubuntu-latest\n",
			risk:     reachability.Low,
			severity: rules.Info,
		},
		{
			name:     "internal trigger",
			workflow: "on: {schedule: [{cron: '0 0 * * *'}]}\njobs:\n  a:\n    runs-on: ubuntu-latest\n",
			risk:     reachability.Low,
			severity: rules.Info,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := evaluator(t, tt.workflow)
			f := securityFinding("Expression injection in run script", rules.Error, "a")
			info := e.Evaluate(f)
			require.NotNil(t, info)
			assert.True(t, info.Reachable)
			assert.Equal(t, tt.risk, info.Risk)
			assert.Equal(t, tt.severity, reachability.Adjust(f, info).Severity)
		})
	}
}

func TestMediumRiskOnlySoftensErrors(t *testing.T) {
	info := &reachability.Info{Reachable: true, Risk: reachability.Medium}
	assert.Equal(t, rules.Warning, reachability.Adjust(securityFinding("x", rules.Error, "a"), info).Severity)
	assert.Equal(t, rules.Warning, reachability.Adjust(securityFinding("x", rules.Warning, "a"), info).Severity)
	assert.Equal(t, rules.Info, reachability.Adjust(securityFinding("x", rules.Info, "a"), info).Severity)
}

func TestTitlePolicy(t *testing.T) {
	const unprivileged = "on: pull_request\njobs:\n  a:\n    runs-on: self-hosted\n    steps:\n      - uses: someone/action@v1\n"
	const privileged = "on: pull_request_target\njobs:\n  a:\n    runs-on: ubuntu-latest\n"

	tests := []struct {
		name      string
		workflow  string
		title     string
		reachable bool
		risk      reachability.RiskTier
	}{
		{"secret unprivileged", unprivileged, rules.TitleHardcodedSecret, true, reachability.Medium},
		{"secret privileged", privileged, rules.TitleHardcodedSecret, true, reachability.High},
		{"checkout unprivileged", unprivileged, rules.TitleDangerousCheckout, false, reachability.Informational},
		{"checkout privileged", privileged, rules.TitleDangerousCheckout, true, reachability.High},
		{"third-party unprivileged", unprivileged, rules.TitleThirdPartyAction, true, reachability.Low},
		{"third-party privileged", privileged, rules.TitleThirdPartyAction, true, reachability.High},
		{"self-hosted public", unprivileged, rules.TitleSelfHostedRunner, true, reachability.High},
		{"self-hosted internal", "on: push\njobs:\n  a:\n    runs-on: self-hosted\n", rules.TitleSelfHostedRunner, true, reachability.Medium},
		{"permissions unprivileged", unprivileged, rules.TitleBroadPermissions, true, reachability.Low},
		{"permissions privileged", privileged, rules.TitleBroadPermissions, true, reachability.High},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := evaluator(t, tt.workflow).Evaluate(securityFinding(tt.title, rules.Warning, "a"))
			require.NotNil(t, info)
			assert.Equal(t, tt.reachable, info.Reachable)
			assert.Equal(t, tt.risk, info.Risk)
		})
	}

	info := evaluator(t, unprivileged).Evaluate(securityFinding(rules.TitleThirdPartyAction, rules.Warning, "a"))
	assert.Contains(t, info.MitigatingFactors, reachability.NoteLimitedTriggers)
}

func TestTitlePolicyNeedsExactTitle(t *testing.T) {
	e := evaluator(t, "on: push\njobs:\n  build:\n    runs-on: ubuntu-latest\n    steps:\n      - uses: actions/checkout@v4\n")

	for _, title := range []string{
		"Checkout persists credentials",
		"Permission to write packages",
		"Third-party registry login",
	} {
		t.Run(title, func(t *testing.T) {
			f := securityFinding(title, rules.Error, "build")
			info := e.Evaluate(f)
			require.NotNil(t, info)
			assert.True(t, info.Reachable)
			assert.Equal(t, reachability.Low, info.Risk)
			assert.Empty(t, info.Reason)
			assert.Equal(t, rules.Info, reachability.Adjust(f, info).Severity)
		})
	}

	// Case and surrounding space do not matter for built-in titles
	info := e.Evaluate(securityFinding("  dangerous checkout with privileged trigger ", rules.Error, "build"))
	assert.False(t, info.Reachable)
	assert.Equal(t, reachability.Informational, info.Risk)
}

func TestPathSensitivity(t *testing.T) {
	e := evaluator(t, `on: issues
jobs:
  triage:
    runs-on: ubuntu-latest
    steps:
      - run: echo "${{ github.event.issue.title }}"
`)
	f := securityFinding(rules.TitleExpressionInjection, rules.Error, "triage", 0)
	f.Description = "${{ github.event.issue.title }} is expanded into an argument of \"echo\" before the shell runs"

	info := e.Evaluate(f)
	require.NotNil(t, info)
	require.Len(t, info.RequiredConditions, 1)
	assert.Contains(t, info.RequiredConditions[0], "input-dependent: github.event.issue.title")
	assert.True(t, info.Reachable)

	// Findings that are not injections get no input note
	info = e.Evaluate(securityFinding("Unsafe build step", rules.Error, "triage", 0))
	assert.Empty(t, info.RequiredConditions)
}

func TestNonSecurityFindingsPassThrough(t *testing.T) {
	e := evaluator(t, "on: push\njobs:\n  a:\n    if: false\n    runs-on: ubuntu-latest\n")
	f := securityFinding("Job has no timeout", rules.Warning, "a")
	f.Category = rules.Performance

	info := e.Evaluate(f)
	assert.Nil(t, info)

	sf := reachability.Adjust(f, info)
	assert.Equal(t, rules.Warning, sf.Severity)
	assert.Equal(t, f.Remediation, sf.Remediation)
	assert.Equal(t, f.Description, sf.Description)
	assert.False(t, sf.Adjusted())
}

func TestAdjustIsDeterministic(t *testing.T) {
	const workflow = "on: pull_request\njobs:\n  a:\n    if: github.actor != 'bot'\n    runs-on: ubuntu-latest\n"
	f := securityFinding(rules.TitleThirdPartyAction, rules.Warning, "a")

	first := reachability.Adjust(f, evaluator(t, workflow).Evaluate(f))
	second := reachability.Adjust(f, evaluator(t, workflow).Evaluate(f))
	assert.Equal(t, first, second)
	assert.Equal(t, rules.Warning, f.Severity, "raw finding must not be modified")
}

func TestBuildContext(t *testing.T) {
	wf, err := parser.Parse("ci.yml", []byte(`on:
  push:
  pull_request_target:
    types: [opened]
jobs:
  test:
    if: github.actor != 'dependabot[bot]'
    runs-on: [self-hosted, linux]
    env:
      STATIC: value
      REF: ${{ github.head_ref }}
    strategy:
      matrix:
        go: ["1.23", "1.24"]
    steps:
      - uses: actions/checkout@v4
      - if: success()
        uses: ./local
  deploy:
    runs-on: ubuntu-latest
    steps:
      - uses: docker://alpine:3
        with:
          token: ${{ secrets.DEPLOY_TOKEN }}
`))
	require.NoError(t, err)

	ec := reachability.BuildContext(wf, nil)
	assert.Equal(t, []string{"push", "pull_request_target"}, ec.Triggers)
	assert.True(t, ec.HasPrivilegedTrigger)
	assert.True(t, ec.HasPublicTrigger())
	assert.True(t, ec.UsesSecrets)
	assert.True(t, ec.HasExternalActions)
	assert.True(t, ec.HasSelfHostedRunner)

	jobConds := []string{
		"github.actor != 'dependabot[bot]'",
		"env.REF = ${{ github.head_ref }}",
		reachability.MatrixCondition,
	}
	assert.Equal(t, jobConds, ec.Conditions["test"])
	assert.Equal(t, jobConds, ec.Conditions[reachability.StepKey("test", 0)])
	assert.Equal(t, append(append([]string(nil), jobConds...), "success()"), ec.Conditions[reachability.StepKey("test", 1)])
	assert.Empty(t, ec.Conditions["deploy"])

	noExternal := reachability.BuildContext(mustParse(t, "on: push\njobs:\n  a:\n    runs-on: ubuntu-latest\n    steps:\n      - uses: actions/checkout@v4\n      - uses: ./x\n"), nil)
	assert.False(t, noExternal.HasExternalActions)
	assert.False(t, noExternal.UsesSecrets)
	assert.False(t, noExternal.HasSelfHostedRunner)
}

func mustParse(t *testing.T, content string) parser.WorkflowFile {
	t.Helper()
	wf, err := parser.Parse("ci.yml", []byte(content))
	require.NoError(t, err)
	return wf
}

func TestStats(t *testing.T) {
	var s reachability.Stats
	f := securityFinding("x", rules.Error, "a")

	s.Add(reachability.Adjust(f, &reachability.Info{Reachable: true, Risk: reachability.High}))
	s.Add(reachability.Adjust(f, &reachability.Info{Reachable: true, Risk: reachability.Low, MitigatingFactors: []string{"m"}}))
	s.Add(reachability.Adjust(f, &reachability.Info{Reachable: false, Risk: reachability.Informational}))
	s.Add(reachability.Adjust(f, nil))

	assert.Equal(t, reachability.Stats{Total: 3, Reachable: 2, HighRisk: 1, Mitigated: 1}, s)

	var total reachability.Stats
	total.Merge(s)
	total.Merge(s)
	assert.Equal(t, 6, total.Total)
}
