package graph

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/harekrishnarai/flowscope/pkg/constants"
	"github.com/harekrishnarai/flowscope/pkg/parser"
	"github.com/harekrishnarai/flowscope/pkg/rules"
)

// Rule IDs of the structural findings raised while extracting edges
const (
	DanglingRuleID      = "DANGLING_DEPENDENCY"
	UnusedArtifactRule  = "UNUSED_ARTIFACT"
	OutputNeedsRuleID   = "OUTPUT_WITHOUT_NEEDS"
	UndeclaredOutRuleID = "UNDECLARED_OUTPUT"
	EnvShadowRuleID     = "ENV_SHADOWING"
)

const (
	uploadArtifactAction   = "actions/upload-artifact"
	downloadArtifactAction = "actions/download-artifact"
)

var outputReference = regexp.MustCompile(`needs\.([A-Za-z0-9_-]+)\.outputs\.([A-Za-z0-9_-]+)`)

// Extraction is the edge set of one workflow and the findings raised while
// building it
type Extraction struct {
	Edges    []Edge
	Findings []rules.Finding
}

// Extract derives every dependency edge of the workflow. Problems such as
// dangling needs are returned as findings; the offending edge is left out.
func Extract(workflow parser.WorkflowFile) Extraction {
	x := &extractor{
		wf:     workflow,
		jobIDs: workflow.JobIDs(),
		known:  make(map[string]bool),
	}
	for _, id := range x.jobIDs {
		x.known[id] = true
	}

	x.explicitOrder()
	x.artifacts()
	x.outputs()
	x.environmentShadows()

	return Extraction{Edges: x.edges, Findings: x.findings}
}

type extractor struct {
	wf       parser.WorkflowFile
	jobIDs   []string
	known    map[string]bool
	edges    []Edge
	findings []rules.Finding
}

func (x *extractor) job(id string) parser.Job {
	return x.wf.Workflow.Jobs[id]
}

func (x *extractor) jobLocation(id string) *rules.Location {
	return &rules.Location{Line: x.wf.JobLines[id], JobID: id}
}

func (x *extractor) stepLocation(id string, i int) *rules.Location {
	return &rules.Location{Line: x.wf.StepLine(id, i), JobID: id, StepIndex: rules.StepAt(i)}
}

func (x *extractor) dangling(jobID, ref, via string) {
	x.findings = append(x.findings, rules.Finding{
		RuleID:      DanglingRuleID,
		Category:    rules.Structure,
		Severity:    rules.Error,
		Title:       "Dependency on undefined job",
		Description: fmt.Sprintf("Job %s references job %q through %s, but no such job exists", jobID, ref, via),
		FilePath:    x.wf.Path,
		Location:    x.jobLocation(jobID),
		Remediation: "Fix the job identifier or add the missing job",
		Evidence:    ref,
	})
}

func (x *extractor) explicitOrder() {
	for _, id := range x.jobIDs {
		reported := make(map[string]bool)
		for _, need := range x.job(id).NeedsList() {
			if x.known[need] {
				x.edges = append(x.edges, Edge{From: need, To: id, Kind: ExplicitOrder})
				continue
			}
			if !reported[need] {
				reported[need] = true
				x.dangling(id, need, "needs")
			}
		}
	}
}

type artifactStep struct {
	job  string
	step int
	name string
}

func artifactName(step parser.Step) string {
	if name := strings.TrimSpace(step.WithString("name")); name != "" {
		return name
	}
	return constants.DefaultArtifactName
}

func (x *extractor) artifacts() {
	var uploads, downloads []artifactStep

	for _, id := range x.jobIDs {
		for i, step := range x.job(id).Steps {
			if step.Kind() != parser.StepAction {
				continue
			}
			ref := parser.ParseActionRef(step.Uses)
			switch strings.ToLower(ref.Owner + "/" + ref.Repo) {
			case uploadArtifactAction:
				uploads = append(uploads, artifactStep{job: id, step: i, name: artifactName(step)})
			case downloadArtifactAction:
				downloads = append(downloads, artifactStep{job: id, step: i, name: artifactName(step)})
			}
		}
	}

	for _, up := range uploads {
		consumed := false
		for _, down := range downloads {
			if down.name != up.name || down.job == up.job {
				continue
			}
			consumed = true
			x.edges = append(x.edges, Edge{From: up.job, To: down.job, Kind: Artifact, Detail: up.name})
		}
		if consumed {
			continue
		}
		x.findings = append(x.findings, rules.Finding{
			RuleID:      UnusedArtifactRule,
			Category:    rules.Performance,
			Severity:    rules.Info,
			Title:       "Uploaded artifact is never downloaded",
			Description: fmt.Sprintf("Artifact %q uploaded by job %s is not downloaded by any other job", up.name, up.job),
			FilePath:    x.wf.Path,
			Location:    x.stepLocation(up.job, up.step),
			Remediation: "Remove the upload if nothing consumes it, or shorten its retention-days",
			Evidence:    "name: " + up.name,
		})
	}
}

// outputs scans each step, and the job header, for needs.<job>.outputs.<name>
func (x *extractor) outputs() {
	for _, id := range x.jobIDs {
		job := x.job(id)
		needs := make(map[string]bool)
		for _, n := range job.NeedsList() {
			needs[n] = true
		}
		reported := make(map[string]bool)

		header := job
		header.Steps = nil
		texts := []string{serialize(header)}
		for _, step := range job.Steps {
			texts = append(texts, serialize(step))
		}

		for _, text := range texts {
			for _, m := range outputReference.FindAllStringSubmatch(text, -1) {
				source, name := m[1], m[2]
				if source == id {
					continue
				}
				if !x.known[source] {
					if !reported["?"+source] {
						reported["?"+source] = true
						x.dangling(id, source, "an output reference")
					}
					continue
				}

				x.edges = append(x.edges, Edge{From: source, To: id, Kind: Output, Detail: name})

				if !needs[source] && !reported[source] {
					reported[source] = true
					x.findings = append(x.findings, rules.Finding{
						RuleID:      OutputNeedsRuleID,
						Category:    rules.Dependency,
						Severity:    rules.Warning,
						Title:       "Output referenced without needs",
						Description: fmt.Sprintf("Job %s reads outputs of job %s without listing it in needs, so the value is always empty", id, source),
						FilePath:    x.wf.Path,
						Location:    x.jobLocation(id),
						Remediation: fmt.Sprintf("Add %s to the needs of job %s", source, id),
						Evidence:    m[0],
					})
				}

				src := x.job(source)
				if src.Uses == "" && src.Outputs != nil && !reported[m[0]] {
					if _, declared := src.Outputs[name]; !declared {
						reported[m[0]] = true
						x.findings = append(x.findings, rules.Finding{
							RuleID:      UndeclaredOutRuleID,
							Category:    rules.Dependency,
							Severity:    rules.Warning,
							Title:       "Reference to undeclared job output",
							Description: fmt.Sprintf("Job %s reads output %q which job %s does not declare", id, name, source),
							FilePath:    x.wf.Path,
							Location:    x.jobLocation(id),
							Remediation: fmt.Sprintf("Declare %s under outputs of job %s", name, source),
							Evidence:    m[0],
						})
					}
				}
			}
		}
	}
}

func serialize(v interface{}) string {
	out, err := yaml.Marshal(v)
	if err != nil {
		return ""
	}
	return string(out)
}

func (x *extractor) environmentShadows() {
	global := x.wf.Workflow.Env
	if len(global) == 0 {
		return
	}

	shadow := func(loc *rules.Location, scope, name string) {
		x.findings = append(x.findings, rules.Finding{
			RuleID:      EnvShadowRuleID,
			Category:    rules.BestPractice,
			Severity:    rules.Info,
			Title:       "Environment variable shadows workflow-level value",
			Description: fmt.Sprintf("%s redefines %s, hiding the workflow-level value", scope, name),
			FilePath:    x.wf.Path,
			Location:    loc,
			Remediation: "Rename the variable or drop the workflow-level definition",
			Evidence:    name,
		})
	}

	for _, id := range x.jobIDs {
		job := x.job(id)
		for _, name := range sortedKeys(job.Env) {
			if _, ok := global[name]; ok {
				shadow(x.jobLocation(id), "Job "+id, name)
			}
		}
		for i, step := range job.Steps {
			for _, name := range sortedKeys(step.Env) {
				if _, ok := global[name]; ok {
					shadow(x.stepLocation(id, i), fmt.Sprintf("Step %q of job %s", step.Label(i), id), name)
				}
			}
		}
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
