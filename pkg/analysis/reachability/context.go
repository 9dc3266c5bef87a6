// Package reachability decides whether a finding can execute under the
// workflow's triggers and conditions, and re-scores it accordingly.
package reachability

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/harekrishnarai/flowscope/pkg/constants"
	"github.com/harekrishnarai/flowscope/pkg/parser"
	"github.com/harekrishnarai/flowscope/pkg/rules"
)

// MatrixCondition marks jobs whose execution fans out over a matrix
const MatrixCondition = "matrix strategy"

var secretReference = regexp.MustCompile(`\bsecrets\.[A-Za-z_]|secrets:\s*inherit`)

// hostedRunnerPrefixes identify GitHub-hosted runner labels
var hostedRunnerPrefixes = []string{"ubuntu-", "windows-", "macos-"}

// ExecutionContext is what the workflow's structure says about when and how
// its jobs run
type ExecutionContext struct {
	Triggers []string `json:"triggers"`

	// Conditions are keyed by job ID and by "job.stepIndex". Step lists
	// start with their job's list.
	Conditions map[string][]string `json:"conditions"`

	UsesSecrets          bool `json:"uses_secrets"`
	HasPrivilegedTrigger bool `json:"has_privileged_trigger"`
	HasExternalActions   bool `json:"has_external_actions"`
	HasSelfHostedRunner  bool `json:"has_self_hosted_runner"`
}

// StepKey is the Conditions key of a step
func StepKey(jobID string, index int) string {
	return fmt.Sprintf("%s.%d", jobID, index)
}

// BuildContext derives the execution context of a workflow. Actions owned by
// trustedPublishers do not count as external.
func BuildContext(workflow parser.WorkflowFile, trustedPublishers []string) *ExecutionContext {
	if len(trustedPublishers) == 0 {
		trustedPublishers = constants.DefaultTrustedPublishers
	}

	ec := &ExecutionContext{
		Triggers:    workflow.Triggers(),
		Conditions:  make(map[string][]string),
		UsesSecrets: secretReference.Match(workflow.Content),
	}

	for _, t := range ec.Triggers {
		if constants.IsPrivilegedTrigger(t) {
			ec.HasPrivilegedTrigger = true
		}
	}

	for _, jobID := range workflow.JobIDs() {
		job := workflow.Workflow.Jobs[jobID]

		var conditions []string
		if cond := strings.TrimSpace(job.If); cond != "" {
			conditions = append(conditions, cond)
		}
		names := make([]string, 0, len(job.Env))
		for name := range job.Env {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if value := job.Env[name]; strings.Contains(value, "${{") {
				conditions = append(conditions, fmt.Sprintf("env.%s = %s", name, value))
			}
		}
		if job.HasMatrix() {
			conditions = append(conditions, MatrixCondition)
		}
		ec.Conditions[jobID] = conditions

		for i, step := range job.Steps {
			stepConditions := append([]string(nil), conditions...)
			if cond := strings.TrimSpace(step.If); cond != "" {
				stepConditions = append(stepConditions, cond)
			}
			ec.Conditions[StepKey(jobID, i)] = stepConditions

			if step.Kind() == parser.StepAction && isExternal(step.Uses, trustedPublishers) {
				ec.HasExternalActions = true
			}
		}

		if job.Uses != "" && isExternal(job.Uses, trustedPublishers) {
			ec.HasExternalActions = true
		}
		if isSelfHosted(job.RunnerLabels()) {
			ec.HasSelfHostedRunner = true
		}
	}

	return ec
}

func isExternal(uses string, trusted []string) bool {
	ref := parser.ParseActionRef(uses)
	if ref.Local {
		return false
	}
	return ref.Docker || !rules.IsTrustedPublisher(ref.Owner, trusted)
}

// isSelfHosted wants the self-hosted label and no hosted-runner label
func isSelfHosted(labels []string) bool {
	selfHosted := false
	for _, label := range labels {
		l := strings.ToLower(strings.TrimSpace(label))
		if l == "self-hosted" {
			selfHosted = true
		}
		for _, prefix := range hostedRunnerPrefixes {
			if strings.HasPrefix(l, prefix) {
				return false
			}
		}
	}
	return selfHosted
}

// HasPublicTrigger reports whether an outside contributor can start the workflow
func (ec *ExecutionContext) HasPublicTrigger() bool {
	for _, t := range ec.Triggers {
		if constants.IsPublicTrigger(t) {
			return true
		}
	}
	return false
}

// ConditionsFor returns the conditions governing a finding's location: the
// step's list when a step is known, else the job's, else none
func (ec *ExecutionContext) ConditionsFor(f rules.Finding) []string {
	jobID := f.JobID()
	if jobID == "" {
		return nil
	}
	if idx, ok := f.StepIndex(); ok {
		if conds, found := ec.Conditions[StepKey(jobID, idx)]; found {
			return conds
		}
	}
	return ec.Conditions[jobID]
}
