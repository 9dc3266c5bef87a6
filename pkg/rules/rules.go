package rules

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/harekrishnarai/flowscope/pkg/constants"
	"github.com/harekrishnarai/flowscope/pkg/linenum"
	"github.com/harekrishnarai/flowscope/pkg/parser"
)

// Titles shared with the reachability policy table
const (
	TitleHardcodedSecret     = "Hardcoded secret"
	TitleDangerousCheckout   = "Dangerous checkout with privileged trigger"
	TitleThirdPartyAction    = "Third-party action usage"
	TitleExpressionInjection = "Expression injection in run script"
	TitleSelfHostedRunner    = "Self-hosted runner usage"
	TitleBroadPermissions    = "Overly broad permissions"
	TitleMissingJobName      = "Job has no name"
	TitleMissingTimeout      = "Job has no timeout"
)

// ConfigInterface defines the interface for configuration
type ConfigInterface interface {
	IsRuleEnabled(ruleID string) bool
	ShouldIgnoreForRule(ruleID, text, filePath string) bool
}

// RuleEngine handles rule execution with configuration support
type RuleEngine struct {
	config ConfigInterface
}

// NewRuleEngine creates a new rule engine with configuration
func NewRuleEngine(config ConfigInterface) *RuleEngine {
	return &RuleEngine{config: config}
}

// ExecuteRules runs rules against a workflow with configuration filtering.
// Every returned finding carries an ID.
func (re *RuleEngine) ExecuteRules(workflow parser.WorkflowFile, rules []Rule) []Finding {
	var allFindings []Finding

	for _, rule := range rules {
		if re.config != nil && !re.config.IsRuleEnabled(rule.ID) {
			continue
		}

		for _, finding := range rule.Check(workflow) {
			if re.config != nil && re.config.ShouldIgnoreForRule(finding.RuleID, finding.Evidence, workflow.Path) {
				continue
			}
			finding.EnsureID()
			allFindings = append(allFindings, finding)
		}
	}

	return allFindings
}

// Allowed applies the configuration to a finding produced outside a Rule,
// such as a policy violation
func (re *RuleEngine) Allowed(finding Finding) bool {
	if re.config == nil {
		return true
	}
	if !re.config.IsRuleEnabled(finding.RuleID) {
		return false
	}
	return !re.config.ShouldIgnoreForRule(finding.RuleID, finding.Evidence, finding.FilePath)
}

// Rule is a detector run against a workflow document
type Rule struct {
	ID          string
	Title       string
	Description string
	Severity    Severity
	Category    Category
	Check       func(workflow parser.WorkflowFile) []Finding
}

// StandardRules returns the built-in structural detectors. Actions owned by
// trustedPublishers are not reported as third-party.
func StandardRules(trustedPublishers []string) []Rule {
	if len(trustedPublishers) == 0 {
		trustedPublishers = constants.DefaultTrustedPublishers
	}

	return []Rule{
		{
			ID:          "DANGEROUS_CHECKOUT",
			Title:       TitleDangerousCheckout,
			Description: "Detects checkout of pull request head code in workflows started by privileged triggers",
			Severity:    Error,
			Category:    Security,
			Check:       checkDangerousCheckout,
		},
		{
			ID:          "THIRD_PARTY_ACTION",
			Title:       TitleThirdPartyAction,
			Description: "Detects actions from untrusted publishers that are not pinned to a commit SHA",
			Severity:    Warning,
			Category:    Security,
			Check: func(workflow parser.WorkflowFile) []Finding {
				return checkThirdPartyAction(workflow, trustedPublishers)
			},
		},
		{
			ID:          "SELF_HOSTED_RUNNER",
			Title:       TitleSelfHostedRunner,
			Description: "Detects jobs scheduled on self-hosted runners",
			Severity:    Warning,
			Category:    Security,
			Check:       checkSelfHostedRunner,
		},
		{
			ID:          "BROAD_PERMISSIONS",
			Title:       TitleBroadPermissions,
			Description: "Detects write-all permissions and privileged workflows without a permissions block",
			Severity:    Warning,
			Category:    Security,
			Check:       checkBroadPermissions,
		},
		{
			ID:          "MISSING_JOB_NAME",
			Title:       TitleMissingJobName,
			Description: "Detects jobs without a display name",
			Severity:    Info,
			Category:    BestPractice,
			Check:       checkMissingJobName,
		},
		{
			ID:          "MISSING_TIMEOUT",
			Title:       TitleMissingTimeout,
			Description: "Detects jobs that rely on the six hour default timeout",
			Severity:    Info,
			Category:    Performance,
			Check:       checkMissingTimeout,
		},
	}
}

var (
	shaPinPattern     = regexp.MustCompile(`^[a-f0-9]{40}$`)
	untrustedRefPaths = []string{
		"github.event.pull_request.head.ref",
		"github.event.pull_request.head.sha",
		"github.head_ref",
		"github.event.workflow_run.head_sha",
		"github.event.workflow_run.head_branch",
		"refs/pull/",
	}
)

func hasPrivilegedTrigger(workflow parser.WorkflowFile) bool {
	for _, t := range workflow.Triggers() {
		if constants.IsPrivilegedTrigger(t) {
			return true
		}
	}
	return false
}

// checkDangerousCheckout flags actions/checkout of PR head code. The finding is
// emitted regardless of trigger; reachability decides whether it matters.
func checkDangerousCheckout(workflow parser.WorkflowFile) []Finding {
	var findings []Finding

	for _, jobID := range workflow.JobIDs() {
		job := workflow.Workflow.Jobs[jobID]
		for i, step := range job.Steps {
			if step.Kind() != parser.StepAction {
				continue
			}
			ref := parser.ParseActionRef(step.Uses)
			if ref.Name() != "actions/checkout" {
				continue
			}

			checkoutRef := step.WithString("ref")
			untrusted := false
			for _, marker := range untrustedRefPaths {
				if strings.Contains(checkoutRef, marker) {
					untrusted = true
					break
				}
			}
			if !untrusted {
				continue
			}

			findings = append(findings, Finding{
				RuleID:      "DANGEROUS_CHECKOUT",
				Category:    Security,
				Severity:    Error,
				Title:       TitleDangerousCheckout,
				Description: fmt.Sprintf("Step %q checks out pull request head code (ref: %s)", step.Label(i), checkoutRef),
				FilePath:    workflow.Path,
				Location:    &Location{Line: workflow.StepLine(jobID, i), JobID: jobID, StepIndex: StepAt(i)},
				Remediation: "Do not check out untrusted code in privileged workflows, or run it in a separate unprivileged workflow",
				References:  []string{"https://securitylab.github.com/research/github-actions-preventing-pwn-requests/"},
				Evidence:    "ref: " + checkoutRef,
			})
		}
	}

	return findings
}

func checkThirdPartyAction(workflow parser.WorkflowFile, trusted []string) []Finding {
	var findings []Finding

	for _, jobID := range workflow.JobIDs() {
		job := workflow.Workflow.Jobs[jobID]
		for i, step := range job.Steps {
			if step.Kind() != parser.StepAction {
				continue
			}
			ref := parser.ParseActionRef(step.Uses)
			if ref.Local || IsTrustedPublisher(ref.Owner, trusted) {
				continue
			}
			if ref.Docker && strings.Contains(ref.Raw, "@sha256:") {
				continue
			}
			if shaPinPattern.MatchString(ref.Ref) {
				continue
			}

			evidenceType := "unpinned reference"
			switch {
			case ref.Docker:
				evidenceType = "container image without digest"
			case strings.HasPrefix(ref.Ref, "v"):
				evidenceType = "version tag (not SHA)"
			case ref.Ref == "main" || ref.Ref == "master":
				evidenceType = "branch reference"
			}

			findings = append(findings, Finding{
				RuleID:      "THIRD_PARTY_ACTION",
				Category:    Security,
				Severity:    Warning,
				Title:       TitleThirdPartyAction,
				Description: fmt.Sprintf("Action %s is published outside the trusted publishers and uses a %s", ref.Name(), evidenceType),
				FilePath:    workflow.Path,
				Location:    &Location{Line: workflow.StepLine(jobID, i), JobID: jobID, StepIndex: StepAt(i)},
				Remediation: "Pin the action to a full 40-character commit SHA and review its source",
				Evidence:    "uses: " + step.Uses,
			})
		}
	}

	return findings
}

// IsTrustedPublisher reports whether owner is listed, case-insensitively
func IsTrustedPublisher(owner string, trusted []string) bool {
	for _, t := range trusted {
		if strings.EqualFold(owner, t) {
			return true
		}
	}
	return false
}

func checkSelfHostedRunner(workflow parser.WorkflowFile) []Finding {
	var findings []Finding

	for _, jobID := range workflow.JobIDs() {
		job := workflow.Workflow.Jobs[jobID]
		for _, label := range job.RunnerLabels() {
			if label != "self-hosted" {
				continue
			}
			findings = append(findings, Finding{
				RuleID:      "SELF_HOSTED_RUNNER",
				Category:    Security,
				Severity:    Warning,
				Title:       TitleSelfHostedRunner,
				Description: fmt.Sprintf("Job %s runs on a self-hosted runner, which may persist state between runs", jobID),
				FilePath:    workflow.Path,
				Location:    &Location{Line: workflow.JobLines[jobID], JobID: jobID},
				Remediation: "Use ephemeral self-hosted runners and never expose them to untrusted triggers",
				Evidence:    "runs-on: self-hosted",
			})
			break
		}
	}

	return findings
}

func checkBroadPermissions(workflow parser.WorkflowFile) []Finding {
	var findings []Finding

	if perm, ok := workflow.Workflow.Permissions.(string); ok && perm == "write-all" {
		findings = append(findings, Finding{
			RuleID:      "BROAD_PERMISSIONS",
			Category:    Security,
			Severity:    Warning,
			Title:       TitleBroadPermissions,
			Description: "Workflow uses 'write-all' permissions, granting excessive access to all repository resources",
			FilePath:    workflow.Path,
			Location:    &Location{Line: findLineNumberWithMapper(workflow, "permissions", "write-all")},
			Remediation: "Use specific permissions instead of 'write-all'",
			Evidence:    "permissions: write-all",
		})
	} else if workflow.Workflow.Permissions == nil && hasPrivilegedTrigger(workflow) {
		findings = append(findings, Finding{
			RuleID:      "BROAD_PERMISSIONS",
			Category:    Security,
			Severity:    Warning,
			Title:       TitleBroadPermissions,
			Description: "Workflow started by a privileged trigger does not restrict GITHUB_TOKEN permissions",
			FilePath:    workflow.Path,
			Location:    &Location{Line: findLineNumberWithMapper(workflow, "on", "")},
			Remediation: "Add a top-level permissions block granting only what the workflow needs",
			Evidence:    "permissions: <default>",
		})
	}

	for _, jobID := range workflow.JobIDs() {
		job := workflow.Workflow.Jobs[jobID]
		if perm, ok := job.Permissions.(string); ok && perm == "write-all" {
			findings = append(findings, Finding{
				RuleID:      "BROAD_PERMISSIONS",
				Category:    Security,
				Severity:    Warning,
				Title:       TitleBroadPermissions,
				Description: fmt.Sprintf("Job %s uses 'write-all' permissions", jobID),
				FilePath:    workflow.Path,
				Location:    &Location{Line: workflow.JobLines[jobID], JobID: jobID},
				Remediation: "Use specific permissions instead of 'write-all'",
				Evidence:    "permissions: write-all",
			})
		}
	}

	return findings
}

func checkMissingJobName(workflow parser.WorkflowFile) []Finding {
	var findings []Finding

	for _, jobID := range workflow.JobIDs() {
		job := workflow.Workflow.Jobs[jobID]
		if job.Name != "" || job.Uses != "" {
			continue
		}
		findings = append(findings, Finding{
			RuleID:      "MISSING_JOB_NAME",
			Category:    BestPractice,
			Severity:    Info,
			Title:       TitleMissingJobName,
			Description: fmt.Sprintf("Job %s has no name; the identifier is shown in the UI instead", jobID),
			FilePath:    workflow.Path,
			Location:    &Location{Line: workflow.JobLines[jobID], JobID: jobID},
			Remediation: "Add a descriptive name: to the job",
		})
	}

	return findings
}

func checkMissingTimeout(workflow parser.WorkflowFile) []Finding {
	var findings []Finding

	for _, jobID := range workflow.JobIDs() {
		job := workflow.Workflow.Jobs[jobID]
		if job.TimeoutMinutes != nil || job.Uses != "" || len(job.Steps) == 0 {
			continue
		}
		findings = append(findings, Finding{
			RuleID:      "MISSING_TIMEOUT",
			Category:    Performance,
			Severity:    Info,
			Title:       TitleMissingTimeout,
			Description: fmt.Sprintf("Job %s has no timeout-minutes and may hang for up to six hours", jobID),
			FilePath:    workflow.Path,
			Location:    &Location{Line: workflow.JobLines[jobID], JobID: jobID},
			Remediation: "Set timeout-minutes on the job",
		})
	}

	return findings
}

// findLineNumberWithMapper resolves a key/value pair to a line through the line mapper
func findLineNumberWithMapper(workflow parser.WorkflowFile, key, value string) int {
	lineMapper := linenum.NewLineMapper(workflow.Content)
	result := lineMapper.FindLineNumber(linenum.FindPattern{
		Key:   key,
		Value: value,
	})
	if result != nil {
		return result.LineNumber
	}
	return 0
}
