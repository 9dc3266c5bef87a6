package reachability

import (
	"strings"

	"github.com/harekrishnarai/flowscope/pkg/parser"
	"github.com/harekrishnarai/flowscope/pkg/rules"
)

// RiskTier is the contextual risk of a reachable finding
type RiskTier string

const (
	High          RiskTier = "high"
	Medium        RiskTier = "medium"
	Low           RiskTier = "low"
	Informational RiskTier = "informational"
)

// Info is the reachability verdict for one finding
type Info struct {
	Reachable          bool     `json:"reachable"`
	Risk               RiskTier `json:"risk"`
	RequiredConditions []string `json:"required_conditions,omitempty"`
	Triggers           []string `json:"triggers,omitempty"`
	MitigatingFactors  []string `json:"mitigating_factors,omitempty"`

	// Reason explains an unreachable verdict
	Reason string `json:"reason,omitempty"`
}

// Mitigating factor notes
const (
	NoteNoSecrets           = "no secrets are referenced by the workflow"
	NoteNoPrivilegedTrigger = "no privileged trigger is active"
	NoteLimitedTriggers     = "trigger context cannot hand this action an elevated token"
)

// Evaluator scores findings of one workflow
type Evaluator struct {
	ctx     *ExecutionContext
	origins InputOrigins
}

// NewEvaluator builds the execution context of workflow and scans its raw
// text for input origins
func NewEvaluator(workflow parser.WorkflowFile, trustedPublishers []string) *Evaluator {
	return &Evaluator{
		ctx:     BuildContext(workflow, trustedPublishers),
		origins: ScanInputOrigins(workflow.Content),
	}
}

// Context returns the execution context the evaluator works from
func (e *Evaluator) Context() *ExecutionContext {
	return e.ctx
}

// Origins returns the input origins found in the raw text
func (e *Evaluator) Origins() InputOrigins {
	return e.origins
}

// Evaluate returns the reachability of a security finding. Other categories
// get nil: their severity does not depend on execution context.
func (e *Evaluator) Evaluate(f rules.Finding) *Info {
	if f.Category != rules.Security {
		return nil
	}

	ec := e.ctx
	info := &Info{
		Reachable:          true,
		Risk:               Medium,
		RequiredConditions: append([]string(nil), ec.ConditionsFor(f)...),
		Triggers:           append([]string(nil), ec.Triggers...),
	}

	switch {
	case ec.HasPrivilegedTrigger:
		info.Risk = High
	case ec.HasPublicTrigger() && ec.UsesSecrets:
		info.Risk = Medium
	default:
		info.Risk = Low
	}

	applyTitlePolicy(info, f.Title, ec)

	if len(info.RequiredConditions) > 0 {
		info.MitigatingFactors = append(info.MitigatingFactors,
			"runs only when "+strings.Join(info.RequiredConditions, " and "))
	}
	if !ec.UsesSecrets {
		info.MitigatingFactors = append(info.MitigatingFactors, NoteNoSecrets)
	}
	if !ec.HasPrivilegedTrigger {
		info.MitigatingFactors = append(info.MitigatingFactors, NoteNoPrivilegedTrigger)
	}

	e.applyPathSensitivity(info, f)

	for _, cond := range info.RequiredConditions {
		if looksAlwaysFalse(cond) {
			info.Reachable = false
			info.Risk = Informational
			info.Reason = "gated by condition " + cond + ", which never passes on a normal run"
			break
		}
	}

	return info
}

// applyTitlePolicy overrides the trigger-based tier for the built-in
// findings whose risk depends on something more specific. Titles must match
// exactly; custom rules and policies keep the generic tier.
func applyTitlePolicy(info *Info, title string, ec *ExecutionContext) {
	privileged := ec.HasPrivilegedTrigger

	switch {
	case hasTitle(title, rules.TitleHardcodedSecret):
		// The secret is exposed in the repository whether or not the job runs
		info.Reachable = true
		info.Risk = tier(privileged, High, Medium)

	case hasTitle(title, rules.TitleDangerousCheckout):
		info.Reachable = privileged
		info.Risk = tier(privileged, High, Informational)
		if !privileged {
			info.Reason = "the checked out code only runs with elevated access under a privileged trigger, and none is active"
		}

	case hasTitle(title, rules.TitleThirdPartyAction):
		info.Risk = tier(privileged, High, Low)
		if !privileged {
			info.MitigatingFactors = append(info.MitigatingFactors, NoteLimitedTriggers)
		}

	case hasTitle(title, rules.TitleSelfHostedRunner):
		info.Reachable = true
		info.Risk = tier(privileged || ec.HasPublicTrigger(), High, Medium)

	case hasTitle(title, rules.TitleBroadPermissions):
		info.Risk = tier(privileged, High, Low)
	}
}

func hasTitle(title, want string) bool {
	return strings.EqualFold(strings.TrimSpace(title), want)
}

func tier(cond bool, yes, no RiskTier) RiskTier {
	if cond {
		return yes
	}
	return no
}

// applyPathSensitivity notes which injected expressions carry event payload
func (e *Evaluator) applyPathSensitivity(info *Info, f rules.Finding) {
	if !hasTitle(f.Title, rules.TitleExpressionInjection) || !e.origins.EventPayload {
		return
	}
	for _, expr := range eventPayloadSpans(f.Description) {
		info.RequiredConditions = append(info.RequiredConditions,
			"input-dependent: "+expr+" comes from the event payload")
	}
}
