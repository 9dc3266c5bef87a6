package shell

import (
	"fmt"
	"regexp"
	"strings"

	"mvdan.cc/sh/v3/syntax"

	"github.com/harekrishnarai/flowscope/pkg/parser"
	"github.com/harekrishnarai/flowscope/pkg/rules"
)

// Rule IDs produced by the analyzer
const (
	InjectionRuleID = "EXPRESSION_INJECTION"
	EvalRuleID      = "SHELL_EVAL_USAGE"
)

// untrustedInput matches expression bodies whose value an outside contributor controls
var untrustedInput = regexp.MustCompile(`^(github\.head_ref|github\.event\.(issue\.(title|body)|pull_request\.(title|body|head\.(ref|label)|head\.repo\.default_branch)|comment\.body|review\.body|review_comment\.body|discussion\.(title|body)|pages\.[^.]+\.page_name|head_commit\.(message|author\.(email|name))|commits\.[^.]+\.(message|author\.(email|name))|workflow_run\.(head_branch|head_commit\.message|display_title)|(inputs|client_payload)\..+))$`)

// Span is one ${{ }} expression inside a text
type Span struct {
	Start int    // byte offset of "${{"
	End   int    // byte offset just past "}}"
	Expr  string // trimmed expression body
}

// Raw returns the span exactly as written
func (s Span) Raw() string {
	return "${{ " + s.Expr + " }}"
}

// ExpressionSpans returns every ${{ }} span in text. An unterminated span ends the scan.
func ExpressionSpans(text string) []Span {
	var spans []Span
	offset := 0
	for {
		open := strings.Index(text[offset:], "${{")
		if open < 0 {
			return spans
		}
		open += offset
		closing := strings.Index(text[open+3:], "}}")
		if closing < 0 {
			return spans
		}
		end := open + 3 + closing + 2
		spans = append(spans, Span{
			Start: open,
			End:   end,
			Expr:  strings.TrimSpace(text[open+3 : end-2]),
		})
		offset = end
	}
}

// IsUntrustedInput reports whether an expression body reads attacker-controlled context
func IsUntrustedInput(expr string) bool {
	return untrustedInput.MatchString(strings.TrimSpace(expr))
}

// Analyzer inspects run: scripts with a shell parser
type Analyzer struct{}

// NewAnalyzer creates a new shell script analyzer
func NewAnalyzer() *Analyzer {
	return &Analyzer{}
}

// Rules returns the shell-aware rules
func (a *Analyzer) Rules() []rules.Rule {
	return []rules.Rule{
		{
			ID:          InjectionRuleID,
			Title:       rules.TitleExpressionInjection,
			Description: "Detects untrusted ${{ }} expressions interpolated into run scripts",
			Severity:    rules.Error,
			Category:    rules.Security,
			Check:       a.checkExpressionInjection,
		},
		{
			ID:          EvalRuleID,
			Title:       "Dangerous eval usage",
			Description: "Detects eval in run scripts, which executes dynamically built code",
			Severity:    rules.Warning,
			Category:    rules.Security,
			Check:       a.checkEvalUsage,
		},
	}
}

const placeholderPrefix = "__FLOWSCOPE_EXPR_"

// usage records where an interpolated expression lands in the script
type usage struct {
	span    Span
	command string
}

// locateExpressions replaces each span with a placeholder, parses the script
// and reports the command each placeholder is an argument of. When the script
// does not parse, every span is returned with an empty command.
func locateExpressions(script string, spans []Span) []usage {
	var sb strings.Builder
	last := 0
	for i, s := range spans {
		sb.WriteString(script[last:s.Start])
		fmt.Fprintf(&sb, "%s%d__", placeholderPrefix, i)
		last = s.End
	}
	sb.WriteString(script[last:])

	usages := make([]usage, len(spans))
	for i, s := range spans {
		usages[i] = usage{span: s}
	}

	file, err := Parse(sb.String())
	if err != nil {
		return usages
	}

	syntax.Walk(file, func(node syntax.Node) bool {
		call, ok := node.(*syntax.CallExpr)
		if !ok {
			return true
		}

		command := "assignment"
		if len(call.Args) > 0 {
			command = wordText(call.Args[0])
		}
		var words []*syntax.Word
		words = append(words, call.Args...)
		for _, assign := range call.Assigns {
			if assign.Value != nil {
				words = append(words, assign.Value)
			}
		}

		for _, w := range words {
			text := wordText(w)
			for i := range usages {
				if usages[i].command == "" && strings.Contains(text, fmt.Sprintf("%s%d__", placeholderPrefix, i)) {
					usages[i].command = command
				}
			}
		}
		return true
	})

	return usages
}

// wordText flattens the literal parts of a word, including quoted ones
func wordText(w *syntax.Word) string {
	var sb strings.Builder
	syntax.Walk(w, func(node syntax.Node) bool {
		switch n := node.(type) {
		case *syntax.Lit:
			sb.WriteString(n.Value)
		case *syntax.SglQuoted:
			sb.WriteString(n.Value)
		}
		return true
	})
	return sb.String()
}

func (a *Analyzer) checkExpressionInjection(workflow parser.WorkflowFile) []rules.Finding {
	var findings []rules.Finding

	for _, jobID := range workflow.JobIDs() {
		job := workflow.Workflow.Jobs[jobID]
		for i, step := range job.Steps {
			if step.Kind() != parser.StepCommand {
				continue
			}

			var untrusted []Span
			for _, s := range ExpressionSpans(step.Run) {
				if IsUntrustedInput(s.Expr) {
					untrusted = append(untrusted, s)
				}
			}
			if len(untrusted) == 0 {
				continue
			}

			for _, u := range locateExpressions(step.Run, untrusted) {
				where := "the script"
				if u.command != "" {
					where = fmt.Sprintf("an argument of %q", u.command)
				}
				findings = append(findings, rules.Finding{
					RuleID:      InjectionRuleID,
					Category:    rules.Security,
					Severity:    rules.Error,
					Title:       rules.TitleExpressionInjection,
					Description: fmt.Sprintf("%s is expanded into %s before the shell runs, so its content executes as code", u.span.Raw(), where),
					FilePath:    workflow.Path,
					Location:    &rules.Location{Line: workflow.StepLine(jobID, i), JobID: jobID, StepIndex: rules.StepAt(i)},
					Remediation: "Pass the value through an environment variable (env: TITLE: ${{ ... }}) and reference it as \"$TITLE\"",
					References:  []string{"https://docs.github.com/en/actions/security-guides/security-hardening-for-github-actions#understanding-the-risk-of-script-injections"},
					Evidence:    u.span.Raw(),
				})
			}
		}
	}

	return findings
}

func (a *Analyzer) checkEvalUsage(workflow parser.WorkflowFile) []rules.Finding {
	var findings []rules.Finding

	for _, jobID := range workflow.JobIDs() {
		job := workflow.Workflow.Jobs[jobID]
		for i, step := range job.Steps {
			if step.Kind() != parser.StepCommand {
				continue
			}
			file, err := Parse(step.Run)
			if err != nil {
				continue
			}

			found := false
			syntax.Walk(file, func(node syntax.Node) bool {
				if call, ok := node.(*syntax.CallExpr); ok && len(call.Args) > 0 && wordText(call.Args[0]) == "eval" {
					found = true
				}
				return !found
			})
			if !found {
				continue
			}

			findings = append(findings, rules.Finding{
				RuleID:      EvalRuleID,
				Category:    rules.Security,
				Severity:    rules.Warning,
				Title:       "Dangerous eval usage",
				Description: fmt.Sprintf("Step %q calls eval, which executes dynamically built code", step.Label(i)),
				FilePath:    workflow.Path,
				Location:    &rules.Location{Line: workflow.StepLine(jobID, i), JobID: jobID, StepIndex: rules.StepAt(i)},
				Remediation: "Avoid eval. Call the command directly with quoted arguments.",
				Evidence:    "eval",
			})
		}
	}

	return findings
}

// Parse parses a shell script and returns a syntax tree
func Parse(script string) (*syntax.File, error) {
	return syntax.NewParser().Parse(strings.NewReader(script), "")
}
