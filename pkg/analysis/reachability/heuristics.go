package reachability

import (
	"bytes"
	"strings"

	"github.com/harekrishnarai/flowscope/pkg/shell"
)

// The helpers in this file are text heuristics, not expression evaluation.
// They never fail: input they do not understand yields no information.

var alwaysFalseConditions = map[string]bool{
	"false":                   true,
	"'false'":                 true,
	`"false"`:                 true,
	"0":                       true,
	"cancelled()":             true,
	"github.repository == ''": true,
}

// looksAlwaysFalse reports whether a condition is a literal false gate or a
// cancellation-only gate
func looksAlwaysFalse(condition string) bool {
	c := strings.TrimSpace(condition)
	if strings.HasPrefix(c, "${{") && strings.HasSuffix(c, "}}") {
		c = strings.TrimSpace(c[3 : len(c)-2])
	}
	c = strings.ToLower(c)
	return alwaysFalseConditions[c] || strings.HasPrefix(c, "false &&")
}

// extractExpressionSpans returns the body of every ${{ }} span in text
func extractExpressionSpans(text string) []string {
	spans := shell.ExpressionSpans(text)
	out := make([]string, 0, len(spans))
	for _, s := range spans {
		out = append(out, s.Expr)
	}
	return out
}

// InputOrigins records which outside-controlled inputs a document reads
type InputOrigins struct {
	EventPayload bool `json:"event_payload"`
	GitRefs      bool `json:"git_refs"`
	StepOutputs  bool `json:"step_outputs"`
	JobOutputs   bool `json:"job_outputs"`
}

// ScanInputOrigins looks for input-origin markers in raw workflow text
func ScanInputOrigins(raw []byte) InputOrigins {
	return InputOrigins{
		EventPayload: bytes.Contains(raw, []byte("github.event.")),
		GitRefs: bytes.Contains(raw, []byte("github.head_ref")) ||
			bytes.Contains(raw, []byte("github.base_ref")) ||
			bytes.Contains(raw, []byte("github.ref")),
		StepOutputs: containsBoth(raw, "steps.", ".outputs."),
		JobOutputs:  containsBoth(raw, "needs.", ".outputs."),
	}
}

func containsBoth(raw []byte, a, b string) bool {
	return bytes.Contains(raw, []byte(a)) && bytes.Contains(raw, []byte(b))
}

// eventPayloadSpans returns the expressions in text that read attacker
// controlled event data
func eventPayloadSpans(text string) []string {
	var out []string
	for _, expr := range extractExpressionSpans(text) {
		if shell.IsUntrustedInput(expr) {
			out = append(out, expr)
		}
	}
	return out
}
