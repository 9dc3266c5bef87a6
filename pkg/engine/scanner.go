package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/harekrishnarai/flowscope/pkg/logging"
	"github.com/harekrishnarai/flowscope/pkg/parser"
	"github.com/harekrishnarai/flowscope/pkg/policies"
	"github.com/harekrishnarai/flowscope/pkg/rules"
	"github.com/harekrishnarai/flowscope/pkg/secrets"
	"github.com/harekrishnarai/flowscope/pkg/shell"
)

// Scanner combines Go-native rules with OPA policies and feeds their
// findings through the analyzer
type Scanner struct {
	ruleEngine *rules.RuleEngine
	ruleSet    []rules.Rule
	policies   *policies.PolicyEngine
	analyzer   *Analyzer
}

// NewScanner creates a scanner. A nil policy engine disables policies.
func NewScanner(analyzer *Analyzer, ruleEngine *rules.RuleEngine, ruleSet []rules.Rule, policyEngine *policies.PolicyEngine) *Scanner {
	if ruleEngine == nil {
		ruleEngine = rules.NewRuleEngine(nil)
	}
	return &Scanner{
		ruleEngine: ruleEngine,
		ruleSet:    ruleSet,
		policies:   policyEngine,
		analyzer:   analyzer,
	}
}

// BuiltinRules returns every built-in detector
func BuiltinRules(trustedPublishers []string, detector *secrets.Detector) []rules.Rule {
	if detector == nil {
		detector = secrets.NewDetector()
	}
	all := rules.StandardRules(trustedPublishers)
	all = append(all, rules.SupplyChainRules()...)
	all = append(all, detector.Rule())
	all = append(all, shell.NewAnalyzer().Rules()...)
	return all
}

// Detect runs rules and policies and returns their raw findings
func (s *Scanner) Detect(ctx context.Context, workflow parser.WorkflowFile) ([]rules.Finding, error) {
	findings := s.ruleEngine.ExecuteRules(workflow, s.ruleSet)

	if s.policies.Enabled() {
		violations, err := s.policies.EvaluateWorkflow(ctx, workflow)
		if err != nil {
			return nil, err
		}
		for _, v := range violations {
			if s.ruleEngine.Allowed(v) {
				findings = append(findings, v)
			}
		}
	}

	return findings, nil
}

// Scan detects and analyzes one document
func (s *Scanner) Scan(ctx context.Context, workflow parser.WorkflowFile) (*Result, error) {
	start := time.Now()
	raw, err := s.Detect(ctx, workflow)
	if err != nil {
		return nil, err
	}
	detection := time.Since(start)
	logging.WithDocument("engine", workflow.Path).Debug("detection complete",
		slog.Int("raw_findings", len(raw)),
		slog.Duration("elapsed", detection))

	result, err := s.analyzer.analyze(ctx, workflow, raw, s.ruleEngine)
	if err != nil {
		return nil, err
	}
	result.Performance.DetectionTimeMs = detection.Milliseconds()
	result.Performance.TotalExecutionTimeMs = time.Since(start).Milliseconds()
	return result, nil
}
