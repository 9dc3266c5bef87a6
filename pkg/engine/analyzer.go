package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/harekrishnarai/flowscope/pkg/analysis/graph"
	"github.com/harekrishnarai/flowscope/pkg/analysis/reachability"
	"github.com/harekrishnarai/flowscope/pkg/constants"
	"github.com/harekrishnarai/flowscope/pkg/linenum"
	"github.com/harekrishnarai/flowscope/pkg/logging"
	"github.com/harekrishnarai/flowscope/pkg/parser"
	"github.com/harekrishnarai/flowscope/pkg/rules"
)

// AnalyzerConfig controls the per-document pipeline
type AnalyzerConfig struct {
	TrustedPublishers []string       `json:"trusted_publishers"`
	HideUnreachable   bool           `json:"hide_unreachable"`
	MinSeverity       rules.Severity `json:"min_severity"`
	SnippetContext    int            `json:"snippet_context"`

	// RuleEngine applies rule enable/ignore settings to structural findings.
	// Nil keeps every structural finding.
	RuleEngine *rules.RuleEngine `json:"-"`
}

// GraphSummary is the structural side output of one document
type GraphSummary struct {
	Edges         []graph.Edge `json:"edges"`
	Cycles        [][]string   `json:"cycles"`
	CriticalPaths [][]string   `json:"critical_paths"`
	Roots         []string     `json:"roots"`
	Leaves        []string     `json:"leaves"`
	Isolated      []string     `json:"isolated"`
}

// PerformanceMetrics tracks stage timings
type PerformanceMetrics struct {
	TotalExecutionTimeMs int64 `json:"total_execution_time_ms"`
	DetectionTimeMs      int64 `json:"detection_time_ms"`
	GraphTimeMs          int64 `json:"graph_time_ms"`
	ReachabilityTimeMs   int64 `json:"reachability_time_ms"`
}

// Result is the outcome of analyzing one document
type Result struct {
	Document    string                          `json:"document"`
	Findings    []reachability.ScoredFinding    `json:"findings"`
	Graph       GraphSummary                    `json:"graph"`
	Context     *reachability.ExecutionContext `json:"context"`
	Origins     reachability.InputOrigins       `json:"input_origins"`
	Stats       reachability.Stats              `json:"reachability_stats"`
	Filtered    int                             `json:"filtered_count"`
	Performance PerformanceMetrics              `json:"performance"`
}

// Analyzer runs the semantic pipeline over one document and the raw
// findings its detectors produced. It holds no per-document state and is
// safe for concurrent use.
type Analyzer struct {
	config AnalyzerConfig
}

// NewAnalyzer creates an analyzer
func NewAnalyzer(config AnalyzerConfig) *Analyzer {
	if config.SnippetContext == 0 {
		config.SnippetContext = constants.DefaultSnippetContext
	}
	return &Analyzer{config: config}
}

// Analyze locates raw findings, builds the dependency graph, evaluates
// reachability and returns the re-scored findings. Structural problems in
// the document become findings; only cancellation returns an error.
func (a *Analyzer) Analyze(ctx context.Context, workflow parser.WorkflowFile, raw []rules.Finding) (*Result, error) {
	return a.analyze(ctx, workflow, raw, a.config.RuleEngine)
}

func (a *Analyzer) analyze(ctx context.Context, workflow parser.WorkflowFile, raw []rules.Finding, ruleEngine *rules.RuleEngine) (*Result, error) {
	start := time.Now()
	log := logging.WithDocument("engine", workflow.Path)
	result := &Result{Document: workflow.Path}

	// Locate
	mapper := linenum.NewLineMapper(workflow.Content)
	loc := newLocator(workflow, mapper, a.config.SnippetContext)
	findings := make([]rules.Finding, 0, len(raw))
	for _, f := range raw {
		findings = append(findings, loc.locate(f))
	}
	if err := interrupted(ctx, workflow.Path, "locate"); err != nil {
		return nil, err
	}

	// Graph
	graphStart := time.Now()
	extraction := graph.Extract(workflow)
	g := graph.New(workflow.JobIDs(), extraction.Edges, graph.ExplicitOrder)
	cycles := graph.DetectCycles(g)
	paths := graph.AnalyzePaths(g)
	result.Graph = GraphSummary{
		Edges:         extraction.Edges,
		Cycles:        cycles,
		CriticalPaths: paths.CriticalPaths,
		Roots:         paths.Roots,
		Leaves:        paths.Leaves,
		Isolated:      paths.Isolated,
	}
	structural := append(extraction.Findings, graph.CycleFindings(workflow, cycles)...)
	for _, f := range structural {
		if ruleEngine != nil && !ruleEngine.Allowed(f) {
			continue
		}
		findings = append(findings, loc.locate(f))
	}
	result.Performance.GraphTimeMs = time.Since(graphStart).Milliseconds()
	log.Debug("graph analysis complete",
		slog.Int("edges", len(extraction.Edges)),
		slog.Int("cycles", len(cycles)),
		slog.Int("critical_paths", len(paths.CriticalPaths)),
		slog.Duration("elapsed", time.Since(graphStart)))
	if err := interrupted(ctx, workflow.Path, "graph"); err != nil {
		return nil, err
	}

	// Reachability
	reachStart := time.Now()
	evaluator := reachability.NewEvaluator(workflow, a.config.TrustedPublishers)
	result.Context = evaluator.Context()
	result.Origins = evaluator.Origins()

	for _, f := range dedupe(findings) {
		scored := reachability.Adjust(f, evaluator.Evaluate(f))
		result.Stats.Add(scored)
		if a.filtered(scored) {
			result.Filtered++
			continue
		}
		result.Findings = append(result.Findings, scored)
	}
	result.Performance.ReachabilityTimeMs = time.Since(reachStart).Milliseconds()

	sort.SliceStable(result.Findings, func(i, j int) bool {
		return result.Findings[i].Line() < result.Findings[j].Line()
	})

	result.Performance.TotalExecutionTimeMs = time.Since(start).Milliseconds()
	log.Debug("analysis complete",
		slog.Int("findings", len(result.Findings)),
		slog.Int("filtered", result.Filtered),
		slog.Int("reachable", result.Stats.Reachable),
		slog.Duration("elapsed", time.Since(start)))

	return result, nil
}

func (a *Analyzer) filtered(sf reachability.ScoredFinding) bool {
	if a.config.HideUnreachable && sf.Reachability != nil && !sf.Reachability.Reachable {
		return true
	}
	if a.config.MinSeverity != "" && sf.Severity.Rank() < a.config.MinSeverity.Rank() {
		return true
	}
	return false
}

// dedupe drops findings whose ID was already seen, keeping the first
func dedupe(findings []rules.Finding) []rules.Finding {
	seen := make(map[string]bool, len(findings))
	out := make([]rules.Finding, 0, len(findings))
	for _, f := range findings {
		if seen[f.ID] {
			continue
		}
		seen[f.ID] = true
		out = append(out, f)
	}
	return out
}

func interrupted(ctx context.Context, document, stage string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("analysis of %s stopped after %s stage: %w", document, stage, err)
	}
	return nil
}

// locator fills in whichever of line, job and step a finding is missing,
// and attaches a snippet
type locator struct {
	wf        parser.WorkflowFile
	mapper    *linenum.LineMapper
	context   int
	jobIDs    []string
	jobAnchor []int
	jobsEnd   int
}

func newLocator(workflow parser.WorkflowFile, mapper *linenum.LineMapper, context int) *locator {
	l := &locator{wf: workflow, mapper: mapper, context: context}

	type anchor struct {
		id   string
		line int
	}
	var anchors []anchor
	for _, id := range workflow.JobIDs() {
		if line := workflow.JobLines[id]; line > 0 {
			anchors = append(anchors, anchor{id, line})
		}
	}
	sort.Slice(anchors, func(i, j int) bool { return anchors[i].line < anchors[j].line })
	for _, a := range anchors {
		l.jobIDs = append(l.jobIDs, a.id)
		l.jobAnchor = append(l.jobAnchor, a.line)
	}

	l.jobsEnd = mapper.TotalLines()
	if len(anchors) > 0 {
		for n := anchors[len(anchors)-1].line + 1; n <= mapper.TotalLines(); n++ {
			if isTopLevelKey(mapper.GetLine(n)) {
				l.jobsEnd = n - 1
				break
			}
		}
	}

	return l
}

func isTopLevelKey(line string) bool {
	if line == "" {
		return false
	}
	switch line[0] {
	case ' ', '\t', '#', '-':
		return false
	}
	return strings.Contains(line, ":")
}

func (l *locator) locate(f rules.Finding) rules.Finding {
	if f.FilePath == "" {
		f.FilePath = l.wf.Path
	}

	var loc rules.Location
	if f.Location != nil {
		loc = *f.Location
	}

	if loc.JobID == "" && loc.Line > 0 && loc.Line <= l.jobsEnd {
		if i := linenum.EnclosingBlock(l.jobAnchor, loc.Line); i >= 0 {
			loc.JobID = l.jobIDs[i]
		}
	}
	if loc.JobID != "" && loc.StepIndex == nil && loc.Line > 0 {
		if i := linenum.EnclosingBlock(l.wf.StepLines[loc.JobID], loc.Line); i >= 0 {
			loc.StepIndex = rules.StepAt(i)
		}
	}
	if loc.Line == 0 && loc.JobID != "" {
		if loc.StepIndex != nil {
			loc.Line = l.wf.StepLine(loc.JobID, *loc.StepIndex)
		}
		if loc.Line == 0 {
			loc.Line = l.wf.JobLines[loc.JobID]
		}
	}

	if loc != (rules.Location{}) {
		f.Location = &loc
	}
	if f.Snippet == nil && loc.Line > 0 {
		if ex := l.mapper.Excerpt(loc.Line, l.context); ex != nil {
			f.Snippet = &rules.Snippet{
				StartLine:     ex.StartLine,
				EndLine:       ex.EndLine,
				Content:       ex.Content,
				HighlightLine: ex.HighlightLine,
			}
		}
	}

	f.EnsureID()
	return f
}
