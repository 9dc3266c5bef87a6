/*
Copyright 2025 Hare Krishna Rai

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package report

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/harekrishnarai/flowscope/pkg/analysis/reachability"
	"github.com/harekrishnarai/flowscope/pkg/concurrent"
	"github.com/harekrishnarai/flowscope/pkg/constants"
	"github.com/harekrishnarai/flowscope/pkg/engine"
	flowerrors "github.com/harekrishnarai/flowscope/pkg/errors"
	"github.com/harekrishnarai/flowscope/pkg/hosting"
	"github.com/harekrishnarai/flowscope/pkg/rules"
)

// ScanResult represents the overall result of a scan
type ScanResult struct {
	RunID          string             `json:"run_id"`
	Repository     string             `json:"repository"`
	ScanTime       time.Time          `json:"scan_time"`
	Duration       time.Duration      `json:"duration"`
	WorkflowsCount int                `json:"workflows_count"`
	RulesCount     int                `json:"rules_count"`
	Findings       []Finding          `json:"findings"`
	Documents      []DocumentReport   `json:"documents"`
	Errors         []DocumentError    `json:"errors,omitempty"`
	Summary        ResultSummary      `json:"summary"`
	Reachability   reachability.Stats `json:"reachability"`
}

// Finding is a scored finding plus its hosted link
type Finding struct {
	reachability.ScoredFinding
	URL string `json:"url,omitempty"`
}

// DocumentReport carries the per-document side outputs
type DocumentReport struct {
	Path        string                         `json:"path"`
	Graph       engine.GraphSummary            `json:"graph"`
	Filtered    int                            `json:"filtered_count"`
	Performance engine.PerformanceMetrics      `json:"performance"`
	Context     *reachability.ExecutionContext `json:"context,omitempty"`
}

// DocumentError records a document whose analysis failed
type DocumentError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// ResultSummary counts findings by effective severity
type ResultSummary struct {
	Error    int `json:"error"`
	Warning  int `json:"warning"`
	Info     int `json:"info"`
	Total    int `json:"total"`
	Adjusted int `json:"adjusted"`
	Filtered int `json:"filtered"`
}

// NewScanResult folds per-document results into one report. Findings stay
// grouped by document in result order; within a document they are sorted by
// severity, then line.
func NewScanResult(repository string, results []concurrent.DocumentResult, rulesCount int, started time.Time, resolver hosting.Resolver) ScanResult {
	scan := ScanResult{
		RunID:          uuid.NewString(),
		Repository:     repository,
		ScanTime:       started,
		Duration:       time.Since(started),
		WorkflowsCount: len(results),
		RulesCount:     rulesCount,
	}

	for _, dr := range results {
		if dr.Err != nil {
			scan.Errors = append(scan.Errors, DocumentError{Path: dr.Document, Message: dr.Err.Error()})
			continue
		}
		if dr.Result == nil {
			continue
		}

		scan.Documents = append(scan.Documents, DocumentReport{
			Path:        dr.Document,
			Graph:       dr.Result.Graph,
			Filtered:    dr.Result.Filtered,
			Performance: dr.Result.Performance,
			Context:     dr.Result.Context,
		})
		scan.Summary.Filtered += dr.Result.Filtered
		scan.Reachability.Merge(dr.Result.Stats)

		docFindings := make([]Finding, 0, len(dr.Result.Findings))
		for _, sf := range dr.Result.Findings {
			f := Finding{ScoredFinding: sf}
			if resolver != nil {
				f.URL = resolver.FileURL(sf.FilePath, sf.Line())
			}
			docFindings = append(docFindings, f)
		}
		sort.SliceStable(docFindings, func(i, j int) bool {
			return bySeverity(docFindings[i], docFindings[j])
		})
		scan.Findings = append(scan.Findings, docFindings...)
	}

	filtered := scan.Summary.Filtered
	scan.Summary = CalculateSummary(scan.Findings)
	scan.Summary.Filtered = filtered
	return scan
}

// CalculateSummary computes the summary statistics for findings
func CalculateSummary(findings []Finding) ResultSummary {
	summary := ResultSummary{}

	for _, finding := range findings {
		switch finding.Severity {
		case rules.Error:
			summary.Error++
		case rules.Warning:
			summary.Warning++
		case rules.Info:
			summary.Info++
		}
		if finding.Adjusted() {
			summary.Adjusted++
		}
	}

	summary.Total = summary.Error + summary.Warning + summary.Info
	return summary
}

// bySeverity orders error first, then by line
func bySeverity(a, b Finding) bool {
	if a.Severity.Rank() != b.Severity.Rank() {
		return a.Severity.Rank() > b.Severity.Rank()
	}
	return a.Line() < b.Line()
}

// HasBlockingFindings reports whether any effective error remains
func HasBlockingFindings(result ScanResult) bool {
	return result.Summary.Error > 0
}

// Generator creates a formatted report from scan results
type Generator struct {
	Result          ScanResult
	Format          string
	Verbose         bool
	FilePath        string
	ShowRemediation bool
	NoColor         bool

	// Out receives the report when FilePath is empty
	Out io.Writer
}

// NewGenerator creates a new report generator
func NewGenerator(result ScanResult, format string, verbose bool, filePath string) *Generator {
	return &Generator{
		Result:          result,
		Format:          format,
		Verbose:         verbose,
		FilePath:        filePath,
		ShowRemediation: true,
		Out:             os.Stdout,
	}
}

// Generate creates and outputs the report in the specified format
func (g *Generator) Generate() error {
	switch strings.ToLower(g.Format) {
	case constants.OutputFormatCLI:
		return g.emit(g.renderCLI)
	case constants.OutputFormatJSON:
		return g.emit(g.renderJSON)
	case constants.OutputFormatMarkdown:
		return g.emit(g.renderMarkdown)
	case constants.OutputFormatSARIF:
		return g.emit(g.renderSARIF)
	default:
		return flowerrors.ErrInvalidOutputFormat(g.Format, constants.SupportedOutputFormats)
	}
}

// emit renders to the output file, or to Out
func (g *Generator) emit(render func(io.Writer) error) error {
	if g.FilePath == "" {
		out := g.Out
		if out == nil {
			out = os.Stdout
		}
		return render(out)
	}

	if dir := filepath.Dir(g.FilePath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return flowerrors.NewReportError("Failed to create report directory", err, g.FilePath)
		}
	}
	file, err := os.Create(g.FilePath)
	if err != nil {
		return flowerrors.NewReportError("Failed to create report file", err, g.FilePath)
	}
	defer file.Close()

	if err := render(file); err != nil {
		return flowerrors.NewReportError(fmt.Sprintf("Failed to write %s report", g.Format), err, g.FilePath)
	}
	return nil
}

func (g *Generator) renderJSON(w io.Writer) error {
	sanitized := g.Result
	sanitized.Findings = make([]Finding, len(g.Result.Findings))
	for i, f := range g.Result.Findings {
		f.FilePath = cleanFilePath(f.FilePath)
		f.Evidence = MaskSecrets(f.Evidence)
		sanitized.Findings[i] = f
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(sanitized)
}

// createSeverityBar generates a visual bar representation for severity counts
func createSeverityBar(count, total int, char string, maxLength int) string {
	if total == 0 {
		return ""
	}

	ratio := float64(count) / float64(total)
	barLength := int(math.Round(ratio * float64(maxLength)))

	if count > 0 && barLength == 0 {
		barLength = 1 // Always show at least one character if there's a count
	}

	return strings.Repeat(char, barLength)
}

// MaskSecrets masks the middle of long evidence
func MaskSecrets(evidence string) string {
	if len(evidence) < 12 {
		return evidence
	}

	visible := 4
	return evidence[:visible] + strings.Repeat("*", len(evidence)-visible*2) + evidence[len(evidence)-visible:]
}

// cleanFilePath strips a leading ./ and normalizes separators
func cleanFilePath(path string) string {
	return strings.TrimPrefix(filepath.ToSlash(path), "./")
}

// location renders file:line for humans
func location(f Finding) string {
	path := cleanFilePath(f.FilePath)
	if f.Line() > 0 {
		return fmt.Sprintf("%s:%d", path, f.Line())
	}
	return path
}
