package report

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"golang.org/x/term"

	"github.com/harekrishnarai/flowscope/pkg/analysis/reachability"
	"github.com/harekrishnarai/flowscope/pkg/constants"
	"github.com/harekrishnarai/flowscope/pkg/rules"
)

const (
	defaultWidth = 64
	maxWidth     = 100
)

var (
	titleStyle    = color.New(color.FgHiCyan, color.Bold)
	subtitleStyle = color.New(color.FgCyan, color.Bold)
	labelStyle    = color.New(color.FgBlue)
	successStyle  = color.New(color.FgGreen, color.Bold)
	dimStyle      = color.New(color.FgHiBlack)
	highlight     = color.New(color.FgHiWhite, color.Bold)

	severityStyles = map[rules.Severity]*color.Color{
		rules.Error:   color.New(color.FgHiRed, color.Bold),
		rules.Warning: color.New(color.FgHiYellow, color.Bold),
		rules.Info:    color.New(color.FgHiBlue),
	}

	riskStyles = map[reachability.RiskTier]*color.Color{
		reachability.High:          color.New(color.FgHiRed),
		reachability.Medium:        color.New(color.FgYellow),
		reachability.Low:           color.New(color.FgBlue),
		reachability.Informational: color.New(color.FgHiBlack),
	}
)

func severityStyle(s rules.Severity) *color.Color {
	if style, ok := severityStyles[s]; ok {
		return style
	}
	return dimStyle
}

// severityOrder is the display order of finding groups
var severityOrder = []rules.Severity{rules.Error, rules.Warning, rules.Info}

// isTerminal reports whether w is an interactive terminal
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// dividerWidth follows the terminal width, capped so wide screens stay readable
func dividerWidth(w io.Writer) int {
	f, ok := w.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return defaultWidth
	}
	width, _, err := term.GetSize(int(f.Fd()))
	if err != nil || width <= 0 {
		return defaultWidth
	}
	if width > maxWidth {
		return maxWidth
	}
	return width
}

func (g *Generator) renderCLI(w io.Writer) error {
	if g.NoColor || os.Getenv(constants.EnvNoColor) != "" || !isTerminal(w) {
		color.NoColor = true
	}

	divider := strings.Repeat("━", dividerWidth(w))
	section := func(name string) {
		fmt.Fprintln(w)
		subtitleStyle.Fprintf(w, "► %s\n", name)
		fmt.Fprintln(w, divider)
	}
	field := func(label string, value any) {
		labelStyle.Fprintf(w, "%-20s ", label+":")
		fmt.Fprintln(w, value)
	}

	res := g.Result

	fmt.Fprintln(w)
	titleStyle.Fprintf(w, "%s WORKFLOW ANALYSIS\n", strings.ToUpper(constants.AppName))

	section("SCAN INFORMATION")
	field("Repository", res.Repository)
	field("Scan Time", res.ScanTime.Format(time.RFC1123))
	field("Duration", res.Duration.Round(time.Millisecond))
	field("Documents Analyzed", res.WorkflowsCount)
	field("Rules Applied", res.RulesCount)
	if res.Summary.Adjusted > 0 {
		field("Re-scored", fmt.Sprintf("%d findings changed severity in context", res.Summary.Adjusted))
	}
	if res.Summary.Filtered > 0 {
		field("Filtered", fmt.Sprintf("%d findings hidden", res.Summary.Filtered))
	}

	section("SUMMARY")
	g.renderSummaryTable(w)

	if rs := res.Reachability; rs.Total > 0 {
		fmt.Fprintln(w)
		field("Reachable", fmt.Sprintf("%d of %d", rs.Reachable, rs.Total))
		field("High Risk", rs.HighRisk)
		field("Mitigated", rs.Mitigated)
	}

	if len(res.Findings) > 0 {
		section("FINDINGS")
		g.renderFindings(w)
	} else {
		fmt.Fprintln(w)
		successStyle.Fprintln(w, "✅ NO ISSUES FOUND")
		fmt.Fprintln(w, "No issues were detected in the analyzed workflows.")
	}

	if g.Verbose {
		for _, doc := range res.Documents {
			section("JOB GRAPH: " + cleanFilePath(doc.Path))
			renderGraph(w, doc)
		}
	}

	if len(res.Errors) > 0 {
		section("ERRORS")
		for _, e := range res.Errors {
			severityStyles[rules.Error].Fprintf(w, "  ✗ %s\n", cleanFilePath(e.Path))
			fmt.Fprintf(w, "    %s\n", e.Message)
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, divider)
	fmt.Fprintln(w)
	return nil
}

func (g *Generator) renderSummaryTable(w io.Writer) {
	summary := g.Result.Summary

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Severity", "Count", "Indicator"})
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	table.SetColumnAlignment([]int{tablewriter.ALIGN_LEFT, tablewriter.ALIGN_CENTER, tablewriter.ALIGN_LEFT})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)

	rows := []struct {
		label string
		count int
		color int
	}{
		{"ERROR", summary.Error, tablewriter.FgHiRedColor},
		{"WARNING", summary.Warning, tablewriter.FgHiYellowColor},
		{"INFO", summary.Info, tablewriter.FgCyanColor},
	}

	if color.NoColor {
		for _, r := range rows {
			table.Append([]string{r.label, fmt.Sprint(r.count), createSeverityBar(r.count, summary.Total, "█", 20)})
		}
		table.Append([]string{"TOTAL", fmt.Sprint(summary.Total), ""})
		table.Render()
		return
	}

	table.SetHeaderColor(
		tablewriter.Colors{tablewriter.Bold},
		tablewriter.Colors{tablewriter.Bold},
		tablewriter.Colors{tablewriter.Bold},
	)
	for _, r := range rows {
		table.Rich([]string{r.label, fmt.Sprint(r.count), createSeverityBar(r.count, summary.Total, "█", 20)}, []tablewriter.Colors{
			{tablewriter.Bold, r.color},
			{tablewriter.Bold, r.color},
			{r.color},
		})
	}
	table.Rich([]string{"TOTAL", fmt.Sprint(summary.Total), ""}, []tablewriter.Colors{
		{tablewriter.Bold},
		{tablewriter.Bold},
		{tablewriter.Normal},
	})
	table.Render()
}

func (g *Generator) renderFindings(w io.Writer) {
	bySeverity := make(map[rules.Severity][]Finding)
	for _, f := range g.Result.Findings {
		bySeverity[f.Severity] = append(bySeverity[f.Severity], f)
	}

	count := 0
	for _, severity := range severityOrder {
		group := bySeverity[severity]
		if len(group) == 0 {
			continue
		}

		fmt.Fprintln(w)
		severityStyle(severity).Fprintf(w, "■ %s FINDINGS (%d)\n", strings.ToUpper(string(severity)), len(group))
		fmt.Fprintln(w, strings.Repeat("─", 49))

		for _, f := range group {
			count++
			g.renderFinding(w, count, f)
		}
	}
}

func (g *Generator) renderFinding(w io.Writer, n int, f Finding) {
	fmt.Fprintln(w)
	highlight.Fprintf(w, "[%d] %s ", n, f.Title)
	dimStyle.Fprintf(w, "(%s)\n", f.RuleID)

	label := func(name string) { labelStyle.Fprintf(w, "  %-13s ", name+":") }

	label("Severity")
	if f.Adjusted() {
		severityStyle(f.OriginalSeverity).Fprint(w, strings.ToUpper(string(f.OriginalSeverity)))
		fmt.Fprint(w, " → ")
	}
	severityStyle(f.Severity).Fprintln(w, strings.ToUpper(string(f.Severity)))

	label("Location")
	if f.URL != "" {
		fmt.Fprintln(w, f.URL)
	} else {
		fmt.Fprintln(w, location(f))
	}
	if job := f.JobID(); job != "" {
		label("Job")
		fmt.Fprintln(w, job)
	}

	if info := f.Reachability; info != nil {
		label("Reachability")
		if info.Reachable {
			style := riskStyles[info.Risk]
			if style == nil {
				style = dimStyle
			}
			style.Fprintf(w, "reachable, %s risk\n", info.Risk)
		} else {
			dimStyle.Fprintf(w, "unreachable: %s\n", info.Reason)
		}
		if len(info.Triggers) > 0 {
			label("Triggers")
			fmt.Fprintln(w, strings.Join(info.Triggers, ", "))
		}
		if len(info.RequiredConditions) > 0 {
			label("Conditions")
			fmt.Fprintln(w, strings.Join(info.RequiredConditions, "; "))
		}
		for _, m := range info.MitigatingFactors {
			label("Mitigation")
			fmt.Fprintln(w, m)
		}
	}

	label("Description")
	fmt.Fprintln(w, f.Description)

	if f.Snippet != nil && f.Snippet.Content != "" {
		fmt.Fprintln(w)
		renderSnippet(w, f.Snippet)
	}

	if g.Verbose && f.Evidence != "" {
		label("Evidence")
		fmt.Fprintln(w, MaskSecrets(f.Evidence))
	}
	if g.ShowRemediation && f.Remediation != "" {
		label("Remediation")
		fmt.Fprintln(w, f.Remediation)
	}
}

func renderSnippet(w io.Writer, s *rules.Snippet) {
	lines := strings.Split(strings.TrimRight(s.Content, "\n"), "\n")
	for i, line := range lines {
		num := s.StartLine + i
		if num == s.HighlightLine {
			highlight.Fprintf(w, "  → %4d │ %s\n", num, line)
			continue
		}
		dimStyle.Fprintf(w, "    %4d │ ", num)
		fmt.Fprintln(w, line)
	}
}

func renderGraph(w io.Writer, doc DocumentReport) {
	gs := doc.Graph
	if len(gs.Edges) == 0 && len(gs.Isolated) == 0 {
		dimStyle.Fprintln(w, "  no jobs")
		return
	}

	if len(gs.Edges) > 0 {
		table := tablewriter.NewWriter(w)
		table.SetHeader([]string{"From", "To", "Kind", "Detail"})
		table.SetBorder(false)
		table.SetAutoWrapText(false)
		for _, e := range gs.Edges {
			table.Append([]string{e.From, e.To, string(e.Kind), e.Detail})
		}
		table.Render()
	}

	list := func(name string, values []string) {
		if len(values) == 0 {
			return
		}
		labelStyle.Fprintf(w, "  %-15s ", name+":")
		fmt.Fprintln(w, strings.Join(values, ", "))
	}
	list("Roots", gs.Roots)
	list("Leaves", gs.Leaves)
	list("Isolated", gs.Isolated)

	for _, path := range gs.CriticalPaths {
		labelStyle.Fprintf(w, "  %-15s ", "Critical path:")
		fmt.Fprintln(w, strings.Join(path, " → "))
	}
	for _, cycle := range gs.Cycles {
		severityStyles[rules.Error].Fprintf(w, "  %-15s ", "Cycle:")
		fmt.Fprintln(w, strings.Join(cycle, " → "))
	}
}
