package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/harekrishnarai/flowscope/pkg/constants"
	"github.com/harekrishnarai/flowscope/pkg/rules"
)

var severityEmojis = map[rules.Severity]string{
	rules.Error:   "🔴",
	rules.Warning: "🟡",
	rules.Info:    "🔵",
}

func (g *Generator) renderMarkdown(w io.Writer) error {
	var md strings.Builder
	res := g.Result

	md.WriteString("# Workflow Analysis Report\n\n")
	md.WriteString("## Scan Information\n\n")
	fmt.Fprintf(&md, "- **Repository:** %s\n", res.Repository)
	fmt.Fprintf(&md, "- **Scan Time:** %s\n", res.ScanTime.Format(time.RFC1123))
	fmt.Fprintf(&md, "- **Duration:** %s\n", res.Duration.Round(time.Millisecond))
	fmt.Fprintf(&md, "- **Documents Analyzed:** %d\n", res.WorkflowsCount)
	fmt.Fprintf(&md, "- **Rules Applied:** %d\n", res.RulesCount)
	if res.Summary.Adjusted > 0 {
		fmt.Fprintf(&md, "- **Re-scored in context:** %d findings\n", res.Summary.Adjusted)
	}
	if res.Summary.Filtered > 0 {
		fmt.Fprintf(&md, "- **Filtered:** %d findings\n", res.Summary.Filtered)
	}

	md.WriteString("\n## Summary\n\n")
	md.WriteString("| Severity | Count |\n")
	md.WriteString("|----------|-------|\n")
	fmt.Fprintf(&md, "| 🔴 Error   | %d |\n", res.Summary.Error)
	fmt.Fprintf(&md, "| 🟡 Warning | %d |\n", res.Summary.Warning)
	fmt.Fprintf(&md, "| 🔵 Info    | %d |\n", res.Summary.Info)
	fmt.Fprintf(&md, "| **Total**  | %d |\n", res.Summary.Total)

	if rs := res.Reachability; rs.Total > 0 {
		md.WriteString("\n### Reachability\n\n")
		fmt.Fprintf(&md, "- **Reachable:** %d of %d\n", rs.Reachable, rs.Total)
		fmt.Fprintf(&md, "- **High risk:** %d\n", rs.HighRisk)
		fmt.Fprintf(&md, "- **Mitigated:** %d\n", rs.Mitigated)
	}

	if len(res.Findings) == 0 {
		md.WriteString("\n## ✅ No Issues Found\n\n")
		md.WriteString("No issues were found in the analyzed workflows.\n")
	} else {
		md.WriteString("\n## Findings\n")
		g.markdownFindings(&md)
	}

	if g.Verbose && len(res.Documents) > 0 {
		md.WriteString("\n## Job Graphs\n")
		for _, doc := range res.Documents {
			markdownGraph(&md, doc)
		}
	}

	if len(res.Errors) > 0 {
		md.WriteString("\n## Errors\n\n")
		for _, e := range res.Errors {
			fmt.Fprintf(&md, "- `%s`: %s\n", cleanFilePath(e.Path), e.Message)
		}
	}

	md.WriteString("\n---\n")
	fmt.Fprintf(&md, "Generated by %s v%s\n", constants.AppName, constants.AppVersion)

	_, err := io.WriteString(w, md.String())
	return err
}

func (g *Generator) markdownFindings(md *strings.Builder) {
	bySeverity := make(map[rules.Severity][]Finding)
	for _, f := range g.Result.Findings {
		bySeverity[f.Severity] = append(bySeverity[f.Severity], f)
	}

	for _, severity := range severityOrder {
		group := bySeverity[severity]
		if len(group) == 0 {
			continue
		}

		fmt.Fprintf(md, "\n### %s %s Findings\n\n", severityEmojis[severity], strings.ToUpper(string(severity)))

		for i, f := range group {
			fmt.Fprintf(md, "#### %d. %s (%s)\n\n", i+1, f.Title, f.RuleID)
			if f.URL != "" {
				fmt.Fprintf(md, "- **File:** [%s](%s)\n", location(f), f.URL)
			} else {
				fmt.Fprintf(md, "- **File:** `%s`\n", location(f))
			}
			if job := f.JobID(); job != "" {
				fmt.Fprintf(md, "- **Job:** `%s`\n", job)
			}
			if f.Adjusted() {
				fmt.Fprintf(md, "- **Severity:** %s → %s\n", f.OriginalSeverity, f.Severity)
			}
			if info := f.Reachability; info != nil {
				if info.Reachable {
					fmt.Fprintf(md, "- **Reachability:** reachable, %s risk\n", info.Risk)
				} else {
					fmt.Fprintf(md, "- **Reachability:** unreachable (%s)\n", info.Reason)
				}
				for _, m := range info.MitigatingFactors {
					fmt.Fprintf(md, "  - %s\n", m)
				}
			}
			fmt.Fprintf(md, "- **Description:** %s\n", f.Description)

			if f.Snippet != nil && f.Snippet.Content != "" {
				fmt.Fprintf(md, "\n```yaml\n%s\n```\n", strings.TrimRight(f.Snippet.Content, "\n"))
			}
			if g.Verbose && f.Evidence != "" {
				fmt.Fprintf(md, "- **Evidence:** `%s`\n", MaskSecrets(f.Evidence))
			}
			if g.ShowRemediation && f.Remediation != "" {
				fmt.Fprintf(md, "- **Remediation:** %s\n", f.Remediation)
			}
			md.WriteString("\n")
		}
	}
}

func markdownGraph(md *strings.Builder, doc DocumentReport) {
	gs := doc.Graph
	fmt.Fprintf(md, "\n### `%s`\n\n", cleanFilePath(doc.Path))

	if len(gs.Edges) > 0 {
		md.WriteString("| From | To | Kind | Detail |\n")
		md.WriteString("|------|----|------|--------|\n")
		for _, e := range gs.Edges {
			fmt.Fprintf(md, "| %s | %s | %s | %s |\n", e.From, e.To, e.Kind, e.Detail)
		}
		md.WriteString("\n")
	}
	if len(gs.Isolated) > 0 {
		fmt.Fprintf(md, "- **Isolated:** %s\n", strings.Join(gs.Isolated, ", "))
	}
	for _, path := range gs.CriticalPaths {
		fmt.Fprintf(md, "- **Critical path:** %s\n", strings.Join(path, " → "))
	}
	for _, cycle := range gs.Cycles {
		fmt.Fprintf(md, "- **Cycle:** %s\n", strings.Join(cycle, " → "))
	}
}
