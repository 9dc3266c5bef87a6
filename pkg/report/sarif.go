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
	"fmt"
	"io"
	"strings"

	"github.com/owenrumney/go-sarif/v2/sarif"

	"github.com/harekrishnarai/flowscope/pkg/constants"
	"github.com/harekrishnarai/flowscope/pkg/rules"
)

const informationURI = "https://github.com/harekrishnarai/flowscope"

// securitySeverity is the GitHub code scanning score per effective severity
var securitySeverity = map[rules.Severity]string{
	rules.Error:   "8.0",
	rules.Warning: "5.0",
	rules.Info:    "2.0",
}

// BuildSARIF converts the scan result into a SARIF 2.1.0 log with one run
func (g *Generator) BuildSARIF() (*sarif.Report, error) {
	report, err := sarif.New(sarif.Version210)
	if err != nil {
		return nil, err
	}

	driver := sarif.NewVersionedDriver(constants.AppName, constants.AppVersion).WithInformationURI(informationURI)
	run := sarif.NewRun(*sarif.NewTool(driver))
	if g.Result.RunID != "" {
		run.WithAutomationDetails(sarif.NewRunAutomationDetails().WithID(constants.AppName + "/" + g.Result.RunID))
	}

	ruleIndex := make(map[string]int)
	for _, f := range g.Result.Findings {
		if _, ok := ruleIndex[f.RuleID]; !ok {
			ruleIndex[f.RuleID] = len(run.Tool.Driver.Rules)
			addRule(run, f)
		}
		run.AddResult(g.sarifResult(f, ruleIndex[f.RuleID]))
	}

	report.AddRun(run)
	return report, nil
}

func (g *Generator) renderSARIF(w io.Writer) error {
	report, err := g.BuildSARIF()
	if err != nil {
		return err
	}
	return report.PrettyWrite(w)
}

func addRule(run *sarif.Run, f Finding) {
	rule := run.AddRule(f.RuleID).
		WithName(ruleName(f.Title)).
		WithDescription(f.Title).
		WithFullDescription(sarif.NewMultiformatMessageString(f.Description)).
		WithDefaultConfiguration(sarif.NewReportingConfiguration().WithLevel(sarifLevel(f.OriginalSeverity))).
		WithProperties(sarif.Properties{
			"security-severity": securitySeverity[f.OriginalSeverity],
			"tags":              []string{string(f.Category), "ci-cd"},
			"precision":         "high",
		})

	if len(f.References) > 0 {
		rule.WithHelpURI(f.References[0])
	}
	if f.Remediation != "" {
		rule.WithTextHelp(f.Remediation)
	}
}

func (g *Generator) sarifResult(f Finding, index int) *sarif.Result {
	message := f.Description
	if info := f.Reachability; info != nil && !info.Reachable && info.Reason != "" {
		message = fmt.Sprintf("%s (unreachable: %s)", message, info.Reason)
	}

	result := sarif.NewRuleResult(f.RuleID).
		WithRuleIndex(index).
		WithLevel(sarifLevel(f.Severity)).
		WithMessage(sarif.NewTextMessage(message)).
		WithLocations([]*sarif.Location{sarif.NewLocationWithPhysicalLocation(physicalLocation(f))}).
		WithPartialFingerPrints(map[string]interface{}{
			"findingId/v1": f.ID,
		})

	props := sarif.NewPropertyBag()
	props.AddString("category", string(f.Category))
	if f.Adjusted() {
		props.AddString("originalSeverity", string(f.OriginalSeverity))
	}
	if job := f.JobID(); job != "" {
		props.AddString("job", job)
	}
	if info := f.Reachability; info != nil {
		props.AddBoolean("reachable", info.Reachable)
		props.AddString("risk", string(info.Risk))
		if len(info.Triggers) > 0 {
			props.Add("triggers", info.Triggers)
		}
		if len(info.MitigatingFactors) > 0 {
			props.Add("mitigatingFactors", info.MitigatingFactors)
		}
	}
	if f.URL != "" {
		props.AddString("url", f.URL)
	}
	result.AttachPropertyBag(props)

	return result
}

func physicalLocation(f Finding) *sarif.PhysicalLocation {
	pl := sarif.NewPhysicalLocation().
		WithArtifactLocation(sarif.NewSimpleArtifactLocation(cleanFilePath(f.FilePath)))

	line := f.Line()
	if line <= 0 {
		return pl
	}

	region := sarif.NewRegion().WithStartLine(line).WithEndLine(line)
	if s := f.Snippet; s != nil && s.Content != "" {
		if text := snippetLine(s, line); text != "" {
			region.WithSnippet(sarif.NewArtifactContent().WithText(text))
		}
	}
	return pl.WithRegion(region)
}

// snippetLine picks the highlighted line out of a snippet
func snippetLine(s *rules.Snippet, line int) string {
	lines := strings.Split(s.Content, "\n")
	i := line - s.StartLine
	if i < 0 || i >= len(lines) {
		return ""
	}
	return lines[i]
}

// sarifLevel maps severities onto SARIF result levels
func sarifLevel(s rules.Severity) string {
	switch s {
	case rules.Error:
		return "error"
	case rules.Warning:
		return "warning"
	default:
		return "note"
	}
}

// ruleName turns a title into the PascalCase name SARIF viewers expect
func ruleName(title string) string {
	var sb strings.Builder
	for _, word := range strings.FieldsFunc(title, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9')
	}) {
		sb.WriteString(strings.ToUpper(word[:1]))
		sb.WriteString(word[1:])
	}
	return sb.String()
}
