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

package config

import (
	"fmt"
	"regexp"
	"sort"

	"github.com/harekrishnarai/flowscope/pkg/linenum"
	"github.com/harekrishnarai/flowscope/pkg/parser"
	"github.com/harekrishnarai/flowscope/pkg/rules"
)

// CustomRule is a user-defined regex detector
type CustomRule struct {
	ID          string     `yaml:"id" json:"id"`
	Title       string     `yaml:"title" json:"title"`
	Description string     `yaml:"description" json:"description"`
	Severity    string     `yaml:"severity" json:"severity"`
	Category    string     `yaml:"category" json:"category"`
	Pattern     string     `yaml:"pattern,omitempty" json:"pattern,omitempty"`
	Patterns    []string   `yaml:"patterns,omitempty" json:"patterns,omitempty"`
	Target      RuleTarget `yaml:"target" json:"target"`
	Remediation string     `yaml:"remediation" json:"remediation"`
}

// RuleTarget specifies what the rule should check. With nothing set the
// whole document is searched.
type RuleTarget struct {
	Commands    bool `yaml:"commands" json:"commands"`       // run: scripts
	Actions     bool `yaml:"actions" json:"actions"`         // uses: references
	Environment bool `yaml:"environment" json:"environment"` // job and step env
}

func (cr CustomRule) allPatterns() []string {
	var patterns []string
	if cr.Pattern != "" {
		patterns = append(patterns, cr.Pattern)
	}
	return append(patterns, cr.Patterns...)
}

// LoadCustomRules converts the configured custom rules into executable rules.
// Ignore filters are applied later by the rule engine.
func LoadCustomRules(config *Config) ([]rules.Rule, error) {
	var customRules []rules.Rule

	for _, customRule := range config.Rules.CustomRules {
		rule, err := convertCustomRule(customRule)
		if err != nil {
			return nil, fmt.Errorf("failed to load custom rule %s: %w", customRule.ID, err)
		}
		customRules = append(customRules, rule)
	}

	return customRules, nil
}

func convertCustomRule(customRule CustomRule) (rules.Rule, error) {
	severity, ok := rules.ParseSeverity(customRule.Severity)
	if !ok {
		return rules.Rule{}, fmt.Errorf("invalid severity: %s", customRule.Severity)
	}
	category := rules.Category(customRule.Category)
	if !category.Valid() {
		return rules.Rule{}, fmt.Errorf("invalid category: %s", customRule.Category)
	}

	var patterns []*regexp.Regexp
	for _, p := range customRule.allPatterns() {
		compiled, err := regexp.Compile(p)
		if err != nil {
			return rules.Rule{}, fmt.Errorf("invalid regex pattern '%s': %w", p, err)
		}
		patterns = append(patterns, compiled)
	}
	if len(patterns) == 0 {
		return rules.Rule{}, fmt.Errorf("regex rule must have at least one pattern")
	}

	title := customRule.Title
	if title == "" {
		title = customRule.ID
	}

	m := &matcher{rule: customRule, title: title, severity: severity, category: category, patterns: patterns}
	return rules.Rule{
		ID:          customRule.ID,
		Title:       title,
		Description: customRule.Description,
		Severity:    severity,
		Category:    category,
		Check:       m.check,
	}, nil
}

type matcher struct {
	rule     CustomRule
	title    string
	severity rules.Severity
	category rules.Category
	patterns []*regexp.Regexp
}

func (m *matcher) matches(text string) bool {
	for _, p := range m.patterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

func (m *matcher) finding(workflow parser.WorkflowFile, loc *rules.Location, evidence string) rules.Finding {
	return rules.Finding{
		RuleID:      m.rule.ID,
		Category:    m.category,
		Severity:    m.severity,
		Title:       m.title,
		Description: m.rule.Description,
		FilePath:    workflow.Path,
		Location:    loc,
		Remediation: m.rule.Remediation,
		Evidence:    evidence,
	}
}

func (m *matcher) check(workflow parser.WorkflowFile) []rules.Finding {
	target := m.rule.Target
	if !target.Commands && !target.Actions && !target.Environment {
		return m.checkContent(workflow)
	}

	var findings []rules.Finding
	for _, jobID := range workflow.JobIDs() {
		job := workflow.Workflow.Jobs[jobID]

		if target.Environment {
			for _, key := range sortedKeys(job.Env) {
				if evidence := key + ": " + job.Env[key]; m.matches(evidence) {
					loc := &rules.Location{Line: workflow.JobLines[jobID], JobID: jobID}
					findings = append(findings, m.finding(workflow, loc, evidence))
				}
			}
		}

		for i, step := range job.Steps {
			loc := &rules.Location{Line: workflow.StepLine(jobID, i), JobID: jobID, StepIndex: rules.StepAt(i)}

			// Only report once per step
			switch {
			case target.Commands && step.Run != "" && m.matches(step.Run):
				findings = append(findings, m.finding(workflow, loc, step.Run))
			case target.Actions && step.Uses != "" && m.matches(step.Uses):
				findings = append(findings, m.finding(workflow, loc, step.Uses))
			case target.Environment:
				for _, key := range sortedKeys(step.Env) {
					if evidence := key + ": " + step.Env[key]; m.matches(evidence) {
						findings = append(findings, m.finding(workflow, loc, evidence))
						break
					}
				}
			}
		}
	}

	return findings
}

func (m *matcher) checkContent(workflow parser.WorkflowFile) []rules.Finding {
	var findings []rules.Finding
	lm := linenum.NewLineMapper(workflow.Content)

	for _, pattern := range m.patterns {
		for _, match := range lm.FindPattern(pattern) {
			findings = append(findings, m.finding(workflow, &rules.Location{Line: match.LineNumber}, match.MatchedText))
		}
	}

	return findings
}

func sortedKeys(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
