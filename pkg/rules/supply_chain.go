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

package rules

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/harekrishnarai/flowscope/pkg/parser"
)

// minimumMajor lists the oldest supported major version of widely used actions
var minimumMajor = map[string]int{
	"actions/checkout":                     4,
	"actions/setup-node":                   4,
	"actions/setup-python":                 5,
	"actions/setup-go":                     5,
	"actions/setup-java":                   4,
	"actions/cache":                        4,
	"actions/upload-artifact":              4,
	"actions/download-artifact":            4,
	"actions/github-script":                7,
	"stefanzweifel/git-auto-commit-action": 5,
}

func repoName(ref parser.ActionRef) string {
	return strings.ToLower(ref.Owner + "/" + ref.Repo)
}

func popularActions() []string {
	names := make([]string, 0, len(minimumMajor))
	for name := range minimumMajor {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SupplyChainRules returns the dependency detectors
func SupplyChainRules() []Rule {
	return []Rule{
		{
			ID:          "DEPRECATED_ACTION",
			Title:       "Deprecated action version",
			Description: "Detects well-known actions pinned to a major version that is no longer supported",
			Severity:    Warning,
			Category:    Dependency,
			Check:       checkDeprecatedActions,
		},
		{
			ID:          "TYPOSQUATTING_ACTION",
			Title:       "Potential typosquatting action",
			Description: "Detects action names one edit away from a widely used action",
			Severity:    Error,
			Category:    Security,
			Check:       checkTyposquattingActions,
		},
	}
}

// checkDeprecatedActions detects usage of deprecated action versions
func checkDeprecatedActions(workflow parser.WorkflowFile) []Finding {
	var findings []Finding

	for _, jobID := range workflow.JobIDs() {
		job := workflow.Workflow.Jobs[jobID]
		for i, step := range job.Steps {
			if step.Kind() != parser.StepAction {
				continue
			}
			ref := parser.ParseActionRef(step.Uses)
			minimum, known := minimumMajor[repoName(ref)]
			if !known || ref.Ref == "" {
				continue
			}
			major, ok := parseMajorVersion(ref.Ref)
			if !ok || major >= minimum {
				continue
			}

			findings = append(findings, Finding{
				RuleID:      "DEPRECATED_ACTION",
				Category:    Dependency,
				Severity:    Warning,
				Title:       "Deprecated action version",
				Description: fmt.Sprintf("%s@%s runs on a deprecated major version; v%d or later is supported", ref.Name(), ref.Ref, minimum),
				FilePath:    workflow.Path,
				Location:    &Location{Line: workflow.StepLine(jobID, i), JobID: jobID, StepIndex: StepAt(i)},
				Remediation: fmt.Sprintf("Use %s@v%d or later, pinned to its commit SHA", ref.Name(), minimum),
				Evidence:    "uses: " + step.Uses,
			})
		}
	}

	return findings
}

// checkTyposquattingActions detects potential typosquatting in action names
func checkTyposquattingActions(workflow parser.WorkflowFile) []Finding {
	var findings []Finding

	for _, jobID := range workflow.JobIDs() {
		job := workflow.Workflow.Jobs[jobID]
		for i, step := range job.Steps {
			if step.Kind() != parser.StepAction {
				continue
			}
			ref := parser.ParseActionRef(step.Uses)
			if ref.Local || ref.Docker {
				continue
			}
			name := repoName(ref)
			if _, known := minimumMajor[name]; known {
				continue
			}

			for _, popular := range popularActions() {
				if levenshtein.ComputeDistance(name, popular) != 1 {
					continue
				}
				findings = append(findings, Finding{
					RuleID:      "TYPOSQUATTING_ACTION",
					Category:    Security,
					Severity:    Error,
					Title:       "Potential typosquatting action",
					Description: fmt.Sprintf("Action %s is one character away from %s and may be a typosquatting attempt", ref.Name(), popular),
					FilePath:    workflow.Path,
					Location:    &Location{Line: workflow.StepLine(jobID, i), JobID: jobID, StepIndex: StepAt(i)},
					Remediation: "Verify the action name is correct and from the intended publisher",
					Evidence:    "uses: " + step.Uses,
				})
				break
			}
		}
	}

	return findings
}

// parseMajorVersion extracts the major number from refs like v1.2.3, 1.2 or v2.
// Branches and SHAs are not versions.
func parseMajorVersion(version string) (int, bool) {
	version = strings.TrimPrefix(version, "v")
	major, _, _ := strings.Cut(version, ".")
	n, err := strconv.Atoi(major)
	if err != nil || len(major) > 4 {
		return 0, false
	}
	return n, true
}
