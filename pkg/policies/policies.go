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

package policies

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/open-policy-agent/opa/v1/rego"
	"gopkg.in/yaml.v3"

	"github.com/harekrishnarai/flowscope/pkg/constants"
	flowerrors "github.com/harekrishnarai/flowscope/pkg/errors"
	"github.com/harekrishnarai/flowscope/pkg/parser"
	"github.com/harekrishnarai/flowscope/pkg/rules"
)

// Module is a named rego source
type Module struct {
	Name   string
	Source string
}

// PolicyEngine evaluates user rego policies against workflows. The prepared
// query is safe for concurrent use.
type PolicyEngine struct {
	modules []Module
	query   *rego.PreparedEvalQuery
}

// NewPolicyEngine reads and compiles the given policy files
func NewPolicyEngine(ctx context.Context, policyFiles []string) (*PolicyEngine, error) {
	var modules []Module
	for _, path := range policyFiles {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, flowerrors.NewPolicyError("Failed to read policy file", err, path)
		}
		modules = append(modules, Module{Name: filepath.Base(path), Source: string(content)})
	}
	return NewPolicyEngineFromModules(ctx, modules)
}

// NewPolicyEngineFromModules compiles in-memory rego modules
func NewPolicyEngineFromModules(ctx context.Context, modules []Module) (*PolicyEngine, error) {
	e := &PolicyEngine{modules: modules}
	if len(modules) == 0 {
		return e, nil
	}

	opts := []func(*rego.Rego){rego.Query(constants.PolicyQuery)}
	for _, m := range modules {
		opts = append(opts, rego.Module(m.Name, m.Source))
	}

	pq, err := rego.New(opts...).PrepareForEval(ctx)
	if err != nil {
		return nil, flowerrors.NewPolicyError("Failed to compile policies", err, "",
			"Policies must declare 'package "+constants.PolicyPackage+"' and use rego v1 syntax (deny contains v if { ... })")
	}
	e.query = &pq
	return e, nil
}

// Enabled reports whether any policy is loaded
func (e *PolicyEngine) Enabled() bool {
	return e != nil && e.query != nil
}

// EvaluateWorkflow evaluates a workflow against the loaded policies
func (e *PolicyEngine) EvaluateWorkflow(ctx context.Context, workflow parser.WorkflowFile) ([]rules.Finding, error) {
	if !e.Enabled() {
		return nil, nil
	}

	input, err := prepareWorkflowData(workflow)
	if err != nil {
		return nil, flowerrors.NewPolicyError("Failed to prepare policy input", err, workflow.Path)
	}

	rs, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, flowerrors.NewPolicyError("Policy evaluation failed", err, workflow.Path)
	}

	var findings []rules.Finding
	for _, result := range rs {
		for _, expr := range result.Expressions {
			violations, ok := expr.Value.([]interface{})
			if !ok {
				continue
			}
			for _, v := range violations {
				violation, ok := v.(map[string]interface{})
				if !ok {
					continue
				}
				finding := convertViolationToFinding(violation, workflow)
				finding.EnsureID()
				findings = append(findings, finding)
			}
		}
	}

	// Sets come back in OPA's internal order
	sort.SliceStable(findings, func(i, j int) bool {
		if findings[i].Line() != findings[j].Line() {
			return findings[i].Line() < findings[j].Line()
		}
		return findings[i].ID < findings[j].ID
	})

	return findings, nil
}

// prepareWorkflowData builds the policy input: document identity, normalized
// triggers, job order and the workflow as a JSON-compatible tree
func prepareWorkflowData(workflow parser.WorkflowFile) (map[string]interface{}, error) {
	var raw interface{}
	if err := yaml.Unmarshal(workflow.Content, &raw); err != nil {
		return nil, err
	}

	// Round-trip through JSON so OPA sees only JSON types
	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var tree interface{}
	if err := json.Unmarshal(encoded, &tree); err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"path":     workflow.Path,
		"name":     workflow.Name,
		"content":  string(workflow.Content),
		"triggers": stringsToInterfaces(workflow.Triggers()),
		"job_ids":  stringsToInterfaces(workflow.JobIDs()),
		"workflow": tree,
	}, nil
}

func stringsToInterfaces(in []string) []interface{} {
	out := make([]interface{}, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}

// convertViolationToFinding converts an OPA policy violation to a finding
func convertViolationToFinding(violation map[string]interface{}, workflow parser.WorkflowFile) rules.Finding {
	str := func(key, fallback string) string {
		if s, ok := violation[key].(string); ok && s != "" {
			return s
		}
		return fallback
	}

	severity, ok := rules.ParseSeverity(str("severity", ""))
	if !ok {
		severity = rules.Warning
	}
	category := rules.Category(str("category", string(rules.Security)))
	if !category.Valid() {
		category = rules.Security
	}

	title := str("title", str("name", "Custom policy violation"))

	var loc *rules.Location
	jobID := str("job", "")
	line := intValue(violation["line"])
	step, hasStep := violation["step"]
	if jobID != "" || line > 0 {
		loc = &rules.Location{JobID: jobID, Line: line}
		if hasStep {
			if idx := intValue(step); idx >= 0 {
				loc.StepIndex = rules.StepAt(idx)
			}
		}
		if loc.Line == 0 && jobID != "" {
			if loc.StepIndex != nil {
				loc.Line = workflow.StepLine(jobID, *loc.StepIndex)
			}
			if loc.Line == 0 {
				loc.Line = workflow.JobLines[jobID]
			}
		}
	}

	var references []string
	if refs, ok := violation["references"].([]interface{}); ok {
		for _, r := range refs {
			if s, ok := r.(string); ok {
				references = append(references, s)
			}
		}
	}

	return rules.Finding{
		RuleID:      str("id", "POLICY_VIOLATION"),
		Category:    category,
		Severity:    severity,
		Title:       title,
		Description: str("description", "Workflow violates a custom policy rule"),
		FilePath:    workflow.Path,
		Location:    loc,
		Remediation: str("remediation", ""),
		References:  references,
		Evidence:    str("evidence", ""),
	}
}

// intValue reads a rego number; returns -1 when absent or not numeric
func intValue(v interface{}) int {
	switch n := v.(type) {
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return -1
		}
		return int(i)
	case float64:
		return int(n)
	case int:
		return n
	default:
		return -1
	}
}

// LoadPolicyFiles loads policy files from a directory or file
func LoadPolicyFiles(policyPath string) ([]string, error) {
	var policyFiles []string

	fileInfo, err := os.Stat(policyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to access policy path: %w", err)
	}

	if fileInfo.IsDir() {
		err = filepath.Walk(policyPath, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if !info.IsDir() && filepath.Ext(path) == ".rego" {
				policyFiles = append(policyFiles, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to walk policy directory: %w", err)
		}
	} else {
		if filepath.Ext(policyPath) != ".rego" {
			return nil, fmt.Errorf("policy file must have .rego extension")
		}
		policyFiles = append(policyFiles, policyPath)
	}

	if len(policyFiles) == 0 {
		return nil, fmt.Errorf("no policy files found at %s", policyPath)
	}

	sort.Strings(policyFiles)
	return policyFiles, nil
}

// ExamplePolicy is written by init-policy
const ExamplePolicy = `package flowscope

# Workflows must not grant write-all
deny contains violation if {
	input.workflow.permissions == "write-all"
	violation := {
		"id": "POLICY_BROAD_PERMISSIONS",
		"title": "Overly broad permissions",
		"description": "Workflow has 'write-all' permissions, which grants excessive access",
		"severity": "error",
		"category": "security",
		"evidence": "permissions: write-all",
		"remediation": "Use more specific permissions instead of 'write-all'",
	}
}

# Deployment jobs must declare an environment
deny contains violation if {
	some job_id
	job := input.workflow.jobs[job_id]
	contains(job_id, "deploy")
	not job.environment
	violation := {
		"id": "POLICY_DEPLOY_ENVIRONMENT",
		"title": "Deployment job without environment",
		"description": sprintf("Job %s deploys without a protected environment", [job_id]),
		"severity": "warning",
		"category": "best-practice",
		"job": job_id,
		"remediation": "Add environment: production (or similar) so reviewers gate the job",
	}
}
`

// CreateExamplePolicy creates an example policy file
func CreateExamplePolicy(filePath string) error {
	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	if err := os.WriteFile(filePath, []byte(ExamplePolicy), 0644); err != nil {
		return fmt.Errorf("failed to write example policy file: %w", err)
	}

	return nil
}
