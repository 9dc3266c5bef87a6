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

package policies_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/harekrishnarai/flowscope/pkg/parser"
	"github.com/harekrishnarai/flowscope/pkg/policies"
	"github.com/harekrishnarai/flowscope/pkg/rules"
)

const windowsPolicy = `package flowscope

deny contains violation if {
	some job_id
	job := input.workflow.jobs[job_id]
	job["runs-on"] == "windows-latest"
	violation := {
		"id": "TEST_POLICY_RUNNER",
		"name": "Windows Runner",
		"description": "Job uses Windows runner",
		"severity": "MEDIUM",
		"category": "best-practice",
		"job": job_id,
		"step": 0,
		"evidence": "runs-on: windows-latest",
		"remediation": "Use ubuntu-latest runner",
	}
}
`

const policyWorkflow = `name: Policy Violation Test
on: [push]
jobs:
  test:
    runs-on: windows-latest
    steps:
      - name: Hello World
        run: echo "Hello World"
  other:
    runs-on: ubuntu-latest
    steps:
      - run: echo ok
`

func TestPolicyEngine(t *testing.T) {
	ctx := context.Background()
	engine, err := policies.NewPolicyEngineFromModules(ctx, []policies.Module{{Name: "windows.rego", Source: windowsPolicy}})
	if err != nil {
		t.Fatalf("Failed to compile policy: %v", err)
	}
	if !engine.Enabled() {
		t.Fatal("Expected engine to be enabled")
	}

	wf, err := parser.Parse("policy_test_workflow.yml", []byte(policyWorkflow))
	if err != nil {
		t.Fatalf("Failed to parse workflow YAML: %v", err)
	}

	findings, err := engine.EvaluateWorkflow(ctx, wf)
	if err != nil {
		t.Fatalf("Policy evaluation failed: %v", err)
	}
	if len(findings) != 1 {
		t.Fatalf("Expected 1 finding, got %d: %+v", len(findings), findings)
	}

	f := findings[0]
	if f.RuleID != "TEST_POLICY_RUNNER" || f.Title != "Windows Runner" {
		t.Errorf("Unexpected rule identity: %s / %s", f.RuleID, f.Title)
	}
	if f.Severity != rules.Warning {
		t.Errorf("Expected MEDIUM to map to warning, got %s", f.Severity)
	}
	if f.Category != rules.BestPractice {
		t.Errorf("Expected best-practice category, got %s", f.Category)
	}
	if f.JobID() != "test" {
		t.Errorf("Expected job test, got %q", f.JobID())
	}
	if idx, ok := f.StepIndex(); !ok || idx != 0 {
		t.Errorf("Expected step 0, got %d (%v)", idx, ok)
	}
	// Line is resolved from the step position when the policy omits it
	if f.Line() != 7 {
		t.Errorf("Expected line 7, got %d", f.Line())
	}
	if f.ID == "" {
		t.Error("Expected finding ID to be assigned")
	}
}

func TestPolicyEngineDefaults(t *testing.T) {
	ctx := context.Background()
	engine, err := policies.NewPolicyEngineFromModules(ctx, []policies.Module{{Name: "bare.rego", Source: `package flowscope

deny contains {"description": "always"} if { true }
`}})
	if err != nil {
		t.Fatalf("Failed to compile policy: %v", err)
	}

	wf, _ := parser.Parse("w.yml", []byte("on: push\njobs: {}\n"))
	findings, err := engine.EvaluateWorkflow(ctx, wf)
	if err != nil {
		t.Fatalf("Policy evaluation failed: %v", err)
	}
	if len(findings) != 1 {
		t.Fatalf("Expected 1 finding, got %d", len(findings))
	}
	f := findings[0]
	if f.RuleID != "POLICY_VIOLATION" || f.Severity != rules.Warning || f.Category != rules.Security {
		t.Errorf("Unexpected defaults: %+v", f)
	}
	if f.Location != nil {
		t.Errorf("Expected document-level finding, got %+v", f.Location)
	}
}

func TestPolicyEngineEmpty(t *testing.T) {
	engine, err := policies.NewPolicyEngine(context.Background(), nil)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if engine.Enabled() {
		t.Error("Expected engine without policies to be disabled")
	}
	findings, err := engine.EvaluateWorkflow(context.Background(), parser.WorkflowFile{})
	if err != nil || findings != nil {
		t.Errorf("Expected no findings and no error, got %v, %v", findings, err)
	}
}

func TestPolicyEngineCompileError(t *testing.T) {
	_, err := policies.NewPolicyEngineFromModules(context.Background(), []policies.Module{{Name: "old.rego", Source: `package flowscope

deny[x] {
	x := 1
}
`}})
	if err == nil {
		t.Error("Expected rego v0 syntax to be rejected")
	}
}

func TestCreateAndLoadExamplePolicy(t *testing.T) {
	dir := t.TempDir()
	policyPath := filepath.Join(dir, "policies", "example.rego")

	if err := policies.CreateExamplePolicy(policyPath); err != nil {
		t.Fatalf("Failed to create example policy: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "policies", "README.md"), []byte("notes"), 0644); err != nil {
		t.Fatal(err)
	}

	files, err := policies.LoadPolicyFiles(filepath.Join(dir, "policies"))
	if err != nil {
		t.Fatalf("Failed to load policy files: %v", err)
	}
	if len(files) != 1 || files[0] != policyPath {
		t.Fatalf("Expected only the rego file, got %v", files)
	}

	engine, err := policies.NewPolicyEngine(context.Background(), files)
	if err != nil {
		t.Fatalf("Example policy does not compile: %v", err)
	}

	wf, err := parser.Parse("deploy.yml", []byte(`on: push
permissions: write-all
jobs:
  deploy-prod:
    runs-on: ubuntu-latest
    steps:
      - run: ./deploy.sh
`))
	if err != nil {
		t.Fatal(err)
	}

	findings, err := engine.EvaluateWorkflow(context.Background(), wf)
	if err != nil {
		t.Fatalf("Policy evaluation failed: %v", err)
	}
	if len(findings) != 2 {
		t.Fatalf("Expected both example rules to fire, got %d: %+v", len(findings), findings)
	}
}

func TestLoadPolicyFilesErrors(t *testing.T) {
	dir := t.TempDir()
	if _, err := policies.LoadPolicyFiles(filepath.Join(dir, "missing")); err == nil {
		t.Error("Expected error for missing path")
	}
	if _, err := policies.LoadPolicyFiles(dir); err == nil {
		t.Error("Expected error for directory without policies")
	}
	txt := filepath.Join(dir, "policy.txt")
	_ = os.WriteFile(txt, []byte("x"), 0644)
	if _, err := policies.LoadPolicyFiles(txt); err == nil {
		t.Error("Expected error for non-rego file")
	}
}
