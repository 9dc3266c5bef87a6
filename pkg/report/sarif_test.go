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
	"os"
	"path/filepath"
	"testing"

	"github.com/owenrumney/go-sarif/v2/sarif"

	"github.com/harekrishnarai/flowscope/pkg/rules"
)

func TestSARIFGeneration(t *testing.T) {
	tmpDir := t.TempDir()
	outputFile := filepath.Join(tmpDir, "out", "results.sarif")

	generator := NewGenerator(sampleScanResult(), "sarif", false, outputFile)
	if err := generator.Generate(); err != nil {
		t.Fatalf("Failed to generate SARIF report: %v", err)
	}

	report, err := sarif.Open(outputFile)
	if err != nil {
		t.Fatalf("Failed to open SARIF file: %v", err)
	}

	if report.Version != "2.1.0" {
		t.Errorf("Expected SARIF version 2.1.0, got %s", report.Version)
	}
	if len(report.Runs) != 1 {
		t.Fatalf("Expected 1 run, got %d", len(report.Runs))
	}

	run := report.Runs[0]
	if run.Tool.Driver.Name != "flowscope" {
		t.Errorf("Expected tool name 'flowscope', got '%s'", run.Tool.Driver.Name)
	}
	if run.AutomationDetails == nil || run.AutomationDetails.ID == nil || *run.AutomationDetails.ID != "flowscope/run-1" {
		t.Error("Expected automation details carrying the run id")
	}

	if len(run.Results) != 3 {
		t.Fatalf("Expected 3 results, got %d", len(run.Results))
	}
	// Two findings share a rule
	if len(run.Tool.Driver.Rules) != 2 {
		t.Errorf("Expected 2 rules, got %d", len(run.Tool.Driver.Rules))
	}

	first := run.Results[0]
	if *first.RuleID != "UNTRUSTED_CHECKOUT" {
		t.Errorf("Expected rule ID 'UNTRUSTED_CHECKOUT', got '%s'", *first.RuleID)
	}
	if *first.Level != "error" {
		t.Errorf("Expected level 'error', got '%s'", *first.Level)
	}
	if first.PartialFingerprints["findingId/v1"] != "f-1" {
		t.Errorf("Expected finding id fingerprint, got %v", first.PartialFingerprints)
	}
	if first.Properties["reachable"] != true {
		t.Errorf("Expected reachability in properties, got %v", first.Properties)
	}

	pl := first.Locations[0].PhysicalLocation
	if *pl.ArtifactLocation.URI != ".github/workflows/ci.yml" {
		t.Errorf("Expected cleaned URI, got '%s'", *pl.ArtifactLocation.URI)
	}
	if pl.Region == nil || *pl.Region.StartLine != 12 {
		t.Fatal("Expected region starting at line 12")
	}
	if pl.Region.Snippet == nil || *pl.Region.Snippet.Text != "      - uses: actions/checkout@v4" {
		t.Errorf("Expected highlighted snippet line, got %v", pl.Region.Snippet)
	}

	// Downgraded finding reports its effective level and keeps the original
	downgraded := run.Results[1]
	if *downgraded.Level != "warning" {
		t.Errorf("Expected level 'warning', got '%s'", *downgraded.Level)
	}
	if downgraded.Properties["originalSeverity"] != "error" {
		t.Errorf("Expected original severity property, got %v", downgraded.Properties)
	}

	for _, rule := range run.Tool.Driver.Rules {
		if _, ok := rule.Properties["security-severity"]; !ok {
			t.Errorf("Expected rule %s to have security-severity property", rule.ID)
		}
	}
	if run.Tool.Driver.Rules[0].HelpURI == nil {
		t.Error("Expected helpUri from the first reference")
	}

	data, err := os.ReadFile(outputFile)
	if err != nil {
		t.Fatalf("Failed to read SARIF file: %v", err)
	}
	var jsonObj map[string]interface{}
	if err := json.Unmarshal(data, &jsonObj); err != nil {
		t.Fatalf("Invalid JSON in SARIF file: %v", err)
	}
	for _, key := range []string{"version", "$schema", "runs"} {
		if _, ok := jsonObj[key]; !ok {
			t.Errorf("Missing '%s' field in SARIF", key)
		}
	}
}

func TestSARIFEmptyResult(t *testing.T) {
	g := NewGenerator(ScanResult{}, "sarif", false, "")
	report, err := g.BuildSARIF()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(report.Runs) != 1 || len(report.Runs[0].Results) != 0 {
		t.Error("Expected one run with no results")
	}
	if report.Runs[0].AutomationDetails != nil {
		t.Error("Expected no automation details without a run id")
	}
}

func TestSARIFLevel(t *testing.T) {
	tests := []struct {
		severity rules.Severity
		expected string
	}{
		{rules.Error, "error"},
		{rules.Warning, "warning"},
		{rules.Info, "note"},
	}

	for _, tt := range tests {
		if got := sarifLevel(tt.severity); got != tt.expected {
			t.Errorf("sarifLevel(%s) = %s, want %s", tt.severity, got, tt.expected)
		}
	}
}

func TestRuleName(t *testing.T) {
	tests := map[string]string{
		"Untrusted checkout in privileged context": "UntrustedCheckoutInPrivilegedContext",
		"curl | sh installer":                      "CurlShInstaller",
		"":                                         "",
	}
	for title, want := range tests {
		if got := ruleName(title); got != want {
			t.Errorf("ruleName(%q) = %q, want %q", title, got, want)
		}
	}
}
