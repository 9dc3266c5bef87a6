package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	flowerrors "github.com/harekrishnarai/flowscope/pkg/errors"
	"github.com/harekrishnarai/flowscope/pkg/parser"
	"github.com/harekrishnarai/flowscope/pkg/rules"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.Version != "1" {
		t.Errorf("Expected version '1', got '%s'", config.Version)
	}
	if config.Output.Format != "cli" {
		t.Errorf("Expected default format 'cli', got '%s'", config.Output.Format)
	}
	if config.Output.MinSeverity != "info" {
		t.Errorf("Expected default min severity 'info', got '%s'", config.Output.MinSeverity)
	}
	if config.Analysis.DocumentTimeout != 30*time.Second || config.Analysis.TotalTimeout != 5*time.Minute {
		t.Errorf("Unexpected default timeouts %s / %s", config.Analysis.DocumentTimeout, config.Analysis.TotalTimeout)
	}
	if len(config.Analysis.TrustedPublishers) != 1 || config.Analysis.TrustedPublishers[0] != "actions" {
		t.Errorf("Expected trusted publishers [actions], got %v", config.Analysis.TrustedPublishers)
	}
	if err := config.Validate(); err != nil {
		t.Errorf("Expected default config to validate, got %v", err)
	}
}

func TestLoadConfig(t *testing.T) {
	t.Run("missing explicit file", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(t.TempDir(), "non-existent-file.yml"))
		var fe *flowerrors.FlowscopeError
		if !errors.As(err, &fe) || fe.Type != flowerrors.ErrorTypeConfig {
			t.Fatalf("Expected a config error, got %v", err)
		}
	})

	t.Run("file values", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), ".flowscope.yml")
		content := `rules:
  disabled: [MISSING_JOB_NAME]
ignore:
  rules:
    HARDCODED_SECRET:
      files: ["fixtures/**"]
analysis:
  trusted_publishers: [actions, my-org]
  max_workers: 2
  document_timeout: 10s
  total_timeout: 2m
  hide_unreachable: true
output:
  format: sarif
  min_severity: WARNING
hosting:
  repository_url: https://github.com/acme/app
`
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}

		config, err := LoadConfig(path)
		if err != nil {
			t.Fatalf("Failed to load config: %v", err)
		}
		if config.IsRuleEnabled("MISSING_JOB_NAME") {
			t.Error("Expected MISSING_JOB_NAME to be disabled")
		}
		if config.Analysis.MaxWorkers != 2 || config.Analysis.DocumentTimeout != 10*time.Second || config.Analysis.TotalTimeout != 2*time.Minute {
			t.Errorf("Unexpected analysis section %+v", config.Analysis)
		}
		if !config.Analysis.HideUnreachable {
			t.Error("Expected hide_unreachable to be set")
		}
		if config.Output.Format != "sarif" || config.Output.MinSeverity != "warning" {
			t.Errorf("Unexpected output section %+v", config.Output)
		}
		if config.Hosting.RepositoryURL != "https://github.com/acme/app" {
			t.Errorf("Unexpected hosting section %+v", config.Hosting)
		}
		// Defaults survive for keys the file leaves out
		if !config.Output.ShowRemediation {
			t.Error("Expected show_remediation default to be kept")
		}
	})

	t.Run("malformed yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yml")
		if err := os.WriteFile(path, []byte("analysis: [unterminated"), 0644); err != nil {
			t.Fatal(err)
		}
		if _, err := LoadConfig(path); err == nil {
			t.Error("Expected parse error")
		}
	})
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		valid  bool
	}{
		{"defaults", func(*Config) {}, true},
		{"unknown format", func(c *Config) { c.Output.Format = "junit" }, false},
		{"unknown severity", func(c *Config) { c.Output.MinSeverity = "critical" }, false},
		{"negative workers", func(c *Config) { c.Analysis.MaxWorkers = -1 }, false},
		{"zero document timeout", func(c *Config) { c.Analysis.DocumentTimeout = 0 }, false},
		{"negative total timeout", func(c *Config) { c.Analysis.TotalTimeout = -time.Second }, false},
		{"bad ignore regex", func(c *Config) { c.Ignore.Global.Patterns = []string{"("} }, false},
		{"bad rule regex", func(c *Config) {
			c.Ignore.Rules["X"] = IgnoreSet{Patterns: []string{"[a-"}}
		}, false},
		{"custom rule without pattern", func(c *Config) {
			c.Rules.CustomRules = []CustomRule{{ID: "NO_CURL"}}
		}, false},
		{"custom rule with bad category", func(c *Config) {
			c.Rules.CustomRules = []CustomRule{{ID: "NO_CURL", Pattern: "curl", Category: "misc"}}
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.mutate(config)
			err := config.Validate()
			if tt.valid && err != nil {
				t.Errorf("Expected valid config, got %v", err)
			}
			if !tt.valid && err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}

func TestValidateFillsCustomRuleDefaults(t *testing.T) {
	config := DefaultConfig()
	config.Version = ""
	config.Rules.CustomRules = []CustomRule{{ID: "NO_CURL", Pattern: "curl .*\\| *sh"}}

	if err := config.Validate(); err != nil {
		t.Fatalf("Expected no validation error, got: %v", err)
	}
	if config.Version != "1" {
		t.Errorf("Expected version to be set to '1', got '%s'", config.Version)
	}
	rule := config.Rules.CustomRules[0]
	if rule.Severity != "warning" || rule.Category != "security" {
		t.Errorf("Expected warning/security defaults, got %s/%s", rule.Severity, rule.Category)
	}
}

func TestIsRuleEnabled(t *testing.T) {
	config := DefaultConfig()

	if !config.IsRuleEnabled("ANY_RULE") {
		t.Error("Expected rule to be enabled when no specific rules configured")
	}

	config.Rules.Enabled = []string{"RULE1", "RULE2"}
	if !config.IsRuleEnabled("RULE1") {
		t.Error("Expected RULE1 to be enabled")
	}
	if config.IsRuleEnabled("RULE3") {
		t.Error("Expected RULE3 to be disabled")
	}

	config.Rules.Enabled = []string{}
	config.Rules.Disabled = []string{"RULE1"}
	if config.IsRuleEnabled("RULE1") {
		t.Error("Expected RULE1 to be disabled")
	}
	if !config.IsRuleEnabled("RULE2") {
		t.Error("Expected RULE2 to be enabled")
	}
}

func TestShouldIgnoreGlobal(t *testing.T) {
	config := DefaultConfig()
	config.Ignore.Global.Strings = []string{"test", "example"}
	config.Ignore.Global.Patterns = []string{".*_fixture$"}

	if !config.ShouldIgnoreGlobal("TEST") {
		t.Error("Expected 'TEST' to be ignored case-insensitively")
	}
	if !config.ShouldIgnoreGlobal("token_fixture") {
		t.Error("Expected 'token_fixture' to be ignored by pattern")
	}
	if config.ShouldIgnoreGlobal("production") {
		t.Error("Expected 'production' to not be ignored")
	}
	if config.ShouldIgnoreGlobal("") {
		t.Error("Expected empty evidence to never match")
	}
}

func TestShouldIgnoreForRule(t *testing.T) {
	config := DefaultConfig()
	config.Ignore.Global.Files = []string{"test/**"}
	config.Ignore.Rules = map[string]IgnoreSet{
		"HARDCODED_SECRET": {
			Strings: []string{"fake-token"},
			Files:   []string{"examples/**"},
		},
	}

	tests := []struct {
		name   string
		ruleID string
		text   string
		path   string
		want   bool
	}{
		{"global file glob", "ANY_RULE", "some text", "test/file.yml", true},
		{"bare glob matches nested", "ANY_RULE", "some text", "repo/test/file.yml", true},
		{"rule string", "HARDCODED_SECRET", "fake-token", "src/file.yml", true},
		{"rule file glob", "HARDCODED_SECRET", "real-secret", "examples/demo.yml", true},
		{"rule glob scoped to rule", "OTHER_RULE", "real-secret", "examples/demo.yml", false},
		{"no match", "OTHER_RULE", "real-issue", "src/file.yml", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := config.ShouldIgnoreForRule(tt.ruleID, tt.text, tt.path); got != tt.want {
				t.Errorf("ShouldIgnoreForRule(%s, %s, %s) = %v, want %v", tt.ruleID, tt.text, tt.path, got, tt.want)
			}
		})
	}
}

func TestSaveAndLoadConfig(t *testing.T) {
	config := DefaultConfig()
	config.Rules.Disabled = []string{"TEST_RULE"}
	config.Output.MinSeverity = "error"
	config.Analysis.DocumentTimeout = 45 * time.Second

	tmpFile := filepath.Join(t.TempDir(), "test_config.yml")
	if err := SaveConfig(config, tmpFile); err != nil {
		t.Fatalf("Failed to save config: %v", err)
	}

	loadedConfig, err := LoadConfig(tmpFile)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if len(loadedConfig.Rules.Disabled) != 1 || loadedConfig.Rules.Disabled[0] != "TEST_RULE" {
		t.Error("Disabled rules not loaded correctly")
	}
	if loadedConfig.Output.MinSeverity != "error" {
		t.Errorf("MinSeverity not loaded correctly, expected 'error', got '%s'", loadedConfig.Output.MinSeverity)
	}
	if loadedConfig.Analysis.DocumentTimeout != 45*time.Second {
		t.Errorf("DocumentTimeout not loaded correctly, got %s", loadedConfig.Analysis.DocumentTimeout)
	}
}

const customRuleWorkflow = `on: push
jobs:
  build:
    runs-on: ubuntu-latest
    env:
      INSTALLER: https://get.example.sh
    steps:
      - uses: actions/checkout@v4
      - name: Install
        run: curl -sSL https://get.example.sh | sh
      - uses: some-org/curl-action@v1
`

func TestCustomRules(t *testing.T) {
	wf, err := parser.Parse("ci.yml", []byte(customRuleWorkflow))
	if err != nil {
		t.Fatalf("Failed to parse workflow: %v", err)
	}

	config := DefaultConfig()
	config.Rules.CustomRules = []CustomRule{
		{ID: "CURL_PIPE_SH", Title: "Piped installer", Pattern: `curl .*\| *sh`, Severity: "high", Category: "security", Target: RuleTarget{Commands: true}},
		{ID: "CURL_ANYWHERE", Patterns: []string{`curl`}, Severity: "info", Category: "best-practice"},
		{ID: "INSTALLER_ENV", Pattern: `INSTALLER`, Severity: "warning", Category: "security", Target: RuleTarget{Environment: true}},
	}
	if err := config.Validate(); err != nil {
		t.Fatalf("Unexpected validation error: %v", err)
	}

	loaded, err := LoadCustomRules(config)
	if err != nil {
		t.Fatalf("Failed to load custom rules: %v", err)
	}
	if len(loaded) != 3 {
		t.Fatalf("Expected 3 rules, got %d", len(loaded))
	}

	piped := loaded[0].Check(wf)
	if len(piped) != 1 {
		t.Fatalf("Expected 1 piped installer finding, got %d", len(piped))
	}
	if piped[0].Severity != rules.Error || piped[0].Line() != 9 || piped[0].JobID() != "build" {
		t.Errorf("Unexpected finding %+v", piped[0])
	}
	if idx, ok := piped[0].StepIndex(); !ok || idx != 1 {
		t.Errorf("Expected step 1, got %d", idx)
	}

	// Whole-document search reports each match with its line
	anywhere := loaded[1].Check(wf)
	if len(anywhere) != 2 {
		t.Fatalf("Expected 2 content matches, got %d", len(anywhere))
	}
	if anywhere[0].Line() != 10 || anywhere[1].Line() != 11 {
		t.Errorf("Expected lines 10 and 11, got %d and %d", anywhere[0].Line(), anywhere[1].Line())
	}
	if anywhere[0].Title != "CURL_ANYWHERE" {
		t.Errorf("Expected title to default to the rule ID, got %q", anywhere[0].Title)
	}

	env := loaded[2].Check(wf)
	if len(env) != 1 || env[0].Line() != 3 {
		t.Errorf("Expected 1 job env finding on line 3, got %+v", env)
	}
}

func TestLoadCustomRulesRejectsBadPattern(t *testing.T) {
	config := DefaultConfig()
	config.Rules.CustomRules = []CustomRule{{ID: "BAD", Pattern: "(", Severity: "info", Category: "security"}}
	if _, err := LoadCustomRules(config); err == nil {
		t.Error("Expected error for invalid pattern")
	}
}
