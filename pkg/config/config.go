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
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"github.com/harekrishnarai/flowscope/pkg/constants"
	flowerrors "github.com/harekrishnarai/flowscope/pkg/errors"
	"github.com/harekrishnarai/flowscope/pkg/rules"
)

// Config represents the complete flowscope configuration
type Config struct {
	Version  string   `yaml:"version" json:"version"`
	Rules    Rules    `yaml:"rules" json:"rules"`
	Ignore   Ignore   `yaml:"ignore" json:"ignore"`
	Analysis Analysis `yaml:"analysis" json:"analysis"`
	Output   Output   `yaml:"output" json:"output"`
	Hosting  Hosting  `yaml:"hosting,omitempty" json:"hosting,omitempty"`
}

// Rules selects which detectors run
type Rules struct {
	Enabled     []string     `yaml:"enabled" json:"enabled"`
	Disabled    []string     `yaml:"disabled" json:"disabled"`
	CustomRules []CustomRule `yaml:"custom_rules,omitempty" json:"custom_rules,omitempty"`
}

// Ignore suppresses findings before analysis
type Ignore struct {
	Global IgnoreSet            `yaml:"global" json:"global"`
	Rules  map[string]IgnoreSet `yaml:"rules" json:"rules"`
}

// IgnoreSet matches a finding by document path or evidence
type IgnoreSet struct {
	Files    []string `yaml:"files" json:"files"`
	Strings  []string `yaml:"strings" json:"strings"`
	Patterns []string `yaml:"patterns" json:"patterns"`
}

// Analysis tunes the pipeline
type Analysis struct {
	TrustedPublishers []string      `yaml:"trusted_publishers" json:"trusted_publishers"`
	MaxWorkers        int           `yaml:"max_workers" json:"max_workers"`
	DocumentTimeout   time.Duration `yaml:"document_timeout" json:"document_timeout"`
	TotalTimeout      time.Duration `yaml:"total_timeout" json:"total_timeout"`
	HideUnreachable   bool          `yaml:"hide_unreachable" json:"hide_unreachable"`
	ExcludePaths      []string      `yaml:"exclude_paths,omitempty" json:"exclude_paths,omitempty"`
}

// Output configuration
type Output struct {
	Format          string `yaml:"format" json:"format"`
	File            string `yaml:"file,omitempty" json:"file,omitempty"`
	MinSeverity     string `yaml:"min_severity" json:"min_severity"`
	ShowRemediation bool   `yaml:"show_remediation" json:"show_remediation"`
}

// Hosting locates the repository for deep links
type Hosting struct {
	RepositoryURL string `yaml:"repository_url,omitempty" json:"repository_url,omitempty"`
	Ref           string `yaml:"ref,omitempty" json:"ref,omitempty"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Version: "1",
		Rules: Rules{
			Enabled:  []string{}, // Empty means all enabled
			Disabled: []string{},
		},
		Ignore: Ignore{
			Global: IgnoreSet{
				Strings: append([]string(nil), constants.DefaultIgnorePatterns[:5]...),
			},
			Rules: make(map[string]IgnoreSet),
		},
		Analysis: Analysis{
			TrustedPublishers: append([]string(nil), constants.DefaultTrustedPublishers...),
			MaxWorkers:        runtime.NumCPU(),
			DocumentTimeout:   constants.DefaultDocumentTimeout * time.Second,
			TotalTimeout:      constants.DefaultTotalTimeout * time.Second,
		},
		Output: Output{
			Format:          constants.DefaultOutputFormat,
			MinSeverity:     constants.DefaultMinSeverity,
			ShowRemediation: true,
		},
	}
}

// LoadConfig loads configuration from file or returns default. An explicit
// path that does not exist is an error; discovery falls back to defaults.
func LoadConfig(configPath string) (*Config, error) {
	explicit := configPath != ""
	if !explicit {
		configPath = findConfigFile()
	}
	if configPath == "" {
		return DefaultConfig(), nil
	}

	content, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) && explicit {
			return nil, flowerrors.ErrConfigNotFound(configPath)
		}
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, flowerrors.NewConfigError(fmt.Sprintf("Failed to read config file %s", configPath), err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(content, config); err != nil {
		return nil, flowerrors.NewConfigError(fmt.Sprintf("Failed to parse config file %s", configPath), err,
			"Durations are written like 30s or 5m")
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// findConfigFile searches the working directory for a configuration file
func findConfigFile() string {
	candidates := []string{
		constants.ConfigFileFlowscopeYML,
		constants.ConfigFileFlowscopeYAML,
		constants.ConfigFileBaseYML,
		constants.ConfigFileBaseYAML,
	}

	for _, candidate := range candidates {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}

	return ""
}

// Validate checks the configuration and fills version and custom rule defaults
func (config *Config) Validate() error {
	if config.Version == "" {
		config.Version = "1"
	}

	if !isSupportedFormat(config.Output.Format) {
		return flowerrors.ErrInvalidOutputFormat(config.Output.Format, constants.SupportedOutputFormats)
	}
	if _, ok := constants.SeverityLevels[strings.ToLower(config.Output.MinSeverity)]; !ok {
		return flowerrors.ErrInvalidSeverity(config.Output.MinSeverity)
	}
	config.Output.MinSeverity = strings.ToLower(config.Output.MinSeverity)

	if config.Analysis.MaxWorkers < 0 {
		return flowerrors.NewValidationError("max_workers must not be negative", "analysis.max_workers", config.Analysis.MaxWorkers)
	}
	if config.Analysis.DocumentTimeout <= 0 {
		return flowerrors.NewValidationError("document_timeout must be positive", "analysis.document_timeout", config.Analysis.DocumentTimeout.String())
	}
	if config.Analysis.TotalTimeout <= 0 {
		return flowerrors.NewValidationError("total_timeout must be positive", "analysis.total_timeout", config.Analysis.TotalTimeout.String())
	}

	for i, rule := range config.Rules.CustomRules {
		if rule.ID == "" {
			return flowerrors.NewValidationError(fmt.Sprintf("custom rule %d: id is required", i), "rules.custom_rules", i)
		}
		if rule.Pattern == "" && len(rule.Patterns) == 0 {
			return flowerrors.NewValidationError(fmt.Sprintf("custom rule %s: pattern or patterns is required", rule.ID), "rules.custom_rules", rule.ID)
		}
		if rule.Severity == "" {
			rule.Severity = constants.SeverityWarning
		}
		if _, ok := rules.ParseSeverity(rule.Severity); !ok {
			return flowerrors.ErrInvalidSeverity(rule.Severity)
		}
		if rule.Category == "" {
			rule.Category = string(rules.Security)
		}
		if !rules.Category(rule.Category).Valid() {
			return flowerrors.NewValidationError(fmt.Sprintf("custom rule %s: unknown category %s", rule.ID, rule.Category), "rules.custom_rules", rule.Category,
				"Use one of: security, performance, best-practice, dependency, structure")
		}
		config.Rules.CustomRules[i] = rule
	}

	var allPatterns []string
	allPatterns = append(allPatterns, config.Ignore.Global.Patterns...)
	for _, set := range config.Ignore.Rules {
		allPatterns = append(allPatterns, set.Patterns...)
	}
	for _, rule := range config.Rules.CustomRules {
		allPatterns = append(allPatterns, rule.allPatterns()...)
	}
	for _, pattern := range allPatterns {
		if _, err := regexp.Compile(pattern); err != nil {
			return flowerrors.NewValidationError(fmt.Sprintf("invalid regex pattern '%s'", pattern), "pattern", err.Error())
		}
	}

	return nil
}

func isSupportedFormat(format string) bool {
	for _, f := range constants.SupportedOutputFormats {
		if f == format {
			return true
		}
	}
	return false
}

// ShouldIgnoreGlobal checks if evidence should be ignored for every rule
func (config *Config) ShouldIgnoreGlobal(text string) bool {
	return config.Ignore.Global.matchesText(text)
}

// ShouldIgnoreForRule checks if a finding should be ignored for a specific rule
func (config *Config) ShouldIgnoreForRule(ruleID, text, filePath string) bool {
	normalizedPath := filepath.ToSlash(filePath)

	if config.Ignore.Global.matchesText(text) || config.Ignore.Global.matchesFile(normalizedPath) {
		return true
	}

	if set, exists := config.Ignore.Rules[ruleID]; exists {
		if set.matchesFile(normalizedPath) || set.matchesText(text) {
			return true
		}
	}

	return false
}

// IsRuleEnabled checks if a rule should be enabled
func (config *Config) IsRuleEnabled(ruleID string) bool {
	// If specific rules are enabled, only those are active
	if len(config.Rules.Enabled) > 0 {
		for _, enabled := range config.Rules.Enabled {
			if enabled == ruleID {
				return true
			}
		}
		return false
	}

	for _, disabled := range config.Rules.Disabled {
		if disabled == ruleID {
			return false
		}
	}

	return true
}

// matchesText compares evidence case-insensitively against strings (equal,
// prefix or suffix) and against regex patterns
func (s IgnoreSet) matchesText(text string) bool {
	if text == "" {
		return false
	}
	textLower := strings.ToLower(text)

	for _, str := range s.Strings {
		str = strings.ToLower(str)
		if str == "" {
			continue
		}
		if textLower == str || strings.HasPrefix(textLower, str) || strings.HasSuffix(textLower, str) {
			return true
		}
	}

	for _, pattern := range s.Patterns {
		if matched, _ := regexp.MatchString(pattern, text); matched {
			return true
		}
	}

	return false
}

func (s IgnoreSet) matchesFile(path string) bool {
	for _, pattern := range s.Files {
		if MatchGlobPattern(pattern, path) {
			return true
		}
	}
	return false
}

// MatchGlobPattern matches a doublestar glob; bare relative patterns also
// match anywhere in the tree
func MatchGlobPattern(pattern, path string) bool {
	if pattern == "" {
		return false
	}

	normalizedPattern := filepath.ToSlash(pattern)
	matchers := []string{normalizedPattern}

	if !strings.HasPrefix(normalizedPattern, "**/") &&
		!strings.HasPrefix(normalizedPattern, "./") &&
		!strings.HasPrefix(normalizedPattern, "/") &&
		!strings.Contains(normalizedPattern, ":") {
		matchers = append(matchers, "**/"+normalizedPattern)
	}

	for _, candidate := range matchers {
		matched, err := doublestar.Match(candidate, path)
		if err == nil && matched {
			return true
		}
	}

	return false
}

// SaveConfig saves configuration to a file
func SaveConfig(config *Config, path string) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return flowerrors.NewConfigError("Failed to marshal config", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return flowerrors.NewConfigError(fmt.Sprintf("Failed to write config file %s", path), err)
	}

	return nil
}

var _ interface {
	IsRuleEnabled(ruleID string) bool
	ShouldIgnoreForRule(ruleID, text, filePath string) bool
} = (*Config)(nil)
