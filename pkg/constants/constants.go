package constants

import (
	"os"
	"strings"
)

// Application constants
const (
	AppName    = "flowscope"
	AppVersion = "0.1.0"
	AppUsage   = "Reachability-aware CI/CD workflow analyzer"

	// Default configuration values
	DefaultMinSeverity     = SeverityInfo
	DefaultOutputFormat    = OutputFormatCLI
	DefaultLogLevel        = "info"
	DefaultConfigFile      = ".flowscope.yml"
	DefaultMaxWorkers      = 0  // 0 means use CPU count
	DefaultDocumentTimeout = 30 // seconds
	DefaultTotalTimeout    = 300
	DefaultArtifactName    = "artifact"
	DefaultFallbackRef     = "main"
	DefaultSnippetContext  = 2

	// Supported output formats
	OutputFormatCLI      = "cli"
	OutputFormatJSON     = "json"
	OutputFormatMarkdown = "markdown"
	OutputFormatSARIF    = "sarif"

	// Configuration file names
	ConfigFileFlowscopeYML  = ".flowscope.yml"
	ConfigFileFlowscopeYAML = ".flowscope.yaml"
	ConfigFileBaseYML       = "flowscope.yml"
	ConfigFileBaseYAML      = "flowscope.yaml"

	// Effective severities, ordered info < warning < error
	SeverityInfo    = "info"
	SeverityWarning = "warning"
	SeverityError   = "error"

	GitHubWorkflowsPath = ".github/workflows"
	PolicyPackage       = "flowscope"
	PolicyQuery         = "data.flowscope.deny"

	// Environment variables
	EnvCI            = "CI"
	EnvGitHubActions = "GITHUB_ACTIONS"
	EnvGitHubToken   = "GITHUB_TOKEN"
	EnvGitHubSHA     = "GITHUB_SHA"
	EnvGitLabToken   = "GITLAB_TOKEN"
	EnvGitLabSHA     = "CI_COMMIT_SHA"
	EnvNoColor       = "NO_COLOR"

	ErrNoInputSpecified = "either --repo or --file must be specified"
)

// SeverityLevels orders severities for threshold filtering.
var SeverityLevels = map[string]int{
	SeverityInfo:    0,
	SeverityWarning: 1,
	SeverityError:   2,
}

// DefaultTrustedPublishers are action owners treated as first-party.
var DefaultTrustedPublishers = []string{"actions"}

// DefaultIgnorePatterns are placeholder values that never count as secrets
var DefaultIgnorePatterns = []string{
	"example",
	"placeholder",
	"dummy",
	"sample",
	"YOUR_SECRET_HERE",
	"your-secret-here",
	"changeme",
	"change-me",
	"XXXXXX",
	"xxxxxx",
}

// PrivilegedTriggers run with a write-capable token or secrets while being
// influenced by untrusted input
var PrivilegedTriggers = []string{
	"workflow_run",
	"pull_request_target",
	"repository_dispatch",
}

// PublicTriggers can be started by anyone able to open a pull request, issue or comment
var PublicTriggers = []string{
	"pull_request",
	"pull_request_target",
	"pull_request_review",
	"pull_request_review_comment",
	"issue_comment",
	"issues",
	"discussion",
	"discussion_comment",
	"fork",
	"watch",
}

// SupportedOutputFormats lists the report formats
var SupportedOutputFormats = []string{
	OutputFormatCLI,
	OutputFormatJSON,
	OutputFormatMarkdown,
	OutputFormatSARIF,
}

var ciEnvironmentVariables = []string{
	EnvCI, EnvGitHubActions, "TRAVIS", "CIRCLECI", "JENKINS_URL",
	"GITLAB_CI", "BUILDKITE", "TF_BUILD",
}

// IsRunningInCI reports whether a known CI environment variable is set to a truthy value.
func IsRunningInCI() bool {
	for _, name := range ciEnvironmentVariables {
		v := strings.ToLower(strings.TrimSpace(os.Getenv(name)))
		if v != "" && v != "false" && v != "0" {
			return true
		}
	}
	return false
}

// IsPrivilegedTrigger reports exact membership in PrivilegedTriggers
func IsPrivilegedTrigger(trigger string) bool {
	for _, t := range PrivilegedTriggers {
		if t == trigger {
			return true
		}
	}
	return false
}

// IsPublicTrigger reports exact membership in PublicTriggers
func IsPublicTrigger(trigger string) bool {
	for _, t := range PublicTriggers {
		if t == trigger {
			return true
		}
	}
	return false
}

// IsRunningInGitHubActions reports whether GITHUB_ACTIONS=true
func IsRunningInGitHubActions() bool {
	return os.Getenv(EnvGitHubActions) == "true"
}
