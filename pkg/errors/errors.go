package errors

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ErrorType classifies a FlowscopeError
type ErrorType int

const (
	// Configuration loading and validation
	ErrorTypeConfig ErrorType = iota
	// Workflow discovery and parsing
	ErrorTypeWorkflow
	// Analysis pipeline failures (timeouts, cancellation)
	ErrorTypeAnalysis
	// Policy compilation and evaluation
	ErrorTypePolicy
	// Report generation
	ErrorTypeReport
	// Input validation
	ErrorTypeValidation
	// Source-hosting API access
	ErrorTypePlatform
)

func (t ErrorType) String() string {
	switch t {
	case ErrorTypeConfig:
		return "config"
	case ErrorTypeWorkflow:
		return "workflow"
	case ErrorTypeAnalysis:
		return "analysis"
	case ErrorTypePolicy:
		return "policy"
	case ErrorTypeReport:
		return "report"
	case ErrorTypeValidation:
		return "validation"
	case ErrorTypePlatform:
		return "platform"
	default:
		return "unknown"
	}
}

// FlowscopeError is a structured error with context and remediation hints
type FlowscopeError struct {
	Type        ErrorType
	Message     string
	Cause       error
	Details     map[string]interface{}
	Suggestions []string
}

// Error implements the error interface. Details are rendered in key order.
func (e *FlowscopeError) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Message)

	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}

	if len(e.Details) > 0 {
		keys := make([]string, 0, len(e.Details))
		for k := range e.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		sb.WriteString(" (")
		for i, k := range keys {
			if i > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "%s: %v", k, e.Details[k])
		}
		sb.WriteString(")")
	}

	return sb.String()
}

// Unwrap returns the underlying error
func (e *FlowscopeError) Unwrap() error {
	return e.Cause
}

// Is matches any FlowscopeError of the same type
func (e *FlowscopeError) Is(target error) bool {
	if t, ok := target.(*FlowscopeError); ok {
		return e.Type == t.Type
	}
	return false
}

// UserFriendlyMessage returns the message followed by suggestions
func (e *FlowscopeError) UserFriendlyMessage() string {
	var sb strings.Builder
	sb.WriteString("error: ")
	sb.WriteString(e.Message)
	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}

	if len(e.Suggestions) > 0 {
		sb.WriteString("\n\nSuggestions:")
		for _, suggestion := range e.Suggestions {
			sb.WriteString("\n  - ")
			sb.WriteString(suggestion)
		}
	}

	return sb.String()
}

func newError(t ErrorType, message string, cause error, key, value string, suggestions []string) *FlowscopeError {
	details := make(map[string]interface{})
	if value != "" {
		details[key] = value
	}
	return &FlowscopeError{
		Type:        t,
		Message:     message,
		Cause:       cause,
		Details:     details,
		Suggestions: suggestions,
	}
}

// NewConfigError creates a configuration error
func NewConfigError(message string, cause error, suggestions ...string) *FlowscopeError {
	return newError(ErrorTypeConfig, message, cause, "", "", suggestions)
}

// NewWorkflowError creates a workflow loading error
func NewWorkflowError(message string, cause error, workflowPath string, suggestions ...string) *FlowscopeError {
	return newError(ErrorTypeWorkflow, message, cause, "workflow", workflowPath, suggestions)
}

// NewAnalysisError creates an analysis pipeline error
func NewAnalysisError(message string, cause error, document string, suggestions ...string) *FlowscopeError {
	return newError(ErrorTypeAnalysis, message, cause, "document", document, suggestions)
}

// NewPolicyError creates a policy evaluation error
func NewPolicyError(message string, cause error, policyPath string, suggestions ...string) *FlowscopeError {
	return newError(ErrorTypePolicy, message, cause, "policy", policyPath, suggestions)
}

// NewReportError creates a report generation error
func NewReportError(message string, cause error, outputPath string, suggestions ...string) *FlowscopeError {
	return newError(ErrorTypeReport, message, cause, "output", outputPath, suggestions)
}

// NewValidationError creates a validation error
func NewValidationError(message string, field string, value interface{}, suggestions ...string) *FlowscopeError {
	details := make(map[string]interface{})
	if field != "" {
		details["field"] = field
	}
	if value != nil {
		details["value"] = value
	}

	return &FlowscopeError{
		Type:        ErrorTypeValidation,
		Message:     message,
		Details:     details,
		Suggestions: suggestions,
	}
}

// NewPlatformError creates a source-hosting error
func NewPlatformError(message string, cause error, platform string, suggestions ...string) *FlowscopeError {
	return newError(ErrorTypePlatform, message, cause, "platform", platform, suggestions)
}

// Predefined common errors

// ErrNoInputSpecified creates a no input specified error
func ErrNoInputSpecified() *FlowscopeError {
	return NewValidationError(
		"No input specified",
		"input",
		nil,
		"Specify either --repo for a local repository or --file for a single workflow",
		"Use 'flowscope --help' to see all available options",
	)
}

// ErrConfigNotFound creates a configuration not found error
func ErrConfigNotFound(configPath string) *FlowscopeError {
	return NewConfigError(
		fmt.Sprintf("Configuration file not found: %s", configPath),
		nil,
		"Create a configuration file using 'flowscope init-config'",
		"Check the file path and permissions",
		"Use default configuration by omitting the --config flag",
	)
}

// ErrWorkflowNotFound creates a workflow discovery error
func ErrWorkflowNotFound(path string) *FlowscopeError {
	return NewWorkflowError(
		"No workflow files found",
		nil,
		path,
		"Workflows are discovered under .github/workflows/",
		"Use --file to analyze a single workflow document",
	)
}

// ErrInvalidYAML creates a workflow parse error
func ErrInvalidYAML(path string, cause error) *FlowscopeError {
	return NewWorkflowError(
		"Failed to parse workflow YAML",
		cause,
		path,
		"Check the document with a YAML linter",
	)
}

// ErrAnalysisTimeout creates a per-document time budget error
func ErrAnalysisTimeout(document string, budget time.Duration) *FlowscopeError {
	return NewAnalysisError(
		fmt.Sprintf("Analysis exceeded time budget of %s", budget),
		context.DeadlineExceeded,
		document,
		"Raise analysis.document_timeout in the configuration",
	)
}

// ErrInvalidOutputFormat creates an invalid output format error
func ErrInvalidOutputFormat(format string, supportedFormats []string) *FlowscopeError {
	return NewValidationError(
		fmt.Sprintf("Invalid output format: %s", format),
		"output",
		format,
		fmt.Sprintf("Use one of the supported formats: %s", strings.Join(supportedFormats, ", ")),
	)
}

// ErrInvalidSeverity creates an invalid severity error
func ErrInvalidSeverity(severity string) *FlowscopeError {
	return NewValidationError(
		fmt.Sprintf("Invalid severity: %s", severity),
		"min_severity",
		severity,
		"Use one of: info, warning, error",
	)
}
