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

// Package validation checks command-line inputs before a scan starts.
package validation

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	flowerrors "github.com/harekrishnarai/flowscope/pkg/errors"
	"github.com/harekrishnarai/flowscope/pkg/hosting"
)

// restrictedDirs may not receive report files
var restrictedDirs = []string{"/etc", "/sys", "/proc", "/dev", "/usr", "/bin", "/sbin", "/boot"}

// ScanInputs are the user-supplied locations of one scan
type ScanInputs struct {
	RepoPath      string
	FilePath      string
	OutputFile    string
	RepositoryURL string
}

// Validator handles input validation for the application
type Validator struct{}

// NewValidator creates a new input validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateScanInputs checks that exactly one input is given and that every
// location is usable
func (v *Validator) ValidateScanInputs(in ScanInputs) error {
	switch {
	case in.RepoPath == "" && in.FilePath == "":
		return flowerrors.ErrNoInputSpecified()
	case in.RepoPath != "" && in.FilePath != "":
		return flowerrors.NewValidationError("Both --repo and --file were given", "input", nil,
			"Use --repo to scan every workflow of a repository",
			"Use --file to scan a single workflow document")
	}

	if err := v.ValidateRepository(in.RepoPath); err != nil {
		return err
	}
	if err := v.ValidateWorkflowFile(in.FilePath); err != nil {
		return err
	}
	if err := v.ValidateOutputFile(in.OutputFile); err != nil {
		return err
	}
	return v.ValidateRepositoryURL(in.RepositoryURL)
}

// ValidateRepository validates repository path inputs
func (v *Validator) ValidateRepository(repoPath string) error {
	if repoPath == "" {
		return nil
	}

	if err := validatePathSafety(repoPath); err != nil {
		return flowerrors.NewWorkflowError("Invalid repository path", err, repoPath)
	}

	stat, err := os.Stat(repoPath)
	switch {
	case os.IsNotExist(err):
		return flowerrors.NewWorkflowError(fmt.Sprintf("Repository directory not found: %s", repoPath), err, repoPath,
			"Check the path spelling and permissions")
	case err != nil:
		return flowerrors.NewWorkflowError(fmt.Sprintf("Cannot access repository directory: %s", repoPath), err, repoPath,
			"Ensure the directory is readable")
	case !stat.IsDir():
		return flowerrors.NewWorkflowError(fmt.Sprintf("Repository path is not a directory: %s", repoPath), nil, repoPath,
			"Use --file for single file analysis")
	}

	return nil
}

// ValidateWorkflowFile validates workflow file path inputs
func (v *Validator) ValidateWorkflowFile(workflowPath string) error {
	if workflowPath == "" {
		return nil
	}

	if err := validatePathSafety(workflowPath); err != nil {
		return flowerrors.NewWorkflowError("Invalid workflow file path", err, workflowPath)
	}

	stat, err := os.Stat(workflowPath)
	switch {
	case os.IsNotExist(err):
		return flowerrors.NewWorkflowError(fmt.Sprintf("Workflow file not found: %s", workflowPath), err, workflowPath,
			"Check the file path spelling and permissions")
	case err != nil:
		return flowerrors.NewWorkflowError(fmt.Sprintf("Cannot access workflow file: %s", workflowPath), err, workflowPath,
			"Ensure the file is readable")
	case stat.IsDir():
		return flowerrors.NewWorkflowError(fmt.Sprintf("Workflow path is a directory, not a file: %s", workflowPath), nil, workflowPath,
			"Use --repo for directory analysis")
	}

	ext := strings.ToLower(filepath.Ext(workflowPath))
	if ext != ".yml" && ext != ".yaml" {
		return flowerrors.NewWorkflowError(fmt.Sprintf("Invalid workflow file extension: %s", workflowPath), nil, workflowPath,
			"Workflow documents use the .yml or .yaml extension")
	}

	return nil
}

// ValidateOutputFile rejects report paths in system directories or under a
// parent that is not a directory. Missing parents are created by the report writer.
func (v *Validator) ValidateOutputFile(outputPath string) error {
	if outputPath == "" {
		return nil
	}

	if err := validatePathSafety(outputPath); err != nil {
		return flowerrors.NewReportError("Invalid output file path", err, outputPath)
	}

	if abs, err := filepath.Abs(outputPath); err == nil {
		slashed := filepath.ToSlash(abs)
		for _, dir := range restrictedDirs {
			if slashed == dir || strings.HasPrefix(slashed, dir+"/") {
				return flowerrors.NewReportError("Output path is inside a system directory", nil, outputPath,
					"Write the report inside the working directory")
			}
		}
	}

	dir := filepath.Dir(outputPath)
	if stat, err := os.Stat(dir); err == nil && !stat.IsDir() {
		return flowerrors.NewReportError(fmt.Sprintf("Output path parent is not a directory: %s", dir), nil, outputPath)
	}

	return nil
}

// ValidateRepositoryURL accepts http(s) and scp-style ssh URLs on GitHub or
// GitLab hosts
func (v *Validator) ValidateRepositoryURL(repoURL string) error {
	if repoURL == "" {
		return nil
	}

	if strings.HasPrefix(repoURL, "git@github.com:") {
		return nil
	}

	parsed, err := url.Parse(repoURL)
	if err != nil || parsed.Host == "" {
		return flowerrors.NewValidationError("Invalid repository URL format", "repo-url", repoURL,
			"Provide a URL such as https://github.com/owner/repo")
	}
	if parsed.Scheme != "https" && parsed.Scheme != "http" {
		return flowerrors.NewValidationError(fmt.Sprintf("Unsupported URL scheme: %s", parsed.Scheme), "repo-url", repoURL,
			"Use https:// URLs")
	}
	if parsed.Hostname() != "github.com" && !hosting.IsGitLabURL(repoURL) {
		return flowerrors.NewValidationError(fmt.Sprintf("Unsupported hosting platform: %s", parsed.Host), "repo-url", repoURL,
			"Deep links are built for github.com and GitLab instances")
	}

	return nil
}

// validatePathSafety rejects control characters
func validatePathSafety(path string) error {
	if strings.ContainsAny(path, "\x00\x01\x02\x03\x04\x05\x06\x07\x08\x0b\x0c\x0e\x0f") {
		return fmt.Errorf("path contains invalid characters")
	}
	return nil
}
