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

// Package hosting builds deep links from findings to the hosted source file.
package hosting

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/harekrishnarai/flowscope/pkg/constants"
	"github.com/harekrishnarai/flowscope/pkg/logging"
)

// lookupTimeout bounds the default-branch API call
const lookupTimeout = 5 * time.Second

// Resolver maps a document path and line to a browsable URL
type Resolver interface {
	FileURL(path string, line int) string
}

// Options locate the repository
type Options struct {
	RepositoryURL string
	// Ref pins the commit or branch; when empty it comes from CI env, then the API
	Ref string
	// Root is the local checkout; document paths are made relative to it
	Root string
	// Offline skips the API lookup
	Offline bool
}

// NewResolver picks the GitHub or GitLab resolver from the repository URL.
// It returns nil when no repository URL is configured.
func NewResolver(ctx context.Context, opts Options) (Resolver, error) {
	if opts.RepositoryURL == "" {
		return nil, nil
	}

	if IsGitLabURL(opts.RepositoryURL) {
		var client *gitlabClient
		if !opts.Offline {
			c, err := NewGitLabClient(opts.RepositoryURL)
			if err != nil {
				return nil, err
			}
			client = c
		}
		r, err := NewGitLabResolver(ctx, opts, client)
		if err != nil {
			return nil, err
		}
		return r, nil
	}

	var client *githubClient
	if !opts.Offline {
		client = NewGitHubClient(ctx)
	}
	r, err := NewGitHubResolver(ctx, opts, client)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// IsGitLabURL checks if a URL points at a GitLab instance
func IsGitLabURL(repoURL string) bool {
	if strings.Contains(repoURL, "gitlab.com") {
		return true
	}
	// On-premise instances usually carry gitlab in the host
	return strings.Contains(repoURL, "gitlab") && (strings.HasPrefix(repoURL, "http://") || strings.HasPrefix(repoURL, "https://"))
}

// resolveRef picks the first non-empty of: explicit ref, the CI env variable,
// the API's default branch, then the fallback branch
func resolveRef(ctx context.Context, explicit, envVar string, defaultBranch func(context.Context) (string, error)) string {
	if ref := strings.TrimSpace(explicit); ref != "" {
		return ref
	}
	if ref := strings.TrimSpace(os.Getenv(envVar)); ref != "" {
		return ref
	}
	if defaultBranch != nil {
		lookupCtx, cancel := context.WithTimeout(ctx, lookupTimeout)
		defer cancel()
		branch, err := defaultBranch(lookupCtx)
		if err != nil {
			logging.WithComponent("hosting").Debug("default branch lookup failed", "error", err)
		} else if branch != "" {
			return branch
		}
	}
	return constants.DefaultFallbackRef
}

// relativePath turns a document path into a repository-relative slash path
func relativePath(root, path string) string {
	if root != "" {
		if rel, err := filepath.Rel(root, path); err == nil && !strings.HasPrefix(rel, "..") {
			path = rel
		}
	}
	path = filepath.ToSlash(path)
	path = strings.TrimPrefix(path, "./")
	return strings.TrimPrefix(path, "/")
}
