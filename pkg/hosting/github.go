package hosting

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/google/go-github/v53/github"
	"golang.org/x/oauth2"

	"github.com/harekrishnarai/flowscope/pkg/constants"
	flowerrors "github.com/harekrishnarai/flowscope/pkg/errors"
)

type githubClient = github.Client

// GitHubResolver links to files on github.com
type GitHubResolver struct {
	owner string
	repo  string
	ref   string
	root  string
}

// NewGitHubClient creates an API client, authenticated when GITHUB_TOKEN is set
func NewGitHubClient(ctx context.Context) *github.Client {
	token := os.Getenv(constants.EnvGitHubToken)
	if token == "" {
		// Unauthenticated clients are rate limited
		return github.NewClient(nil)
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	return github.NewClient(oauth2.NewClient(ctx, ts))
}

// ParseGitHubURL parses https and ssh GitHub repository URLs
func ParseGitHubURL(repoURL string) (owner, repo string, err error) {
	for _, prefix := range []string{"https://github.com/", "http://github.com/", "git@github.com:"} {
		if !strings.HasPrefix(repoURL, prefix) {
			continue
		}
		parts := strings.Split(strings.TrimPrefix(repoURL, prefix), "/")
		if len(parts) >= 2 && parts[0] != "" && parts[1] != "" {
			return parts[0], strings.TrimSuffix(parts[1], ".git"), nil
		}
	}
	return "", "", flowerrors.NewPlatformError(fmt.Sprintf("Invalid GitHub repository URL: %s", repoURL), nil, "github",
		"Use https://github.com/<owner>/<repo>")
}

// NewGitHubResolver builds a resolver. A nil client skips the default-branch lookup.
func NewGitHubResolver(ctx context.Context, opts Options, client *github.Client) (*GitHubResolver, error) {
	owner, repo, err := ParseGitHubURL(opts.RepositoryURL)
	if err != nil {
		return nil, err
	}

	var lookup func(context.Context) (string, error)
	if client != nil {
		lookup = func(ctx context.Context) (string, error) {
			repository, _, err := client.Repositories.Get(ctx, owner, repo)
			if err != nil {
				return "", err
			}
			return repository.GetDefaultBranch(), nil
		}
	}

	return &GitHubResolver{
		owner: owner,
		repo:  repo,
		ref:   resolveRef(ctx, opts.Ref, constants.EnvGitHubSHA, lookup),
		root:  opts.Root,
	}, nil
}

// Ref returns the resolved commit or branch
func (r *GitHubResolver) Ref() string {
	return r.ref
}

// FileURL returns https://github.com/<owner>/<repo>/blob/<ref>/<path>#L<line>
func (r *GitHubResolver) FileURL(path string, line int) string {
	url := fmt.Sprintf("https://github.com/%s/%s/blob/%s/%s", r.owner, r.repo, r.ref, relativePath(r.root, path))
	if line > 0 {
		url += fmt.Sprintf("#L%d", line)
	}
	return url
}
