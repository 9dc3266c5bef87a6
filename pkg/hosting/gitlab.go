package hosting

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/xanzy/go-gitlab"

	"github.com/harekrishnarai/flowscope/pkg/constants"
	flowerrors "github.com/harekrishnarai/flowscope/pkg/errors"
)

type gitlabClient = gitlab.Client

// GitLabResolver links to files on gitlab.com or a self-managed instance
type GitLabResolver struct {
	instanceURL string
	project     string // namespace path, possibly nested
	ref         string
	root        string
}

// ParseGitLabURL splits a repository URL into instance and project path.
// Nested groups are kept in the project path.
func ParseGitLabURL(repoURL string) (instanceURL, project string, err error) {
	u, err := url.Parse(strings.TrimSuffix(repoURL, ".git"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", "", flowerrors.NewPlatformError(fmt.Sprintf("Invalid GitLab repository URL: %s", repoURL), err, "gitlab",
			"Use https://gitlab.com/<namespace>/<project>")
	}

	project = strings.Trim(u.Path, "/")
	if i := strings.Index(project, "/-/"); i >= 0 {
		project = project[:i]
	}
	if strings.Count(project, "/") < 1 {
		return "", "", flowerrors.NewPlatformError("Invalid GitLab repository URL format", nil, "gitlab",
			"Expected: https://gitlab.com/<namespace>/<project>")
	}

	return fmt.Sprintf("%s://%s", u.Scheme, u.Host), project, nil
}

// NewGitLabClient creates an API client for the instance hosting repoURL,
// authenticated when GITLAB_TOKEN is set
func NewGitLabClient(repoURL string) (*gitlab.Client, error) {
	instanceURL, _, err := ParseGitLabURL(repoURL)
	if err != nil {
		return nil, err
	}
	client, err := gitlab.NewClient(os.Getenv(constants.EnvGitLabToken), gitlab.WithBaseURL(instanceURL+"/api/v4"))
	if err != nil {
		return nil, flowerrors.NewPlatformError("Failed to create GitLab client", err, "gitlab")
	}
	return client, nil
}

// NewGitLabResolver builds a resolver. A nil client skips the default-branch lookup.
func NewGitLabResolver(ctx context.Context, opts Options, client *gitlab.Client) (*GitLabResolver, error) {
	instanceURL, project, err := ParseGitLabURL(opts.RepositoryURL)
	if err != nil {
		return nil, err
	}

	var lookup func(context.Context) (string, error)
	if client != nil {
		lookup = func(ctx context.Context) (string, error) {
			p, _, err := client.Projects.GetProject(project, nil, gitlab.WithContext(ctx))
			if err != nil {
				return "", err
			}
			return p.DefaultBranch, nil
		}
	}

	return &GitLabResolver{
		instanceURL: instanceURL,
		project:     project,
		ref:         resolveRef(ctx, opts.Ref, constants.EnvGitLabSHA, lookup),
		root:        opts.Root,
	}, nil
}

// Ref returns the resolved commit or branch
func (r *GitLabResolver) Ref() string {
	return r.ref
}

// FileURL returns <instance>/<project>/-/blob/<ref>/<path>#L<line>
func (r *GitLabResolver) FileURL(path string, line int) string {
	link := fmt.Sprintf("%s/%s/-/blob/%s/%s", r.instanceURL, r.project, r.ref, relativePath(r.root, path))
	if line > 0 {
		link += fmt.Sprintf("#L%d", line)
	}
	return link
}
