package ingest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/go-github/v77/github"
)

// GitHubScheme prefixes guardrail references stored in a GitHub repository.
const GitHubScheme = "github://"

// ErrInvalidGitHubRef is returned for malformed github:// references.
var ErrInvalidGitHubRef = errors.New("invalid github reference")

// GitHubLocation identifies one file in a GitHub repository.
type GitHubLocation struct {
	Owner string
	Repo  string
	Path  string
	Ref   string // branch, tag or commit; empty means the default branch
}

// String renders the location back into its github:// form.
func (l GitHubLocation) String() string {
	s := GitHubScheme + l.Owner + "/" + l.Repo + "/" + l.Path
	if l.Ref != "" {
		s += "@" + l.Ref
	}
	return s
}

// NewGitHubClient creates a GitHub API client, authenticated when token is set.
func NewGitHubClient(token string) *github.Client {
	client := github.NewClient(nil)
	if token != "" {
		client = client.WithAuthToken(token)
	}
	return client
}

// ParseGitHubRef parses "github://owner/repo/path/to/file[@ref]".
func ParseGitHubRef(ref string) (GitHubLocation, error) {
	rest, ok := strings.CutPrefix(ref, GitHubScheme)
	if !ok {
		return GitHubLocation{}, fmt.Errorf("%w: %q must start with %s", ErrInvalidGitHubRef, ref, GitHubScheme)
	}

	var gitRef string
	if at := strings.LastIndex(rest, "@"); at >= 0 {
		gitRef = rest[at+1:]
		rest = rest[:at]
	}

	parts := strings.SplitN(rest, "/", 3)
	if len(parts) < 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return GitHubLocation{}, fmt.Errorf("%w: %q needs owner, repository and file path", ErrInvalidGitHubRef, ref)
	}

	return GitHubLocation{
		Owner: parts[0],
		Repo:  parts[1],
		Path:  parts[2],
		Ref:   gitRef,
	}, nil
}

// LoadGitHubFile fetches a single file through the GitHub contents API.
func LoadGitHubFile(ctx context.Context, client *github.Client, loc GitHubLocation) (Document, error) {
	var opts *github.RepositoryContentGetOptions
	if loc.Ref != "" {
		opts = &github.RepositoryContentGetOptions{Ref: loc.Ref}
	}

	file, _, resp, err := client.Repositories.GetContents(ctx, loc.Owner, loc.Repo, loc.Path, opts)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return Document{}, notFound(loc.String())
		}
		return Document{}, fmt.Errorf("failed to fetch %s: %w", loc, err)
	}
	if file == nil {
		return Document{}, fmt.Errorf("%s is a directory, expected a file", loc)
	}

	content, err := file.GetContent()
	if err != nil {
		return Document{}, fmt.Errorf("failed to decode %s: %w", loc, err)
	}

	return Document{SourcePath: loc.String(), Text: content}, nil
}
