// Package githost wraps the repository host (GitHub) REST API behind a small typed contract.
// go-github response types never leave this package.
package githost

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"codelens-go/internal/config"
	"codelens-go/pkg/log"

	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"
)

// TreeEntry is one entry of a recursive tree listing.
type TreeEntry struct {
	Path string
	SHA  string
	Size int
	// Blob is true for files, false for directories and submodules.
	Blob bool
}

// Commit is the metadata of a single commit.
type Commit struct {
	Hash         string
	Message      string
	AuthorName   string
	AuthorAvatar string
	AuthorDate   time.Time
}

// Client defines the repository host operations used by the pipeline.
// An empty token means "use the process-level token, if any".
type Client interface {
	DefaultBranch(ctx context.Context, repo Repository, token string) (string, error)
	ListTree(ctx context.Context, repo Repository, token, ref string) ([]TreeEntry, error)
	GetBlob(ctx context.Context, repo Repository, token, sha string) ([]byte, error)
	ListCommits(ctx context.Context, repo Repository, token string, perPage int) ([]Commit, error)
	GetCommitDiff(ctx context.Context, repo Repository, token, sha string) (string, error)
}

type githubClient struct {
	baseURL       *url.URL
	fallbackToken string
	httpClient    *http.Client
	retry         RetryConfig
}

// NewClient creates a GitHub client from config.
func NewClient(cfg config.GitHubConfig) (Client, error) {
	return newClient(cfg, &http.Client{Timeout: 30 * time.Second}, DefaultRetryConfig())
}

func newClient(cfg config.GitHubConfig, httpClient *http.Client, retry RetryConfig) (*githubClient, error) {
	c := &githubClient{
		fallbackToken: cfg.Token,
		httpClient:    httpClient,
		retry:         retry,
	}
	if cfg.BaseURL != "" {
		base := cfg.BaseURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		u, err := url.Parse(base)
		if err != nil {
			return nil, fmt.Errorf("parse github base url: %w", err)
		}
		c.baseURL = u
	}
	return c, nil
}

// api builds a go-github client authenticated with the given token.
func (c *githubClient) api(token string) *github.Client {
	if token == "" {
		token = c.fallbackToken
	}
	hc := c.httpClient
	if token != "" {
		baseCtx := context.WithValue(context.Background(), oauth2.HTTPClient, c.httpClient)
		hc = oauth2.NewClient(baseCtx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))
	}
	gh := github.NewClient(hc)
	if c.baseURL != nil {
		gh.BaseURL = c.baseURL
	}
	return gh
}

// DefaultBranch resolves the repository's default branch name.
func (c *githubClient) DefaultBranch(ctx context.Context, repo Repository, token string) (string, error) {
	gh := c.api(token)
	var branch string
	err := c.do(ctx, repo, "get repository", func() (*github.Response, error) {
		r, resp, err := gh.Repositories.Get(ctx, repo.Owner, repo.Name)
		if err == nil {
			branch = r.GetDefaultBranch()
		}
		return resp, err
	})
	if err != nil {
		return "", err
	}
	if branch == "" {
		branch = "main"
	}
	return branch, nil
}

// ListTree returns the full recursive tree of ref in a single request.
func (c *githubClient) ListTree(ctx context.Context, repo Repository, token, ref string) ([]TreeEntry, error) {
	gh := c.api(token)
	var tree *github.Tree
	err := c.do(ctx, repo, "get tree", func() (*github.Response, error) {
		t, resp, err := gh.Git.GetTree(ctx, repo.Owner, repo.Name, ref, true)
		tree = t
		return resp, err
	})
	if err != nil {
		return nil, err
	}
	if tree.GetTruncated() {
		log.Warnf("[GitHost] 仓库 %s 的目录树被截断，文件列表不完整", repo)
	}

	entries := make([]TreeEntry, 0, len(tree.Entries))
	for _, e := range tree.Entries {
		entries = append(entries, TreeEntry{
			Path: e.GetPath(),
			SHA:  e.GetSHA(),
			Size: e.GetSize(),
			Blob: e.GetType() == "blob",
		})
	}
	return entries, nil
}

// GetBlob downloads the raw content of a blob.
func (c *githubClient) GetBlob(ctx context.Context, repo Repository, token, sha string) ([]byte, error) {
	gh := c.api(token)
	var content []byte
	err := c.do(ctx, repo, "get blob "+sha, func() (*github.Response, error) {
		b, resp, err := gh.Git.GetBlobRaw(ctx, repo.Owner, repo.Name, sha)
		content = b
		return resp, err
	})
	return content, err
}

// ListCommits returns the first page of commits on the default branch in host order.
func (c *githubClient) ListCommits(ctx context.Context, repo Repository, token string, perPage int) ([]Commit, error) {
	gh := c.api(token)
	var raw []*github.RepositoryCommit
	err := c.do(ctx, repo, "list commits", func() (*github.Response, error) {
		list, resp, err := gh.Repositories.ListCommits(ctx, repo.Owner, repo.Name, &github.CommitsListOptions{
			ListOptions: github.ListOptions{PerPage: perPage},
		})
		raw = list
		return resp, err
	})
	if err != nil {
		return nil, err
	}

	commits := make([]Commit, 0, len(raw))
	for _, rc := range raw {
		author := rc.GetCommit().GetAuthor()
		commits = append(commits, Commit{
			Hash:         rc.GetSHA(),
			Message:      rc.GetCommit().GetMessage(),
			AuthorName:   author.GetName(),
			AuthorAvatar: rc.GetAuthor().GetAvatarURL(),
			AuthorDate:   author.GetDate().Time,
		})
	}
	return commits, nil
}

// GetCommitDiff returns the unified diff of a single commit.
func (c *githubClient) GetCommitDiff(ctx context.Context, repo Repository, token, sha string) (string, error) {
	gh := c.api(token)
	var diff string
	err := c.do(ctx, repo, "get diff "+sha, func() (*github.Response, error) {
		d, resp, err := gh.Repositories.GetCommitRaw(ctx, repo.Owner, repo.Name, sha, github.RawOptions{Type: github.Diff})
		diff = d
		return resp, err
	})
	return diff, err
}
