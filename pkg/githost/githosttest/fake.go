// Package githosttest provides an in-memory githost.Client for tests.
package githosttest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"codelens-go/pkg/apperr"
	"codelens-go/pkg/githost"
)

// Fake is a scripted repository. The zero value is an empty repository on "main".
type Fake struct {
	mu sync.Mutex

	Branch   string
	Tree     []githost.TreeEntry
	Blobs    map[string][]byte
	BlobErrs map[string]error
	// BlobDelay holds a blob fetch for the given duration, or until ctx ends.
	BlobDelay map[string]time.Duration
	Commits  []githost.Commit
	Diffs    map[string]string
	DiffErrs map[string]error
	// Err, when set, fails DefaultBranch, ListTree and ListCommits.
	Err error

	BlobCalls   int
	DiffCalls   int
	CommitCalls int
	Tokens      []string
}

// AddFile adds a blob at path with the given content.
func (f *Fake) AddFile(path, content string) {
	f.AddRaw(path, []byte(content))
}

// AddRaw adds a blob at path with raw bytes.
func (f *Fake) AddRaw(path string, content []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Blobs == nil {
		f.Blobs = map[string][]byte{}
	}
	sha := "sha-" + path
	f.Tree = append(f.Tree, githost.TreeEntry{Path: path, SHA: sha, Size: len(content), Blob: true})
	f.Blobs[sha] = content
}

// DelayBlob makes fetching the blob at path take d.
func (f *Fake) DelayBlob(path string, d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.BlobDelay == nil {
		f.BlobDelay = map[string]time.Duration{}
	}
	f.BlobDelay["sha-"+path] = d
}

// FailBlob makes fetching the blob at path fail with err.
func (f *Fake) FailBlob(path string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.BlobErrs == nil {
		f.BlobErrs = map[string]error{}
	}
	f.BlobErrs["sha-"+path] = err
}

// AddCommit appends a commit and, if diff is non-empty, its diff.
func (f *Fake) AddCommit(c githost.Commit, diff string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Commits = append(f.Commits, c)
	if diff != "" {
		if f.Diffs == nil {
			f.Diffs = map[string]string{}
		}
		f.Diffs[c.Hash] = diff
	}
}

// FailDiff makes fetching the diff of hash fail with err.
func (f *Fake) FailDiff(hash string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.DiffErrs == nil {
		f.DiffErrs = map[string]error{}
	}
	f.DiffErrs[hash] = err
}

func (f *Fake) DefaultBranch(_ context.Context, _ githost.Repository, token string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Tokens = append(f.Tokens, token)
	if f.Err != nil {
		return "", f.Err
	}
	if f.Branch == "" {
		return "main", nil
	}
	return f.Branch, nil
}

func (f *Fake) ListTree(_ context.Context, _ githost.Repository, _, _ string) ([]githost.TreeEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	return append([]githost.TreeEntry(nil), f.Tree...), nil
}

func (f *Fake) GetBlob(ctx context.Context, _ githost.Repository, _, sha string) ([]byte, error) {
	f.mu.Lock()
	f.BlobCalls++
	delay := f.BlobDelay[sha]
	f.mu.Unlock()
	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.BlobErrs[sha]; err != nil {
		return nil, err
	}
	b, ok := f.Blobs[sha]
	if !ok {
		return nil, fmt.Errorf("%w: blob %s", apperr.ErrRepositoryNotFound, sha)
	}
	return b, nil
}

func (f *Fake) ListCommits(_ context.Context, _ githost.Repository, token string, perPage int) ([]githost.Commit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.CommitCalls++
	f.Tokens = append(f.Tokens, token)
	if f.Err != nil {
		return nil, f.Err
	}
	commits := append([]githost.Commit(nil), f.Commits...)
	if perPage > 0 && len(commits) > perPage {
		commits = commits[:perPage]
	}
	return commits, nil
}

func (f *Fake) GetCommitDiff(_ context.Context, _ githost.Repository, _, sha string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.DiffCalls++
	if err := f.DiffErrs[sha]; err != nil {
		return "", err
	}
	return f.Diffs[sha], nil
}

var _ githost.Client = (*Fake)(nil)
