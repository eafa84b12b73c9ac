package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"codelens-go/internal/ai"
	"codelens-go/internal/model"
	"codelens-go/internal/pipeline"
	"codelens-go/internal/repository/repositorytest"
	"codelens-go/internal/source"
	"codelens-go/pkg/apperr"
	"codelens-go/pkg/githost"
	"codelens-go/pkg/githost/githosttest"
	"codelens-go/pkg/llm"
	"codelens-go/pkg/secret"
	"codelens-go/pkg/tasks"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const repoURL = "https://github.com/acme/widgets"

type echoLLM struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (e *echoLLM) Complete(_ context.Context, messages []llm.Message) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.err != nil {
		return "", e.err
	}
	prompt := messages[0].Content
	if i := strings.LastIndex(prompt, "\n"); i >= 0 {
		return "* " + prompt[i+1:], nil
	}
	return "* summary", nil
}

type constEmbedder struct{}

func (constEmbedder) CreateEmbedding(context.Context, string) ([]float32, error) {
	return []float32{1, 0, 0, 0}, nil
}

type recordingArchive struct {
	mu      sync.Mutex
	objects map[string]string
}

func (a *recordingArchive) PutDiff(_ context.Context, projectID, hash, diff string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.objects == nil {
		a.objects = map[string]string{}
	}
	a.objects[projectID+"/"+hash] = diff
	return nil
}

type recordingCleaner struct{ deleted []string }

func (c *recordingCleaner) DeleteProject(_ context.Context, projectID string) error {
	c.deleted = append(c.deleted, projectID)
	return nil
}

type fixture struct {
	host     *githosttest.Fake
	store    *repositorytest.Store
	cache    *repositorytest.Cache
	llm      *echoLLM
	archive  *recordingArchive
	cleaner  *recordingCleaner
	box      *secret.Box
	commits  CommitService
	projects ProjectService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	box, err := secret.NewBox(strings.Repeat("02", 32))
	require.NoError(t, err)

	f := &fixture{
		host:    &githosttest.Fake{},
		store:   repositorytest.NewStore(),
		cache:   repositorytest.NewCache(),
		llm:     &echoLLM{},
		archive: &recordingArchive{},
		cleaner: &recordingCleaner{},
		box:     box,
	}
	gateway := ai.NewGateway(f.llm, constEmbedder{}, ai.Options{Dimensions: 4, Timeout: time.Second})
	loader := source.NewLoader(f.host, nil, 5)
	f.commits = NewCommitService(f.store.Projects(), f.store.Commits(), f.cache, f.host, gateway, box, f.archive,
		CommitServiceOptions{Limit: 10, Concurrency: 3})
	indexer := pipeline.NewIndexer(loader, gateway, f.store.Knowledge(), nil, 3, "test")
	processor := pipeline.NewProcessor(f.store.Projects(), f.store.Users(), indexer, f.commits, box, time.Minute)
	estimator := NewEstimateService(loader, f.cache, time.Minute)
	f.projects = NewProjectService(f.store.Projects(), f.store.Users(), estimator, f.commits,
		NewInlineDispatcher(processor), box, f.cleaner)
	return f
}

func (f *fixture) addProject(t *testing.T, owner string) *model.Project {
	t.Helper()
	p := &model.Project{Name: "widgets", GithubURL: repoURL, OwnerID: owner}
	require.NoError(t, f.store.Projects().Create(context.Background(), p))
	return p
}

func commitAt(hash string, hoursAgo int) githost.Commit {
	return githost.Commit{
		Hash:       hash,
		Message:    "change " + hash,
		AuthorName: "dev",
		AuthorDate: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC).Add(-time.Duration(hoursAgo) * time.Hour),
	}
}

func TestAdmit(t *testing.T) {
	tests := []struct {
		balance, files int
		allowed        bool
	}{
		{balance: 10, files: 10, allowed: false},
		{balance: 11, files: 10, allowed: true},
		{balance: 9, files: 10, allowed: false},
		{balance: 0, files: 0, allowed: false},
		{balance: 1, files: 0, allowed: true},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d_credits_%d_files", tt.balance, tt.files), func(t *testing.T) {
			err := Admit(tt.balance, tt.files)
			if tt.allowed {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, apperr.ErrInsufficientCredits)
			}
		})
	}
}

func TestCountFilesDoesNotFetchContent(t *testing.T) {
	f := newFixture(t)
	f.host.AddFile("a.go", "package a")
	f.host.AddFile("b.go", "package b")
	f.host.AddFile("yarn.lock", "lock")
	estimator := NewEstimateService(source.NewLoader(f.host, nil, 5), nil, 0)

	n, err := estimator.CountFiles(context.Background(), repoURL, "")

	require.NoError(t, err)
	assert.Equal(t, 3, n, "ignored lockfiles still count as tree blobs")
	assert.Zero(t, f.host.BlobCalls)
}

func TestCountFilesNormalisesURLVariants(t *testing.T) {
	f := newFixture(t)
	f.host.AddFile("a.go", "package a")
	estimator := NewEstimateService(source.NewLoader(f.host, nil, 5), nil, 0)

	for _, u := range []string{repoURL, repoURL + "/", repoURL + ".git", "github.com/acme/widgets"} {
		n, err := estimator.CountFiles(context.Background(), u, "")
		require.NoError(t, err, u)
		assert.Equal(t, 1, n, u)
	}
}

func TestCountFilesUsesCache(t *testing.T) {
	f := newFixture(t)
	f.host.AddFile("a.go", "package a")
	estimator := NewEstimateService(source.NewLoader(f.host, nil, 5), f.cache, time.Minute)

	_, err := estimator.CountFiles(context.Background(), repoURL, "tok")
	require.NoError(t, err)
	f.host.AddFile("b.go", "package b")
	n, err := estimator.CountFiles(context.Background(), repoURL+".git", "tok")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, f.host.Tokens, 1)

	// a different token is a different cache entry
	n, err = estimator.CountFiles(context.Background(), repoURL, "other")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestCountFilesIgnoresCacheErrors(t *testing.T) {
	f := newFixture(t)
	f.host.AddFile("a.go", "package a")
	f.cache.Err = errors.New("redis down")
	estimator := NewEstimateService(source.NewLoader(f.host, nil, 5), f.cache, time.Minute)

	n, err := estimator.CountFiles(context.Background(), repoURL, "")

	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCountFilesErrors(t *testing.T) {
	f := newFixture(t)
	estimator := NewEstimateService(source.NewLoader(f.host, nil, 5), nil, 0)

	_, err := estimator.CountFiles(context.Background(), "https://github.com/acme", "")
	assert.ErrorIs(t, err, apperr.ErrInvalidRepositoryURL)

	f.host.Err = apperr.ErrRepositoryNotFound
	_, err = estimator.CountFiles(context.Background(), repoURL, "")
	assert.ErrorIs(t, err, apperr.ErrRepositoryNotFound)
}

func TestPullCommitsInsertsOnlyNewHashes(t *testing.T) {
	f := newFixture(t)
	p := f.addProject(t, "user_1")
	for i := 0; i < 10; i++ {
		f.host.AddCommit(commitAt(fmt.Sprintf("h%02d", i), i), "diff --git a/f b/f\n+line "+fmt.Sprint(i))
	}
	var existing []*model.CommitRecord
	for i := 0; i < 6; i++ {
		existing = append(existing, &model.CommitRecord{ProjectID: p.ID, CommitHash: fmt.Sprintf("h%02d", i)})
	}
	_, err := f.store.Commits().InsertBatch(context.Background(), existing)
	require.NoError(t, err)

	inserted, err := f.commits.PullCommits(context.Background(), p.ID)

	require.NoError(t, err)
	var hashes []string
	for _, rec := range inserted {
		hashes = append(hashes, rec.CommitHash)
		assert.NotEqual(t, ai.NoSummary, rec.Summary)
		assert.Equal(t, p.ID, rec.ProjectID)
	}
	assert.ElementsMatch(t, []string{"h06", "h07", "h08", "h09"}, hashes)
	assert.Equal(t, 4, f.host.DiffCalls)
	assert.Len(t, f.archive.objects, 4)
}

func TestPullCommitsIsIdempotent(t *testing.T) {
	f := newFixture(t)
	p := f.addProject(t, "user_1")
	f.host.AddCommit(commitAt("aaa", 1), "diff a")
	f.host.AddCommit(commitAt("bbb", 2), "diff b")

	first, err := f.commits.PullCommits(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Len(t, first, 2)

	second, err := f.commits.PullCommits(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Empty(t, second)

	stored, err := f.commits.ListCommits(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Len(t, stored, 2)
}

func TestPullCommitsKeepsNewestByAuthorDate(t *testing.T) {
	f := newFixture(t)
	p := f.addProject(t, "user_1")
	f.commits = NewCommitService(f.store.Projects(), f.store.Commits(), nil, f.host,
		ai.NewGateway(f.llm, constEmbedder{}, ai.Options{Dimensions: 4}), f.box, nil, CommitServiceOptions{Limit: 2})
	// upstream order is not date order
	f.host.AddCommit(commitAt("old", 30), "diff")
	f.host.AddCommit(commitAt("newest", 1), "diff")
	f.host.AddCommit(commitAt("middle", 10), "diff")

	inserted, err := f.commits.PullCommits(context.Background(), p.ID)
	require.NoError(t, err)
	require.Len(t, inserted, 2)
	assert.Equal(t, "newest", inserted[0].CommitHash)
	assert.Equal(t, "old", inserted[1].CommitHash)
}

func TestPullCommitsLooksPastHostOrder(t *testing.T) {
	f := newFixture(t)
	p := f.addProject(t, "user_1")
	// 前 12 条按托管平台顺序返回，但作者时间最新的一条排在第 13 位
	for i := 0; i < 12; i++ {
		f.host.AddCommit(commitAt(fmt.Sprintf("h%02d", i), 20+i), "diff")
	}
	f.host.AddCommit(commitAt("rebased", 0), "diff")

	inserted, err := f.commits.PullCommits(context.Background(), p.ID)

	require.NoError(t, err)
	require.Len(t, inserted, 10)
	assert.Equal(t, "rebased", inserted[0].CommitHash)
	var hashes []string
	for _, rec := range inserted {
		hashes = append(hashes, rec.CommitHash)
	}
	assert.NotContains(t, hashes, "h10")
	assert.NotContains(t, hashes, "h11")
}

func TestLatestIsStableForEqualDates(t *testing.T) {
	commits := []githost.Commit{commitAt("x", 1), commitAt("y", 1), commitAt("z", 0)}

	got := latest(commits, 10)

	assert.Equal(t, []string{"z", "x", "y"}, []string{got[0].Hash, got[1].Hash, got[2].Hash})
	assert.Len(t, latest(commits, 2), 2)
}

func TestPullCommitsDiffFailureFallsBack(t *testing.T) {
	f := newFixture(t)
	p := f.addProject(t, "user_1")
	f.host.AddCommit(commitAt("good", 1), "diff --git a/x b/x")
	f.host.AddCommit(commitAt("bad", 2), "")
	f.host.FailDiff("bad", apperr.ErrUpstreamUnavailable)

	inserted, err := f.commits.PullCommits(context.Background(), p.ID)

	require.NoError(t, err)
	require.Len(t, inserted, 2)
	summaries := map[string]string{}
	for _, rec := range inserted {
		summaries[rec.CommitHash] = rec.Summary
	}
	assert.Equal(t, ai.NoSummary, summaries["bad"])
	assert.NotEqual(t, ai.NoSummary, summaries["good"])
}

func TestPullCommitsSummaryFailureFallsBack(t *testing.T) {
	f := newFixture(t)
	p := f.addProject(t, "user_1")
	f.llm.err = errors.New("quota")
	f.host.AddCommit(commitAt("aaa", 1), "diff --git a/x b/x")

	inserted, err := f.commits.PullCommits(context.Background(), p.ID)

	require.NoError(t, err)
	require.Len(t, inserted, 1)
	assert.Equal(t, ai.NoSummary, inserted[0].Summary)
}

func TestPullCommitsSkipsWhileLocked(t *testing.T) {
	f := newFixture(t)
	p := f.addProject(t, "user_1")
	f.host.AddCommit(commitAt("aaa", 1), "diff")
	unlock, ok, err := f.cache.TryLock(context.Background(), "commits:refresh:"+p.ID, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	inserted, err := f.commits.PullCommits(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Empty(t, inserted)
	assert.Zero(t, f.host.CommitCalls)

	unlock()
	inserted, err = f.commits.PullCommits(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Len(t, inserted, 1)
}

func TestPullCommitsUsesSealedToken(t *testing.T) {
	f := newFixture(t)
	sealed, err := f.box.Seal("ghp_private")
	require.NoError(t, err)
	p := &model.Project{Name: "w", GithubURL: repoURL, OwnerID: "user_1", SealedToken: sealed}
	require.NoError(t, f.store.Projects().Create(context.Background(), p))
	f.host.AddCommit(commitAt("aaa", 1), "diff")

	_, err = f.commits.PullCommits(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Contains(t, f.host.Tokens, "ghp_private")
}

func TestPullCommitsUnknownProject(t *testing.T) {
	f := newFixture(t)

	_, err := f.commits.PullCommits(context.Background(), "missing")

	assert.ErrorIs(t, err, apperr.ErrProjectNotFound)
}

func TestCreateAndIngestProject(t *testing.T) {
	f := newFixture(t)
	f.store.AddUser("user_1", 150)
	f.host.AddFile("a.go", "package a")
	f.host.AddFile("b.go", "package b")
	f.host.AddFile("go.sum", "sum")
	f.host.AddCommit(commitAt("aaa", 1), "diff")

	result, err := f.projects.CreateAndIngestProject(context.Background(), "user_1", CreateProjectRequest{
		GithubURL: repoURL + ".git", GithubToken: "ghp_token",
	})

	require.NoError(t, err)
	assert.Equal(t, "widgets", result.Project.Name)
	assert.Equal(t, model.IndexStatusReady, result.Project.IndexStatus)
	assert.Equal(t, 2, result.Report.Indexed)
	assert.Equal(t, 1, result.NewCommits)

	stored, ok := f.store.Project(result.Project.ID)
	require.True(t, ok)
	assert.NotContains(t, string(stored.SealedToken), "ghp_token")
	assert.Len(t, f.store.KnowledgeRows(stored.ID), 2)

	balance, _ := f.store.Users().GetBalance(context.Background(), "user_1")
	assert.Equal(t, 148, balance)
}

func TestCreateRejectsInsufficientCredits(t *testing.T) {
	f := newFixture(t)
	f.store.AddUser("user_1", 2)
	f.host.AddFile("a.go", "package a")
	f.host.AddFile("b.go", "package b")

	_, err := f.projects.CreateAndIngestProject(context.Background(), "user_1", CreateProjectRequest{GithubURL: repoURL})

	assert.ErrorIs(t, err, apperr.ErrInsufficientCredits)
	assert.Zero(t, f.store.ProjectCount())
	assert.Zero(t, f.host.BlobCalls)
}

func TestCreateRejectsInvalidURL(t *testing.T) {
	f := newFixture(t)
	f.store.AddUser("user_1", 150)

	_, err := f.projects.CreateAndIngestProject(context.Background(), "user_1", CreateProjectRequest{GithubURL: "not a url"})

	assert.ErrorIs(t, err, apperr.ErrInvalidRepositoryURL)
	assert.Zero(t, f.store.ProjectCount())
	assert.Empty(t, f.host.Tokens)
}

type failingProducer struct{}

func (failingProducer) ProduceIngestTask(context.Context, tasks.ProjectIngestTask) error {
	return errors.New("broker unreachable")
}

func TestCreateRollsBackProjectWhenEnqueueFails(t *testing.T) {
	f := newFixture(t)
	f.store.AddUser("user_1", 150)
	f.host.AddFile("a.go", "package a")
	svc := NewProjectService(f.store.Projects(), f.store.Users(),
		NewEstimateService(source.NewLoader(f.host, nil, 5), nil, 0), f.commits,
		NewQueueDispatcher(failingProducer{}), f.box, nil)

	result, err := svc.CreateAndIngestProject(context.Background(), "user_1", CreateProjectRequest{GithubURL: repoURL})

	assert.ErrorIs(t, err, apperr.ErrUpstreamUnavailable)
	assert.Nil(t, result)
	assert.Equal(t, 1, f.store.ProjectCount())
	assert.Zero(t, f.store.LiveProjectCount())
}

func TestCreateRollsBackProjectWhenInlineIngestFails(t *testing.T) {
	f := newFixture(t)
	f.store.AddUser("user_1", 150)
	f.host.AddFile("a.go", "package a")
	// 估算结果已缓存，之后仓库变得不可访问
	_, err := f.projects.EstimateCost(context.Background(), "user_1", repoURL, "")
	require.NoError(t, err)
	f.host.Err = apperr.ErrUpstreamUnavailable

	result, err := f.projects.CreateAndIngestProject(context.Background(), "user_1", CreateProjectRequest{GithubURL: repoURL})

	assert.ErrorIs(t, err, apperr.ErrUpstreamUnavailable)
	assert.Nil(t, result)
	assert.Zero(t, f.store.LiveProjectCount())
	balance, _ := f.store.Users().GetBalance(context.Background(), "user_1")
	assert.Equal(t, 150, balance)
}

type recordingProducer struct{ tasks []tasks.ProjectIngestTask }

func (p *recordingProducer) ProduceIngestTask(_ context.Context, task tasks.ProjectIngestTask) error {
	p.tasks = append(p.tasks, task)
	return nil
}

func TestCreateEnqueuesTask(t *testing.T) {
	f := newFixture(t)
	f.store.AddUser("user_1", 150)
	f.host.AddFile("a.go", "package a")
	producer := &recordingProducer{}
	svc := NewProjectService(f.store.Projects(), f.store.Users(),
		NewEstimateService(source.NewLoader(f.host, nil, 5), nil, 0), f.commits,
		NewQueueDispatcher(producer), f.box, nil)

	result, err := svc.CreateAndIngestProject(context.Background(), "user_1", CreateProjectRequest{Name: "mine", GithubURL: repoURL})

	require.NoError(t, err)
	assert.Nil(t, result.Report)
	assert.Equal(t, model.IndexStatusPending, result.Project.IndexStatus)
	assert.Equal(t, []tasks.ProjectIngestTask{{ProjectID: result.Project.ID, UserID: "user_1"}}, producer.tasks)
	assert.Zero(t, f.host.BlobCalls)
}

func TestGetCommitsToleratesRefreshFailure(t *testing.T) {
	f := newFixture(t)
	p := f.addProject(t, "user_1")
	_, err := f.store.Commits().InsertBatch(context.Background(), []*model.CommitRecord{
		{ProjectID: p.ID, CommitHash: "old", CommitDate: time.Now().Add(-time.Hour)},
	})
	require.NoError(t, err)
	f.host.Err = apperr.ErrUpstreamUnavailable

	commits, err := f.projects.GetCommits(context.Background(), "user_1", p.ID)

	require.NoError(t, err)
	require.Len(t, commits, 1)
	assert.Equal(t, "old", commits[0].CommitHash)
}

func TestGetCommitsRefreshesFirst(t *testing.T) {
	f := newFixture(t)
	p := f.addProject(t, "user_1")
	f.host.AddCommit(commitAt("newer", 1), "diff")
	f.host.AddCommit(commitAt("older", 5), "diff")

	commits, err := f.projects.GetCommits(context.Background(), "user_1", p.ID)

	require.NoError(t, err)
	require.Len(t, commits, 2)
	assert.Equal(t, "newer", commits[0].CommitHash)
}

func TestProjectOperationsRequireOwner(t *testing.T) {
	f := newFixture(t)
	p := f.addProject(t, "user_1")

	_, err := f.projects.GetCommits(context.Background(), "intruder", p.ID)
	assert.ErrorIs(t, err, apperr.ErrProjectNotFound)
	_, err = f.projects.RefreshCommits(context.Background(), "intruder", p.ID)
	assert.ErrorIs(t, err, apperr.ErrProjectNotFound)
	assert.ErrorIs(t, f.projects.ArchiveProject(context.Background(), "intruder", p.ID), apperr.ErrProjectNotFound)

	_, ok := f.store.Project(p.ID)
	assert.True(t, ok)
}

func TestArchiveProject(t *testing.T) {
	f := newFixture(t)
	p := f.addProject(t, "user_1")
	f.store.AddQuestion(model.SavedQuestion{ProjectID: p.ID, UserID: "user_1", Question: "q"})
	f.host.AddCommit(commitAt("aaa", 1), "diff")
	_, err := f.commits.PullCommits(context.Background(), p.ID)
	require.NoError(t, err)

	require.NoError(t, f.projects.ArchiveProject(context.Background(), "user_1", p.ID))

	_, err = f.store.Projects().FindByID(context.Background(), p.ID)
	assert.ErrorIs(t, err, apperr.ErrProjectNotFound)
	assert.Zero(t, f.store.QuestionCount(p.ID))
	hashes, _ := f.store.Commits().ListHashes(context.Background(), p.ID)
	assert.Empty(t, hashes)
	assert.Equal(t, []string{p.ID}, f.cleaner.deleted)
}

func TestArchiveFailureLeavesProject(t *testing.T) {
	f := newFixture(t)
	p := f.addProject(t, "user_1")
	f.store.ArchiveErr = errors.New("tx aborted")

	err := f.projects.ArchiveProject(context.Background(), "user_1", p.ID)

	assert.Error(t, err)
	_, err = f.store.Projects().FindByID(context.Background(), p.ID)
	assert.NoError(t, err)
	assert.Empty(t, f.cleaner.deleted)
}
