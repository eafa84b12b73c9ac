package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"codelens-go/internal/ai"
	"codelens-go/internal/metrics"
	"codelens-go/internal/model"
	"codelens-go/internal/repository"
	"codelens-go/pkg/fanout"
	"codelens-go/pkg/githost"
	"codelens-go/pkg/log"
	"codelens-go/pkg/secret"
)

const refreshLockTTL = 60 * time.Second

// DiffArchive 保存提交的原始 diff。
type DiffArchive interface {
	PutDiff(ctx context.Context, projectID, commitHash, diff string) error
}

// CommitReport 汇总一次提交拉取。
type CommitReport struct {
	Fetched          int `json:"fetched"`
	New              int `json:"new"`
	Inserted         int `json:"inserted"`
	SummaryFallbacks int `json:"summaryFallbacks"`
}

// CommitService 跟踪项目已处理的提交，并为新提交生成 diff 摘要。
type CommitService interface {
	// PullCommits 拉取最近的提交，为尚未存储的提交生成摘要并写入，返回新写入的记录。
	PullCommits(ctx context.Context, projectID string) ([]*model.CommitRecord, error)
	// ListCommits 按作者时间倒序返回已存储的提交。
	ListCommits(ctx context.Context, projectID string) ([]model.CommitRecord, error)
}

// CommitServiceOptions 控制拉取数量与并发。
// FetchWindow 是每次向代码托管平台请求的提交数，Limit 是按作者时间排序后保留的条数。
type CommitServiceOptions struct {
	Limit       int
	FetchWindow int
	Concurrency int
}

type commitService struct {
	projects repository.ProjectRepository
	commits  repository.CommitRepository
	cache    repository.CacheRepository
	host     githost.Client
	gateway  *ai.Gateway
	box      *secret.Box
	archive  DiffArchive
	opts     CommitServiceOptions
}

// NewCommitService 创建一个新的 CommitService 实例。cache 与 archive 可以为 nil。
func NewCommitService(
	projects repository.ProjectRepository,
	commits repository.CommitRepository,
	cache repository.CacheRepository,
	host githost.Client,
	gateway *ai.Gateway,
	box *secret.Box,
	archive DiffArchive,
	opts CommitServiceOptions,
) CommitService {
	if opts.Limit <= 0 {
		opts.Limit = 10
	}
	if opts.FetchWindow < opts.Limit {
		opts.FetchWindow = max(30, opts.Limit)
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 5
	}
	return &commitService{
		projects: projects,
		commits:  commits,
		cache:    cache,
		host:     host,
		gateway:  gateway,
		box:      box,
		archive:  archive,
		opts:     opts,
	}
}

func (s *commitService) PullCommits(ctx context.Context, projectID string) ([]*model.CommitRecord, error) {
	project, err := s.projects.FindByID(ctx, projectID)
	if err != nil {
		return nil, err
	}
	repo, err := githost.ParseRepoURL(project.GithubURL)
	if err != nil {
		return nil, err
	}
	token, err := s.box.Open(project.SealedToken)
	if err != nil {
		return nil, fmt.Errorf("open repository token: %w", err)
	}

	if s.cache != nil {
		unlock, ok, err := s.cache.TryLock(ctx, "commits:refresh:"+projectID, refreshLockTTL)
		switch {
		case err != nil:
			// 唯一约束兜底，锁不可用时照常执行。
			log.Warnf("[CommitTracker] 获取刷新锁失败, project: %s, error: %v", projectID, err)
		case !ok:
			log.Infof("[CommitTracker] 项目正在被其他请求刷新, project: %s", projectID)
			return nil, nil
		default:
			defer unlock()
		}
	}

	upstream, err := s.host.ListCommits(ctx, repo, token, s.opts.FetchWindow)
	if err != nil {
		return nil, err
	}
	recent := latest(upstream, s.opts.Limit)

	stored, err := s.commits.ListHashes(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("load stored commit hashes: %w", err)
	}
	var fresh []githost.Commit
	for _, c := range recent {
		if _, ok := stored[c.Hash]; !ok {
			fresh = append(fresh, c)
		}
	}
	report := CommitReport{Fetched: len(recent), New: len(fresh)}
	if len(fresh) == 0 {
		log.Infof("[CommitTracker] 没有新的提交, project: %s", projectID)
		return nil, nil
	}

	results := fanout.All(ctx, fresh, s.opts.Concurrency, func(ctx context.Context, c githost.Commit) (string, error) {
		return s.summarize(ctx, projectID, repo, token, c)
	})

	records := make([]*model.CommitRecord, 0, len(fresh))
	for _, r := range results {
		c := fresh[r.Index]
		summary := r.Value
		if r.Err != nil || summary == ai.NoSummary {
			if r.Err != nil {
				log.Warnf("[CommitTracker] 提交摘要失败, project: %s, commit: %s, error: %v", projectID, c.Hash, r.Err)
			}
			summary = ai.NoSummary
			report.SummaryFallbacks++
			metrics.CommitsSummarized.WithLabelValues(metrics.OutcomeDegraded).Inc()
		} else {
			metrics.CommitsSummarized.WithLabelValues(metrics.OutcomeSuccess).Inc()
		}
		records = append(records, &model.CommitRecord{
			ProjectID:          projectID,
			CommitHash:         c.Hash,
			CommitMessage:      c.Message,
			CommitAuthorName:   c.AuthorName,
			CommitAuthorAvatar: c.AuthorAvatar,
			CommitDate:         c.AuthorDate,
			Summary:            summary,
		})
	}

	inserted, err := s.commits.InsertBatch(ctx, records)
	if err != nil {
		return nil, fmt.Errorf("insert commits: %w", err)
	}
	report.Inserted = len(inserted)
	log.Infof("[CommitTracker] 提交拉取完成, project: %s, fetched: %d, new: %d, inserted: %d, fallbacks: %d",
		projectID, report.Fetched, report.New, report.Inserted, report.SummaryFallbacks)
	return inserted, nil
}

// summarize 获取单个提交的 diff 并生成摘要。diff 获取失败时返回错误，由调用方降级为占位摘要。
func (s *commitService) summarize(ctx context.Context, projectID string, repo githost.Repository, token string, c githost.Commit) (string, error) {
	diff, err := s.host.GetCommitDiff(ctx, repo, token, c.Hash)
	if err != nil {
		return "", fmt.Errorf("fetch diff: %w", err)
	}
	if s.archive != nil {
		if err := s.archive.PutDiff(ctx, projectID, c.Hash, diff); err != nil {
			log.Warnf("[CommitTracker] 归档 diff 失败, commit: %s, error: %v", c.Hash, err)
		}
	}
	summary, _ := s.gateway.SummarizeDiff(ctx, diff)
	return summary, nil
}

func (s *commitService) ListCommits(ctx context.Context, projectID string) ([]model.CommitRecord, error) {
	if _, err := s.projects.FindByID(ctx, projectID); err != nil {
		return nil, err
	}
	return s.commits.ListByProject(ctx, projectID)
}

// latest 按作者时间倒序稳定排序并保留前 n 个。时间相同的提交保持上游返回的相对顺序。
func latest(commits []githost.Commit, n int) []githost.Commit {
	sorted := append([]githost.Commit(nil), commits...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].AuthorDate.After(sorted[j].AuthorDate)
	})
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}
