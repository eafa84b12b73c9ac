package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"codelens-go/internal/metrics"
	"codelens-go/internal/model"
	"codelens-go/internal/repository"
	"codelens-go/pkg/apperr"
	"codelens-go/pkg/githost"
	"codelens-go/pkg/log"
	"codelens-go/pkg/secret"
	"codelens-go/pkg/tasks"
)

// CommitPuller 拉取项目的最新提交并返回新写入的记录。
type CommitPuller interface {
	PullCommits(ctx context.Context, projectID string) ([]*model.CommitRecord, error)
}

// Result 是一次摄取任务的结果。
type Result struct {
	Project    *model.Project `json:"project"`
	Report     *IngestReport  `json:"report"`
	NewCommits int            `json:"newCommits"`
}

// Processor 执行项目摄取任务：索引文件、按成功文件扣费、拉取首批提交，并维护项目状态。
type Processor struct {
	projects   repository.ProjectRepository
	users      repository.UserRepository
	indexer    *Indexer
	commits    CommitPuller
	box        *secret.Box
	runTimeout time.Duration
}

// NewProcessor 创建一个新的 Processor 实例。
func NewProcessor(
	projects repository.ProjectRepository,
	users repository.UserRepository,
	indexer *Indexer,
	commits CommitPuller,
	box *secret.Box,
	runTimeout time.Duration,
) *Processor {
	if runTimeout <= 0 {
		runTimeout = 300 * time.Second
	}
	return &Processor{
		projects:   projects,
		users:      users,
		indexer:    indexer,
		commits:    commits,
		box:        box,
		runTimeout: runTimeout,
	}
}

// Process 实现 kafka.TaskProcessor。
func (p *Processor) Process(ctx context.Context, task tasks.ProjectIngestTask) error {
	_, err := p.Run(ctx, task)
	return err
}

// Run 执行一次摄取任务。项目状态依次经过 INDEXING，最终变为 READY 或 FAILED。
// 只有仓库内容无法列出（或项目已不存在）时返回错误，逐文件失败记录在报告中。
func (p *Processor) Run(ctx context.Context, task tasks.ProjectIngestTask) (*Result, error) {
	start := time.Now()
	log.Infof("[Processor] 开始处理摄取任务, project: %s, user: %s", task.ProjectID, task.UserID)

	project, err := p.projects.FindByID(ctx, task.ProjectID)
	if err != nil {
		return nil, err
	}
	repo, err := githost.ParseRepoURL(project.GithubURL)
	if err != nil {
		p.finish(ctx, project, model.IndexStatusFailed, nil)
		return nil, err
	}
	token, err := p.box.Open(project.SealedToken)
	if err != nil {
		p.finish(ctx, project, model.IndexStatusFailed, nil)
		return nil, fmt.Errorf("open repository token: %w", err)
	}

	if err := p.projects.UpdateStatus(ctx, project.ID, model.IndexStatusIndexing); err != nil {
		return nil, fmt.Errorf("mark project indexing: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, p.runTimeout)
	defer cancel()

	report, err := p.indexer.Ingest(runCtx, project.ID, repo, token)
	if err != nil {
		log.Errorf("[Processor] 摄取失败, project: %s, error: %v", project.ID, err)
		p.finish(ctx, project, model.IndexStatusFailed, nil)
		return nil, err
	}

	if project.ChargedAt == nil {
		p.charge(ctx, project, report.Indexed)
	} else {
		log.Infof("[Processor] 项目已计费，跳过扣费, project: %s", project.ID)
	}

	result := &Result{Project: project, Report: report}
	newCommits, err := p.commits.PullCommits(runCtx, project.ID)
	if err != nil {
		log.Warnf("[Processor] 首次拉取提交失败, project: %s, error: %v", project.ID, err)
	}
	result.NewCommits = len(newCommits)

	p.finish(ctx, project, model.IndexStatusReady, report)
	metrics.IngestDuration.Observe(time.Since(start).Seconds())
	if perr := report.Err(); perr != nil {
		log.Warnf("[Processor] 摄取部分失败, project: %s, %v", project.ID, perr)
	}
	log.Infof("[Processor] 摄取任务完成, project: %s, indexed: %d, new commits: %d, 耗时: %s",
		project.ID, report.Indexed, result.NewCommits, time.Since(start))
	return result, nil
}

func (p *Processor) charge(ctx context.Context, project *model.Project, n int) {
	// 扣费不受本次运行超时影响。
	ctx = context.WithoutCancel(ctx)
	charged, err := p.users.ChargeProject(ctx, project.OwnerID, project.ID, n)
	switch {
	case errors.Is(err, apperr.ErrInsufficientCredits):
		log.Errorf("[Processor] 扣费失败，余额不足, user: %s, project: %s, files: %d", project.OwnerID, project.ID, n)
	case err != nil:
		log.Errorf("[Processor] 扣费失败, user: %s, project: %s, error: %v", project.OwnerID, project.ID, err)
	case charged:
		now := time.Now()
		project.ChargedAt = &now
		log.Infof("[Processor] 已扣除 %d 积分, user: %s, project: %s", n, project.OwnerID, project.ID)
	}
}

func (p *Processor) finish(ctx context.Context, project *model.Project, status string, report *IngestReport) {
	indexed, failed := 0, 0
	if report != nil {
		indexed, failed = report.Stored(), len(report.Failures)
	}
	if err := p.projects.FinishIndexing(context.WithoutCancel(ctx), project.ID, status, indexed, failed); err != nil {
		log.Errorf("[Processor] 更新项目状态失败, project: %s, status: %s, error: %v", project.ID, status, err)
		return
	}
	project.IndexStatus, project.IndexedFiles, project.FailedFiles = status, indexed, failed
}
