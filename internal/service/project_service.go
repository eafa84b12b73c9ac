package service

import (
	"context"
	"fmt"
	"strings"

	"codelens-go/internal/model"
	"codelens-go/internal/pipeline"
	"codelens-go/internal/repository"
	"codelens-go/pkg/apperr"
	"codelens-go/pkg/githost"
	"codelens-go/pkg/log"
	"codelens-go/pkg/secret"
	"codelens-go/pkg/tasks"
)

// Estimate 是预检结果：待索引文件数与调用方当前余额。
type Estimate struct {
	FileCount   int `json:"fileCount"`
	UserCredits int `json:"userCredits"`
}

// CreateProjectRequest 是创建项目的输入。
type CreateProjectRequest struct {
	Name        string
	GithubURL   string
	GithubToken string
}

// CreateProjectResult 是创建项目的结果。同步摄取时 Report 非空。
type CreateProjectResult struct {
	Project    *model.Project         `json:"project"`
	Report     *pipeline.IngestReport `json:"report,omitempty"`
	NewCommits int                    `json:"newCommits"`
}

// KnowledgeCleaner 删除项目在外部索引中的数据。
type KnowledgeCleaner interface {
	DeleteProject(ctx context.Context, projectID string) error
}

// ProjectService 定义了项目的生命周期操作。所有操作都以调用方身份执行。
type ProjectService interface {
	EstimateCost(ctx context.Context, userID, repoURL, token string) (*Estimate, error)
	CreateAndIngestProject(ctx context.Context, userID string, req CreateProjectRequest) (*CreateProjectResult, error)
	RefreshCommits(ctx context.Context, userID, projectID string) ([]*model.CommitRecord, error)
	GetCommits(ctx context.Context, userID, projectID string) ([]model.CommitRecord, error)
	ArchiveProject(ctx context.Context, userID, projectID string) error
}

type projectService struct {
	projects   repository.ProjectRepository
	users      repository.UserRepository
	estimator  EstimateService
	commits    CommitService
	dispatcher Dispatcher
	box        *secret.Box
	cleaner    KnowledgeCleaner
}

// NewProjectService 创建一个新的 ProjectService 实例。cleaner 可以为 nil。
func NewProjectService(
	projects repository.ProjectRepository,
	users repository.UserRepository,
	estimator EstimateService,
	commits CommitService,
	dispatcher Dispatcher,
	box *secret.Box,
	cleaner KnowledgeCleaner,
) ProjectService {
	return &projectService{
		projects:   projects,
		users:      users,
		estimator:  estimator,
		commits:    commits,
		dispatcher: dispatcher,
		box:        box,
		cleaner:    cleaner,
	}
}

func (s *projectService) EstimateCost(ctx context.Context, userID, repoURL, token string) (*Estimate, error) {
	n, err := s.estimator.CountFiles(ctx, repoURL, token)
	if err != nil {
		return nil, err
	}
	balance, err := s.users.GetBalance(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get balance: %w", err)
	}
	return &Estimate{FileCount: n, UserCredits: balance}, nil
}

// CreateAndIngestProject 校验地址、预估文件数并做余额准入，通过后创建项目并提交摄取任务。
// 地址无效、仓库不可见或余额不足时在创建任何数据之前返回。
func (s *projectService) CreateAndIngestProject(ctx context.Context, userID string, req CreateProjectRequest) (*CreateProjectResult, error) {
	repo, err := githost.ParseRepoURL(req.GithubURL)
	if err != nil {
		return nil, err
	}
	estimate, err := s.EstimateCost(ctx, userID, req.GithubURL, req.GithubToken)
	if err != nil {
		return nil, err
	}
	if err := Admit(estimate.UserCredits, estimate.FileCount); err != nil {
		log.Infof("[ProjectService] 余额不足, user: %s, credits: %d, files: %d", userID, estimate.UserCredits, estimate.FileCount)
		return nil, fmt.Errorf("%w: %d file(s) need more than %d credit(s)", err, estimate.FileCount, estimate.UserCredits)
	}

	sealed, err := s.box.Seal(req.GithubToken)
	if err != nil {
		return nil, fmt.Errorf("seal repository token: %w", err)
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = repo.Name
	}
	project := &model.Project{
		Name:        name,
		GithubURL:   strings.TrimSpace(req.GithubURL),
		OwnerID:     userID,
		SealedToken: sealed,
	}
	if err := s.projects.Create(ctx, project); err != nil {
		return nil, fmt.Errorf("create project: %w", err)
	}
	log.Infof("[ProjectService] 项目已创建, project: %s, repo: %s, user: %s", project.ID, repo, userID)

	result, err := s.dispatcher.Dispatch(ctx, tasks.ProjectIngestTask{ProjectID: project.ID, UserID: userID})
	if err != nil {
		// 摄取失败时尚未扣费，也没有写入任何文件知识，回滚刚创建的项目
		if aerr := s.projects.Archive(context.WithoutCancel(ctx), project.ID); aerr != nil {
			log.Errorw("[ProjectService] 回滚项目失败", "project", project.ID, "error", aerr)
		} else {
			log.Warnf("[ProjectService] 摄取任务提交失败，项目已回滚, project: %s, error: %v", project.ID, err)
		}
		return nil, err
	}
	if result == nil {
		return &CreateProjectResult{Project: project}, nil
	}
	return &CreateProjectResult{Project: result.Project, Report: result.Report, NewCommits: result.NewCommits}, nil
}

func (s *projectService) RefreshCommits(ctx context.Context, userID, projectID string) ([]*model.CommitRecord, error) {
	if _, err := s.ownedProject(ctx, userID, projectID); err != nil {
		return nil, err
	}
	return s.commits.PullCommits(ctx, projectID)
}

// GetCommits 先尝试拉取新提交（失败只记录日志），再返回已存储的提交。
func (s *projectService) GetCommits(ctx context.Context, userID, projectID string) ([]model.CommitRecord, error) {
	if _, err := s.ownedProject(ctx, userID, projectID); err != nil {
		return nil, err
	}
	if _, err := s.commits.PullCommits(ctx, projectID); err != nil {
		log.Warnf("[ProjectService] 刷新提交失败, project: %s, error: %v", projectID, err)
	}
	return s.commits.ListCommits(ctx, projectID)
}

// ArchiveProject 归档项目及其全部派生数据，只有项目所有者可以执行。
func (s *projectService) ArchiveProject(ctx context.Context, userID, projectID string) error {
	if _, err := s.ownedProject(ctx, userID, projectID); err != nil {
		return err
	}
	if err := s.projects.Archive(ctx, projectID); err != nil {
		return err
	}
	log.Infof("[ProjectService] 项目已归档, project: %s, user: %s", projectID, userID)

	if s.cleaner != nil {
		if err := s.cleaner.DeleteProject(context.WithoutCancel(ctx), projectID); err != nil {
			log.Warnf("[ProjectService] 清理 Elasticsearch 镜像失败, project: %s, error: %v", projectID, err)
		}
	}
	return nil
}

func (s *projectService) ownedProject(ctx context.Context, userID, projectID string) (*model.Project, error) {
	project, err := s.projects.FindByID(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if project.OwnerID != userID {
		return nil, apperr.ErrProjectNotFound
	}
	return project, nil
}
