// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"net/http"

	"codelens-go/internal/middleware"
	"codelens-go/internal/service"
	"codelens-go/pkg/apperr"
	"codelens-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// ProjectHandler 负责处理所有与项目相关的 API 请求。
type ProjectHandler struct {
	projectService service.ProjectService
}

// NewProjectHandler 创建一个新的 ProjectHandler 实例。
func NewProjectHandler(projectService service.ProjectService) *ProjectHandler {
	return &ProjectHandler{projectService: projectService}
}

// EstimateRequest 是预检接口的请求体。
type EstimateRequest struct {
	GithubURL   string `json:"githubUrl" binding:"required"`
	GithubToken string `json:"githubToken"`
}

// CreateProjectRequest 是创建项目接口的请求体。
type CreateProjectRequest struct {
	Name        string `json:"name"`
	GithubURL   string `json:"githubUrl" binding:"required"`
	GithubToken string `json:"githubToken"`
}

// Register 把项目路由挂到给定的路由组上。
func (h *ProjectHandler) Register(group *gin.RouterGroup) {
	group.POST("/projects/estimate", h.Estimate)
	group.POST("/projects", h.Create)
	group.GET("/projects/:id/commits", h.GetCommits)
	group.POST("/projects/:id/commits/refresh", h.RefreshCommits)
	group.DELETE("/projects/:id", h.Archive)
}

// Estimate 统计仓库中待索引的文件数，并返回调用方的积分余额。
func (h *ProjectHandler) Estimate(c *gin.Context) {
	var req EstimateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请求参数错误: " + err.Error()})
		return
	}
	estimate, err := h.projectService.EstimateCost(c.Request.Context(), userID(c), req.GithubURL, req.GithubToken)
	if err != nil {
		respondError(c, "Estimate", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "预估成功",
		"data":    estimate,
	})
}

// Create 创建项目并启动摄取。
func (h *ProjectHandler) Create(c *gin.Context) {
	var req CreateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请求参数错误: " + err.Error()})
		return
	}
	result, err := h.projectService.CreateAndIngestProject(c.Request.Context(), userID(c), service.CreateProjectRequest{
		Name:        req.Name,
		GithubURL:   req.GithubURL,
		GithubToken: req.GithubToken,
	})
	if err != nil {
		respondError(c, "Create", err)
		return
	}

	status := http.StatusCreated
	if result.Report == nil {
		// 摄取已排队，尚未完成
		status = http.StatusAccepted
	}
	data := gin.H{
		"project":    result.Project,
		"newCommits": result.NewCommits,
	}
	if result.Report != nil {
		data["report"] = gin.H{
			"total":    result.Report.Total,
			"indexed":  result.Report.Indexed,
			"degraded": result.Report.Degraded,
			"skipped":  result.Report.Skipped,
			"failures": result.Report.Failures,
			"duration": result.Report.Duration.String(),
		}
	}
	c.JSON(status, gin.H{
		"code":    status,
		"message": "项目创建成功",
		"data":    data,
	})
}

// GetCommits 返回项目已记录的提交，返回前会先尝试拉取新提交。
func (h *ProjectHandler) GetCommits(c *gin.Context) {
	commits, err := h.projectService.GetCommits(c.Request.Context(), userID(c), c.Param("id"))
	if err != nil {
		respondError(c, "GetCommits", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "获取提交列表成功",
		"data":    commits,
	})
}

// RefreshCommits 拉取并返回本次新增的提交。
func (h *ProjectHandler) RefreshCommits(c *gin.Context) {
	inserted, err := h.projectService.RefreshCommits(c.Request.Context(), userID(c), c.Param("id"))
	if err != nil {
		respondError(c, "RefreshCommits", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "刷新提交成功",
		"data":    inserted,
	})
}

// Archive 归档项目及其全部派生数据。
func (h *ProjectHandler) Archive(c *gin.Context) {
	if err := h.projectService.ArchiveProject(c.Request.Context(), userID(c), c.Param("id")); err != nil {
		respondError(c, "Archive", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "项目已归档",
	})
}

func userID(c *gin.Context) string {
	return c.GetString(middleware.ContextUserID)
}

// statusFor 把错误映射为 HTTP 状态码。
func statusFor(err error) int {
	switch {
	case errors.Is(err, apperr.ErrInvalidRepositoryURL):
		return http.StatusBadRequest
	case errors.Is(err, apperr.ErrRepositoryNotFound), errors.Is(err, apperr.ErrProjectNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrInsufficientCredits):
		return http.StatusPaymentRequired
	case errors.Is(err, apperr.ErrUpstreamUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, op string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Errorf("[ProjectHandler] %s 失败, user: %s, error: %v", op, userID(c), err)
		c.JSON(status, gin.H{"error": "服务器内部错误"})
		return
	}
	log.Warnf("[ProjectHandler] %s 失败, user: %s, error: %v", op, userID(c), err)
	c.JSON(status, gin.H{"error": err.Error()})
}
