package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"codelens-go/internal/middleware"
	"codelens-go/internal/model"
	"codelens-go/internal/pipeline"
	"codelens-go/internal/service"
	"codelens-go/pkg/apperr"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProjectService struct {
	err      error
	lastUser string
	lastReq  service.CreateProjectRequest
	estimate *service.Estimate
	result   *service.CreateProjectResult
	commits  []model.CommitRecord
	inserted []*model.CommitRecord
	archived []string
}

func (f *fakeProjectService) EstimateCost(_ context.Context, userID, _, _ string) (*service.Estimate, error) {
	f.lastUser = userID
	return f.estimate, f.err
}

func (f *fakeProjectService) CreateAndIngestProject(_ context.Context, userID string, req service.CreateProjectRequest) (*service.CreateProjectResult, error) {
	f.lastUser, f.lastReq = userID, req
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeProjectService) RefreshCommits(_ context.Context, userID, _ string) ([]*model.CommitRecord, error) {
	f.lastUser = userID
	return f.inserted, f.err
}

func (f *fakeProjectService) GetCommits(_ context.Context, userID, _ string) ([]model.CommitRecord, error) {
	f.lastUser = userID
	return f.commits, f.err
}

func (f *fakeProjectService) ArchiveProject(_ context.Context, userID, projectID string) error {
	f.lastUser = userID
	if f.err != nil {
		return f.err
	}
	f.archived = append(f.archived, projectID)
	return nil
}

func newTestRouter(svc service.ProjectService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	api := r.Group("/api/v1", func(c *gin.Context) {
		c.Set(middleware.ContextUserID, "user_1")
	})
	NewProjectHandler(svc).Register(api)
	return r
}

func do(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestEstimate(t *testing.T) {
	svc := &fakeProjectService{estimate: &service.Estimate{FileCount: 3, UserCredits: 150}}
	w := do(newTestRouter(svc), http.MethodPost, "/api/v1/projects/estimate", `{"githubUrl":"https://github.com/acme/app"}`)

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Data service.Estimate `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, service.Estimate{FileCount: 3, UserCredits: 150}, body.Data)
	assert.Equal(t, "user_1", svc.lastUser)
}

func TestEstimateRequiresURL(t *testing.T) {
	w := do(newTestRouter(&fakeProjectService{}), http.MethodPost, "/api/v1/projects/estimate", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateReturnsReport(t *testing.T) {
	svc := &fakeProjectService{result: &service.CreateProjectResult{
		Project:    &model.Project{ID: "p1", IndexStatus: model.IndexStatusReady},
		Report:     &pipeline.IngestReport{Total: 5, Indexed: 3},
		NewCommits: 2,
	}}
	w := do(newTestRouter(svc), http.MethodPost, "/api/v1/projects",
		`{"name":"app","githubUrl":"https://github.com/acme/app","githubToken":"ghp_x"}`)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, service.CreateProjectRequest{Name: "app", GithubURL: "https://github.com/acme/app", GithubToken: "ghp_x"}, svc.lastReq)
	assert.NotContains(t, w.Body.String(), "ghp_x")

	var body struct {
		Data struct {
			Project    model.Project `json:"project"`
			NewCommits int           `json:"newCommits"`
			Report     struct {
				Total   int `json:"total"`
				Indexed int `json:"indexed"`
			} `json:"report"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "p1", body.Data.Project.ID)
	assert.Equal(t, 2, body.Data.NewCommits)
	assert.Equal(t, 5, body.Data.Report.Total)
	assert.Equal(t, 3, body.Data.Report.Indexed)
}

func TestCreateQueued(t *testing.T) {
	svc := &fakeProjectService{result: &service.CreateProjectResult{
		Project: &model.Project{ID: "p1", IndexStatus: model.IndexStatusPending},
	}}
	w := do(newTestRouter(svc), http.MethodPost, "/api/v1/projects", `{"githubUrl":"https://github.com/acme/app"}`)
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.NotContains(t, w.Body.String(), `"report"`)
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{apperr.ErrInvalidRepositoryURL, http.StatusBadRequest},
		{fmt.Errorf("acme/app: %w", apperr.ErrRepositoryNotFound), http.StatusNotFound},
		{fmt.Errorf("%w: 9 file(s)", apperr.ErrInsufficientCredits), http.StatusPaymentRequired},
		{apperr.ErrProjectNotFound, http.StatusNotFound},
		{fmt.Errorf("enqueue: %w", apperr.ErrUpstreamUnavailable), http.StatusBadGateway},
		{fmt.Errorf("database is gone"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.err.Error(), func(t *testing.T) {
			r := newTestRouter(&fakeProjectService{err: tc.err})
			w := do(r, http.MethodPost, "/api/v1/projects", `{"githubUrl":"https://github.com/acme/app"}`)
			assert.Equal(t, tc.status, w.Code)
			if tc.status == http.StatusInternalServerError {
				assert.NotContains(t, w.Body.String(), "database is gone")
			}
		})
	}
}

func TestCommitRoutes(t *testing.T) {
	svc := &fakeProjectService{
		commits:  []model.CommitRecord{{CommitHash: "a1"}, {CommitHash: "b2"}},
		inserted: []*model.CommitRecord{{CommitHash: "c3"}},
	}
	r := newTestRouter(svc)

	w := do(r, http.MethodGet, "/api/v1/projects/p1/commits", "")
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Data []model.CommitRecord `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Len(t, list.Data, 2)

	w = do(r, http.MethodPost, "/api/v1/projects/p1/commits/refresh", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"commitHash":"c3"`)
}

func TestArchive(t *testing.T) {
	svc := &fakeProjectService{}
	w := do(newTestRouter(svc), http.MethodDelete, "/api/v1/projects/p1", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"p1"}, svc.archived)

	svc.err = apperr.ErrProjectNotFound
	w = do(newTestRouter(svc), http.MethodDelete, "/api/v1/projects/p2", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
