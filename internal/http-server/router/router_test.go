package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"facecraft/internal/domain"
	"facecraft/internal/http-server/handler/health"
	"facecraft/internal/http-server/handler/portrait"
	"facecraft/internal/stats"
	"facecraft/internal/usecase/job"
	"facecraft/internal/usecase/processor"

	"github.com/wb-go/wbf/zlog"
)

const jobID = "6a1f0d2c-5b7e-4c3a-9f12-0e8d7b6a5c4f"

type stubUsecase struct{}

func (stubUsecase) Process(context.Context, job.Upload, domain.ProcessingOptions) (*job.Outcome, error) {
	return nil, job.ErrStorageError
}

func (stubUsecase) Quick(context.Context, []byte, domain.ProcessingOptions) *domain.ProcessingResult {
	return &domain.ProcessingResult{Error: domain.ErrorProcessingFailed}
}

func (stubUsecase) Batch(context.Context, []job.Upload, domain.ProcessingOptions) []job.BatchItem {
	return nil
}

func (stubUsecase) Submit(context.Context, job.Upload, domain.ProcessingOptions) (*domain.Job, error) {
	return nil, job.ErrAsyncDisabled
}

func (stubUsecase) Get(_ context.Context, id string) (*domain.Job, error) {
	return &domain.Job{ID: id, Status: domain.JobQueued}, nil
}

func (stubUsecase) Download(context.Context, string, job.ArtifactKind) (*job.Artifact, error) {
	return nil, job.ErrArtifactNotFound
}

func (stubUsecase) Delete(context.Context, string) error { return nil }

type stubPipeline struct{}

func (stubPipeline) Capabilities() processor.Capabilities { return processor.Capabilities{} }
func (stubPipeline) Stats() stats.Snapshot                { return stats.Snapshot{} }
func (stubPipeline) ResetStats() stats.Snapshot           { return stats.Snapshot{} }

func newTestRouter(apiKey string) http.Handler {
	return SetupRouter(&Handler{
		PortraitHandler: portrait.NewPortraitHandler(stubUsecase{}, domain.DefaultOptions(), 1<<20, 10, &zlog.Logger),
		HealthHandler:   health.NewHealthHandler(stubPipeline{}, health.Info{Device: "cpu"}, nil, &zlog.Logger),
	}, Options{APIKey: apiKey, CORSOrigins: []string{"*"}})
}

func TestRoutes(t *testing.T) {
	r := newTestRouter("")

	tests := []struct {
		method string
		path   string
		status int
	}{
		{http.MethodGet, "/health", http.StatusOK},
		{http.MethodGet, "/ready", http.StatusOK},
		{http.MethodGet, "/status", http.StatusOK},
		{http.MethodGet, "/api/v1/jobs/" + jobID, http.StatusOK},
		{http.MethodDelete, "/api/v1/jobs/" + jobID, http.StatusNoContent},
		{http.MethodGet, "/api/v1/download/" + jobID + "/png", http.StatusNotFound},
		{http.MethodDelete, "/api/v1/statistics", http.StatusOK},
		{http.MethodGet, "/api/v1/unknown", http.StatusNotFound},
		{http.MethodGet, "/api/v1/process", http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
		})
	}
}

func TestAPIKeyProtectsOnlyAPIRoutes(t *testing.T) {
	r := newTestRouter("secret")

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("/health status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+jobID, nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("without key status = %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+jobID, nil)
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("with key status = %d", rec.Code)
	}
}
