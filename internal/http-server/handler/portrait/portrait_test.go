package portrait

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"facecraft/internal/domain"
	"facecraft/internal/http-server/handler/portrait/dto"
	"facecraft/internal/usecase/job"

	"github.com/go-chi/chi/v5"
	"github.com/wb-go/wbf/zlog"
)

const testJobID = "0b6f3c1e-8d4a-4a51-9b7e-2f1d6c3a9e10"

type fakeUsecase struct {
	outcome   *job.Outcome
	result    *domain.ProcessingResult
	items     []job.BatchItem
	submitted *domain.Job
	job       *domain.Job
	artifact  *job.Artifact
	err       error

	lastOpts    domain.ProcessingOptions
	lastUploads []job.Upload
	deleted     []string
}

func (f *fakeUsecase) Process(_ context.Context, up job.Upload, opts domain.ProcessingOptions) (*job.Outcome, error) {
	f.lastOpts = opts
	f.lastUploads = []job.Upload{up}
	return f.outcome, f.err
}

func (f *fakeUsecase) Quick(_ context.Context, _ []byte, opts domain.ProcessingOptions) *domain.ProcessingResult {
	f.lastOpts = opts
	return f.result
}

func (f *fakeUsecase) Batch(_ context.Context, uploads []job.Upload, opts domain.ProcessingOptions) []job.BatchItem {
	f.lastOpts = opts
	f.lastUploads = uploads
	return f.items
}

func (f *fakeUsecase) Submit(_ context.Context, up job.Upload, opts domain.ProcessingOptions) (*domain.Job, error) {
	f.lastOpts = opts
	f.lastUploads = []job.Upload{up}
	return f.submitted, f.err
}

func (f *fakeUsecase) Get(_ context.Context, _ string) (*domain.Job, error) {
	return f.job, f.err
}

func (f *fakeUsecase) Download(_ context.Context, _ string, _ job.ArtifactKind) (*job.Artifact, error) {
	return f.artifact, f.err
}

func (f *fakeUsecase) Delete(_ context.Context, id string) error {
	if f.err != nil {
		return f.err
	}
	f.deleted = append(f.deleted, id)
	return nil
}

type formFile struct {
	name string
	data []byte
}

func newHandler(uc *fakeUsecase, maxUpload int64) *PortraitHandler {
	return NewPortraitHandler(uc, domain.DefaultOptions(), maxUpload, 2, &zlog.Logger)
}

func newRouter(h *PortraitHandler) http.Handler {
	r := chi.NewRouter()
	r.Post("/process", h.Process)
	r.Post("/process/quick", h.Quick)
	r.Post("/process/batch", h.Batch)
	r.Post("/jobs", h.SubmitJob)
	r.Get("/jobs/{id}", h.GetJob)
	r.Delete("/jobs/{id}", h.DeleteJob)
	r.Get("/download/{id}/{kind}", h.Download)
	return r
}

func multipartRequest(t *testing.T, path, field string, files []formFile, fields map[string]string) *http.Request {
	t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("WriteField: %v", err)
		}
	}
	for _, f := range files {
		part, err := mw.CreateFormFile(field, f.name)
		if err != nil {
			t.Fatalf("CreateFormFile: %v", err)
		}
		part.Write(f.data)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) dto.ErrorResponse {
	t.Helper()
	var resp dto.ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	return resp
}

func completedJob() *domain.Job {
	return &domain.Job{
		ID:               testJobID,
		OriginalFilename: "me.jpg",
		OriginalSize:     1234,
		Status:           domain.JobCompleted,
		PNGPath:          "jobs/" + testJobID + "/portrait.png",
		JPEGPath:         "jobs/" + testJobID + "/portrait.jpg",
		FaceDetected:     true,
		FaceCount:        1,
		FacePosition:     &domain.FaceRect{X: 10, Y: 20, Width: 30, Height: 40},
		ProcessingTime:   1500 * time.Millisecond,
	}
}

func TestProcessSuccess(t *testing.T) {
	uc := &fakeUsecase{outcome: &job.Outcome{
		Job:    completedJob(),
		Result: &domain.ProcessingResult{Success: true, FaceDetected: true, PNG: []byte("png"), JPEG: []byte("jpg")},
	}}
	router := newRouter(newHandler(uc, 1<<20))

	req := multipartRequest(t, "/process", "file", []formFile{{"me.jpg", []byte("data")}}, map[string]string{"return_base64": "true"})
	rec := serve(router, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var resp dto.ProcessResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Success || resp.JobID != testJobID || resp.FaceCount != 1 {
		t.Errorf("unexpected response %+v", resp)
	}
	if resp.PNGURL != "/api/v1/download/"+testJobID+"/png" || resp.JPGURL != "/api/v1/download/"+testJobID+"/jpg" {
		t.Errorf("urls = %q %q", resp.PNGURL, resp.JPGURL)
	}
	if resp.PreviewURL != "" {
		t.Errorf("preview url should be empty without a preview, got %q", resp.PreviewURL)
	}
	if resp.PNGBase64 != "cG5n" || resp.JPGBase64 != "anBn" {
		t.Errorf("base64 bodies = %q %q", resp.PNGBase64, resp.JPGBase64)
	}
	if resp.ProcessingTime != 1.5 {
		t.Errorf("processing time = %v", resp.ProcessingTime)
	}

	up := uc.lastUploads[0]
	if up.Filename != "me.jpg" || up.MimeType != "image/jpeg" || string(up.Data) != "data" {
		t.Errorf("upload = %+v", up)
	}
}

func TestProcessAppliesFormOptions(t *testing.T) {
	uc := &fakeUsecase{outcome: &job.Outcome{Job: completedJob(), Result: &domain.ProcessingResult{Success: true}}}
	router := newRouter(newHandler(uc, 1<<20))

	req := multipartRequest(t, "/process", "file", []formFile{{"me.png", []byte("data")}}, map[string]string{
		"width":         "300",
		"height":        "400",
		"bg_r":          "0",
		"bg_b":          "255",
		"use_oval_mask": "false",
		"face_margin":   "0.5",
		"max_size_kb":   "50",
		"annotate":      "1",
	})
	rec := serve(router, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	o := uc.lastOpts
	if o.Width != 300 || o.Height != 400 {
		t.Errorf("size = %dx%d", o.Width, o.Height)
	}
	if o.BackgroundColor.R != 0 || o.BackgroundColor.G != 240 || o.BackgroundColor.B != 255 || o.BackgroundColor.A != 255 {
		t.Errorf("background = %+v", o.BackgroundColor)
	}
	if o.UseOvalMask {
		t.Error("oval mask should be disabled")
	}
	if !o.EnhanceFace || !o.EnhancePhoto {
		t.Error("unset flags should keep their defaults")
	}
	if o.FaceMargin != 0.5 {
		t.Errorf("face margin = %v", o.FaceMargin)
	}
	if o.MaxJPEGSizeKB == nil || *o.MaxJPEGSizeKB != 50 {
		t.Errorf("max size = %v", o.MaxJPEGSizeKB)
	}
	if !o.Annotate {
		t.Error("annotate should be set")
	}
	if uc.lastUploads[0].MimeType != "image/png" {
		t.Errorf("mime = %q", uc.lastUploads[0].MimeType)
	}
}

func TestProcessRejectsBadRequests(t *testing.T) {
	tests := []struct {
		name   string
		files  []formFile
		fields map[string]string
		status int
	}{
		{"missing file", nil, nil, http.StatusBadRequest},
		{"bad extension", []formFile{{"me.gif", []byte("data")}}, nil, http.StatusBadRequest},
		{"width too small", []formFile{{"me.jpg", []byte("data")}}, map[string]string{"width": "10"}, http.StatusBadRequest},
		{"width not a number", []formFile{{"me.jpg", []byte("data")}}, map[string]string{"width": "wide"}, http.StatusBadRequest},
		{"fidelity out of range", []formFile{{"me.jpg", []byte("data")}}, map[string]string{"enhance_fidelity": "1.5"}, http.StatusBadRequest},
		{"color out of range", []formFile{{"me.jpg", []byte("data")}}, map[string]string{"bg_g": "256"}, http.StatusBadRequest},
		{"max size too small", []formFile{{"me.jpg", []byte("data")}}, map[string]string{"max_size_kb": "5"}, http.StatusBadRequest},
		{"bad boolean", []formFile{{"me.jpg", []byte("data")}}, map[string]string{"enhance_face": "maybe"}, http.StatusBadRequest},
		{"too large", []formFile{{"me.jpg", bytes.Repeat([]byte("x"), 64)}}, nil, http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			uc := &fakeUsecase{}
			router := newRouter(newHandler(uc, 32))

			rec := serve(router, multipartRequest(t, "/process", "file", tt.files, tt.fields))
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.status, rec.Body.String())
			}
			if uc.lastUploads != nil {
				t.Error("usecase should not be called")
			}
		})
	}
}

func TestProcessPipelineErrors(t *testing.T) {
	tests := []struct {
		code   domain.ErrorCode
		status int
	}{
		{domain.ErrorNoFaceDetected, http.StatusUnprocessableEntity},
		{domain.ErrorInvalidImage, http.StatusBadRequest},
		{domain.ErrorBusy, http.StatusServiceUnavailable},
		{domain.ErrorCanceled, http.StatusRequestTimeout},
		{domain.ErrorProcessingFailed, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			uc := &fakeUsecase{outcome: &job.Outcome{Result: &domain.ProcessingResult{Error: tt.code}}}
			router := newRouter(newHandler(uc, 1<<20))

			rec := serve(router, multipartRequest(t, "/process", "file", []formFile{{"me.jpg", []byte("data")}}, nil))
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
			if resp := decodeError(t, rec); resp.Code != string(tt.code) {
				t.Errorf("code = %q", resp.Code)
			}
		})
	}
}

func TestProcessUsecaseError(t *testing.T) {
	uc := &fakeUsecase{err: job.ErrStorageError}
	router := newRouter(newHandler(uc, 1<<20))

	rec := serve(router, multipartRequest(t, "/process", "file", []formFile{{"me.jpg", []byte("data")}}, nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestQuickReturnsPNG(t *testing.T) {
	uc := &fakeUsecase{result: &domain.ProcessingResult{
		Success:        true,
		FaceDetected:   true,
		PNG:            []byte("\x89PNG"),
		ProcessingTime: 250 * time.Millisecond,
	}}
	router := newRouter(newHandler(uc, 1<<20))

	rec := serve(router, multipartRequest(t, "/process/quick", "file", []formFile{{"me.jpg", []byte("data")}}, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("content type = %q", ct)
	}
	if v := rec.Header().Get("X-Face-Detected"); v != "true" {
		t.Errorf("X-Face-Detected = %q", v)
	}
	if v := rec.Header().Get("X-Processing-Time"); v != "0.250" {
		t.Errorf("X-Processing-Time = %q", v)
	}
	if rec.Body.String() != "\x89PNG" {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestQuickNoFace(t *testing.T) {
	uc := &fakeUsecase{result: &domain.ProcessingResult{Error: domain.ErrorNoFaceDetected}}
	router := newRouter(newHandler(uc, 1<<20))

	rec := serve(router, multipartRequest(t, "/process/quick", "file", []formFile{{"me.jpg", []byte("data")}}, nil))
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestBatch(t *testing.T) {
	uc := &fakeUsecase{items: []job.BatchItem{
		{Filename: "a.jpg", Outcome: &job.Outcome{Job: completedJob(), Result: &domain.ProcessingResult{Success: true}}},
		{Filename: "b.jpg", Outcome: &job.Outcome{Result: &domain.ProcessingResult{Error: domain.ErrorNoFaceDetected}}},
	}}
	h := NewPortraitHandler(uc, domain.DefaultOptions(), 1<<20, 3, &zlog.Logger)
	router := newRouter(h)

	files := []formFile{{"a.jpg", []byte("a")}, {"c.gif", []byte("c")}, {"b.jpg", []byte("b")}}
	rec := serve(router, multipartRequest(t, "/process/batch", "files", files, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var resp dto.BatchResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Total != 3 || resp.Succeeded != 1 || resp.Failed != 2 {
		t.Errorf("totals = %d/%d/%d", resp.Total, resp.Succeeded, resp.Failed)
	}
	if len(uc.lastUploads) != 2 {
		t.Errorf("usecase got %d uploads, want 2", len(uc.lastUploads))
	}

	if len(resp.Results) != len(files) {
		t.Fatalf("got %d results, want %d", len(resp.Results), len(files))
	}
	for i, f := range files {
		if resp.Results[i].Filename != f.name {
			t.Errorf("results[%d] = %q, want %q in upload order", i, resp.Results[i].Filename, f.name)
		}
	}

	byName := map[string]dto.BatchItemResponse{}
	for _, item := range resp.Results {
		byName[item.Filename] = item
	}
	if !byName["a.jpg"].Success || byName["a.jpg"].JobID != testJobID {
		t.Errorf("a.jpg = %+v", byName["a.jpg"])
	}
	if byName["b.jpg"].Error != string(domain.ErrorNoFaceDetected) {
		t.Errorf("b.jpg = %+v", byName["b.jpg"])
	}
	if !strings.Contains(byName["c.gif"].Error, ErrInvalidFileFormat.Error()) {
		t.Errorf("c.gif = %+v", byName["c.gif"])
	}
}

func TestBatchLimits(t *testing.T) {
	uc := &fakeUsecase{}
	router := newRouter(newHandler(uc, 1<<20))

	files := []formFile{{"a.jpg", []byte("a")}, {"b.jpg", []byte("b")}, {"c.jpg", []byte("c")}}
	if rec := serve(router, multipartRequest(t, "/process/batch", "files", files, nil)); rec.Code != http.StatusBadRequest {
		t.Errorf("too many files: status = %d", rec.Code)
	}
	if rec := serve(router, multipartRequest(t, "/process/batch", "files", nil, nil)); rec.Code != http.StatusBadRequest {
		t.Errorf("no files: status = %d", rec.Code)
	}
}

func TestSubmitJob(t *testing.T) {
	queued := &domain.Job{ID: testJobID, OriginalFilename: "me.jpg", Status: domain.JobQueued}
	uc := &fakeUsecase{submitted: queued}
	router := newRouter(newHandler(uc, 1<<20))

	rec := serve(router, multipartRequest(t, "/jobs", "file", []formFile{{"me.jpg", []byte("data")}}, nil))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp dto.JobResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.ID != testJobID || resp.Status != "queued" || resp.PNGURL != "" {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestSubmitJobErrors(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{job.ErrAsyncDisabled, http.StatusNotImplemented},
		{job.ErrInvalidImage, http.StatusBadRequest},
		{job.ErrMessageQueueError, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			router := newRouter(newHandler(&fakeUsecase{err: tt.err}, 1<<20))
			rec := serve(router, multipartRequest(t, "/jobs", "file", []formFile{{"me.jpg", []byte("data")}}, nil))
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
		})
	}
}

func TestGetJob(t *testing.T) {
	router := newRouter(newHandler(&fakeUsecase{job: completedJob()}, 1<<20))

	rec := serve(router, httptest.NewRequest(http.MethodGet, "/jobs/"+testJobID, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp dto.JobResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "completed" || resp.PNGURL == "" || resp.ProcessingTime != 1.5 {
		t.Errorf("unexpected response %+v", resp)
	}

	if rec := serve(router, httptest.NewRequest(http.MethodGet, "/jobs/not-a-uuid", nil)); rec.Code != http.StatusBadRequest {
		t.Errorf("invalid id: status = %d", rec.Code)
	}

	missing := newRouter(newHandler(&fakeUsecase{err: job.ErrJobNotFound}, 1<<20))
	if rec := serve(missing, httptest.NewRequest(http.MethodGet, "/jobs/"+testJobID, nil)); rec.Code != http.StatusNotFound {
		t.Errorf("missing job: status = %d", rec.Code)
	}
}

func TestDownload(t *testing.T) {
	uc := &fakeUsecase{artifact: &job.Artifact{
		Body:        io.NopCloser(strings.NewReader("jpeg-bytes")),
		ContentType: "image/jpeg",
		Filename:    "me.jpg",
	}}
	router := newRouter(newHandler(uc, 1<<20))

	rec := serve(router, httptest.NewRequest(http.MethodGet, "/download/"+testJobID+"/jpg", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Body.String() != "jpeg-bytes" {
		t.Errorf("body = %q", rec.Body.String())
	}
	if cd := rec.Header().Get("Content-Disposition"); cd != `attachment; filename="me.jpg"` {
		t.Errorf("content disposition = %q", cd)
	}

	if rec := serve(router, httptest.NewRequest(http.MethodGet, "/download/"+testJobID+"/gif", nil)); rec.Code != http.StatusBadRequest {
		t.Errorf("unknown kind: status = %d", rec.Code)
	}

	gone := newRouter(newHandler(&fakeUsecase{err: job.ErrArtifactNotFound}, 1<<20))
	if rec := serve(gone, httptest.NewRequest(http.MethodGet, "/download/"+testJobID+"/preview", nil)); rec.Code != http.StatusNotFound {
		t.Errorf("missing artifact: status = %d", rec.Code)
	}
}

func TestDeleteJob(t *testing.T) {
	uc := &fakeUsecase{}
	router := newRouter(newHandler(uc, 1<<20))

	rec := serve(router, httptest.NewRequest(http.MethodDelete, "/jobs/"+testJobID, nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(uc.deleted) != 1 || uc.deleted[0] != testJobID {
		t.Errorf("deleted = %v", uc.deleted)
	}

	failing := newRouter(newHandler(&fakeUsecase{err: errors.New("boom")}, 1<<20))
	if rec := serve(failing, httptest.NewRequest(http.MethodDelete, "/jobs/"+testJobID, nil)); rec.Code != http.StatusInternalServerError {
		t.Errorf("failing delete: status = %d", rec.Code)
	}
}
