package portrait

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"facecraft/internal/domain"
	"facecraft/internal/http-server/handler/portrait/dto"
	"facecraft/internal/usecase/job"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/wb-go/wbf/zlog"
)

const (
	maxMemory      = 32 << 20
	downloadPrefix = "/api/v1/download/"
)

type PortraitHandler struct {
	usecase   jobUsecase
	defaults  domain.ProcessingOptions
	maxUpload int64
	batchMax  int
	validate  *validator.Validate
	logger    *zlog.Zerolog
}

func NewPortraitHandler(usecase jobUsecase, defaults domain.ProcessingOptions, maxUpload int64, batchMax int, logger *zlog.Zerolog) *PortraitHandler {
	if maxUpload <= 0 {
		maxUpload = domain.DefaultMaxUploadSize
	}
	if batchMax <= 0 {
		batchMax = 1
	}
	return &PortraitHandler{
		usecase:   usecase,
		defaults:  defaults,
		maxUpload: maxUpload,
		batchMax:  batchMax,
		validate:  validator.New(),
		logger:    logger,
	}
}

// Process runs the pipeline synchronously and stores the outputs as a job.
func (h *PortraitHandler) Process(w http.ResponseWriter, r *http.Request) {
	up, req, opts, ok := h.parseSingle(w, r)
	if !ok {
		return
	}

	outcome, err := h.usecase.Process(r.Context(), up, opts)
	if err != nil {
		h.handleUsecaseError(w, err, "")
		return
	}
	if !outcome.Result.Success {
		h.handlePipelineError(w, outcome.Result, up.Filename)
		return
	}

	resp := processResponse(outcome)
	if req.ReturnBase64 {
		resp.PNGBase64 = base64.StdEncoding.EncodeToString(outcome.Result.PNG)
		resp.JPGBase64 = base64.StdEncoding.EncodeToString(outcome.Result.JPEG)
	}

	h.respondJSON(w, http.StatusOK, resp)
}

// Quick returns the transparent PNG directly without storing anything.
func (h *PortraitHandler) Quick(w http.ResponseWriter, r *http.Request) {
	up, _, opts, ok := h.parseSingle(w, r)
	if !ok {
		return
	}

	res := h.usecase.Quick(r.Context(), up.Data, opts)
	if !res.Success {
		h.handlePipelineError(w, res, up.Filename)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(res.PNG)))
	w.Header().Set("X-Face-Detected", strconv.FormatBool(res.FaceDetected))
	w.Header().Set("X-Processing-Time", strconv.FormatFloat(res.Seconds(), 'f', 3, 64))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(res.PNG); err != nil {
		h.logger.Error().Err(err).Str("filename", up.Filename).Msg("Failed to write PNG")
	}
}

func (h *PortraitHandler) Batch(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload*int64(h.batchMax))
	if err := r.ParseMultipartForm(maxMemory); err != nil {
		h.logger.Warn().Err(err).Msg("Failed to parse multipart form")
		h.respondError(w, http.StatusBadRequest, "Invalid request format", nil)
		return
	}

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		h.respondError(w, http.StatusBadRequest, "At least one file is required", ErrFileRequired)
		return
	}
	if len(headers) > h.batchMax {
		h.respondError(w, http.StatusBadRequest, fmt.Sprintf("Maximum %d files per batch", h.batchMax), ErrTooManyFiles)
		return
	}

	opts, _, ok := h.parseOptions(w, r)
	if !ok {
		return
	}

	resp := dto.BatchResponse{Total: len(headers), Results: make([]dto.BatchItemResponse, len(headers))}

	// Results follow upload order; slots[i] is the header index of uploads[i].
	var uploads []job.Upload
	var slots []int
	for i, fh := range headers {
		up, err := readUpload(fh, h.maxUpload)
		if err != nil {
			resp.Results[i] = dto.BatchItemResponse{Filename: fh.Filename, Error: err.Error()}
			continue
		}
		uploads = append(uploads, up)
		slots = append(slots, i)
	}

	for i, item := range h.usecase.Batch(r.Context(), uploads, opts) {
		if i < len(slots) {
			resp.Results[slots[i]] = batchItemResponse(item)
		}
	}

	for _, item := range resp.Results {
		if item.Success {
			resp.Succeeded++
		} else {
			resp.Failed++
		}
	}
	resp.ProcessingTime = time.Since(start).Seconds()

	h.logger.Info().
		Int("total", resp.Total).
		Int("succeeded", resp.Succeeded).
		Int("failed", resp.Failed).
		Msg("Batch processed")

	h.respondJSON(w, http.StatusOK, resp)
}

// SubmitJob stores the upload and queues it for the worker.
func (h *PortraitHandler) SubmitJob(w http.ResponseWriter, r *http.Request) {
	up, _, opts, ok := h.parseSingle(w, r)
	if !ok {
		return
	}

	j, err := h.usecase.Submit(r.Context(), up, opts)
	if err != nil {
		h.handleUsecaseError(w, err, "")
		return
	}

	h.logger.Info().Str("job_id", j.ID).Str("filename", j.OriginalFilename).Msg("Job queued")
	h.respondJSON(w, http.StatusAccepted, jobResponse(j))
}

func (h *PortraitHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	req := dto.JobRequest{ID: chi.URLParam(r, "id")}
	if err := h.validate.Struct(req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid job ID", err)
		return
	}

	j, err := h.usecase.Get(r.Context(), req.ID)
	if err != nil {
		h.handleUsecaseError(w, err, req.ID)
		return
	}

	h.respondJSON(w, http.StatusOK, jobResponse(j))
}

func (h *PortraitHandler) Download(w http.ResponseWriter, r *http.Request) {
	req := dto.DownloadRequest{
		ID:   chi.URLParam(r, "id"),
		Kind: chi.URLParam(r, "kind"),
	}
	if err := h.validate.Struct(req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid download request", err)
		return
	}

	a, err := h.usecase.Download(r.Context(), req.ID, job.ArtifactKind(req.Kind))
	if err != nil {
		h.handleUsecaseError(w, err, req.ID)
		return
	}
	defer a.Body.Close()

	w.Header().Set("Content-Type", a.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", a.Filename))
	w.Header().Set("Cache-Control", "private, max-age=3600")

	if _, err := io.Copy(w, a.Body); err != nil {
		h.logger.Error().
			Err(err).
			Str("job_id", req.ID).
			Str("kind", req.Kind).
			Msg("Failed to stream artifact")
	}
}

func (h *PortraitHandler) DeleteJob(w http.ResponseWriter, r *http.Request) {
	req := dto.JobRequest{ID: chi.URLParam(r, "id")}
	if err := h.validate.Struct(req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid job ID", err)
		return
	}

	if err := h.usecase.Delete(r.Context(), req.ID); err != nil {
		h.handleUsecaseError(w, err, req.ID)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// parseSingle reads the "file" field and the processing options. It writes
// the error response itself and reports ok=false when the request is rejected.
func (h *PortraitHandler) parseSingle(w http.ResponseWriter, r *http.Request) (job.Upload, dto.ProcessRequest, domain.ProcessingOptions, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload+maxMemory)

	if err := r.ParseMultipartForm(maxMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.respondError(w, http.StatusRequestEntityTooLarge, "File too large", ErrFileTooLarge)
			return job.Upload{}, dto.ProcessRequest{}, domain.ProcessingOptions{}, false
		}
		h.logger.Warn().Err(err).Msg("Failed to parse multipart form")
		h.respondError(w, http.StatusBadRequest, "Invalid request format", nil)
		return job.Upload{}, dto.ProcessRequest{}, domain.ProcessingOptions{}, false
	}

	file, fh, err := r.FormFile("file")
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "File is required", ErrFileRequired)
		return job.Upload{}, dto.ProcessRequest{}, domain.ProcessingOptions{}, false
	}
	file.Close()

	opts, req, ok := h.parseOptions(w, r)
	if !ok {
		return job.Upload{}, dto.ProcessRequest{}, domain.ProcessingOptions{}, false
	}

	up, err := readUpload(fh, h.maxUpload)
	if err != nil {
		h.handleUploadError(w, err, fh.Filename)
		return job.Upload{}, dto.ProcessRequest{}, domain.ProcessingOptions{}, false
	}

	return up, req, opts, true
}

func (h *PortraitHandler) parseOptions(w http.ResponseWriter, r *http.Request) (domain.ProcessingOptions, dto.ProcessRequest, bool) {
	req, err := parseProcessRequest(r.MultipartForm.Value)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid parameters", err)
		return domain.ProcessingOptions{}, req, false
	}
	if err := h.validate.Struct(req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid parameters", err)
		return domain.ProcessingOptions{}, req, false
	}
	return applyRequest(h.defaults, req), req, true
}

func (h *PortraitHandler) handleUploadError(w http.ResponseWriter, err error, filename string) {
	switch {
	case errors.Is(err, ErrFileTooLarge):
		h.logger.Warn().Str("filename", filename).Msg("File too large")
		h.respondError(w, http.StatusRequestEntityTooLarge, "File too large", err)
	case errors.Is(err, ErrInvalidFileFormat):
		h.logger.Warn().Str("filename", filename).Msg("Invalid file format")
		h.respondError(w, http.StatusBadRequest, "Unsupported file format", err)
	default:
		h.logger.Error().Err(err).Str("filename", filename).Msg("Failed to read upload")
		h.respondError(w, http.StatusInternalServerError, "Failed to read file", err)
	}
}

func (h *PortraitHandler) handlePipelineError(w http.ResponseWriter, res *domain.ProcessingResult, filename string) {
	status, message := pipelineStatus(res.Error)
	h.logger.Info().
		Str("filename", filename).
		Str("code", string(res.Error)).
		Dur("duration", res.ProcessingTime).
		Msg("Processing did not succeed")

	h.respondJSON(w, status, dto.ErrorResponse{
		Error:   http.StatusText(status),
		Code:    string(res.Error),
		Message: message,
	})
}

func (h *PortraitHandler) handleUsecaseError(w http.ResponseWriter, err error, jobID string) {
	switch {
	case errors.Is(err, job.ErrJobNotFound):
		h.respondError(w, http.StatusNotFound, "Job not found", nil)
	case errors.Is(err, job.ErrArtifactNotFound):
		h.respondError(w, http.StatusNotFound, "Output not found", nil)
	case errors.Is(err, job.ErrUnknownArtifact):
		h.respondError(w, http.StatusBadRequest, "Unknown output kind", nil)
	case errors.Is(err, job.ErrInvalidImage):
		h.respondJSON(w, http.StatusBadRequest, dto.ErrorResponse{
			Error:   http.StatusText(http.StatusBadRequest),
			Code:    string(domain.ErrorInvalidImage),
			Message: "Image could not be decoded",
		})
	case errors.Is(err, job.ErrAsyncDisabled):
		h.respondError(w, http.StatusNotImplemented, "Asynchronous jobs are not enabled", nil)
	default:
		h.logger.Error().Err(err).Str("job_id", jobID).Msg("Request failed")
		h.respondError(w, http.StatusInternalServerError, "Internal error", err)
	}
}

func pipelineStatus(code domain.ErrorCode) (int, string) {
	switch code {
	case domain.ErrorNoFaceDetected:
		return http.StatusUnprocessableEntity, "No face detected in the image"
	case domain.ErrorInvalidImage:
		return http.StatusBadRequest, "Image could not be decoded"
	case domain.ErrorBusy:
		return http.StatusServiceUnavailable, "Server is busy, try again later"
	case domain.ErrorCanceled:
		return http.StatusRequestTimeout, "Processing was canceled"
	default:
		return http.StatusInternalServerError, "Processing failed"
	}
}

func processResponse(o *job.Outcome) dto.ProcessResponse {
	j := o.Job
	return dto.ProcessResponse{
		Success:        true,
		JobID:          j.ID,
		FaceDetected:   j.FaceDetected,
		FaceCount:      j.FaceCount,
		FacePosition:   j.FacePosition,
		ProcessingTime: j.ProcessingTime.Seconds(),
		Cached:         o.Cached,
		PNGURL:         artifactURL(j.ID, j.PNGPath, job.ArtifactPNG),
		JPGURL:         artifactURL(j.ID, j.JPEGPath, job.ArtifactJPG),
		PreviewURL:     artifactURL(j.ID, j.PreviewPath, job.ArtifactPreview),
	}
}

func batchItemResponse(item job.BatchItem) dto.BatchItemResponse {
	resp := dto.BatchItemResponse{Filename: item.Filename}
	switch {
	case item.Err != nil:
		resp.Error = item.Err.Error()
	case item.Outcome.Job == nil:
		resp.FaceDetected = item.Outcome.Result.FaceDetected
		resp.Error = string(item.Outcome.Result.Error)
	default:
		j := item.Outcome.Job
		resp.Success = true
		resp.JobID = j.ID
		resp.FaceDetected = j.FaceDetected
		resp.FacePosition = j.FacePosition
		resp.PNGURL = artifactURL(j.ID, j.PNGPath, job.ArtifactPNG)
		resp.JPGURL = artifactURL(j.ID, j.JPEGPath, job.ArtifactJPG)
	}
	return resp
}

func jobResponse(j *domain.Job) dto.JobResponse {
	resp := dto.JobResponse{
		ID:           j.ID,
		Status:       string(j.Status),
		Filename:     j.OriginalFilename,
		Size:         j.OriginalSize,
		FaceDetected: j.FaceDetected,
		FaceCount:    j.FaceCount,
		FacePosition: j.FacePosition,
		Error:        j.Error,
		CreatedAt:    j.CreatedAt,
		UpdatedAt:    j.UpdatedAt,
	}
	if j.Status == domain.JobCompleted {
		resp.ProcessingTime = j.ProcessingTime.Seconds()
		resp.PNGURL = artifactURL(j.ID, j.PNGPath, job.ArtifactPNG)
		resp.JPGURL = artifactURL(j.ID, j.JPEGPath, job.ArtifactJPG)
		resp.PreviewURL = artifactURL(j.ID, j.PreviewPath, job.ArtifactPreview)
	}
	return resp
}

func artifactURL(id, key string, kind job.ArtifactKind) string {
	if key == "" {
		return ""
	}
	return downloadPrefix + id + "/" + string(kind)
}

func (h *PortraitHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error().Err(err).Msg("Failed to encode response")
	}
}

func (h *PortraitHandler) respondError(w http.ResponseWriter, status int, message string, err error) {
	response := dto.ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
	}

	if err != nil {
		response.Details = err.Error()
	}

	h.respondJSON(w, status, response)
}
