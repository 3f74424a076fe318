package job

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"facecraft/internal/domain"
	"facecraft/internal/imaging"
	repojob "facecraft/internal/repository/job"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"
)

const (
	cleanupBatch = 100

	// maxTaskAttempts bounds how often a task is requeued after failures.
	maxTaskAttempts = 3
	requeueTimeout  = 10 * time.Second
)

type ArtifactKind string

const (
	ArtifactPNG     ArtifactKind = "png"
	ArtifactJPG     ArtifactKind = "jpg"
	ArtifactPreview ArtifactKind = "preview"
)

type Upload struct {
	Filename string
	MimeType string
	Data     []byte
}

// Outcome of a synchronous run. Job is nil when the pipeline did not succeed;
// Result then carries the error code.
type Outcome struct {
	Job    *domain.Job
	Result *domain.ProcessingResult
	Cached bool
}

type BatchItem struct {
	Filename string
	Outcome  *Outcome
	Err      error
}

type Artifact struct {
	Body        io.ReadCloser
	ContentType string
	Filename    string
}

type JobUsecase struct {
	processor portraitProcessor
	repo      jobRepository
	files     fileRepository
	producer  taskProducer
	cache     resultCache
	retries   retry.Strategy
	logger    *zlog.Zerolog
	now       func() time.Time
}

type Option func(*JobUsecase)

// WithProducer enables asynchronous jobs.
func WithProducer(p taskProducer) Option {
	return func(u *JobUsecase) { u.producer = p }
}

// WithCache enables reuse of completed jobs for identical uploads.
func WithCache(c resultCache) Option {
	return func(u *JobUsecase) { u.cache = c }
}

func WithClock(now func() time.Time) Option {
	return func(u *JobUsecase) { u.now = now }
}

func NewJobUsecase(processor portraitProcessor, repo jobRepository, files fileRepository, retries retry.Strategy, logger *zlog.Zerolog, opts ...Option) *JobUsecase {
	u := &JobUsecase{
		processor: processor,
		repo:      repo,
		files:     files,
		retries:   retries,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

func (u *JobUsecase) AsyncEnabled() bool {
	return u.producer != nil
}

// Process runs the pipeline in the request and stores the outputs as a
// completed job.
func (u *JobUsecase) Process(ctx context.Context, up Upload, opts domain.ProcessingOptions) (*Outcome, error) {
	opts.Outputs = domain.OutputAll
	hash := contentHash(up.Data, opts)

	if out := u.cached(ctx, hash); out != nil {
		u.logger.Info().Str("job_id", out.Job.ID).Str("filename", up.Filename).Msg("Serving cached result")
		return out, nil
	}

	res := u.processor.ProcessBytes(ctx, up.Data, opts)
	if !res.Success {
		return &Outcome{Result: res}, nil
	}

	now := u.now()
	j := &domain.Job{
		ID:               uuid.New().String(),
		OriginalFilename: up.Filename,
		OriginalSize:     int64(len(up.Data)),
		MimeType:         up.MimeType,
		Status:           domain.JobProcessing,
		ContentHash:      hash,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := u.repo.Save(ctx, j); err != nil {
		u.logger.Error().Err(err).Str("job_id", j.ID).Msg("Failed to save job")
		return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}

	if err := u.finish(ctx, j, res); err != nil {
		return nil, err
	}

	u.logger.Info().Str("job_id", j.ID).Str("filename", up.Filename).Dur("duration", res.ProcessingTime).Msg("Portrait processed")
	return &Outcome{Job: j, Result: res}, nil
}

// Quick runs the pipeline for a PNG only and stores nothing.
func (u *JobUsecase) Quick(ctx context.Context, data []byte, opts domain.ProcessingOptions) *domain.ProcessingResult {
	opts.Outputs = domain.OutputPNG
	return u.processor.ProcessBytes(ctx, data, opts)
}

// Batch processes uploads one after another. Once ctx ends the remaining
// items fail with the context error.
func (u *JobUsecase) Batch(ctx context.Context, uploads []Upload, opts domain.ProcessingOptions) []BatchItem {
	items := make([]BatchItem, len(uploads))
	for i, up := range uploads {
		items[i].Filename = up.Filename
		if err := ctx.Err(); err != nil {
			items[i].Err = err
			continue
		}
		items[i].Outcome, items[i].Err = u.Process(ctx, up, opts)
	}
	return items
}

// Submit stores the upload and queues it for the worker.
func (u *JobUsecase) Submit(ctx context.Context, up Upload, opts domain.ProcessingOptions) (*domain.Job, error) {
	if u.producer == nil {
		return nil, ErrAsyncDisabled
	}
	if _, err := imaging.Probe(up.Data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}

	opts.Outputs = domain.OutputAll
	hash := contentHash(up.Data, opts)
	if out := u.cached(ctx, hash); out != nil {
		return out.Job, nil
	}

	id := uuid.New().String()
	sourceKey := artifactKey(id, domain.ArtifactSource)
	if err := u.files.Put(ctx, sourceKey, up.Data, up.MimeType); err != nil {
		u.logger.Error().Err(err).Str("job_id", id).Msg("Failed to store upload")
		return nil, fmt.Errorf("%w: %v", ErrStorageError, err)
	}

	now := u.now()
	j := &domain.Job{
		ID:               id,
		OriginalFilename: up.Filename,
		OriginalSize:     int64(len(up.Data)),
		MimeType:         up.MimeType,
		Status:           domain.JobQueued,
		SourcePath:       sourceKey,
		ContentHash:      hash,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := u.repo.Save(ctx, j); err != nil {
		u.deleteKey(ctx, sourceKey)
		return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}

	task := domain.ProcessingTask{
		ID:         uuid.New().String(),
		JobID:      id,
		SourcePath: sourceKey,
		Options:    domain.TaskOptionsFrom(opts),
		CreatedAt:  now,
	}
	payload, err := json.Marshal(task)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal task: %w", err)
	}

	if err := u.producer.Send(ctx, u.retries, []byte(id), payload); err != nil {
		u.logger.Error().Err(err).Str("job_id", id).Msg("Failed to send task to Kafka")
		u.updateStatus(ctx, id, domain.JobFailed)
		return nil, fmt.Errorf("%w: %v", ErrMessageQueueError, err)
	}

	u.logger.Info().Str("job_id", id).Str("filename", up.Filename).Msg("Job queued for processing")
	return j, nil
}

// RunTask executes a queued job. Transient failures are retried in place
// with the configured strategy; work that still cannot finish is put back on
// the queue or, after maxTaskAttempts, marked failed. A nil error means the
// task is settled and its message can be committed.
func (u *JobUsecase) RunTask(ctx context.Context, task domain.ProcessingTask) error {
	var j *domain.Job
	gone := false
	err := u.attempt(ctx, func() error {
		got, err := u.repo.GetByID(ctx, task.JobID)
		if errors.Is(err, repojob.ErrJobNotFound) {
			gone = true
			return nil
		}
		j = got
		return err
	})
	if gone {
		u.logger.Warn().Str("job_id", task.JobID).Msg("Job vanished before processing, skipping")
		return nil
	}
	if err != nil {
		return u.requeue(ctx, task, nil, fmt.Errorf("%w: %v", ErrDatabaseError, err), true)
	}
	if j.Status == domain.JobCompleted || j.Status == domain.JobFailed {
		u.logger.Debug().Str("job_id", j.ID).Str("status", string(j.Status)).Msg("Job already finished, skipping")
		return nil
	}

	u.updateStatus(ctx, j.ID, domain.JobProcessing)

	var data []byte
	missing := false
	err = u.attempt(ctx, func() error {
		var err error
		data, err = u.read(ctx, task.SourcePath)
		if errors.Is(err, repojob.ErrFileNotFound) {
			missing = true
			return nil
		}
		return err
	})
	if missing {
		j.Error = "source image missing"
		return u.fail(ctx, j)
	}
	if err != nil {
		return u.requeue(ctx, task, j, fmt.Errorf("%w: %v", ErrStorageError, err), true)
	}

	var res *domain.ProcessingResult
	_ = u.attempt(ctx, func() error {
		res = u.processor.ProcessBytes(ctx, data, task.Options.Options())
		if res.Error == domain.ErrorBusy {
			return errBusy
		}
		return nil
	})
	switch res.Error {
	case domain.ErrorBusy, domain.ErrorCanceled:
		// Neither outcome says anything about the job itself.
		return u.requeue(ctx, task, j, fmt.Errorf("job %s: %s", j.ID, res.Error), false)
	}

	if !res.Success {
		applyResult(j, res)
		return u.fail(ctx, j)
	}

	if err := u.attempt(ctx, func() error { return u.storeOutputs(ctx, j, res) }); err != nil {
		u.logger.Error().Err(err).Str("job_id", j.ID).Msg("Failed to store job outputs")
		j.Error = string(domain.ErrorProcessingFailed)
		return u.fail(ctx, j)
	}
	if err := u.attempt(ctx, func() error { return u.complete(ctx, j, res) }); err != nil {
		return u.requeue(ctx, task, j, err, true)
	}

	u.logger.Info().Str("job_id", j.ID).Dur("duration", res.ProcessingTime).Msg("Job completed")
	return nil
}

// requeue puts task back on the queue with the job marked queued again.
// Charged requeues count towards maxTaskAttempts; past it the job fails.
func (u *JobUsecase) requeue(ctx context.Context, task domain.ProcessingTask, j *domain.Job, cause error, charge bool) error {
	// Shutdown cancels ctx, but the task still has to reach the queue.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), requeueTimeout)
	defer cancel()

	if charge {
		task.Attempt++
	}
	if task.Attempt >= maxTaskAttempts || u.producer == nil {
		u.logger.Error().Err(cause).Str("job_id", task.JobID).Int("attempt", task.Attempt).Msg("Giving up on task")
		if j == nil {
			if err := u.repo.UpdateStatus(ctx, task.JobID, domain.JobFailed); err != nil && !errors.Is(err, repojob.ErrJobNotFound) {
				return cause
			}
			return nil
		}
		j.Error = string(domain.ErrorProcessingFailed)
		if err := u.fail(ctx, j); err != nil {
			return cause
		}
		return nil
	}

	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	u.updateStatus(ctx, task.JobID, domain.JobQueued)
	if err := u.producer.Send(ctx, u.retries, []byte(task.JobID), payload); err != nil {
		u.logger.Error().Err(err).Str("job_id", task.JobID).Msg("Failed to requeue task")
		return fmt.Errorf("%w: %v", ErrMessageQueueError, err)
	}

	u.logger.Warn().Err(cause).Str("job_id", task.JobID).Int("attempt", task.Attempt).Msg("Task requeued")
	return nil
}

// fail stores j as failed. j.Error must already be set.
func (u *JobUsecase) fail(ctx context.Context, j *domain.Job) error {
	j.Status = domain.JobFailed
	return u.attempt(ctx, func() error { return u.saveResult(ctx, j) })
}

// attempt runs fn under the retry strategy, at least once.
func (u *JobUsecase) attempt(ctx context.Context, fn func() error) error {
	s := u.retries
	if s.Attempts < 1 {
		s.Attempts = 1
	}
	return retry.DoContext(ctx, s, fn)
}

func (u *JobUsecase) Get(ctx context.Context, id string) (*domain.Job, error) {
	j, err := u.repo.GetByID(ctx, id)
	if errors.Is(err, repojob.ErrJobNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	return j, nil
}

func (u *JobUsecase) Download(ctx context.Context, id string, kind ArtifactKind) (*Artifact, error) {
	j, err := u.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	stem := strings.TrimSuffix(filepath.Base(j.OriginalFilename), filepath.Ext(j.OriginalFilename))
	if stem == "" || stem == "." {
		stem = j.ID
	}

	var a Artifact
	var key string
	switch kind {
	case ArtifactPNG:
		key, a.ContentType, a.Filename = j.PNGPath, "image/png", stem+".png"
	case ArtifactJPG:
		key, a.ContentType, a.Filename = j.JPEGPath, "image/jpeg", stem+".jpg"
	case ArtifactPreview:
		key, a.ContentType, a.Filename = j.PreviewPath, "image/jpeg", stem+".preview.jpg"
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownArtifact, kind)
	}
	if key == "" {
		return nil, fmt.Errorf("%w: job %s has no %s output", ErrArtifactNotFound, id, kind)
	}

	body, err := u.files.Get(ctx, key)
	if errors.Is(err, repojob.ErrFileNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrArtifactNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageError, err)
	}

	a.Body = body
	return &a, nil
}

func (u *JobUsecase) Delete(ctx context.Context, id string) error {
	j, err := u.Get(ctx, id)
	if err != nil {
		return err
	}

	if err := u.remove(ctx, j); err != nil {
		return err
	}

	u.logger.Info().Str("job_id", id).Msg("Job deleted")
	return nil
}

// CleanupExpired deletes jobs created more than maxAge ago and returns how
// many were removed.
func (u *JobUsecase) CleanupExpired(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := u.now().Add(-maxAge)
	total := 0

	for {
		jobs, err := u.repo.ListExpired(ctx, cutoff, cleanupBatch)
		if err != nil {
			return total, fmt.Errorf("%w: %v", ErrDatabaseError, err)
		}

		removed := 0
		for i := range jobs {
			if err := u.remove(ctx, &jobs[i]); err != nil {
				u.logger.Error().Err(err).Str("job_id", jobs[i].ID).Msg("Failed to clean up job")
				continue
			}
			removed++
		}
		total += removed

		if len(jobs) < cleanupBatch || removed == 0 {
			break
		}
	}

	if total > 0 {
		u.logger.Info().Int("removed", total).Time("cutoff", cutoff).Msg("Expired jobs cleaned up")
	}
	return total, nil
}

func (u *JobUsecase) remove(ctx context.Context, j *domain.Job) error {
	for _, key := range []string{j.SourcePath, j.PNGPath, j.JPEGPath, j.PreviewPath} {
		if key != "" {
			u.deleteKey(ctx, key)
		}
	}
	u.forget(ctx, j.ContentHash)

	if err := u.repo.Delete(ctx, j.ID); err != nil {
		if errors.Is(err, repojob.ErrJobNotFound) {
			return ErrJobNotFound
		}
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	return nil
}

// finish stores the outputs of a successful run and marks the job completed.
func (u *JobUsecase) finish(ctx context.Context, j *domain.Job, res *domain.ProcessingResult) error {
	if err := u.storeOutputs(ctx, j, res); err != nil {
		u.logger.Error().Err(err).Str("job_id", j.ID).Msg("Failed to store artifact")
		j.Status = domain.JobFailed
		j.Error = string(domain.ErrorProcessingFailed)
		if saveErr := u.saveResult(ctx, j); saveErr != nil {
			u.logger.Error().Err(saveErr).Str("job_id", j.ID).Msg("Failed to mark job failed")
		}
		return err
	}
	return u.complete(ctx, j, res)
}

func (u *JobUsecase) storeOutputs(ctx context.Context, j *domain.Job, res *domain.ProcessingResult) error {
	outputs := []struct {
		name string
		data []byte
		ct   string
		path *string
	}{
		{domain.ArtifactPNG, res.PNG, "image/png", &j.PNGPath},
		{domain.ArtifactJPEG, res.JPEG, "image/jpeg", &j.JPEGPath},
		{domain.ArtifactPreview, res.Annotated, "image/jpeg", &j.PreviewPath},
	}

	for _, o := range outputs {
		if o.data == nil {
			continue
		}
		key := artifactKey(j.ID, o.name)
		if err := u.files.Put(ctx, key, o.data, o.ct); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrStorageError, key, err)
		}
		*o.path = key
	}
	return nil
}

func (u *JobUsecase) complete(ctx context.Context, j *domain.Job, res *domain.ProcessingResult) error {
	j.Status = domain.JobCompleted
	applyResult(j, res)
	if err := u.saveResult(ctx, j); err != nil {
		return err
	}

	u.remember(ctx, j.ContentHash, j.ID)
	return nil
}

func (u *JobUsecase) saveResult(ctx context.Context, j *domain.Job) error {
	if err := u.repo.SaveResult(ctx, j); err != nil {
		if errors.Is(err, repojob.ErrJobNotFound) {
			u.logger.Warn().Str("job_id", j.ID).Msg("Job deleted while processing")
			return nil
		}
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	return nil
}

// cached returns a completed job for hash with its outputs loaded, or nil.
// Stale entries are dropped.
func (u *JobUsecase) cached(ctx context.Context, hash string) *Outcome {
	if u.cache == nil {
		return nil
	}

	id, err := u.cache.GetJobID(ctx, hash)
	if err != nil {
		u.logger.Warn().Err(err).Msg("Result cache lookup failed")
		return nil
	}
	if id == "" {
		return nil
	}

	j, err := u.repo.GetByID(ctx, id)
	if err != nil || j.Status != domain.JobCompleted {
		u.forget(ctx, hash)
		return nil
	}

	res := &domain.ProcessingResult{
		Success:        true,
		FaceDetected:   j.FaceDetected,
		FaceCount:      j.FaceCount,
		FacePosition:   j.FacePosition,
		ProcessingTime: j.ProcessingTime,
	}
	if j.PNGPath != "" {
		if res.PNG, err = u.read(ctx, j.PNGPath); err != nil {
			u.forget(ctx, hash)
			return nil
		}
	}
	if j.JPEGPath != "" {
		if res.JPEG, err = u.read(ctx, j.JPEGPath); err != nil {
			u.forget(ctx, hash)
			return nil
		}
	}

	return &Outcome{Job: j, Result: res, Cached: true}
}

func (u *JobUsecase) remember(ctx context.Context, hash, id string) {
	if u.cache == nil || hash == "" {
		return
	}
	if err := u.cache.SetJobID(ctx, hash, id); err != nil {
		u.logger.Warn().Err(err).Str("job_id", id).Msg("Failed to cache result")
	}
}

func (u *JobUsecase) forget(ctx context.Context, hash string) {
	if u.cache == nil || hash == "" {
		return
	}
	if err := u.cache.Forget(ctx, hash); err != nil {
		u.logger.Warn().Err(err).Msg("Failed to drop cache entry")
	}
}

func (u *JobUsecase) read(ctx context.Context, key string) ([]byte, error) {
	rc, err := u.files.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, rc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (u *JobUsecase) deleteKey(ctx context.Context, key string) {
	if err := u.files.Delete(ctx, key); err != nil && !errors.Is(err, repojob.ErrFileNotFound) {
		u.logger.Error().Err(err).Str("key", key).Msg("Failed to delete artifact")
	}
}

func (u *JobUsecase) updateStatus(ctx context.Context, id string, status domain.JobStatus) {
	if err := u.repo.UpdateStatus(ctx, id, status); err != nil {
		u.logger.Error().Err(err).Str("job_id", id).Str("status", string(status)).Msg("Failed to update status")
	}
}

func applyResult(j *domain.Job, res *domain.ProcessingResult) {
	j.FaceDetected = res.FaceDetected
	j.FaceCount = res.FaceCount
	j.FacePosition = res.FacePosition
	j.ProcessingTime = res.ProcessingTime
	j.Error = string(res.Error)
}

func artifactKey(jobID, name string) string {
	return domain.PathPrefixJobs + jobID + "/" + name
}

// contentHash identifies an upload together with the options it was
// processed with.
func contentHash(data []byte, opts domain.ProcessingOptions) string {
	h := sha256.New()
	h.Write(data)
	wire, _ := json.Marshal(domain.TaskOptionsFrom(opts))
	h.Write(wire)
	return hex.EncodeToString(h.Sum(nil))
}
