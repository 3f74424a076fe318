package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"facecraft/internal/domain"
	"facecraft/internal/repository/job"

	"github.com/wb-go/wbf/dbpg"
	"github.com/wb-go/wbf/retry"
)

const schema = `
	CREATE TABLE IF NOT EXISTS jobs (
		id                TEXT PRIMARY KEY,
		original_filename TEXT NOT NULL,
		original_size     BIGINT NOT NULL,
		mime_type         TEXT NOT NULL,
		status            TEXT NOT NULL,
		source_path       TEXT NOT NULL DEFAULT '',
		png_path          TEXT NOT NULL DEFAULT '',
		jpeg_path         TEXT NOT NULL DEFAULT '',
		preview_path      TEXT NOT NULL DEFAULT '',
		content_hash      TEXT NOT NULL DEFAULT '',
		face_detected     BOOLEAN NOT NULL DEFAULT FALSE,
		face_count        INTEGER NOT NULL DEFAULT 0,
		face_x            INTEGER,
		face_y            INTEGER,
		face_width        INTEGER,
		face_height       INTEGER,
		error             TEXT NOT NULL DEFAULT '',
		processing_ms     BIGINT NOT NULL DEFAULT 0,
		created_at        TIMESTAMPTZ NOT NULL,
		updated_at        TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS jobs_created_at_idx ON jobs (created_at);
`

const jobColumns = `
	id, original_filename, original_size, mime_type, status,
	source_path, png_path, jpeg_path, preview_path, content_hash,
	face_detected, face_count, face_x, face_y, face_width, face_height,
	error, processing_ms, created_at, updated_at
`

type JobsRepository struct {
	db      *dbpg.DB
	retries retry.Strategy
}

func NewJobsRepository(db *dbpg.DB, retries retry.Strategy) *JobsRepository {
	return &JobsRepository{
		db:      db,
		retries: retries,
	}
}

// EnsureSchema creates the jobs table when it does not exist yet.
func (r *JobsRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecWithRetry(ctx, r.retries, schema); err != nil {
		return fmt.Errorf("failed to init schema: %w", err)
	}
	return nil
}

func (r *JobsRepository) Ping(ctx context.Context) error {
	return r.db.Master.PingContext(ctx)
}

func (r *JobsRepository) Save(ctx context.Context, j *domain.Job) error {
	query := `
		INSERT INTO jobs (
			id, original_filename, original_size, mime_type, status,
			source_path, content_hash, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.db.ExecWithRetry(ctx, r.retries, query,
		j.ID,
		j.OriginalFilename,
		j.OriginalSize,
		j.MimeType,
		j.Status,
		j.SourcePath,
		j.ContentHash,
		j.CreatedAt,
		j.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}

	return nil
}

func (r *JobsRepository) GetByID(ctx context.Context, id string) (*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1 AND status != $2`

	row, err := r.db.QueryRowWithRetry(ctx, r.retries, query, id, domain.JobDeleted)
	if err != nil {
		return nil, fmt.Errorf("failed to query job: %w", err)
	}

	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, job.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan job: %w", err)
	}

	return j, nil
}

func (r *JobsRepository) UpdateStatus(ctx context.Context, id string, status domain.JobStatus) error {
	query := `UPDATE jobs SET status = $1, updated_at = $2 WHERE id = $3 AND status != $4`

	result, err := r.db.ExecWithRetry(ctx, r.retries, query, status, time.Now(), id, domain.JobDeleted)
	if err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}

	return expectAffected(result)
}

// SaveResult stores the outcome of a finished run: status, artifact paths
// and the face summary.
func (r *JobsRepository) SaveResult(ctx context.Context, j *domain.Job) error {
	query := `
		UPDATE jobs SET
			status = $1, png_path = $2, jpeg_path = $3, preview_path = $4,
			face_detected = $5, face_count = $6,
			face_x = $7, face_y = $8, face_width = $9, face_height = $10,
			error = $11, processing_ms = $12, updated_at = $13
		WHERE id = $14 AND status != $15
	`

	var x, y, w, h sql.NullInt64
	if fp := j.FacePosition; fp != nil {
		x = sql.NullInt64{Int64: int64(fp.X), Valid: true}
		y = sql.NullInt64{Int64: int64(fp.Y), Valid: true}
		w = sql.NullInt64{Int64: int64(fp.Width), Valid: true}
		h = sql.NullInt64{Int64: int64(fp.Height), Valid: true}
	}

	j.UpdatedAt = time.Now()
	result, err := r.db.ExecWithRetry(ctx, r.retries, query,
		j.Status,
		j.PNGPath,
		j.JPEGPath,
		j.PreviewPath,
		j.FaceDetected,
		j.FaceCount,
		x, y, w, h,
		j.Error,
		j.ProcessingTime.Milliseconds(),
		j.UpdatedAt,
		j.ID,
		domain.JobDeleted,
	)
	if err != nil {
		return fmt.Errorf("failed to save job result: %w", err)
	}

	return expectAffected(result)
}

// Delete marks the job deleted and forgets its artifact paths.
func (r *JobsRepository) Delete(ctx context.Context, id string) error {
	query := `
		UPDATE jobs SET status = $1, source_path = '', png_path = '', jpeg_path = '',
			preview_path = '', updated_at = $2
		WHERE id = $3 AND status != $1
	`

	result, err := r.db.ExecWithRetry(ctx, r.retries, query, domain.JobDeleted, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}

	return expectAffected(result)
}

// ListExpired returns live jobs created before the cutoff, oldest first.
func (r *JobsRepository) ListExpired(ctx context.Context, before time.Time, limit int) ([]domain.Job, error) {
	query := `SELECT ` + jobColumns + `
		FROM jobs
		WHERE status != $1 AND created_at < $2
		ORDER BY created_at
		LIMIT $3
	`

	rows, err := r.db.QueryWithRetry(ctx, r.retries, query, domain.JobDeleted, before, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query expired jobs: %w", err)
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, *j)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating jobs: %w", err)
	}

	return jobs, nil
}

func (r *JobsRepository) Count(ctx context.Context) (int, error) {
	query := `SELECT COUNT(*) FROM jobs WHERE status != $1`

	row, err := r.db.QueryRowWithRetry(ctx, r.retries, query, domain.JobDeleted)
	if err != nil {
		return 0, fmt.Errorf("failed to count jobs: %w", err)
	}

	var count int
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to scan count: %w", err)
	}

	return count, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(s scanner) (*domain.Job, error) {
	var (
		j          domain.Job
		x, y, w, h sql.NullInt64
		ms         int64
	)

	err := s.Scan(
		&j.ID,
		&j.OriginalFilename,
		&j.OriginalSize,
		&j.MimeType,
		&j.Status,
		&j.SourcePath,
		&j.PNGPath,
		&j.JPEGPath,
		&j.PreviewPath,
		&j.ContentHash,
		&j.FaceDetected,
		&j.FaceCount,
		&x, &y, &w, &h,
		&j.Error,
		&ms,
		&j.CreatedAt,
		&j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if x.Valid && y.Valid && w.Valid && h.Valid {
		j.FacePosition = &domain.FaceRect{X: int(x.Int64), Y: int(y.Int64), Width: int(w.Int64), Height: int(h.Int64)}
	}
	j.ProcessingTime = time.Duration(ms) * time.Millisecond

	return &j, nil
}

func expectAffected(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}

	if affected == 0 {
		return job.ErrJobNotFound
	}

	return nil
}
