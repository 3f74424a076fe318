package job

import (
	"context"
	"io"
	"time"

	"facecraft/internal/domain"

	"github.com/wb-go/wbf/retry"
)

type portraitProcessor interface {
	ProcessBytes(ctx context.Context, data []byte, opts domain.ProcessingOptions) *domain.ProcessingResult
}

type jobRepository interface {
	Save(ctx context.Context, j *domain.Job) error
	GetByID(ctx context.Context, id string) (*domain.Job, error)
	UpdateStatus(ctx context.Context, id string, status domain.JobStatus) error
	SaveResult(ctx context.Context, j *domain.Job) error
	Delete(ctx context.Context, id string) error
	ListExpired(ctx context.Context, before time.Time, limit int) ([]domain.Job, error)
}

type fileRepository interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

type taskProducer interface {
	Send(ctx context.Context, strategy retry.Strategy, key, value []byte) error
}

type resultCache interface {
	GetJobID(ctx context.Context, hash string) (string, error)
	SetJobID(ctx context.Context, hash, jobID string) error
	Forget(ctx context.Context, hash string) error
}
