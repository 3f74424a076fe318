package portrait

import (
	"context"

	"facecraft/internal/domain"
	"facecraft/internal/usecase/job"
)

type jobUsecase interface {
	Process(ctx context.Context, up job.Upload, opts domain.ProcessingOptions) (*job.Outcome, error)
	Quick(ctx context.Context, data []byte, opts domain.ProcessingOptions) *domain.ProcessingResult
	Batch(ctx context.Context, uploads []job.Upload, opts domain.ProcessingOptions) []job.BatchItem
	Submit(ctx context.Context, up job.Upload, opts domain.ProcessingOptions) (*domain.Job, error)
	Get(ctx context.Context, id string) (*domain.Job, error)
	Download(ctx context.Context, id string, kind job.ArtifactKind) (*job.Artifact, error)
	Delete(ctx context.Context, id string) error
}
