package minio

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"facecraft/internal/config"
	"facecraft/internal/repository/job"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/wb-go/wbf/zlog"
)

type FileRepository struct {
	client *minio.Client
	bucket string
	logger *zlog.Zerolog
}

func NewMinIORepository(cfg config.Storage, logger *zlog.Zerolog) (*FileRepository, error) {
	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
		Secure: cfg.MinioUseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	return &FileRepository{
		client: client,
		bucket: cfg.MinioBucket,
		logger: logger,
	}, nil
}

// EnsureBucket creates the artifact bucket if it is missing.
func (r *FileRepository) EnsureBucket(ctx context.Context) error {
	exists, err := r.client.BucketExists(ctx, r.bucket)
	if err != nil {
		return fmt.Errorf("%w: failed to check bucket: %v", job.ErrStorageError, err)
	}
	if exists {
		return nil
	}

	if err := r.client.MakeBucket(ctx, r.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("%w: failed to create bucket: %v", job.ErrStorageError, err)
	}
	r.logger.Info().Str("bucket", r.bucket).Msg("Bucket created")
	return nil
}

func (r *FileRepository) Put(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := r.client.PutObject(ctx, r.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("%w: failed to upload %s: %v", job.ErrStorageError, key, err)
	}
	return nil
}

func (r *FileRepository) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := r.client.GetObject(ctx, r.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, r.mapError(key, err)
	}

	// GetObject is lazy; Stat surfaces a missing key now instead of on first read.
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		return nil, r.mapError(key, err)
	}
	return obj, nil
}

func (r *FileRepository) Delete(ctx context.Context, key string) error {
	if err := r.client.RemoveObject(ctx, r.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return r.mapError(key, err)
	}
	return nil
}

func (r *FileRepository) mapError(key string, err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return fmt.Errorf("%w: %s", job.ErrFileNotFound, key)
	}
	return fmt.Errorf("%w: %s: %v", job.ErrStorageError, key, err)
}
