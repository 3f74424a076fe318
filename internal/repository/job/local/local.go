package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"facecraft/internal/repository/job"
)

// FileRepository keeps artifacts under a root directory, one file per key.
type FileRepository struct {
	root string
}

func NewFileRepository(root string) (*FileRepository, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage dir %s: %w", root, err)
	}
	return &FileRepository{root: filepath.Clean(root)}, nil
}

func (r *FileRepository) path(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == "." || !filepath.IsLocal(clean) {
		return "", fmt.Errorf("%w: %q", job.ErrInvalidKey, key)
	}
	return filepath.Join(r.root, clean), nil
}

func (r *FileRepository) Put(ctx context.Context, key string, data []byte, _ string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	path, err := r.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("%w: %v", job.ErrStorageError, err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("%w: %v", job.ErrStorageError, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: %v", job.ErrStorageError, err)
	}
	return nil
}

func (r *FileRepository) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path, err := r.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", job.ErrFileNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", job.ErrStorageError, err)
	}
	return f, nil
}

// Delete removes the file and any directories it leaves empty under root.
func (r *FileRepository) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	path, err := r.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %v", job.ErrStorageError, err)
	}

	for dir := filepath.Dir(path); dir != r.root && len(dir) > len(r.root); dir = filepath.Dir(dir) {
		if os.Remove(dir) != nil {
			break
		}
	}
	return nil
}
