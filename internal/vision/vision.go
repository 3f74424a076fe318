// Package vision holds what the model adapters share: typed load errors and
// model file checks.
package vision

import (
	"errors"
	"fmt"
	"os"
)

var (
	ErrModelNotFound = errors.New("model file not found")
	ErrModelLoad     = errors.New("failed to load model")
	ErrInference     = errors.New("model inference failed")
)

// RequireFile reports ErrModelNotFound when path is empty, missing or a directory.
func RequireFile(path string) error {
	if path == "" {
		return fmt.Errorf("%w: no path configured", ErrModelNotFound)
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrModelNotFound, path)
		}
		return fmt.Errorf("%w: %s: %v", ErrModelLoad, path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrModelNotFound, path)
	}
	return nil
}
