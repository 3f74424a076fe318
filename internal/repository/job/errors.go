package job

import "errors"

var (
	ErrJobNotFound  = errors.New("job not found")
	ErrFileNotFound = errors.New("file not found")
	ErrInvalidKey   = errors.New("invalid storage key")
	ErrStorageError = errors.New("storage error")
)
