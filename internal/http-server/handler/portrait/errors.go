package portrait

import "errors"

var (
	ErrFileRequired      = errors.New("file is required")
	ErrInvalidFileFormat = errors.New("unsupported file format")
	ErrFileTooLarge      = errors.New("file too large")
	ErrTooManyFiles      = errors.New("too many files")
	ErrInvalidField      = errors.New("invalid form field")
)
