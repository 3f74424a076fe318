package imaging

import "errors"

var (
	ErrInvalidImage     = errors.New("invalid image")
	ErrUnsupportedImage = errors.New("unsupported image format")
	ErrImageTooLarge    = errors.New("image dimensions too large")
	ErrEmptyImage       = errors.New("empty image")
)
