package processor

import "errors"

var (
	ErrNoFace          = errors.New("no face detected")
	ErrMissingDetector = errors.New("face detector is required")
	ErrMissingRemover  = errors.New("background remover is required")
	ErrBusy            = errors.New("too many concurrent jobs")
)
