package job

import "errors"

var (
	ErrJobNotFound       = errors.New("job not found")
	ErrArtifactNotFound  = errors.New("artifact not found")
	ErrUnknownArtifact   = errors.New("unknown artifact kind")
	ErrInvalidImage      = errors.New("invalid image")
	ErrAsyncDisabled     = errors.New("asynchronous processing is not configured")
	ErrStorageError      = errors.New("storage error")
	ErrDatabaseError     = errors.New("database error")
	ErrMessageQueueError = errors.New("message queue error")

	errBusy = errors.New("processor busy")
)
