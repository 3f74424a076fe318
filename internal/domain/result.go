package domain

import (
	"image"
	"time"
)

type ErrorCode string

const (
	ErrorNoFaceDetected   ErrorCode = "no_face_detected"
	ErrorInvalidImage     ErrorCode = "invalid_image"
	ErrorProcessingFailed ErrorCode = "processing_failed"
	ErrorCanceled         ErrorCode = "processing_canceled"
	ErrorBusy             ErrorCode = "server_busy"
)

type FaceRect struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

func RectFrom(r image.Rectangle) FaceRect {
	return FaceRect{X: r.Min.X, Y: r.Min.Y, Width: r.Dx(), Height: r.Dy()}
}

func (f FaceRect) Rect() image.Rectangle {
	return image.Rect(f.X, f.Y, f.X+f.Width, f.Y+f.Height)
}

type StageTiming struct {
	Stage    string
	Duration time.Duration
}

// ProcessingResult is the outcome of one pipeline run. On success FacePosition
// and the requested outputs are set; on failure only Error is meaningful.
type ProcessingResult struct {
	Success        bool
	FaceDetected   bool
	FaceCount      int
	Error          ErrorCode
	ProcessingTime time.Duration

	FacePosition *FaceRect
	SourceFace   *FaceRect
	Aligned      bool
	FaceEnhanced bool
	JPEGQuality  int

	PNG       []byte
	JPEG      []byte
	Annotated []byte

	PNGPath     string
	JPEGPath    string
	PreviewPath string

	Stages []StageTiming
}

func (r *ProcessingResult) Seconds() float64 {
	return r.ProcessingTime.Seconds()
}
