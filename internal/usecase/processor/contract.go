package processor

import (
	"image"
	"image/color"
	"time"

	"facecraft/internal/face"
	"facecraft/internal/stats"
)

type faceDetector interface {
	DetectFace(img *image.NRGBA) (face.Detection, error)
	CanAlign() bool
	AlignFace(img *image.NRGBA, rect image.Rectangle) (face.Alignment, error)
	CropFace(img *image.NRGBA, rect image.Rectangle, margin float64) (*image.NRGBA, image.Rectangle)
}

type backgroundRemover interface {
	RemoveBackground(img *image.NRGBA) (*image.NRGBA, error)
}

type faceEnhancer interface {
	IsAvailable() bool
	Enhance(img *image.NRGBA, fidelity float64) (*image.NRGBA, error)
}

type photoEnhancer interface {
	Enhance(img *image.NRGBA) *image.NRGBA
}

type ovalMask interface {
	Apply(img *image.NRGBA) *image.NRGBA
}

type imageResizer interface {
	ResizeWithPadding(src *image.NRGBA, width, height int, bg color.NRGBA, transparent bool) *image.NRGBA
}

type annotator interface {
	Annotate(src *image.NRGBA, faces []image.Rectangle, chosen int) (*image.NRGBA, error)
}

type statsCollector interface {
	Record(outcome stats.Outcome, d time.Duration)
	Snapshot() stats.Snapshot
	Reset() stats.Snapshot
}
