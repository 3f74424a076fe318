package face

import (
	"fmt"
	"image"
	"math"
	"sort"

	"facecraft/internal/imaging"

	"github.com/wb-go/wbf/zlog"
)

const (
	// MinKeptFraction is the share of the face rectangle that must stay in
	// frame after alignment.
	MinKeptFraction = 0.5

	minAlignAngle = 0.5 * math.Pi / 180
	maxAlignAngle = 45 * math.Pi / 180
)

// Locator finds face rectangles in an image.
type Locator interface {
	Locate(img *image.NRGBA) ([]image.Rectangle, error)
}

// EyeLocator finds the two eye centers inside a face rectangle. ok is false
// when they cannot be found.
type EyeLocator interface {
	LocateEyes(img *image.NRGBA, face image.Rectangle) (left, right image.Point, ok bool, err error)
}

// Detection lists every face found, largest first. Face is the subject.
type Detection struct {
	Face  image.Rectangle
	Faces []image.Rectangle
}

func (d Detection) Found() bool {
	return len(d.Faces) > 0
}

func (d Detection) Count() int {
	return len(d.Faces)
}

type Alignment struct {
	Image   *image.NRGBA
	Face    image.Rectangle
	Angle   float64
	Rotated bool
}

type Detector struct {
	locator Locator
	eyes    EyeLocator
	logger  *zlog.Zerolog
}

// NewDetector builds a detector. eyes may be nil, which disables alignment.
func NewDetector(locator Locator, eyes EyeLocator, logger *zlog.Zerolog) (*Detector, error) {
	if locator == nil {
		return nil, ErrNoLocator
	}
	return &Detector{
		locator: locator,
		eyes:    eyes,
		logger:  logger,
	}, nil
}

// DetectFace runs the locator and picks the largest face by area. The other
// faces stay in the result so callers can tell one face from many.
func (d *Detector) DetectFace(img *image.NRGBA) (Detection, error) {
	rects, err := d.locator.Locate(img)
	if err != nil {
		return Detection{}, fmt.Errorf("failed to locate faces: %w", err)
	}

	faces := make([]image.Rectangle, 0, len(rects))
	for _, r := range rects {
		r = r.Intersect(img.Rect)
		if !r.Empty() {
			faces = append(faces, r)
		}
	}
	if len(faces) == 0 {
		return Detection{}, nil
	}

	SortByArea(faces)
	if len(faces) > 1 {
		d.logger.Debug().
			Int("faces", len(faces)).
			Int("chosen_area", area(faces[0])).
			Msg("Multiple faces detected, using largest")
	}

	return Detection{Face: faces[0], Faces: faces}, nil
}

// SortByArea orders rectangles by area, largest first, keeping input order on ties.
func SortByArea(rects []image.Rectangle) {
	sort.SliceStable(rects, func(i, j int) bool {
		return area(rects[i]) > area(rects[j])
	})
}

func area(r image.Rectangle) int {
	return r.Dx() * r.Dy()
}

func (d *Detector) CanAlign() bool {
	return d.eyes != nil
}

// AlignFace rotates img about the eye midpoint so the eye line is level and
// moves the face rectangle along with it. ErrFaceLost is returned when less
// than MinKeptFraction of the rectangle stays in frame.
func (d *Detector) AlignFace(img *image.NRGBA, face image.Rectangle) (Alignment, error) {
	unchanged := Alignment{Image: img, Face: face}
	if d.eyes == nil {
		return unchanged, nil
	}
	if face.Empty() {
		return unchanged, ErrEmptyFaceRect
	}

	left, right, ok, err := d.eyes.LocateEyes(img, face)
	if err != nil {
		return unchanged, fmt.Errorf("failed to locate eyes: %w", err)
	}
	if !ok {
		d.logger.Debug().Msg("Eyes not found, skipping alignment")
		return unchanged, nil
	}

	angle := math.Atan2(float64(right.Y-left.Y), float64(right.X-left.X))
	if math.Abs(angle) < minAlignAngle || math.Abs(angle) > maxAlignAngle {
		return unchanged, nil
	}

	rot := imaging.Rotation{
		Center: [2]float64{
			float64(left.X+right.X) / 2,
			float64(left.Y+right.Y) / 2,
		},
		Angle: -angle,
	}

	moved, kept := rot.ProjectRect(face, img.Rect)
	if kept < MinKeptFraction {
		return unchanged, ErrFaceLost
	}

	d.logger.Debug().
		Float64("angle_deg", angle*180/math.Pi).
		Float64("kept", kept).
		Msg("Face aligned")

	return Alignment{
		Image:   imaging.Rotate(img, rot),
		Face:    moved,
		Angle:   angle,
		Rotated: true,
	}, nil
}

// CropFace cuts the face with margin and returns the crop and its placement
// in img.
func (d *Detector) CropFace(img *image.NRGBA, face image.Rectangle, margin float64) (*image.NRGBA, image.Rectangle) {
	region := imaging.ExpandFaceRect(face, img.Rect, margin)
	return imaging.Crop(img, region), region
}
