// Package restore wraps an optional face-restoration model. When the model
// cannot be loaded the enhancer reports itself unavailable instead of failing.
package restore

import (
	"errors"
	"fmt"
	"image"
	"image/draw"

	"facecraft/internal/face"
	"facecraft/internal/imaging"
	"facecraft/internal/vision"

	"github.com/wb-go/wbf/zlog"
)

// contextScale widens each face box so the model sees hair and jaw.
const contextScale = 1.6

var ErrUnavailable = errors.New("face enhancement is unavailable")

// Restorer runs the restoration model on a square face crop of InputSize.
type Restorer interface {
	InputSize() int
	Restore(face *image.NRGBA, fidelity float64) (*image.NRGBA, error)
	Close() error
}

// Loader builds a Restorer from a weights file.
type Loader func(path string) (Restorer, error)

type Enhancer struct {
	restorer Restorer
	locator  face.Locator
	resizer  *imaging.Resizer
	reason   error
	logger   *zlog.Zerolog
}

// NewEnhancer never fails. A missing weights file is logged at info level;
// any other load failure, panics included, is logged as a warning. Both leave
// the enhancer unavailable.
func NewEnhancer(path string, load Loader, locator face.Locator, logger *zlog.Zerolog) *Enhancer {
	e := &Enhancer{
		locator: locator,
		resizer: imaging.NewResizer(),
		logger:  logger,
	}

	restorer, err := safeLoad(path, load)
	switch {
	case err == nil && locator == nil:
		restorer.Close()
		e.reason = fmt.Errorf("%w: no face locator", ErrUnavailable)
		logger.Warn().Msg("Face enhancement disabled: no face locator")
	case err == nil:
		e.restorer = restorer
		logger.Info().Str("path", path).Msg("Face enhancement model loaded")
	case errors.Is(err, vision.ErrModelNotFound):
		e.reason = err
		logger.Info().Str("path", path).Msg("Face enhancement model not found, stage disabled")
	default:
		e.reason = err
		logger.Warn().Err(err).Str("path", path).Msg("Face enhancement model failed to initialize, stage disabled")
	}

	return e
}

func safeLoad(path string, load Loader) (r Restorer, err error) {
	if err := vision.RequireFile(path); err != nil {
		return nil, err
	}
	if load == nil {
		return nil, fmt.Errorf("%w: no loader", vision.ErrModelLoad)
	}

	defer func() {
		if rec := recover(); rec != nil {
			r, err = nil, fmt.Errorf("%w: panic: %v", vision.ErrModelLoad, rec)
		}
	}()

	r, err = load(path)
	if err == nil && r == nil {
		err = fmt.Errorf("%w: loader returned nil", vision.ErrModelLoad)
	}
	return r, err
}

func (e *Enhancer) IsAvailable() bool {
	return e.restorer != nil
}

// Reason explains why the enhancer is unavailable, nil when it is available.
func (e *Enhancer) Reason() error {
	return e.reason
}

// Enhance restores every face found in img and blends the results back.
// fidelity 0 favors restoration strength, 1 favors identity.
func (e *Enhancer) Enhance(img *image.NRGBA, fidelity float64) (*image.NRGBA, error) {
	if !e.IsAvailable() {
		return nil, ErrUnavailable
	}

	faces, err := e.locator.Locate(img)
	if err != nil {
		return nil, fmt.Errorf("failed to locate faces: %w", err)
	}

	out := imaging.Clone(img)
	size := e.restorer.InputSize()
	for _, f := range faces {
		region := squareAround(f, contextScale).Intersect(img.Rect)
		if region.Dx() < 8 || region.Dy() < 8 {
			continue
		}

		crop := imaging.Crop(out, region)
		in := e.resizer.Scale(crop, size, size)

		restored, err := e.restorer.Restore(in, fidelity)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", vision.ErrInference, err)
		}

		back := e.resizer.Scale(restored, region.Dx(), region.Dy())
		blend(out, back, region, crop)
	}

	return out, nil
}

func (e *Enhancer) Close() error {
	if e.restorer == nil {
		return nil
	}
	return e.restorer.Close()
}

func squareAround(r image.Rectangle, scale float64) image.Rectangle {
	side := r.Dx()
	if r.Dy() > side {
		side = r.Dy()
	}
	half := int(float64(side) * scale / 2)
	cx := (r.Min.X + r.Max.X) / 2
	cy := (r.Min.Y + r.Max.Y) / 2
	return image.Rect(cx-half, cy-half, cx+half, cy+half)
}

// blend pastes restored into dst over region with a soft border, keeping the
// original alpha.
func blend(dst, restored *image.NRGBA, region image.Rectangle, original *image.NRGBA) {
	w, h := region.Dx(), region.Dy()
	feather := w / 8
	if h/8 < feather {
		feather = h / 8
	}

	patch := imaging.Clone(restored)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			k := edgeWeight(x, y, w, h, feather)
			o := y*patch.Stride + x*4
			for c := 0; c < 3; c++ {
				v := float64(patch.Pix[o+c])*k + float64(original.Pix[o+c])*(1-k)
				patch.Pix[o+c] = uint8(v + 0.5)
			}
			patch.Pix[o+3] = original.Pix[o+3]
		}
	}
	draw.Draw(dst, region, patch, image.Point{}, draw.Src)
}

func edgeWeight(x, y, w, h, feather int) float64 {
	if feather <= 0 {
		return 1
	}
	d := x
	for _, v := range []int{y, w - 1 - x, h - 1 - y} {
		if v < d {
			d = v
		}
	}
	if d >= feather {
		return 1
	}
	return float64(d) / float64(feather)
}
