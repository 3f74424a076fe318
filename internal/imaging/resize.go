package imaging

import (
	"image"
	"image/color"
	"image/draw"

	xdraw "golang.org/x/image/draw"
)

// Resizer scales images to a fixed canvas, preserving aspect ratio.
type Resizer struct {
	kernel xdraw.Interpolator
}

func NewResizer() *Resizer {
	return &Resizer{
		kernel: xdraw.CatmullRom,
	}
}

// FitRect returns the placement of a w×h image scaled to fit a tw×th canvas,
// centered, and the scale factor applied.
func FitRect(w, h, tw, th int) (image.Rectangle, float64) {
	rw := float64(tw) / float64(w)
	rh := float64(th) / float64(h)

	var nw, nh int
	ratio := rw
	if rw <= rh {
		nw, nh = tw, int(float64(h)*rw)
	} else {
		ratio = rh
		nw, nh = int(float64(w)*rh), th
	}
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}

	x := (tw - nw) / 2
	y := (th - nh) / 2
	return image.Rect(x, y, x+nw, y+nh), ratio
}

// ResizeWithPadding fits src into a width×height canvas. The padding is fully
// transparent when transparent is set, otherwise the canvas is bg and the
// scaled image is blended over it, yielding an opaque result.
func (r *Resizer) ResizeWithPadding(src *image.NRGBA, width, height int, bg color.NRGBA, transparent bool) *image.NRGBA {
	fit, _ := FitRect(src.Rect.Dx(), src.Rect.Dy(), width, height)
	scaled := r.Scale(src, fit.Dx(), fit.Dy())

	if transparent {
		canvas := image.NewNRGBA(image.Rect(0, 0, width, height))
		draw.Draw(canvas, fit, scaled, image.Point{}, draw.Src)
		return canvas
	}

	bg.A = 255
	canvas := Fill(width, height, bg)
	draw.Draw(canvas, fit, scaled, image.Point{}, draw.Over)
	return canvas
}

func (r *Resizer) Scale(src *image.NRGBA, width, height int) *image.NRGBA {
	dst := image.NewNRGBA(image.Rect(0, 0, width, height))
	if src.Rect.Dx() == width && src.Rect.Dy() == height {
		copy(dst.Pix, src.Pix)
		return dst
	}
	r.kernel.Scale(dst, dst.Bounds(), src, src.Rect, xdraw.Src, nil)
	return dst
}

// MapRect projects a rectangle from source coordinates into the canvas
// produced by ResizeWithPadding for a source of size w×h.
func MapRect(rect image.Rectangle, w, h, tw, th int) image.Rectangle {
	fit, ratio := FitRect(w, h, tw, th)
	lo := image.Pt(
		fit.Min.X+int(float64(rect.Min.X)*ratio),
		fit.Min.Y+int(float64(rect.Min.Y)*ratio),
	)
	hi := image.Pt(
		fit.Min.X+int(float64(rect.Max.X)*ratio),
		fit.Min.Y+int(float64(rect.Max.Y)*ratio),
	)
	return image.Rectangle{Min: lo, Max: hi}.Intersect(image.Rect(0, 0, tw, th))
}
