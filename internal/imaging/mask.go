package imaging

import (
	"image"
	"math"
)

const (
	DefaultOvalRadius  = 0.48
	DefaultOvalFeather = 21.0
)

// OvalMask fades alpha to zero outside an ellipse inscribed in the image.
type OvalMask struct {
	RadiusX float64
	RadiusY float64
	Feather float64
}

func NewOvalMask() *OvalMask {
	return &OvalMask{
		RadiusX: DefaultOvalRadius,
		RadiusY: DefaultOvalRadius,
		Feather: DefaultOvalFeather,
	}
}

// Apply multiplies the existing alpha by the feathered ellipse, so earlier
// transparency is kept.
func (m *OvalMask) Apply(src *image.NRGBA) *image.NRGBA {
	dst := Clone(src)
	w, h := src.Rect.Dx(), src.Rect.Dy()
	if w == 0 || h == 0 {
		return dst
	}

	cx, cy := float64(w)/2, float64(h)/2
	rx, ry := float64(w)*m.RadiusX, float64(h)*m.RadiusY
	half := m.Feather / 2

	for y := 0; y < h; y++ {
		row := dst.Pix[y*dst.Stride:]
		for x := 0; x < w; x++ {
			k := m.weight(float64(x)+0.5-cx, float64(y)+0.5-cy, rx, ry, half)
			if k >= 1 {
				continue
			}
			i := x*4 + 3
			row[i] = uint8(float64(row[i])*k + 0.5)
		}
	}

	return dst
}

// weight returns the mask value for an offset from the ellipse center, using
// the distance to the boundary measured along the ray through the center.
func (m *OvalMask) weight(dx, dy, rx, ry, half float64) float64 {
	if rx <= 0 || ry <= 0 {
		return 0
	}

	d := math.Sqrt((dx/rx)*(dx/rx) + (dy/ry)*(dy/ry))
	if d == 0 {
		return 1
	}

	dist := math.Hypot(dx, dy) * (1/d - 1)
	if half <= 0 {
		if dist >= 0 {
			return 1
		}
		return 0
	}

	t := (dist + half) / (2 * half)
	switch {
	case t <= 0:
		return 0
	case t >= 1:
		return 1
	}
	return t * t * (3 - 2*t)
}
