package imaging

import (
	"image"
	"image/draw"
	"math"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
)

// ExpandFaceRect grows a face rectangle by margin on each side, with one and
// a half times the margin above the face for hair and forehead, clamped to bounds.
func ExpandFaceRect(face, bounds image.Rectangle, margin float64) image.Rectangle {
	mw := int(float64(face.Dx()) * margin)
	mh := int(float64(face.Dy()) * margin)

	r := image.Rect(
		face.Min.X-mw,
		face.Min.Y-int(float64(mh)*1.5),
		face.Max.X+mw,
		face.Max.Y+mh,
	)
	return r.Intersect(bounds)
}

// Crop copies the given region of src into a new zero-origin image.
func Crop(src *image.NRGBA, r image.Rectangle) *image.NRGBA {
	r = r.Intersect(src.Rect)
	dst := image.NewNRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(dst, dst.Bounds(), src, r.Min, draw.Src)
	return dst
}

// Rotation is a rotation by Angle radians about Center.
type Rotation struct {
	Center [2]float64
	Angle  float64
}

// Apply maps a point from source to rotated coordinates.
func (r Rotation) Apply(x, y float64) (float64, float64) {
	return rotate(x, y, r.Center, r.Angle)
}

// Matrix is the source-to-destination transform of r.
func (r Rotation) Matrix() f64.Aff3 {
	sin, cos := math.Sincos(r.Angle)
	cx, cy := r.Center[0], r.Center[1]
	return f64.Aff3{
		cos, -sin, cx - cx*cos + cy*sin,
		sin, cos, cy - cx*sin - cy*cos,
	}
}

func rotate(x, y float64, c [2]float64, a float64) (float64, float64) {
	sin, cos := math.Sincos(a)
	dx, dy := x-c[0], y-c[1]
	return c[0] + dx*cos - dy*sin, c[1] + dx*sin + dy*cos
}

// ProjectRect moves rect through the rotation, keeping its size, and clips it
// to bounds. The second value is the fraction of the area still in frame.
func (r Rotation) ProjectRect(rect, bounds image.Rectangle) (image.Rectangle, float64) {
	cx := float64(rect.Min.X+rect.Max.X) / 2
	cy := float64(rect.Min.Y+rect.Max.Y) / 2
	nx, ny := r.Apply(cx, cy)

	w, h := rect.Dx(), rect.Dy()
	x0 := int(math.Round(nx - float64(w)/2))
	y0 := int(math.Round(ny - float64(h)/2))
	moved := image.Rect(x0, y0, x0+w, y0+h)

	area := w * h
	if area == 0 {
		return image.Rectangle{}, 0
	}
	clipped := moved.Intersect(bounds)
	return clipped, float64(clipped.Dx()*clipped.Dy()) / float64(area)
}

// Rotate resamples src under r with Catmull-Rom filtering. Pixels that fall
// outside the source are transparent.
func Rotate(src *image.NRGBA, r Rotation) *image.NRGBA {
	dst := image.NewNRGBA(image.Rect(0, 0, src.Rect.Dx(), src.Rect.Dy()))
	if r.Angle == 0 {
		draw.Draw(dst, dst.Rect, src, src.Rect.Min, draw.Src)
		return dst
	}
	xdraw.CatmullRom.Transform(dst, r.Matrix(), src, src.Rect, xdraw.Src, nil)
	return dst
}
