// Package imaging holds the deterministic, model-free transforms of the
// portrait pipeline. Every function works on *image.NRGBA with a zero origin.
package imaging

import (
	"image"
	"image/color"
	"image/draw"
)

// ToNRGBA converts any decoded image into the canonical representation.
func ToNRGBA(src image.Image) *image.NRGBA {
	b := src.Bounds()
	if n, ok := src.(*image.NRGBA); ok && b.Min == (image.Point{}) {
		return n
	}
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	return dst
}

func Clone(src *image.NRGBA) *image.NRGBA {
	dst := image.NewNRGBA(src.Rect)
	copy(dst.Pix, src.Pix)
	return dst
}

// Fill returns a w×h image painted with c.
func Fill(w, h int, c color.NRGBA) *image.NRGBA {
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(dst.Pix); i += 4 {
		dst.Pix[i] = c.R
		dst.Pix[i+1] = c.G
		dst.Pix[i+2] = c.B
		dst.Pix[i+3] = c.A
	}
	return dst
}

// Flatten blends src over an opaque background.
func Flatten(src *image.NRGBA, bg color.NRGBA) *image.NRGBA {
	bg.A = 255
	dst := Fill(src.Rect.Dx(), src.Rect.Dy(), bg)
	draw.Draw(dst, dst.Bounds(), src, src.Rect.Min, draw.Over)
	return dst
}

func clampByte(v float64) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 255:
		return 255
	default:
		return uint8(v + 0.5)
	}
}
