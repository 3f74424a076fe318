package imaging

import (
	"image"
	"math"
)

// Denoiser is an edge-preserving smoothing filter.
type Denoiser interface {
	Denoise(img *image.NRGBA) (*image.NRGBA, error)
}

// PhotoEnhancer applies exposure correction, optional denoising, gray-world
// white balance, sharpening and a mild contrast/saturation lift, in that
// order. Statistics are taken over visible pixels only; alpha is never changed.
type PhotoEnhancer struct {
	// Denoiser runs after exposure correction. Nil or failing skips the step.
	Denoiser Denoiser

	TargetLuma float64
	Deadband   float64
	MinGain    float64
	MaxGain    float64
	MaxWBScale float64
	Contrast   float64
	Saturation float64
}

func NewPhotoEnhancer() *PhotoEnhancer {
	return &PhotoEnhancer{
		TargetLuma: 140,
		Deadband:   10,
		MinGain:    0.75,
		MaxGain:    1.4,
		MaxWBScale: 1.5,
		Contrast:   1.15,
		Saturation: 1.15,
	}
}

func (e *PhotoEnhancer) Enhance(src *image.NRGBA) *image.NRGBA {
	dst := Clone(src)
	if visibleCount(dst) == 0 {
		return dst
	}

	e.correctExposure(dst)
	dst = e.denoise(dst)
	e.balanceWhite(dst)
	dst = sharpen(dst)
	e.adjustContrast(dst)
	e.adjustSaturation(dst)
	return dst
}

func (e *PhotoEnhancer) denoise(img *image.NRGBA) *image.NRGBA {
	if e.Denoiser == nil {
		return img
	}
	out, err := e.Denoiser.Denoise(img)
	if err != nil || out == nil || out.Rect.Size() != img.Rect.Size() {
		return img
	}
	w, h := img.Rect.Dx(), img.Rect.Dy()
	for y := 0; y < h; y++ {
		src := img.Pix[y*img.Stride:]
		dst := out.Pix[y*out.Stride:]
		for x := 0; x < w; x++ {
			dst[x*4+3] = src[x*4+3]
		}
	}
	return out
}

func luma(r, g, b float64) float64 {
	return 0.299*r + 0.587*g + 0.114*b
}

func visibleCount(img *image.NRGBA) int {
	n := 0
	for i := 3; i < len(img.Pix); i += 4 {
		if img.Pix[i] > 0 {
			n++
		}
	}
	return n
}

// channelMeans returns per-channel and luma means over visible pixels.
func channelMeans(img *image.NRGBA) (r, g, b, l float64) {
	var n float64
	p := img.Pix
	for i := 0; i < len(p); i += 4 {
		if p[i+3] == 0 {
			continue
		}
		pr, pg, pb := float64(p[i]), float64(p[i+1]), float64(p[i+2])
		r += pr
		g += pg
		b += pb
		l += luma(pr, pg, pb)
		n++
	}
	if n == 0 {
		return 0, 0, 0, 0
	}
	return r / n, g / n, b / n, l / n
}

func (e *PhotoEnhancer) correctExposure(img *image.NRGBA) {
	_, _, _, mean := channelMeans(img)
	if mean <= 0 || math.Abs(e.TargetLuma-mean) <= e.Deadband {
		return
	}

	gain := e.TargetLuma / mean
	gain = math.Max(e.MinGain, math.Min(e.MaxGain, gain))
	scaleRGB(img, gain, gain, gain)
}

func (e *PhotoEnhancer) balanceWhite(img *image.NRGBA) {
	r, g, b, _ := channelMeans(img)
	if r == 0 || g == 0 || b == 0 {
		return
	}

	gray := (r + g + b) / 3
	scaleRGB(img,
		math.Min(gray/r, e.MaxWBScale),
		math.Min(gray/g, e.MaxWBScale),
		math.Min(gray/b, e.MaxWBScale),
	)
}

func scaleRGB(img *image.NRGBA, kr, kg, kb float64) {
	p := img.Pix
	for i := 0; i < len(p); i += 4 {
		p[i] = clampByte(float64(p[i]) * kr)
		p[i+1] = clampByte(float64(p[i+1]) * kg)
		p[i+2] = clampByte(float64(p[i+2]) * kb)
	}
}

// sharpen convolves RGB with [0 -1 0; -1 5 -1; 0 -1 0], replicating edges.
func sharpen(src *image.NRGBA) *image.NRGBA {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	dst := Clone(src)
	if w < 3 || h < 3 {
		return dst
	}

	at := func(x, y, c int) int {
		if x < 0 {
			x = 0
		} else if x >= w {
			x = w - 1
		}
		if y < 0 {
			y = 0
		} else if y >= h {
			y = h - 1
		}
		return int(src.Pix[y*src.Stride+x*4+c])
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			o := y*dst.Stride + x*4
			for c := 0; c < 3; c++ {
				v := 5*at(x, y, c) - at(x-1, y, c) - at(x+1, y, c) - at(x, y-1, c) - at(x, y+1, c)
				if v < 0 {
					v = 0
				} else if v > 255 {
					v = 255
				}
				dst.Pix[o+c] = uint8(v)
			}
		}
	}
	return dst
}

// adjustContrast pushes pixels away from the mean gray level.
func (e *PhotoEnhancer) adjustContrast(img *image.NRGBA) {
	_, _, _, mean := channelMeans(img)
	mean = math.Floor(mean + 0.5)
	p := img.Pix
	for i := 0; i < len(p); i += 4 {
		for c := 0; c < 3; c++ {
			v := float64(p[i+c])
			p[i+c] = clampByte(mean + (v-mean)*e.Contrast)
		}
	}
}

// adjustSaturation pushes each pixel away from its own gray value.
func (e *PhotoEnhancer) adjustSaturation(img *image.NRGBA) {
	p := img.Pix
	for i := 0; i < len(p); i += 4 {
		r, g, b := float64(p[i]), float64(p[i+1]), float64(p[i+2])
		l := luma(r, g, b)
		p[i] = clampByte(l + (r-l)*e.Saturation)
		p[i+1] = clampByte(l + (g-l)*e.Saturation)
		p[i+2] = clampByte(l + (b-l)*e.Saturation)
	}
}
