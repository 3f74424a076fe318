package opencv

import (
	"fmt"
	"image"

	"facecraft/internal/vision"

	"gocv.io/x/gocv"
)

// BilateralDenoiser smooths sensor noise while keeping edges sharp.
type BilateralDenoiser struct {
	Diameter   int
	SigmaColor float64
	SigmaSpace float64
}

func NewBilateralDenoiser() *BilateralDenoiser {
	return &BilateralDenoiser{Diameter: 5, SigmaColor: 40, SigmaSpace: 40}
}

// Denoise filters the color channels of img. Alpha is carried over unchanged.
func (d *BilateralDenoiser) Denoise(img *image.NRGBA) (*image.NRGBA, error) {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	if w == 0 || h == 0 {
		return nil, fmt.Errorf("%w: empty image", vision.ErrInference)
	}

	buf := make([]byte, w*h*3)
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < w; x++ {
			copy(buf[(y*w+x)*3:], row[x*4:x*4+3])
		}
	}

	src, err := gocv.NewMatFromBytes(h, w, gocv.MatTypeCV8UC3, buf)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", vision.ErrInference, err)
	}
	defer src.Close()

	dst := gocv.NewMat()
	defer dst.Close()
	gocv.BilateralFilter(src, &dst, d.Diameter, d.SigmaColor, d.SigmaSpace)

	data := dst.ToBytes()
	if len(data) < w*h*3 {
		return nil, fmt.Errorf("%w: filter returned %d bytes, want %d", vision.ErrInference, len(data), w*h*3)
	}

	out := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		row := out.Pix[y*out.Stride:]
		alpha := img.Pix[y*img.Stride:]
		for x := 0; x < w; x++ {
			copy(row[x*4:x*4+3], data[(y*w+x)*3:])
			row[x*4+3] = alpha[x*4+3]
		}
	}
	return out, nil
}
