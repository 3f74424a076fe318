package background

import (
	"errors"
	"fmt"
	"image"

	"github.com/wb-go/wbf/zlog"
	xdraw "golang.org/x/image/draw"
)

var ErrNoSegmenter = errors.New("segmenter is required")

// Segmenter predicts a foreground probability mask. The mask may come back at
// the model resolution; Remover scales it to the image.
type Segmenter interface {
	Segment(img *image.NRGBA) (*image.Gray, error)
}

type Remover struct {
	segmenter Segmenter
	logger    *zlog.Zerolog
}

func NewRemover(segmenter Segmenter, logger *zlog.Zerolog) (*Remover, error) {
	if segmenter == nil {
		return nil, ErrNoSegmenter
	}
	return &Remover{
		segmenter: segmenter,
		logger:    logger,
	}, nil
}

// RemoveBackground returns a cutout of img whose alpha is the subject mask
// combined with the existing alpha. Fully transparent pixels are zeroed.
// An image with no clear subject comes back mostly transparent, not as an error.
func (r *Remover) RemoveBackground(img *image.NRGBA) (*image.NRGBA, error) {
	mask, err := r.segmenter.Segment(img)
	if err != nil {
		return nil, fmt.Errorf("failed to segment image: %w", err)
	}
	if mask == nil || mask.Rect.Empty() {
		return nil, fmt.Errorf("failed to segment image: empty mask")
	}

	w, h := img.Rect.Dx(), img.Rect.Dy()
	if mask.Rect.Dx() != w || mask.Rect.Dy() != h {
		scaled := image.NewGray(image.Rect(0, 0, w, h))
		xdraw.BiLinear.Scale(scaled, scaled.Bounds(), mask, mask.Rect, xdraw.Src, nil)
		mask = scaled
	}

	out := image.NewNRGBA(image.Rect(0, 0, w, h))
	var visible int
	for y := 0; y < h; y++ {
		src := img.Pix[y*img.Stride:]
		dst := out.Pix[y*out.Stride:]
		m := mask.Pix[y*mask.Stride:]
		for x := 0; x < w; x++ {
			a := uint8((uint32(src[x*4+3])*uint32(m[x]) + 127) / 255)
			if a == 0 {
				continue
			}
			copy(dst[x*4:x*4+3], src[x*4:x*4+3])
			dst[x*4+3] = a
			visible++
		}
	}

	if visible*20 < w*h {
		r.logger.Debug().
			Int("visible_pixels", visible).
			Int("total_pixels", w*h).
			Msg("Segmentation found little foreground")
	}

	return out, nil
}
