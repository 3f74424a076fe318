package opencv

import (
	"fmt"
	"image"
	"image/color"
	"sync"

	"facecraft/internal/imaging"
	"facecraft/internal/vision"

	"gocv.io/x/gocv"
)

const segmentationSize = 320

var (
	resizer = imaging.NewResizer()

	imagenetMean = [3]float32{0.485, 0.456, 0.406}
	imagenetStd  = [3]float32{0.229, 0.224, 0.225}
)

// Segmenter runs a U²-Net style salient-object network and returns the
// foreground probability at the network resolution.
type Segmenter struct {
	mu  sync.Mutex
	net gocv.Net
}

func NewSegmenter(path, device string) (*Segmenter, error) {
	net, err := readNet(path, device)
	if err != nil {
		return nil, err
	}
	return &Segmenter{net: net}, nil
}

func (s *Segmenter) Segment(img *image.NRGBA) (*image.Gray, error) {
	if img.Rect.Empty() {
		return nil, fmt.Errorf("%w: empty image", vision.ErrInference)
	}

	input := resizer.Scale(imaging.Flatten(img, color.NRGBA{}), segmentationSize, segmentationSize)
	blob, err := planarBlob(input, func(ch int, v float32) float32 {
		return (v - imagenetMean[ch]) / imagenetStd[ch]
	})
	if err != nil {
		return nil, err
	}
	defer blob.Close()

	s.mu.Lock()
	s.net.SetInput(blob, "")
	pred, err := forward(&s.net, "")
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	plane := segmentationSize * segmentationSize
	if len(pred) < plane {
		return nil, fmt.Errorf("%w: output has %d values, want %d", vision.ErrInference, len(pred), plane)
	}
	return normalizeMask(pred[:plane], segmentationSize, segmentationSize), nil
}

func (s *Segmenter) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.net.Close()
}

// normalizeMask min-max scales a prediction plane to 0..255.
func normalizeMask(pred []float32, w, h int) *image.Gray {
	lo, hi := pred[0], pred[0]
	for _, v := range pred {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}

	mask := image.NewGray(image.Rect(0, 0, w, h))
	span := hi - lo
	if span <= 0 {
		return mask
	}
	for i, v := range pred {
		mask.Pix[i] = uint8((v-lo)/span*255 + 0.5)
	}
	return mask
}
