package opencv

import (
	"fmt"
	"image"
	"sync"

	"facecraft/internal/restore"
	"facecraft/internal/vision"

	"gocv.io/x/gocv"
)

const restorationSize = 512

// RestorerNames are the graph node names of a CodeFormer-style export.
type RestorerNames struct {
	Input  string
	Weight string
	Output string
}

// Restorer runs a CodeFormer-style network: a 512x512 face in [-1, 1] plus a
// fidelity weight in, the restored face out.
type Restorer struct {
	mu    sync.Mutex
	net   gocv.Net
	names RestorerNames
}

// RestorerLoader returns a restore.Loader bound to device and node names.
func RestorerLoader(device string, names RestorerNames) restore.Loader {
	return func(path string) (restore.Restorer, error) {
		net, err := readNet(path, device)
		if err != nil {
			return nil, err
		}
		return &Restorer{net: net, names: names}, nil
	}
}

func (r *Restorer) InputSize() int { return restorationSize }

func (r *Restorer) Restore(face *image.NRGBA, fidelity float64) (*image.NRGBA, error) {
	if face.Rect.Dx() != restorationSize || face.Rect.Dy() != restorationSize {
		return nil, fmt.Errorf("%w: face crop is %v, want %dx%d", vision.ErrInference, face.Rect.Size(), restorationSize, restorationSize)
	}

	blob, err := planarBlob(face, func(_ int, v float32) float32 { return (v - 0.5) / 0.5 })
	if err != nil {
		return nil, err
	}
	defer blob.Close()

	weight := gocv.NewMatWithSizes([]int{1, 1}, gocv.MatTypeCV32F)
	defer weight.Close()
	w, err := weight.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", vision.ErrInference, err)
	}
	w[0] = float32(fidelity)

	r.mu.Lock()
	r.net.SetInput(blob, r.names.Input)
	if r.names.Weight != "" {
		r.net.SetInput(weight, r.names.Weight)
	}
	pred, err := forward(&r.net, r.names.Output)
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}

	plane := restorationSize * restorationSize
	if len(pred) < 3*plane {
		return nil, fmt.Errorf("%w: output has %d values, want %d", vision.ErrInference, len(pred), 3*plane)
	}

	out := image.NewNRGBA(image.Rect(0, 0, restorationSize, restorationSize))
	for y := 0; y < restorationSize; y++ {
		dst := out.Pix[y*out.Stride:]
		src := face.Pix[y*face.Stride:]
		for x := 0; x < restorationSize; x++ {
			i := y*restorationSize + x
			for ch := 0; ch < 3; ch++ {
				dst[x*4+ch] = clamp8((float64(pred[ch*plane+i]) + 1) / 2 * 255)
			}
			dst[x*4+3] = src[x*4+3]
		}
	}
	return out, nil
}

func (r *Restorer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.net.Close()
}

func clamp8(v float64) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 255:
		return 255
	default:
		return uint8(v + 0.5)
	}
}
