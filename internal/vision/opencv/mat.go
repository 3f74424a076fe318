// Package opencv adapts OpenCV models to the pipeline interfaces. Every
// adapter holds one model instance behind a mutex; callers may share it.
package opencv

import (
	"fmt"
	"image"

	"facecraft/internal/vision"

	"gocv.io/x/gocv"
)

const (
	DeviceCPU  = "cpu"
	DeviceCUDA = "cuda"
)

// grayMat copies region r of img into an 8-bit single-channel Mat using BT.601
// luma. Transparent pixels are treated as black.
func grayMat(img *image.NRGBA, r image.Rectangle) (gocv.Mat, error) {
	r = r.Intersect(img.Rect)
	w, h := r.Dx(), r.Dy()
	if w == 0 || h == 0 {
		return gocv.NewMat(), fmt.Errorf("%w: empty region %v", vision.ErrInference, r)
	}

	buf := make([]byte, w*h)
	for y := 0; y < h; y++ {
		row := img.Pix[(r.Min.Y-img.Rect.Min.Y+y)*img.Stride+(r.Min.X-img.Rect.Min.X)*4:]
		for x := 0; x < w; x++ {
			p := row[x*4 : x*4+4]
			l := (299*int(p[0]) + 587*int(p[1]) + 114*int(p[2])) / 1000
			buf[y*w+x] = uint8(l * int(p[3]) / 255)
		}
	}

	m, err := gocv.NewMatFromBytes(h, w, gocv.MatTypeCV8U, buf)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("%w: %v", vision.ErrInference, err)
	}
	return m, nil
}

// planarBlob builds a 1x3xHxW float32 blob from img in RGB order, mapping each
// channel through norm.
func planarBlob(img *image.NRGBA, norm func(ch int, v float32) float32) (gocv.Mat, error) {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	blob := gocv.NewMatWithSizes([]int{1, 3, h, w}, gocv.MatTypeCV32F)
	data, err := blob.DataPtrFloat32()
	if err != nil {
		blob.Close()
		return gocv.NewMat(), fmt.Errorf("%w: %v", vision.ErrInference, err)
	}

	plane := w * h
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < w; x++ {
			i := y*w + x
			for ch := 0; ch < 3; ch++ {
				data[ch*plane+i] = norm(ch, float32(row[x*4+ch])/255)
			}
		}
	}
	return blob, nil
}

func forward(net *gocv.Net, output string) ([]float32, error) {
	out := net.Forward(output)
	defer out.Close()
	if out.Empty() {
		return nil, fmt.Errorf("%w: empty output", vision.ErrInference)
	}

	data, err := out.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", vision.ErrInference, err)
	}
	res := make([]float32, len(data))
	copy(res, data)
	return res, nil
}

func readNet(path, device string) (gocv.Net, error) {
	if err := vision.RequireFile(path); err != nil {
		return gocv.Net{}, err
	}

	net := gocv.ReadNetFromONNX(path)
	if net.Empty() {
		return gocv.Net{}, fmt.Errorf("%w: %s", vision.ErrModelLoad, path)
	}

	switch device {
	case DeviceCUDA:
		net.SetPreferableBackend(gocv.NetBackendCUDA)
		net.SetPreferableTarget(gocv.NetTargetCUDA)
	default:
		net.SetPreferableBackend(gocv.NetBackendDefault)
		net.SetPreferableTarget(gocv.NetTargetCPU)
	}
	return net, nil
}
