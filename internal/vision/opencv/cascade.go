package opencv

import (
	"fmt"
	"image"
	"sort"
	"sync"

	"facecraft/internal/vision"

	"gocv.io/x/gocv"
)

const (
	cascadeScaleFactor  = 1.1
	cascadeMinNeighbors = 5
	eyeMinNeighbors     = 6
)

type cascade struct {
	mu         sync.Mutex
	classifier gocv.CascadeClassifier
}

func loadCascade(path string) (*cascade, error) {
	if err := vision.RequireFile(path); err != nil {
		return nil, err
	}

	classifier := gocv.NewCascadeClassifier()
	if !classifier.Load(path) {
		classifier.Close()
		return nil, fmt.Errorf("%w: %s", vision.ErrModelLoad, path)
	}
	return &cascade{classifier: classifier}, nil
}

func (c *cascade) detect(gray gocv.Mat, minNeighbors int, minSize image.Point) []image.Rectangle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.classifier.DetectMultiScaleWithParams(gray, cascadeScaleFactor, minNeighbors, 0, minSize, image.Point{})
}

func (c *cascade) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.classifier.Close()
}

// FaceLocator finds frontal faces with a Haar cascade. Images wider than
// MaxWidth are searched on a downscaled copy and the boxes scaled back.
type FaceLocator struct {
	*cascade
	MinSize  int
	MaxWidth int
}

func NewFaceLocator(path string, minSize, maxWidth int) (*FaceLocator, error) {
	c, err := loadCascade(path)
	if err != nil {
		return nil, err
	}
	return &FaceLocator{cascade: c, MinSize: minSize, MaxWidth: maxWidth}, nil
}

func (l *FaceLocator) Locate(img *image.NRGBA) ([]image.Rectangle, error) {
	src := img
	scale := 1.0
	if w := img.Rect.Dx(); l.MaxWidth > 0 && w > l.MaxWidth {
		scale = float64(w) / float64(l.MaxWidth)
		h := int(float64(img.Rect.Dy()) / scale)
		src = resizer.Scale(img, l.MaxWidth, h)
	}

	gray, err := grayMat(src, src.Rect)
	if err != nil {
		return nil, err
	}
	defer gray.Close()
	gocv.EqualizeHist(gray, &gray)

	minSize := int(float64(l.MinSize) / scale)
	if minSize < 1 {
		minSize = 1
	}

	rects := l.detect(gray, cascadeMinNeighbors, image.Pt(minSize, minSize))
	if scale == 1 {
		return rects, nil
	}

	out := make([]image.Rectangle, len(rects))
	for i, r := range rects {
		out[i] = image.Rect(
			int(float64(r.Min.X)*scale),
			int(float64(r.Min.Y)*scale),
			int(float64(r.Max.X)*scale),
			int(float64(r.Max.Y)*scale),
		).Intersect(img.Rect)
	}
	return out, nil
}

// EyeLocator finds the two eyes in the upper half of a face box.
type EyeLocator struct {
	*cascade
}

func NewEyeLocator(path string) (*EyeLocator, error) {
	c, err := loadCascade(path)
	if err != nil {
		return nil, err
	}
	return &EyeLocator{cascade: c}, nil
}

func (l *EyeLocator) LocateEyes(img *image.NRGBA, face image.Rectangle) (left, right image.Point, ok bool, err error) {
	region := image.Rect(face.Min.X, face.Min.Y, face.Max.X, face.Min.Y+face.Dy()*6/10).Intersect(img.Rect)
	if region.Empty() {
		return left, right, false, nil
	}

	gray, err := grayMat(img, region)
	if err != nil {
		return left, right, false, err
	}
	defer gray.Close()
	gocv.EqualizeHist(gray, &gray)

	minEye := face.Dx() / 10
	eyes := l.detect(gray, eyeMinNeighbors, image.Pt(minEye, minEye))
	if len(eyes) < 2 {
		return left, right, false, nil
	}

	sort.SliceStable(eyes, func(i, j int) bool {
		return eyes[i].Dx()*eyes[i].Dy() > eyes[j].Dx()*eyes[j].Dy()
	})
	a, b := center(eyes[0]).Add(region.Min), center(eyes[1]).Add(region.Min)
	if a.X > b.X {
		a, b = b, a
	}
	// both boxes on one side of the face means a false positive
	mid := face.Min.X + face.Dx()/2
	if a.X >= mid || b.X <= mid {
		return left, right, false, nil
	}
	return a, b, true, nil
}

func center(r image.Rectangle) image.Point {
	return image.Pt((r.Min.X+r.Max.X)/2, (r.Min.Y+r.Max.Y)/2)
}
