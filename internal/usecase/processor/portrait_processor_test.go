package processor

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"facecraft/internal/domain"
	"facecraft/internal/face"
	"facecraft/internal/imaging"
	"facecraft/internal/restore"
	"facecraft/internal/stats"

	"github.com/wb-go/wbf/zlog"
)

type fakeDetector struct {
	faces    []image.Rectangle
	detErr   error
	canAlign bool
	aligned  *face.Alignment
	alignErr error

	mu          sync.Mutex
	detectCalls int
	alignCalls  int
	cropCalls   int
}

func (f *fakeDetector) DetectFace(img *image.NRGBA) (face.Detection, error) {
	f.mu.Lock()
	f.detectCalls++
	f.mu.Unlock()
	if f.detErr != nil || len(f.faces) == 0 {
		return face.Detection{}, f.detErr
	}
	return face.Detection{Face: f.faces[0], Faces: f.faces}, nil
}

func (f *fakeDetector) CanAlign() bool { return f.canAlign }

func (f *fakeDetector) AlignFace(img *image.NRGBA, rect image.Rectangle) (face.Alignment, error) {
	f.mu.Lock()
	f.alignCalls++
	f.mu.Unlock()
	if f.aligned != nil {
		return *f.aligned, f.alignErr
	}
	return face.Alignment{Image: img, Face: rect}, f.alignErr
}

func (f *fakeDetector) CropFace(img *image.NRGBA, rect image.Rectangle, margin float64) (*image.NRGBA, image.Rectangle) {
	f.mu.Lock()
	f.cropCalls++
	f.mu.Unlock()
	region := imaging.ExpandFaceRect(rect, img.Rect, margin)
	return imaging.Crop(img, region), region
}

// fakeRemover keeps every pixel, optionally blocking or panicking.
type fakeRemover struct {
	mu      sync.Mutex
	calls   int
	started chan struct{}
	block   chan struct{}
	panics  bool
}

func (f *fakeRemover) RemoveBackground(img *image.NRGBA) (*image.NRGBA, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.started != nil {
		select {
		case f.started <- struct{}{}:
		default:
		}
	}
	if f.block != nil {
		<-f.block
	}
	if f.panics {
		panic("segmenter exploded")
	}
	return imaging.Clone(img), nil
}

type countingResizer struct {
	*imaging.Resizer
	mu    sync.Mutex
	calls int
}

func (c *countingResizer) ResizeWithPadding(src *image.NRGBA, w, h int, bg color.NRGBA, transparent bool) *image.NRGBA {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return c.Resizer.ResizeWithPadding(src, w, h, bg, transparent)
}

type fakeFaceEnhancer struct {
	available bool
	calls     int
	fidelity  float64
}

func (f *fakeFaceEnhancer) IsAvailable() bool { return f.available }

func (f *fakeFaceEnhancer) Enhance(img *image.NRGBA, fidelity float64) (*image.NRGBA, error) {
	f.calls++
	f.fidelity = fidelity
	return imaging.Clone(img), nil
}

func newProcessor(t *testing.T, deps Dependencies, limits Limits) *PhotoProcessor {
	t.Helper()
	p, err := NewPhotoProcessor(deps, limits, &zlog.Logger)
	if err != nil {
		t.Fatalf("NewPhotoProcessor: %v", err)
	}
	return p
}

// newPortraitJPEG draws a skin-toned disc on a gradient backdrop.
func newPortraitJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	cx, cy, r := w/2, h/2, h/4
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.NRGBA{R: uint8(60 + x*100/w), G: uint8(80 + y*100/h), B: 150, A: 255}
			if dx, dy := x-cx, y-cy; dx*dx+dy*dy < r*r {
				c = color.NRGBA{R: 224, G: 172, B: 140, A: 255}
			}
			img.SetNRGBA(x, y, c)
		}
	}
	data, err := imaging.EncodeJPEG(img, 92)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func newNoisePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	rng := rand.New(rand.NewSource(42))
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	rng.Read(img.Pix)
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 255
	}
	data, err := imaging.EncodePNG(img)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func newSolidPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	data, err := imaging.EncodePNG(imaging.Fill(w, h, color.NRGBA{R: 30, G: 140, B: 200, A: 255}))
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func scenarioOptions() domain.ProcessingOptions {
	opts := domain.DefaultOptions()
	opts.EnhanceFace = false
	return opts
}

func TestNoFaceShortCircuits(t *testing.T) {
	det := &fakeDetector{canAlign: true}
	rem := &fakeRemover{}
	res := &countingResizer{Resizer: imaging.NewResizer()}
	col := stats.NewMemory(10)
	p := newProcessor(t, Dependencies{Detector: det, Remover: rem, Resizer: res, Stats: col}, Limits{})

	out := p.ProcessBytes(context.Background(), newSolidPNG(t, 400, 400), domain.DefaultOptions())

	if out.Success || out.Error != domain.ErrorNoFaceDetected {
		t.Fatalf("result = %+v", out)
	}
	if out.FaceDetected || out.FacePosition != nil {
		t.Fatal("no-face result carries face data")
	}
	if out.PNG != nil || out.JPEG != nil {
		t.Fatal("no-face result carries outputs")
	}
	if det.detectCalls != 1 {
		t.Errorf("detect calls = %d", det.detectCalls)
	}
	if rem.calls != 0 || det.alignCalls != 0 || det.cropCalls != 0 || res.calls != 0 {
		t.Errorf("downstream stages ran: remove=%d align=%d crop=%d resize=%d",
			rem.calls, det.alignCalls, det.cropCalls, res.calls)
	}
	if s := col.Snapshot(); s.NoFace != 1 || s.Total != 1 {
		t.Errorf("stats = %+v", s)
	}
}

func TestPortraitScenario(t *testing.T) {
	det := &fakeDetector{faces: []image.Rectangle{image.Rect(230, 130, 570, 470)}}
	p := newProcessor(t, Dependencies{Detector: det, Remover: &fakeRemover{}}, Limits{MaxConcurrentJobs: 2})
	opts := scenarioOptions()

	res := p.ProcessBytes(context.Background(), newPortraitJPEG(t, 800, 600), opts)

	if !res.Success || !res.FaceDetected || res.Error != "" {
		t.Fatalf("result = %+v", res)
	}
	if res.FacePosition == nil || res.FaceCount != 1 {
		t.Fatalf("face position = %v count = %d", res.FacePosition, res.FaceCount)
	}
	if fp := res.FacePosition.Rect(); !fp.In(image.Rect(0, 0, 648, 648)) || fp.Empty() {
		t.Errorf("face position %v outside canvas", fp)
	}

	pngImg, err := png.Decode(bytes.NewReader(res.PNG))
	if err != nil {
		t.Fatalf("decode png: %v", err)
	}
	if pngImg.Bounds() != image.Rect(0, 0, 648, 648) {
		t.Fatalf("png bounds = %v", pngImg.Bounds())
	}
	if _, _, _, a := pngImg.At(0, 0).RGBA(); a != 0 {
		t.Errorf("png corner alpha = %d, want 0", a)
	}
	if _, _, _, a := pngImg.At(40, 40).RGBA(); a != 0 {
		t.Errorf("png alpha outside oval = %d, want 0", a)
	}
	if _, _, _, a := pngImg.At(324, 324).RGBA(); a != 0xffff {
		t.Errorf("png center alpha = %d, want opaque", a)
	}

	if len(res.JPEG) > 99*1024 {
		t.Errorf("jpeg size %d exceeds 99KB", len(res.JPEG))
	}
	jpgImg, err := jpeg.Decode(bytes.NewReader(res.JPEG))
	if err != nil {
		t.Fatalf("decode jpeg: %v", err)
	}
	if jpgImg.Bounds() != image.Rect(0, 0, 648, 648) {
		t.Fatalf("jpeg bounds = %v", jpgImg.Bounds())
	}

	if s := p.Stats(); s.Success != 1 || s.Samples != 1 {
		t.Errorf("stats = %+v", s)
	}
	if prev := p.ResetStats(); prev.Success != 1 {
		t.Errorf("ResetStats returned %+v", prev)
	}
	if s := p.Stats(); s.Total != 0 || s.Samples != 0 {
		t.Errorf("stats after reset = %+v", s)
	}
	if len(res.Stages) == 0 || res.Stages[0].Stage != StageLoad {
		t.Errorf("stages = %v", res.Stages)
	}
}

func TestMissingRestorationModelDegrades(t *testing.T) {
	det := &fakeDetector{faces: []image.Rectangle{image.Rect(230, 130, 570, 470)}}
	enh := restore.NewEnhancer(filepath.Join(t.TempDir(), "missing.onnx"), nil, nil, &zlog.Logger)
	p := newProcessor(t, Dependencies{Detector: det, Remover: &fakeRemover{}, FaceEnhancer: enh}, Limits{})

	if p.Capabilities().FaceEnhancement {
		t.Fatal("face enhancement reported available")
	}

	opts := domain.DefaultOptions()
	opts.EnhanceFace = true
	res := p.ProcessBytes(context.Background(), newPortraitJPEG(t, 800, 600), opts)

	if !res.Success {
		t.Fatalf("result = %+v", res)
	}
	if res.FaceEnhanced {
		t.Fatal("face enhancement reported as applied")
	}
}

func TestFaceEnhancerGating(t *testing.T) {
	det := &fakeDetector{faces: []image.Rectangle{image.Rect(100, 100, 300, 300)}}
	enh := &fakeFaceEnhancer{available: true}
	p := newProcessor(t, Dependencies{Detector: det, Remover: &fakeRemover{}, FaceEnhancer: enh}, Limits{})
	data := newPortraitJPEG(t, 400, 400)

	opts := domain.DefaultOptions()
	opts.EnhanceFace = false
	p.ProcessBytes(context.Background(), data, opts)
	if enh.calls != 0 {
		t.Fatalf("enhancer called with enhance_face=false")
	}

	opts.EnhanceFace = true
	opts.EnhanceFidelity = 0.25
	res := p.ProcessBytes(context.Background(), data, opts)
	if enh.calls != 1 || enh.fidelity != 0.25 {
		t.Fatalf("calls = %d fidelity = %v", enh.calls, enh.fidelity)
	}
	if !res.FaceEnhanced {
		t.Fatal("FaceEnhanced not set")
	}
}

func TestAdaptiveCompressionFloor(t *testing.T) {
	det := &fakeDetector{faces: []image.Rectangle{image.Rect(0, 0, 320, 320)}}
	p := newProcessor(t, Dependencies{Detector: det, Remover: &fakeRemover{}}, Limits{})

	opts := domain.DefaultOptions()
	opts.EnhanceFace = false
	opts.EnhancePhoto = false
	opts.UseOvalMask = false
	opts.Width, opts.Height = 320, 320
	tiny := 1
	opts.MaxJPEGSizeKB = &tiny

	res := p.ProcessBytes(context.Background(), newNoisePNG(t, 320, 320), opts)

	if !res.Success {
		t.Fatalf("result = %+v", res)
	}
	if len(res.JPEG) == 0 {
		t.Fatal("missing jpeg")
	}
	if len(res.JPEG) <= 1024 {
		t.Fatalf("noise jpeg unexpectedly small: %d", len(res.JPEG))
	}
	if res.JPEGQuality != imaging.JPEGMinQuality {
		t.Fatalf("quality = %d, want %d", res.JPEGQuality, imaging.JPEGMinQuality)
	}
}

func TestInvalidImage(t *testing.T) {
	det := &fakeDetector{faces: []image.Rectangle{image.Rect(0, 0, 10, 10)}}
	col := stats.NewMemory(10)
	p := newProcessor(t, Dependencies{Detector: det, Remover: &fakeRemover{}, Stats: col}, Limits{})

	res := p.ProcessBytes(context.Background(), []byte("not an image"), domain.DefaultOptions())

	if res.Success || res.Error != domain.ErrorInvalidImage {
		t.Fatalf("result = %+v", res)
	}
	if det.detectCalls != 0 {
		t.Fatal("detector ran on invalid input")
	}
	if s := col.Snapshot(); s.Errors != 1 {
		t.Fatalf("stats = %+v", s)
	}
}

func TestFaceLostAfterAlignment(t *testing.T) {
	det := &fakeDetector{
		faces:    []image.Rectangle{image.Rect(0, 0, 50, 50)},
		canAlign: true,
		alignErr: face.ErrFaceLost,
	}
	rem := &fakeRemover{}
	p := newProcessor(t, Dependencies{Detector: det, Remover: rem}, Limits{})

	res := p.ProcessBytes(context.Background(), newPortraitJPEG(t, 200, 200), domain.DefaultOptions())

	if res.Success || res.Error != domain.ErrorNoFaceDetected {
		t.Fatalf("result = %+v", res)
	}
	if det.cropCalls != 0 {
		t.Fatal("crop ran after face was lost")
	}
}

func TestAlignmentErrorIsOptional(t *testing.T) {
	det := &fakeDetector{
		faces:    []image.Rectangle{image.Rect(50, 50, 150, 150)},
		canAlign: true,
		alignErr: errors.New("eye model hiccup"),
	}
	p := newProcessor(t, Dependencies{Detector: det, Remover: &fakeRemover{}}, Limits{})

	res := p.ProcessBytes(context.Background(), newPortraitJPEG(t, 200, 200), domain.DefaultOptions())

	if !res.Success || res.Aligned {
		t.Fatalf("result = %+v", res)
	}
}

func TestPanicBecomesProcessingFailed(t *testing.T) {
	det := &fakeDetector{faces: []image.Rectangle{image.Rect(10, 10, 90, 90)}}
	col := stats.NewMemory(10)
	p := newProcessor(t, Dependencies{Detector: det, Remover: &fakeRemover{panics: true}, Stats: col}, Limits{MaxConcurrentJobs: 1})

	res := p.ProcessBytes(context.Background(), newPortraitJPEG(t, 100, 100), domain.DefaultOptions())

	if res.Success || res.Error != domain.ErrorProcessingFailed {
		t.Fatalf("result = %+v", res)
	}
	if res.PNG != nil || res.JPEG != nil || res.FacePosition != nil {
		t.Fatal("failed result carries outputs")
	}
	if s := col.Snapshot(); s.Errors != 1 {
		t.Fatalf("stats = %+v", s)
	}

	// the slot must have been released by the panicking run
	det2 := &fakeDetector{faces: []image.Rectangle{image.Rect(10, 10, 90, 90)}}
	p.detector = det2
	p.remover = &fakeRemover{}
	if res := p.ProcessBytes(context.Background(), newPortraitJPEG(t, 100, 100), domain.DefaultOptions()); !res.Success {
		t.Fatalf("second run = %+v", res)
	}
}

func TestCanceledContext(t *testing.T) {
	det := &fakeDetector{faces: []image.Rectangle{image.Rect(10, 10, 90, 90)}}
	p := newProcessor(t, Dependencies{Detector: det, Remover: &fakeRemover{}}, Limits{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := p.ProcessBytes(ctx, newPortraitJPEG(t, 100, 100), domain.DefaultOptions())

	if res.Error != domain.ErrorCanceled {
		t.Fatalf("result = %+v", res)
	}
	if det.detectCalls != 0 {
		t.Fatal("detector ran after cancellation")
	}
}

func TestAdmissionLimit(t *testing.T) {
	det := &fakeDetector{faces: []image.Rectangle{image.Rect(10, 10, 90, 90)}}
	rem := &fakeRemover{started: make(chan struct{}, 1), block: make(chan struct{})}
	p := newProcessor(t, Dependencies{Detector: det, Remover: rem}, Limits{MaxConcurrentJobs: 1, QueueTimeout: 20 * time.Millisecond})
	data := newPortraitJPEG(t, 100, 100)

	done := make(chan *domain.ProcessingResult, 1)
	go func() {
		done <- p.ProcessBytes(context.Background(), data, domain.DefaultOptions())
	}()
	<-rem.started

	busy := p.ProcessBytes(context.Background(), data, domain.DefaultOptions())
	if busy.Error != domain.ErrorBusy {
		t.Fatalf("second run = %+v, want server_busy", busy)
	}

	close(rem.block)
	if first := <-done; !first.Success {
		t.Fatalf("first run = %+v", first)
	}
	if s := p.Stats(); s.Success != 1 || s.Errors != 1 {
		t.Fatalf("stats = %+v", s)
	}
}

func TestBytesAndFileModesMatch(t *testing.T) {
	newP := func() *PhotoProcessor {
		det := &fakeDetector{faces: []image.Rectangle{image.Rect(120, 80, 280, 240)}}
		return newProcessor(t, Dependencies{Detector: det, Remover: &fakeRemover{}}, Limits{})
	}
	data := newPortraitJPEG(t, 400, 320)
	opts := scenarioOptions()

	dir := t.TempDir()
	input := filepath.Join(dir, "in.jpg")
	if err := os.WriteFile(input, data, 0o644); err != nil {
		t.Fatal(err)
	}

	inMemory := newP().ProcessBytes(context.Background(), data, opts)
	again := newP().ProcessBytes(context.Background(), data, opts)
	onDisk := newP().ProcessFile(context.Background(), input, filepath.Join(dir, "out", "portrait.png"), opts)

	if !inMemory.Success || !onDisk.Success {
		t.Fatalf("bytes=%+v file=%+v", inMemory, onDisk)
	}
	if !bytes.Equal(inMemory.PNG, again.PNG) || !bytes.Equal(inMemory.JPEG, again.JPEG) {
		t.Fatal("repeated runs differ")
	}
	if onDisk.PNG != nil || onDisk.JPEG != nil {
		t.Fatal("file mode kept buffers")
	}
	if onDisk.PNGPath != filepath.Join(dir, "out", "portrait.png") || onDisk.JPEGPath != filepath.Join(dir, "out", "portrait.jpg") {
		t.Fatalf("paths = %q %q", onDisk.PNGPath, onDisk.JPEGPath)
	}

	pngData, err := os.ReadFile(onDisk.PNGPath)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(pngData, inMemory.PNG) {
		t.Fatal("file and bytes mode png differ")
	}
	jpgData, err := os.ReadFile(onDisk.JPEGPath)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(jpgData, inMemory.JPEG) {
		t.Fatal("file and bytes mode jpeg differ")
	}
}

func TestOutputSelection(t *testing.T) {
	det := &fakeDetector{faces: []image.Rectangle{image.Rect(50, 50, 150, 150)}}
	res := &countingResizer{Resizer: imaging.NewResizer()}
	p := newProcessor(t, Dependencies{Detector: det, Remover: &fakeRemover{}, Resizer: res}, Limits{})

	opts := domain.DefaultOptions()
	opts.Outputs = domain.OutputPNG
	out := p.ProcessBytes(context.Background(), newPortraitJPEG(t, 200, 200), opts)

	if !out.Success || out.PNG == nil || out.JPEG != nil {
		t.Fatalf("result = %+v", out)
	}
	if res.calls != 1 {
		t.Fatalf("resize calls = %d, want 1", res.calls)
	}
}

func TestMultipleFacesReportCount(t *testing.T) {
	det := &fakeDetector{faces: []image.Rectangle{image.Rect(50, 50, 150, 150), image.Rect(0, 0, 20, 20)}}
	ann, err := imaging.NewAnnotator()
	if err != nil {
		t.Fatal(err)
	}
	p := newProcessor(t, Dependencies{Detector: det, Remover: &fakeRemover{}, Annotator: ann}, Limits{})

	opts := domain.DefaultOptions()
	opts.Annotate = true
	res := p.ProcessBytes(context.Background(), newPortraitJPEG(t, 200, 200), opts)

	if !res.Success || res.FaceCount != 2 {
		t.Fatalf("result = %+v", res)
	}
	if res.SourceFace == nil || res.SourceFace.Rect() != image.Rect(50, 50, 150, 150) {
		t.Fatalf("source face = %v", res.SourceFace)
	}
	if _, err := jpeg.Decode(bytes.NewReader(res.Annotated)); err != nil {
		t.Fatalf("preview: %v", err)
	}
}

func TestNewPhotoProcessorRequiresModels(t *testing.T) {
	if _, err := NewPhotoProcessor(Dependencies{Remover: &fakeRemover{}}, Limits{}, &zlog.Logger); !errors.Is(err, ErrMissingDetector) {
		t.Fatalf("err = %v", err)
	}
	if _, err := NewPhotoProcessor(Dependencies{Detector: &fakeDetector{}}, Limits{}, &zlog.Logger); !errors.Is(err, ErrMissingRemover) {
		t.Fatalf("err = %v", err)
	}
}
