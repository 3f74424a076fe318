package processor

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"

	"facecraft/internal/domain"
	"facecraft/internal/face"
	"facecraft/internal/imaging"
	"facecraft/internal/stats"

	"github.com/wb-go/wbf/zlog"
)

const (
	StageLoad             = "load"
	StageEnhanceFace      = "enhance_face"
	StageDetect           = "detect"
	StageRemoveBackground = "remove_background"
	StageAlign            = "align"
	StageCrop             = "crop"
	StageEnhancePhoto     = "enhance_photo"
	StageOvalMask         = "oval_mask"
	StageResize           = "resize"
	StageEncode           = "encode"
	StageAnnotate         = "annotate"
	StageWrite            = "write"

	previewQuality = 85
)

// Dependencies are the collaborators of the pipeline. Detector and Remover
// are required; the image utilities and stats fall back to defaults.
type Dependencies struct {
	Detector      faceDetector
	Remover       backgroundRemover
	FaceEnhancer  faceEnhancer
	PhotoEnhancer photoEnhancer
	Mask          ovalMask
	Resizer       imageResizer
	Annotator     annotator
	Stats         statsCollector
}

// Limits bound how many pipeline runs share the models at once. Runs that
// cannot get a slot within QueueTimeout fail with server_busy; a zero
// timeout waits until the context ends.
type Limits struct {
	MaxConcurrentJobs int
	QueueTimeout      time.Duration
}

type Capabilities struct {
	FaceEnhancement bool `json:"face_enhancement"`
	Alignment       bool `json:"alignment"`
	Annotation      bool `json:"annotation"`
}

// PhotoProcessor turns one portrait photo into padded PNG/JPEG outputs.
// It is safe for concurrent use; admission is bounded by Limits.
type PhotoProcessor struct {
	detector      faceDetector
	remover       backgroundRemover
	faceEnhancer  faceEnhancer
	photoEnhancer photoEnhancer
	mask          ovalMask
	resizer       imageResizer
	annotator     annotator
	stats         statsCollector

	slots        chan struct{}
	queueTimeout time.Duration
	logger       *zlog.Zerolog
}

func NewPhotoProcessor(deps Dependencies, limits Limits, logger *zlog.Zerolog) (*PhotoProcessor, error) {
	if deps.Detector == nil {
		return nil, ErrMissingDetector
	}
	if deps.Remover == nil {
		return nil, ErrMissingRemover
	}

	p := &PhotoProcessor{
		detector:      deps.Detector,
		remover:       deps.Remover,
		faceEnhancer:  deps.FaceEnhancer,
		photoEnhancer: deps.PhotoEnhancer,
		mask:          deps.Mask,
		resizer:       deps.Resizer,
		annotator:     deps.Annotator,
		stats:         deps.Stats,
		queueTimeout:  limits.QueueTimeout,
		logger:        logger,
	}

	if p.photoEnhancer == nil {
		p.photoEnhancer = imaging.NewPhotoEnhancer()
	}
	if p.mask == nil {
		p.mask = imaging.NewOvalMask()
	}
	if p.resizer == nil {
		p.resizer = imaging.NewResizer()
	}
	if p.stats == nil {
		p.stats = stats.NewMemory(stats.DefaultHistorySize)
	}
	if limits.MaxConcurrentJobs > 0 {
		p.slots = make(chan struct{}, limits.MaxConcurrentJobs)
	}

	return p, nil
}

func (p *PhotoProcessor) Capabilities() Capabilities {
	return Capabilities{
		FaceEnhancement: p.faceEnhancer != nil && p.faceEnhancer.IsAvailable(),
		Alignment:       p.detector.CanAlign(),
		Annotation:      p.annotator != nil,
	}
}

func (p *PhotoProcessor) Stats() stats.Snapshot {
	return p.stats.Snapshot()
}

// ResetStats starts a fresh statistics window and returns the one it closed.
func (p *PhotoProcessor) ResetStats() stats.Snapshot {
	return p.stats.Reset()
}

// ProcessBytes runs the pipeline on encoded image bytes and returns the
// outputs as buffers.
func (p *PhotoProcessor) ProcessBytes(ctx context.Context, data []byte, opts domain.ProcessingOptions) *domain.ProcessingResult {
	return p.process(ctx, func() (*image.NRGBA, error) {
		img, _, err := imaging.Decode(data)
		return img, err
	}, opts, nil)
}

// ProcessFile runs the pipeline on an image file and writes the outputs next
// to outputPath: <stem>.png, <stem>.jpg and, when annotating, <stem>.preview.jpg.
func (p *PhotoProcessor) ProcessFile(ctx context.Context, inputPath, outputPath string, opts domain.ProcessingOptions) *domain.ProcessingResult {
	return p.process(ctx, func() (*image.NRGBA, error) {
		img, _, err := imaging.DecodeFile(inputPath)
		return img, err
	}, opts, func(res *domain.ProcessingResult) error {
		return writeOutputs(res, outputPath)
	})
}

type source func() (*image.NRGBA, error)

func (p *PhotoProcessor) process(ctx context.Context, load source, opts domain.ProcessingOptions, emit func(*domain.ProcessingResult) error) (res *domain.ProcessingResult) {
	start := time.Now()
	res = &domain.ProcessingResult{}

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("Panic recovered in portrait pipeline")
			fail(res, domain.ErrorProcessingFailed)
		}

		res.ProcessingTime = time.Since(start)
		p.stats.Record(outcomeOf(res), res.ProcessingTime)

		p.logger.Info().
			Bool("success", res.Success).
			Str("error", string(res.Error)).
			Int("faces", res.FaceCount).
			Dur("duration", res.ProcessingTime).
			Msg("Portrait processing finished")
	}()

	release, err := p.acquire(ctx)
	if err != nil {
		p.logger.Warn().Err(err).Msg("Portrait processing not admitted")
		fail(res, classify(err))
		return res
	}
	defer release()

	if err := p.run(ctx, res, load, opts); err != nil {
		code := classify(err)
		if code == domain.ErrorProcessingFailed {
			p.logger.Error().Err(err).Msg("Portrait processing failed")
		} else {
			p.logger.Debug().Err(err).Str("code", string(code)).Msg("Portrait processing stopped")
		}
		fail(res, code)
		return res
	}

	if emit != nil {
		t := time.Now()
		if err := emit(res); err != nil {
			p.logger.Error().Err(err).Msg("Failed to write portrait outputs")
			fail(res, domain.ErrorProcessingFailed)
			return res
		}
		res.Stages = append(res.Stages, domain.StageTiming{Stage: StageWrite, Duration: time.Since(t)})
	}

	return res
}

func (p *PhotoProcessor) acquire(ctx context.Context) (func(), error) {
	if p.slots == nil {
		return func() {}, nil
	}

	release := func() { <-p.slots }

	select {
	case p.slots <- struct{}{}:
		return release, nil
	default:
	}

	var timeout <-chan time.Time
	if p.queueTimeout > 0 {
		timer := time.NewTimer(p.queueTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case p.slots <- struct{}{}:
		return release, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timeout:
		return nil, ErrBusy
	}
}

func (p *PhotoProcessor) run(ctx context.Context, res *domain.ProcessingResult, load source, opts domain.ProcessingOptions) error {
	stage := func(name string, fn func() error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		t := time.Now()
		err := fn()
		d := time.Since(t)
		res.Stages = append(res.Stages, domain.StageTiming{Stage: name, Duration: d})
		p.logger.Debug().Str("stage", name).Dur("duration", d).Msg("Stage completed")
		return err
	}

	var img *image.NRGBA
	if err := stage(StageLoad, func() (err error) {
		img, err = load()
		return err
	}); err != nil {
		return err
	}

	if opts.EnhanceFace && p.faceEnhancer != nil && p.faceEnhancer.IsAvailable() {
		if err := stage(StageEnhanceFace, func() error {
			enhanced, err := p.faceEnhancer.Enhance(img, opts.EnhanceFidelity)
			if err != nil {
				p.logger.Warn().Err(err).Msg("Face enhancement failed, continuing without it")
				return nil
			}
			img = enhanced
			res.FaceEnhanced = true
			return nil
		}); err != nil {
			return err
		}
	}

	var det face.Detection
	if err := stage(StageDetect, func() (err error) {
		det, err = p.detector.DetectFace(img)
		return err
	}); err != nil {
		return err
	}
	res.FaceCount = det.Count()
	if !det.Found() {
		return ErrNoFace
	}
	res.FaceDetected = true
	sourceFace := domain.RectFrom(det.Face)
	res.SourceFace = &sourceFace

	var preview []byte
	if opts.Annotate && p.annotator != nil {
		if err := stage(StageAnnotate, func() error {
			preview = p.annotate(img, det)
			return nil
		}); err != nil {
			return err
		}
	}

	var cutout *image.NRGBA
	if err := stage(StageRemoveBackground, func() (err error) {
		cutout, err = p.remover.RemoveBackground(img)
		return err
	}); err != nil {
		return err
	}

	faceRect := det.Face
	if p.detector.CanAlign() {
		if err := stage(StageAlign, func() error {
			al, err := p.detector.AlignFace(cutout, faceRect)
			switch {
			case errors.Is(err, face.ErrFaceLost):
				return err
			case err != nil:
				p.logger.Warn().Err(err).Msg("Face alignment failed, using unaligned image")
				return nil
			}
			cutout, faceRect, res.Aligned = al.Image, al.Face, al.Rotated
			return nil
		}); err != nil {
			return err
		}
	}

	var portrait *image.NRGBA
	var region image.Rectangle
	if err := stage(StageCrop, func() error {
		portrait, region = p.detector.CropFace(cutout, faceRect, opts.FaceMargin)
		if region.Empty() {
			return fmt.Errorf("empty crop for face %v", faceRect)
		}
		return nil
	}); err != nil {
		return err
	}

	if opts.EnhancePhoto {
		if err := stage(StageEnhancePhoto, func() error {
			portrait = p.photoEnhancer.Enhance(portrait)
			return nil
		}); err != nil {
			return err
		}
	}

	if opts.UseOvalMask {
		if err := stage(StageOvalMask, func() error {
			portrait = p.mask.Apply(portrait)
			return nil
		}); err != nil {
			return err
		}
	}

	var pngCanvas, jpegCanvas *image.NRGBA
	if err := stage(StageResize, func() error {
		if opts.Outputs.Has(domain.OutputPNG) {
			pngCanvas = p.resizer.ResizeWithPadding(portrait, opts.Width, opts.Height, opts.BackgroundColor, true)
		}
		if opts.Outputs.Has(domain.OutputJPEG) {
			jpegCanvas = p.resizer.ResizeWithPadding(portrait, opts.Width, opts.Height, opts.BackgroundColor, false)
		}
		return nil
	}); err != nil {
		return err
	}

	var pngData, jpegData []byte
	var quality int
	if err := stage(StageEncode, func() (err error) {
		if pngCanvas != nil {
			if pngData, err = imaging.EncodePNG(pngCanvas); err != nil {
				return err
			}
		}
		if jpegCanvas != nil {
			maxBytes := 0
			if opts.MaxJPEGSizeKB != nil {
				maxBytes = *opts.MaxJPEGSizeKB * 1024
			}
			if jpegData, quality, err = imaging.CompressJPEG(jpegCanvas, maxBytes); err != nil {
				return err
			}
			if maxBytes > 0 && len(jpegData) > maxBytes {
				p.logger.Warn().
					Int("size", len(jpegData)).
					Int("target", maxBytes).
					Int("quality", quality).
					Msg("JPEG size target not reached, returning smallest encoding")
			}
		}
		return nil
	}); err != nil {
		return err
	}

	inCrop := faceRect.Sub(region.Min).Intersect(image.Rect(0, 0, region.Dx(), region.Dy()))
	position := domain.RectFrom(imaging.MapRect(inCrop, region.Dx(), region.Dy(), opts.Width, opts.Height))

	res.Success = true
	res.FacePosition = &position
	res.PNG = pngData
	res.JPEG = jpegData
	res.JPEGQuality = quality
	res.Annotated = preview
	return nil
}

func (p *PhotoProcessor) annotate(img *image.NRGBA, det face.Detection) []byte {
	annotated, err := p.annotator.Annotate(img, det.Faces, 0)
	if err != nil {
		p.logger.Warn().Err(err).Msg("Failed to annotate preview")
		return nil
	}
	data, err := imaging.EncodeJPEG(annotated, previewQuality)
	if err != nil {
		p.logger.Warn().Err(err).Msg("Failed to encode preview")
		return nil
	}
	return data
}

func fail(res *domain.ProcessingResult, code domain.ErrorCode) {
	res.Success = false
	res.Error = code
	res.FacePosition = nil
	res.PNG, res.JPEG, res.Annotated = nil, nil, nil
	res.PNGPath, res.JPEGPath, res.PreviewPath = "", "", ""
	res.JPEGQuality = 0
	if code == domain.ErrorNoFaceDetected {
		res.FaceDetected = false
	}
}

func classify(err error) domain.ErrorCode {
	switch {
	case errors.Is(err, ErrNoFace), errors.Is(err, face.ErrFaceLost):
		return domain.ErrorNoFaceDetected
	case errors.Is(err, imaging.ErrInvalidImage),
		errors.Is(err, imaging.ErrUnsupportedImage),
		errors.Is(err, imaging.ErrEmptyImage),
		errors.Is(err, imaging.ErrImageTooLarge):
		return domain.ErrorInvalidImage
	case errors.Is(err, ErrBusy):
		return domain.ErrorBusy
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return domain.ErrorCanceled
	default:
		return domain.ErrorProcessingFailed
	}
}

func outcomeOf(res *domain.ProcessingResult) stats.Outcome {
	switch {
	case res.Success:
		return stats.OutcomeSuccess
	case res.Error == domain.ErrorNoFaceDetected:
		return stats.OutcomeNoFace
	default:
		return stats.OutcomeError
	}
}

func writeOutputs(res *domain.ProcessingResult, outputPath string) error {
	stem := strings.TrimSuffix(outputPath, filepath.Ext(outputPath))
	if err := os.MkdirAll(filepath.Dir(stem), 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	write := func(suffix string, data []byte) (string, error) {
		if data == nil {
			return "", nil
		}
		path := stem + suffix
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return "", fmt.Errorf("failed to write %s: %w", path, err)
		}
		return path, nil
	}

	var err error
	if res.PNGPath, err = write(".png", res.PNG); err != nil {
		return err
	}
	if res.JPEGPath, err = write(".jpg", res.JPEG); err != nil {
		return err
	}
	if res.PreviewPath, err = write(".preview.jpg", res.Annotated); err != nil {
		return err
	}

	res.PNG, res.JPEG, res.Annotated = nil, nil, nil
	return nil
}
