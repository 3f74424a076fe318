// Package models loads the OpenCV models named in the config and assembles
// the portrait pipeline around them.
package models

import (
	"errors"
	"fmt"
	"io"

	"facecraft/internal/background"
	"facecraft/internal/config"
	"facecraft/internal/face"
	"facecraft/internal/imaging"
	"facecraft/internal/restore"
	"facecraft/internal/stats"
	"facecraft/internal/usecase/processor"
	"facecraft/internal/vision"
	"facecraft/internal/vision/opencv"

	"github.com/wb-go/wbf/zlog"
)

type Status struct {
	Name     string `json:"name"`
	Path     string `json:"path"`
	Required bool   `json:"required"`
	Loaded   bool   `json:"loaded"`
	Error    string `json:"error,omitempty"`
}

// Set owns the loaded models and the processor built on them.
type Set struct {
	Processor *processor.PhotoProcessor
	Device    string
	Statuses  []Status

	closers []io.Closer
	logger  *zlog.Zerolog
}

// Load fails when a required model (face cascade, segmentation network) is
// missing or broken. Optional models only disable their feature.
func Load(cfg *config.Config, logger *zlog.Zerolog) (*Set, error) {
	m := cfg.Models
	s := &Set{Device: m.Device, logger: logger}

	faces, err := opencv.NewFaceLocator(m.FaceCascade, m.MinFaceSize, m.DetectMaxWidth)
	s.track("face_detector", m.FaceCascade, true, err)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to load face detector: %w", err)
	}
	s.closers = append(s.closers, faces)

	seg, err := opencv.NewSegmenter(m.Segmentation, m.Device)
	s.track("segmentation", m.Segmentation, true, err)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to load segmentation model: %w", err)
	}
	s.closers = append(s.closers, seg)

	var eyes face.EyeLocator
	eyeCascade, err := opencv.NewEyeLocator(m.EyeCascade)
	s.track("eye_detector", m.EyeCascade, false, err)
	switch {
	case err == nil:
		eyes = eyeCascade
		s.closers = append(s.closers, eyeCascade)
	case errors.Is(err, vision.ErrModelNotFound):
		logger.Info().Str("path", m.EyeCascade).Msg("Eye cascade not found, alignment disabled")
	default:
		logger.Warn().Err(err).Str("path", m.EyeCascade).Msg("Eye cascade failed to load, alignment disabled")
	}

	enhancer := restore.NewEnhancer(m.Restoration, opencv.RestorerLoader(m.Device, opencv.RestorerNames{
		Input:  m.RestoreInput,
		Weight: m.RestoreWeight,
		Output: m.RestoreOutput,
	}), faces, logger)
	s.track("face_restoration", m.Restoration, false, enhancer.Reason())
	s.closers = append(s.closers, enhancer)

	detector, err := face.NewDetector(faces, eyes, logger)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to create face detector: %w", err)
	}

	remover, err := background.NewRemover(seg, logger)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to create background remover: %w", err)
	}

	deps := processor.Dependencies{
		Detector:     detector,
		Remover:      remover,
		FaceEnhancer: enhancer,
		Stats:        stats.NewMemory(stats.DefaultHistorySize),
	}
	photo := imaging.NewPhotoEnhancer()
	photo.Denoiser = opencv.NewBilateralDenoiser()
	deps.PhotoEnhancer = photo
	if annotator, err := imaging.NewAnnotator(); err != nil {
		logger.Warn().Err(err).Msg("Annotation disabled")
	} else {
		deps.Annotator = annotator
	}

	s.Processor, err = processor.NewPhotoProcessor(deps, processor.Limits{
		MaxConcurrentJobs: cfg.Jobs.MaxConcurrentJobs,
		QueueTimeout:      cfg.Jobs.QueueTimeout,
	}, logger)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to create photo processor: %w", err)
	}

	logger.Info().
		Str("device", m.Device).
		Bool("alignment", eyes != nil).
		Bool("face_enhancement", enhancer.IsAvailable()).
		Msg("Models loaded")

	return s, nil
}

func (s *Set) track(name, path string, required bool, err error) {
	st := Status{Name: name, Path: path, Required: required, Loaded: err == nil}
	if err != nil {
		st.Error = err.Error()
	}
	s.Statuses = append(s.Statuses, st)
}

// Ready reports whether every required model is loaded.
func (s *Set) Ready() bool {
	if s == nil || s.Processor == nil {
		return false
	}
	for _, st := range s.Statuses {
		if st.Required && !st.Loaded {
			return false
		}
	}
	return true
}

func (s *Set) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
