package domain

import "image/color"

// OutputFormats selects which artifacts a pipeline run produces.
type OutputFormats uint8

const (
	OutputPNG OutputFormats = 1 << iota
	OutputJPEG

	OutputAll = OutputPNG | OutputJPEG
)

func (o OutputFormats) Has(f OutputFormats) bool {
	if o == 0 {
		o = OutputAll
	}
	return o&f != 0
}

// ProcessingOptions is the per-request configuration of one pipeline run.
// Values are validated by the caller; the pipeline does not re-check ranges.
type ProcessingOptions struct {
	Width           int
	Height          int
	BackgroundColor color.NRGBA
	FaceMargin      float64
	UseOvalMask     bool
	EnhanceFace     bool
	EnhanceFidelity float64
	EnhancePhoto    bool
	MaxJPEGSizeKB   *int
	Outputs         OutputFormats
	Annotate        bool
}

const (
	DefaultWidth           = 648
	DefaultHeight          = 648
	DefaultFaceMargin      = 0.3
	DefaultEnhanceFidelity = 0.7
	DefaultMaxJPEGSizeKB   = 99
)

var DefaultBackground = color.NRGBA{R: 240, G: 240, B: 240, A: 255}

func DefaultOptions() ProcessingOptions {
	maxKB := DefaultMaxJPEGSizeKB
	return ProcessingOptions{
		Width:           DefaultWidth,
		Height:          DefaultHeight,
		BackgroundColor: DefaultBackground,
		FaceMargin:      DefaultFaceMargin,
		UseOvalMask:     true,
		EnhanceFace:     true,
		EnhanceFidelity: DefaultEnhanceFidelity,
		EnhancePhoto:    true,
		MaxJPEGSizeKB:   &maxKB,
		Outputs:         OutputAll,
	}
}

// Normalize clamps the fractional knobs into [0,1] and fills zero sizes.
func (o ProcessingOptions) Normalize() ProcessingOptions {
	o.FaceMargin = clamp01(o.FaceMargin)
	o.EnhanceFidelity = clamp01(o.EnhanceFidelity)
	if o.Width <= 0 {
		o.Width = DefaultWidth
	}
	if o.Height <= 0 {
		o.Height = DefaultHeight
	}
	if o.Outputs == 0 {
		o.Outputs = OutputAll
	}
	o.BackgroundColor.A = 255
	return o
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
