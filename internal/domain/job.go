package domain

import "time"

type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	JobDeleted    JobStatus = "deleted"
)

// Job is the API-side record of one processing request and its artifacts.
type Job struct {
	ID               string
	OriginalFilename string
	OriginalSize     int64
	MimeType         string
	Status           JobStatus
	SourcePath       string
	PNGPath          string
	JPEGPath         string
	PreviewPath      string
	ContentHash      string
	FaceDetected     bool
	FaceCount        int
	FacePosition     *FaceRect
	Error            string
	ProcessingTime   time.Duration
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// ProcessingTask is the message sent to the worker for asynchronous jobs.
type ProcessingTask struct {
	ID         string      `json:"id"`
	JobID      string      `json:"job_id"`
	SourcePath string      `json:"source_path"`
	Options    TaskOptions `json:"options"`
	CreatedAt  time.Time   `json:"created_at"`
	// Attempt counts requeues caused by infrastructure failures.
	Attempt    int         `json:"attempt,omitempty"`
}

// TaskOptions is the wire form of ProcessingOptions.
type TaskOptions struct {
	Width           int      `json:"width"`
	Height          int      `json:"height"`
	Background      [3]uint8 `json:"background"`
	FaceMargin      float64  `json:"face_margin"`
	UseOvalMask     bool     `json:"use_oval_mask"`
	EnhanceFace     bool     `json:"enhance_face"`
	EnhanceFidelity float64  `json:"enhance_fidelity"`
	EnhancePhoto    bool     `json:"enhance_photo"`
	MaxJPEGSizeKB   *int     `json:"max_jpeg_size_kb,omitempty"`
	Annotate        bool     `json:"annotate"`
}

func TaskOptionsFrom(o ProcessingOptions) TaskOptions {
	return TaskOptions{
		Width:           o.Width,
		Height:          o.Height,
		Background:      [3]uint8{o.BackgroundColor.R, o.BackgroundColor.G, o.BackgroundColor.B},
		FaceMargin:      o.FaceMargin,
		UseOvalMask:     o.UseOvalMask,
		EnhanceFace:     o.EnhanceFace,
		EnhanceFidelity: o.EnhanceFidelity,
		EnhancePhoto:    o.EnhancePhoto,
		MaxJPEGSizeKB:   o.MaxJPEGSizeKB,
		Annotate:        o.Annotate,
	}
}

func (t TaskOptions) Options() ProcessingOptions {
	o := ProcessingOptions{
		Width:           t.Width,
		Height:          t.Height,
		FaceMargin:      t.FaceMargin,
		UseOvalMask:     t.UseOvalMask,
		EnhanceFace:     t.EnhanceFace,
		EnhanceFidelity: t.EnhanceFidelity,
		EnhancePhoto:    t.EnhancePhoto,
		MaxJPEGSizeKB:   t.MaxJPEGSizeKB,
		Outputs:         OutputAll,
		Annotate:        t.Annotate,
	}
	o.BackgroundColor.R, o.BackgroundColor.G, o.BackgroundColor.B = t.Background[0], t.Background[1], t.Background[2]
	o.BackgroundColor.A = 255
	return o.Normalize()
}

const (
	PathPrefixJobs = "jobs/"

	ArtifactSource  = "source"
	ArtifactPNG     = "portrait.png"
	ArtifactJPEG    = "portrait.jpg"
	ArtifactPreview = "preview.jpg"
)

const DefaultMaxUploadSize = 20 << 20
