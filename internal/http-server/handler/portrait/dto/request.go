package dto

// ProcessRequest holds the optional form fields of a processing request.
// Nil means the server default applies.
type ProcessRequest struct {
	Width           *int     `form:"width" validate:"omitempty,min=64,max=4096"`
	Height          *int     `form:"height" validate:"omitempty,min=64,max=4096"`
	BgR             *int     `form:"bg_r" validate:"omitempty,min=0,max=255"`
	BgG             *int     `form:"bg_g" validate:"omitempty,min=0,max=255"`
	BgB             *int     `form:"bg_b" validate:"omitempty,min=0,max=255"`
	FaceMargin      *float64 `form:"face_margin" validate:"omitempty,min=0,max=1"`
	UseOvalMask     *bool    `form:"use_oval_mask"`
	EnhanceFace     *bool    `form:"enhance_face"`
	EnhanceFidelity *float64 `form:"enhance_fidelity" validate:"omitempty,min=0,max=1"`
	EnhancePhoto    *bool    `form:"enhance_photo"`
	MaxSizeKB       *int     `form:"max_size_kb" validate:"omitempty,min=10,max=1000"`
	ReturnBase64    bool     `form:"return_base64"`
	Annotate        bool     `form:"annotate"`
}

type JobRequest struct {
	ID string `validate:"required,uuid"`
}

type DownloadRequest struct {
	ID   string `validate:"required,uuid"`
	Kind string `validate:"required,oneof=png jpg preview"`
}
