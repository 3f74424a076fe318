package dto

import (
	"time"

	"facecraft/internal/domain"
)

type ProcessResponse struct {
	Success        bool             `json:"success"`
	JobID          string           `json:"job_id"`
	FaceDetected   bool             `json:"face_detected"`
	FaceCount      int              `json:"face_count"`
	FacePosition   *domain.FaceRect `json:"face_position,omitempty"`
	ProcessingTime float64          `json:"processing_time"`
	Cached         bool             `json:"cached,omitempty"`
	PNGURL         string           `json:"png_url,omitempty"`
	JPGURL         string           `json:"jpg_url,omitempty"`
	PreviewURL     string           `json:"preview_url,omitempty"`
	PNGBase64      string           `json:"png_base64,omitempty"`
	JPGBase64      string           `json:"jpg_base64,omitempty"`
}

type BatchItemResponse struct {
	Filename     string           `json:"filename"`
	Success      bool             `json:"success"`
	JobID        string           `json:"job_id,omitempty"`
	FaceDetected bool             `json:"face_detected"`
	FacePosition *domain.FaceRect `json:"face_position,omitempty"`
	PNGURL       string           `json:"png_url,omitempty"`
	JPGURL       string           `json:"jpg_url,omitempty"`
	Error        string           `json:"error,omitempty"`
}

type BatchResponse struct {
	Total          int                 `json:"total"`
	Succeeded      int                 `json:"succeeded"`
	Failed         int                 `json:"failed"`
	ProcessingTime float64             `json:"processing_time"`
	Results        []BatchItemResponse `json:"results"`
}

type JobResponse struct {
	ID             string           `json:"id"`
	Status         string           `json:"status"`
	Filename       string           `json:"filename"`
	Size           int64            `json:"size"`
	FaceDetected   bool             `json:"face_detected"`
	FaceCount      int              `json:"face_count"`
	FacePosition   *domain.FaceRect `json:"face_position,omitempty"`
	ProcessingTime float64          `json:"processing_time,omitempty"`
	Error          string           `json:"error,omitempty"`
	PNGURL         string           `json:"png_url,omitempty"`
	JPGURL         string           `json:"jpg_url,omitempty"`
	PreviewURL     string           `json:"preview_url,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}
