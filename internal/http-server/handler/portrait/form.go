package portrait

import (
	"fmt"
	"image/color"
	"io"
	"mime/multipart"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"

	"facecraft/internal/domain"
	"facecraft/internal/http-server/handler/portrait/dto"
	"facecraft/internal/usecase/job"
)

var allowedExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".bmp":  true,
	".webp": true,
}

func parseProcessRequest(form url.Values) (dto.ProcessRequest, error) {
	var (
		req dto.ProcessRequest
		err error
	)

	ints := []struct {
		key string
		dst **int
	}{
		{"width", &req.Width},
		{"height", &req.Height},
		{"bg_r", &req.BgR},
		{"bg_g", &req.BgG},
		{"bg_b", &req.BgB},
		{"max_size_kb", &req.MaxSizeKB},
	}
	for _, f := range ints {
		if *f.dst, err = optionalInt(form, f.key); err != nil {
			return req, err
		}
	}

	floats := []struct {
		key string
		dst **float64
	}{
		{"face_margin", &req.FaceMargin},
		{"enhance_fidelity", &req.EnhanceFidelity},
	}
	for _, f := range floats {
		if *f.dst, err = optionalFloat(form, f.key); err != nil {
			return req, err
		}
	}

	bools := []struct {
		key string
		dst **bool
	}{
		{"use_oval_mask", &req.UseOvalMask},
		{"enhance_face", &req.EnhanceFace},
		{"enhance_photo", &req.EnhancePhoto},
	}
	for _, f := range bools {
		if *f.dst, err = optionalBool(form, f.key); err != nil {
			return req, err
		}
	}

	if v, err := optionalBool(form, "return_base64"); err != nil {
		return req, err
	} else if v != nil {
		req.ReturnBase64 = *v
	}
	if v, err := optionalBool(form, "annotate"); err != nil {
		return req, err
	} else if v != nil {
		req.Annotate = *v
	}

	return req, nil
}

// applyRequest overlays the request fields on the defaults.
func applyRequest(opts domain.ProcessingOptions, req dto.ProcessRequest) domain.ProcessingOptions {
	if req.Width != nil {
		opts.Width = *req.Width
	}
	if req.Height != nil {
		opts.Height = *req.Height
	}
	bg := opts.BackgroundColor
	if req.BgR != nil {
		bg.R = uint8(*req.BgR)
	}
	if req.BgG != nil {
		bg.G = uint8(*req.BgG)
	}
	if req.BgB != nil {
		bg.B = uint8(*req.BgB)
	}
	opts.BackgroundColor = color.NRGBA{R: bg.R, G: bg.G, B: bg.B, A: 255}
	if req.FaceMargin != nil {
		opts.FaceMargin = *req.FaceMargin
	}
	if req.UseOvalMask != nil {
		opts.UseOvalMask = *req.UseOvalMask
	}
	if req.EnhanceFace != nil {
		opts.EnhanceFace = *req.EnhanceFace
	}
	if req.EnhanceFidelity != nil {
		opts.EnhanceFidelity = *req.EnhanceFidelity
	}
	if req.EnhancePhoto != nil {
		opts.EnhancePhoto = *req.EnhancePhoto
	}
	if req.MaxSizeKB != nil {
		kb := *req.MaxSizeKB
		opts.MaxJPEGSizeKB = &kb
	}
	opts.Annotate = req.Annotate
	return opts.Normalize()
}

func optionalInt(form url.Values, key string) (*int, error) {
	s := strings.TrimSpace(form.Get(key))
	if s == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be an integer", ErrInvalidField, key)
	}
	return &v, nil
}

func optionalFloat(form url.Values, key string) (*float64, error) {
	s := strings.TrimSpace(form.Get(key))
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be a number", ErrInvalidField, key)
	}
	return &v, nil
}

func optionalBool(form url.Values, key string) (*bool, error) {
	s := strings.TrimSpace(form.Get(key))
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be a boolean", ErrInvalidField, key)
	}
	return &v, nil
}

func readUpload(fh *multipart.FileHeader, maxSize int64) (job.Upload, error) {
	if fh.Size > maxSize {
		return job.Upload{}, fmt.Errorf("%w: max %d MB", ErrFileTooLarge, maxSize>>20)
	}

	ext := strings.ToLower(filepath.Ext(fh.Filename))
	if !allowedExtensions[ext] {
		return job.Upload{}, fmt.Errorf("%w: allowed jpg, jpeg, png, bmp, webp", ErrInvalidFileFormat)
	}

	f, err := fh.Open()
	if err != nil {
		return job.Upload{}, fmt.Errorf("failed to open upload: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxSize+1))
	if err != nil {
		return job.Upload{}, fmt.Errorf("failed to read upload: %w", err)
	}
	if int64(len(data)) > maxSize {
		return job.Upload{}, fmt.Errorf("%w: max %d MB", ErrFileTooLarge, maxSize>>20)
	}

	mimeType := fh.Header.Get("Content-Type")
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = mimeByExtension(ext)
	}

	return job.Upload{Filename: filepath.Base(fh.Filename), MimeType: mimeType, Data: data}, nil
}

func mimeByExtension(ext string) string {
	switch ext {
	case ".png":
		return "image/png"
	case ".bmp":
		return "image/bmp"
	case ".webp":
		return "image/webp"
	default:
		return "image/jpeg"
	}
}
