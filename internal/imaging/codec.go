package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"os"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

const (
	MaxPixels = 64_000_000

	JPEGStartQuality = 90
	JPEGMinQuality   = 50
	JPEGQualityStep  = 3
)

var supportedFormats = map[string]bool{
	"jpeg": true,
	"png":  true,
	"bmp":  true,
	"webp": true,
}

// Probe validates the header of encoded image bytes without decoding pixels.
func Probe(data []byte) (string, error) {
	if len(data) == 0 {
		return "", ErrEmptyImage
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		if errors.Is(err, image.ErrFormat) {
			return "", ErrUnsupportedImage
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if !supportedFormats[format] {
		return format, ErrUnsupportedImage
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return format, ErrEmptyImage
	}
	if cfg.Width*cfg.Height > MaxPixels {
		return format, ErrImageTooLarge
	}
	return format, nil
}

// Decode reads JPEG, PNG, BMP or WebP bytes into the canonical representation.
func Decode(data []byte) (*image.NRGBA, string, error) {
	format, err := Probe(data)
	if err != nil {
		return nil, format, err
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, format, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}

	return ToNRGBA(img), format, nil
}

func DecodeFile(path string) (*image.NRGBA, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	return Decode(data)
}

func EncodePNG(img image.Image) ([]byte, error) {
	buf := new(bytes.Buffer)
	enc := png.Encoder{CompressionLevel: png.DefaultCompression}
	if err := enc.Encode(buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode png: %w", err)
	}
	return buf.Bytes(), nil
}

func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := jpeg.Encode(buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("failed to encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// CompressJPEG encodes img at decreasing quality until the output fits
// maxBytes or the quality floor is reached. The smallest encoding seen is
// returned either way. A non-positive maxBytes encodes once at the start quality.
func CompressJPEG(img image.Image, maxBytes int) ([]byte, int, error) {
	best, err := EncodeJPEG(img, JPEGStartQuality)
	if err != nil {
		return nil, 0, err
	}
	bestQuality := JPEGStartQuality

	if maxBytes <= 0 {
		return best, bestQuality, nil
	}

	for quality := JPEGStartQuality; len(best) > maxBytes && quality > JPEGMinQuality; {
		quality -= JPEGQualityStep
		if quality < JPEGMinQuality {
			quality = JPEGMinQuality
		}

		data, err := EncodeJPEG(img, quality)
		if err != nil {
			return nil, 0, err
		}
		if len(data) < len(best) {
			best, bestQuality = data, quality
		}
	}

	return best, bestQuality, nil
}
