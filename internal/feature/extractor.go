// Package feature turns cover images into fixed-length embedding vectors.
package feature

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"coverscan/internal/apperr"
)

// Extractor produces an embedding for raw image bytes. Implementations must
// be deterministic and return apperr.ErrInvalidImage for payloads that are not
// a decodable raster image.
type Extractor interface {
	Extract(ctx context.Context, img []byte) ([]float32, error)
	Dimension() int
	Name() string
}

// DefaultMaxPixels bounds the decoded size of an image, 40 megapixels.
const DefaultMaxPixels = 40_000_000

func limitOrDefault(maxPixels int) int {
	if maxPixels <= 0 {
		return DefaultMaxPixels
	}
	return maxPixels
}

// header reads the image dimensions and rejects payloads whose pixel count
// exceeds maxPixels before any pixel data is decoded.
func header(data []byte, maxPixels int) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("empty payload: %w", apperr.ErrInvalidImage)
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("decode image header: %v: %w", err, apperr.ErrInvalidImage)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return "", fmt.Errorf("image has no pixels: %w", apperr.ErrInvalidImage)
	}
	if limit := limitOrDefault(maxPixels); cfg.Width*cfg.Height > limit {
		return "", fmt.Errorf("image is %dx%d, limit is %d pixels: %w", cfg.Width, cfg.Height, limit, apperr.ErrInvalidImage)
	}
	return format, nil
}

// Decode parses JPEG, PNG or GIF bytes of at most maxPixels pixels. A
// non-positive maxPixels means DefaultMaxPixels.
func Decode(data []byte, maxPixels int) (image.Image, string, error) {
	if _, err := header(data, maxPixels); err != nil {
		return nil, "", err
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("decode image: %v: %w", err, apperr.ErrInvalidImage)
	}
	return img, format, nil
}

// Sniff validates the payload header and size without decoding pixel data.
func Sniff(data []byte, maxPixels int) (string, error) {
	return header(data, maxPixels)
}
