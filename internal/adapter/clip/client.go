// Package clip talks to a remote CLIP image-embedding service.
package clip

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"coverscan/internal/apperr"
	"coverscan/internal/feature"
)

// Client implements feature.Extractor. The service is expected to accept a
// multipart "image" field on POST /embed and answer {"embedding":[...]}.
type Client struct {
	baseURL   string
	dimension int
	maxPixels int
	client    *http.Client
}

// NewClient builds a client; images above maxPixels are rejected locally.
// A non-positive maxPixels means feature.DefaultMaxPixels.
func NewClient(baseURL string, dimension, maxPixels int) *Client {
	return &Client{
		baseURL:   baseURL,
		dimension: dimension,
		maxPixels: maxPixels,
		client:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) Name() string   { return "clip" }
func (c *Client) Dimension() int { return c.dimension }

func (c *Client) Extract(ctx context.Context, img []byte) ([]float32, error) {
	// Non-images never leave the process.
	format, err := feature.Sniff(img, c.maxPixels)
	if err != nil {
		return nil, err
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("image", "cover."+format)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(img); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/embed", &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("clip request: %v: %w", err, apperr.ErrTransient)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnsupportedMediaType:
		return nil, fmt.Errorf("clip rejected image: %w", apperr.ErrInvalidImage)
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("clip api error: %d: %w", resp.StatusCode, apperr.ErrTransient)
	case resp.StatusCode != http.StatusOK:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("clip api error: %d: %s", resp.StatusCode, msg)
	}

	var result struct {
		Embedding []float32 `json:"embedding"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode clip response: %w", err)
	}
	if len(result.Embedding) != c.dimension {
		return nil, fmt.Errorf("clip returned %d dimensions, want %d: %w", len(result.Embedding), c.dimension, apperr.ErrInternal)
	}
	return result.Embedding, nil
}
