// Package metadata resolves an ISBN to bibliographic data and a cover image
// using public book APIs.
package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"coverscan/internal/apperr"
)

type Record struct {
	ISBN10          string
	ISBN13          string
	Title           string
	Authors         []string
	Pages           int
	PublicationDate string
	Publisher       string
	LanguageCode    string
	Description     string
	Genres          []string
	CoverURL        string
	GoogleID        string
	AverageRating   float64
	RatingsCount    int
}

// Provider looks up one ISBN-13. It returns apperr.ErrNotFound when the
// source has no record and apperr.ErrTransient for network or 5xx failures.
type Provider interface {
	Name() string
	Lookup(ctx context.Context, isbn13 string) (*Record, error)
}

func getJSON(ctx context.Context, client *http.Client, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("GET %s: %v: %w", url, err, apperr.ErrTransient)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("GET %s: %w", url, apperr.ErrNotFound)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("GET %s: status %d: %w", url, resp.StatusCode, apperr.ErrTransient)
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("GET %s: status %d: %s", url, resp.StatusCode, body)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", url, err)
	}
	return nil
}
