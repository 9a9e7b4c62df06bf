package metadata

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"coverscan/internal/apperr"
)

// CoverSources are URL templates tried in order. {isbn10}, {isbn13} and
// {google_id} are substituted; a template whose placeholder has no value is
// skipped.
type CoverSources []string

func DefaultCoverSources() CoverSources {
	return CoverSources{
		"https://images-na.ssl-images-amazon.com/images/P/{isbn10}.01._SCLZZZZZZZ_.jpg",
		"https://images-na.ssl-images-amazon.com/images/P/{isbn10}.01._SX200_.jpg",
		"https://images-na.ssl-images-amazon.com/images/P/{isbn10}.01._SX300_.jpg",
		"https://books.google.com/books/content?id={google_id}&printsec=frontcover&img=1&zoom=1&source=gbs_api",
		"https://covers.openlibrary.org/b/isbn/{isbn13}-L.jpg?default=false",
	}
}

const maxCoverBytes = 10 << 20

type CoverFetcher struct {
	sources CoverSources
	client  *http.Client
}

func NewCoverFetcher(sources CoverSources, timeout time.Duration) *CoverFetcher {
	return &CoverFetcher{sources: sources, client: &http.Client{Timeout: timeout}}
}

func (f *CoverFetcher) candidates(rec *Record) []string {
	r := strings.NewReplacer("{isbn10}", rec.ISBN10, "{isbn13}", rec.ISBN13, "{google_id}", rec.GoogleID)
	var out []string
	for _, tpl := range f.sources {
		if (strings.Contains(tpl, "{isbn10}") && rec.ISBN10 == "") ||
			(strings.Contains(tpl, "{isbn13}") && rec.ISBN13 == "") ||
			(strings.Contains(tpl, "{google_id}") && rec.GoogleID == "") {
			continue
		}
		out = append(out, r.Replace(tpl))
	}
	return out
}

// Download returns the first candidate whose HEAD answers 200 with an image
// content type. The bytes are not written anywhere.
func (f *CoverFetcher) Download(ctx context.Context, rec *Record) ([]byte, string, error) {
	var transient error
	for _, u := range f.candidates(rec) {
		data, err := f.try(ctx, u)
		if err == nil {
			return data, u, nil
		}
		if ctx.Err() != nil {
			return nil, "", ctx.Err()
		}
		if errors.Is(err, apperr.ErrTransient) {
			transient = err
		}
	}
	if transient != nil {
		return nil, "", fmt.Errorf("cover for %s: %w", rec.ISBN13, transient)
	}
	return nil, "", fmt.Errorf("no cover image for %s: %w", rec.ISBN13, apperr.ErrNotFound)
}

func (f *CoverFetcher) try(ctx context.Context, u string) ([]byte, error) {
	head, err := http.NewRequestWithContext(ctx, "HEAD", u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(head)
	if err != nil {
		return nil, fmt.Errorf("HEAD %s: %v: %w", u, err, apperr.ErrTransient)
	}
	resp.Body.Close()
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("HEAD %s: status %d: %w", u, resp.StatusCode, apperr.ErrTransient)
	}
	if resp.StatusCode != http.StatusOK || !strings.HasPrefix(resp.Header.Get("Content-Type"), "image") {
		return nil, fmt.Errorf("HEAD %s: no image: %w", u, apperr.ErrNotFound)
	}

	get, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return nil, err
	}
	resp, err = f.client.Do(get)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %v: %w", u, err, apperr.ErrTransient)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: status %d: %w", u, resp.StatusCode, apperr.ErrTransient)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxCoverBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s: %v: %w", u, err, apperr.ErrTransient)
	}
	return data, nil
}
