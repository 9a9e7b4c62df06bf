package metadata

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"coverscan/internal/apperr"
)

type GoogleBooks struct {
	baseURL string
	client  *http.Client
}

func NewGoogleBooks(baseURL string, timeout time.Duration) *GoogleBooks {
	return &GoogleBooks{baseURL: baseURL, client: &http.Client{Timeout: timeout}}
}

func (g *GoogleBooks) Name() string { return "google_books" }

type googleVolumes struct {
	Items []struct {
		ID         string `json:"id"`
		VolumeInfo struct {
			Title               string   `json:"title"`
			Authors             []string `json:"authors"`
			PageCount           int      `json:"pageCount"`
			PublishedDate       string   `json:"publishedDate"`
			Publisher           string   `json:"publisher"`
			Language            string   `json:"language"`
			Description         string   `json:"description"`
			Categories          []string `json:"categories"`
			AverageRating       float64  `json:"averageRating"`
			RatingsCount        int      `json:"ratingsCount"`
			IndustryIdentifiers []struct {
				Type       string `json:"type"`
				Identifier string `json:"identifier"`
			} `json:"industryIdentifiers"`
			ImageLinks struct {
				Thumbnail string `json:"thumbnail"`
			} `json:"imageLinks"`
		} `json:"volumeInfo"`
	} `json:"items"`
}

func (g *GoogleBooks) Lookup(ctx context.Context, isbn13 string) (*Record, error) {
	u := g.baseURL + "?q=" + url.QueryEscape("isbn:"+isbn13)

	var data googleVolumes
	if err := getJSON(ctx, g.client, u, &data); err != nil {
		return nil, err
	}
	if len(data.Items) == 0 {
		return nil, fmt.Errorf("google books has no volume for %s: %w", isbn13, apperr.ErrNotFound)
	}

	vol := data.Items[0]
	info := vol.VolumeInfo
	rec := &Record{
		ISBN13:          isbn13,
		Title:           info.Title,
		Authors:         info.Authors,
		Pages:           info.PageCount,
		PublicationDate: info.PublishedDate,
		Publisher:       info.Publisher,
		LanguageCode:    info.Language,
		Description:     info.Description,
		Genres:          info.Categories,
		CoverURL:        info.ImageLinks.Thumbnail,
		GoogleID:        vol.ID,
		AverageRating:   info.AverageRating,
		RatingsCount:    info.RatingsCount,
	}
	for _, id := range info.IndustryIdentifiers {
		if id.Type == "ISBN_10" {
			rec.ISBN10 = id.Identifier
		}
	}
	return rec, nil
}
