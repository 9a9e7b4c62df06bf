// Package books is the persistent book record store.
package books

import "time"

type Book struct {
	ISBN            string    `json:"isbn"` // canonical key, ISBN-10 when derivable
	ISBN13          string    `json:"isbn13"`
	Title           string    `json:"title"`
	Authors         []string  `json:"authors"`
	Publisher       string    `json:"publisher,omitempty"`
	PublicationDate string    `json:"publication_date,omitempty"`
	Pages           int       `json:"pages,omitempty"`
	LanguageCode    string    `json:"language_code,omitempty"`
	Description     string    `json:"description,omitempty"`
	Genres          []string  `json:"genres,omitempty"`
	CoverURL        string    `json:"cover_url"`
	AverageRating   float64   `json:"average_rating,omitempty"`
	RatingsCount    int       `json:"ratings_count,omitempty"`
	GoogleID        string    `json:"google_id,omitempty"`
	DateAdded       time.Time `json:"date_added"`
}

// CoverPath is the URL a stored cover is served from.
func CoverPath(key string) string {
	return "/cover/" + key + ".jpg"
}
