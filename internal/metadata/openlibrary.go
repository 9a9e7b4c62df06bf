package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"coverscan/internal/apperr"
)

type OpenLibrary struct {
	baseURL string
	client  *http.Client
}

func NewOpenLibrary(baseURL string, timeout time.Duration) *OpenLibrary {
	return &OpenLibrary{baseURL: baseURL, client: &http.Client{Timeout: timeout}}
}

func (o *OpenLibrary) Name() string { return "openlibrary" }

type olRecord struct {
	Title         string `json:"title"`
	NumberOfPages int    `json:"number_of_pages"`
	PublishDate   string `json:"publish_date"`
	Authors       []struct {
		Name string `json:"name"`
	} `json:"authors"`
	Publishers []struct {
		Name string `json:"name"`
	} `json:"publishers"`
	Identifiers struct {
		ISBN10 []string `json:"isbn_10"`
	} `json:"identifiers"`
	Languages []struct {
		Key string `json:"key"`
	} `json:"languages"`
	Cover struct {
		Small  string `json:"small"`
		Medium string `json:"medium"`
		Large  string `json:"large"`
	} `json:"cover"`
	Subjects    []json.RawMessage `json:"subjects"`
	Description json.RawMessage   `json:"description"`
}

func (o *OpenLibrary) Lookup(ctx context.Context, isbn13 string) (*Record, error) {
	key := "ISBN:" + isbn13
	u := fmt.Sprintf("%s?bibkeys=%s&format=json&jscmd=data", o.baseURL, url.QueryEscape(key))

	var data map[string]olRecord
	if err := getJSON(ctx, o.client, u, &data); err != nil {
		return nil, err
	}
	r, ok := data[key]
	if !ok {
		return nil, fmt.Errorf("openlibrary has no record for %s: %w", isbn13, apperr.ErrNotFound)
	}

	rec := &Record{
		ISBN13:          isbn13,
		Title:           r.Title,
		Pages:           r.NumberOfPages,
		PublicationDate: r.PublishDate,
		Description:     textOrValue(r.Description),
	}
	for _, a := range r.Authors {
		rec.Authors = append(rec.Authors, a.Name)
	}
	if len(r.Publishers) > 0 {
		rec.Publisher = r.Publishers[0].Name
	}
	if len(r.Identifiers.ISBN10) > 0 {
		rec.ISBN10 = r.Identifiers.ISBN10[0]
	}
	if len(r.Languages) > 0 {
		// "/languages/fre" -> "fre"
		k := r.Languages[0].Key
		rec.LanguageCode = k[strings.LastIndex(k, "/")+1:]
	}
	switch {
	case r.Cover.Large != "":
		rec.CoverURL = r.Cover.Large
	case r.Cover.Medium != "":
		rec.CoverURL = r.Cover.Medium
	default:
		rec.CoverURL = r.Cover.Small
	}
	for _, s := range r.Subjects {
		if name := textOrName(s); name != "" {
			rec.Genres = append(rec.Genres, name)
		}
	}
	return rec, nil
}

// textOrValue accepts either "text" or {"value":"text"}.
func textOrValue(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var obj struct {
		Value string `json:"value"`
	}
	if json.Unmarshal(raw, &obj) == nil {
		return obj.Value
	}
	return ""
}

// textOrName accepts either "subject" or {"name":"subject"}.
func textOrName(raw json.RawMessage) string {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var obj struct {
		Name string `json:"name"`
	}
	if json.Unmarshal(raw, &obj) == nil {
		return obj.Name
	}
	return ""
}
