// Package match identifies a book from a photo of its cover.
package match

import (
	"context"
	"log/slog"
	"time"

	"github.com/patrickmn/go-cache"

	"coverscan/internal/books"
	"coverscan/internal/covers"
	"coverscan/internal/feature"
	"coverscan/internal/index"
	"coverscan/internal/metrics"
)

type Searcher interface {
	Query(ctx context.Context, vec []float32, k int) ([]index.Neighbor, error)
}

type BookLookup interface {
	GetMany(ctx context.Context, keys []string) (map[string]*books.Book, error)
}

type Candidate struct {
	ISBN     string   `json:"isbn"`
	Filename string   `json:"filename"`
	Title    string   `json:"title"`
	Authors  []string `json:"authors"`
	CoverURL string   `json:"cover_url"`
	Score    float64  `json:"score"`
}

// Result holds the nearest cover and the runners-up, ordered by ascending
// score. Best is nil only when no candidate is available.
type Result struct {
	Best         *Candidate
	Alternatives []Candidate
}

type Config struct {
	TopK int
	// MaxDistance drops candidates scoring above it. Zero keeps every
	// candidate, so a non-empty index always yields a best guess.
	MaxDistance float64
	CacheTTL    time.Duration
}

type Service struct {
	extractor feature.Extractor
	index     Searcher
	books     BookLookup
	cache     *cache.Cache
	cfg       Config
	logger    *slog.Logger
}

func NewService(extractor feature.Extractor, idx Searcher, bookLookup BookLookup, cfg Config, logger *slog.Logger) *Service {
	if cfg.TopK <= 0 {
		cfg.TopK = 6
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		extractor: extractor,
		index:     idx,
		books:     bookLookup,
		cache:     cache.New(cfg.CacheTTL, 2*cfg.CacheTTL),
		cfg:       cfg,
		logger:    logger,
	}
}

// Match extracts features from an uploaded image and looks up the closest
// covers. Extractor and index errors are returned unchanged.
func (s *Service) Match(ctx context.Context, image []byte) (*Result, error) {
	start := time.Now()
	outcome := "error"
	defer func() {
		metrics.MatchDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	}()

	vec, err := s.extractor.Extract(ctx, image)
	metrics.ExtractDuration.WithLabelValues(s.extractor.Name()).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}

	neighbors, err := s.index.Query(ctx, vec, s.cfg.TopK)
	if err != nil {
		return nil, err
	}
	if s.cfg.MaxDistance > 0 {
		kept := neighbors[:0]
		for _, n := range neighbors {
			if n.Distance <= s.cfg.MaxDistance {
				kept = append(kept, n)
			}
		}
		neighbors = kept
	}

	candidates := s.enrich(ctx, neighbors)
	res := &Result{Alternatives: []Candidate{}}
	if len(candidates) == 0 {
		outcome = "empty"
		return res, nil
	}

	outcome = "matched"
	res.Best = &candidates[0]
	res.Alternatives = candidates[1:]
	metrics.MatchBestDistance.Observe(res.Best.Score)
	return res, nil
}

func (s *Service) enrich(ctx context.Context, neighbors []index.Neighbor) []Candidate {
	found := make(map[string]*books.Book, len(neighbors))
	var missing []string
	for _, n := range neighbors {
		if v, ok := s.cache.Get(n.ISBN); ok {
			found[n.ISBN] = v.(*books.Book)
			metrics.BookCacheLookups.WithLabelValues("hit").Inc()
			continue
		}
		metrics.BookCacheLookups.WithLabelValues("miss").Inc()
		missing = append(missing, n.ISBN)
	}

	if len(missing) > 0 {
		fetched, err := s.books.GetMany(ctx, missing)
		if err != nil {
			// Scores are still meaningful without titles.
			s.logger.WarnContext(ctx, "book enrichment failed", "error", err, "isbns", missing)
		}
		for key, b := range fetched {
			found[key] = b
			s.cache.SetDefault(key, b)
		}
	}

	out := make([]Candidate, 0, len(neighbors))
	for _, n := range neighbors {
		c := Candidate{
			ISBN:     n.ISBN,
			Filename: covers.FileName(n.ISBN),
			Authors:  []string{},
			CoverURL: books.CoverPath(n.ISBN),
			Score:    n.Distance,
		}
		if b, ok := found[n.ISBN]; ok {
			c.Title = b.Title
			if b.Authors != nil {
				c.Authors = b.Authors
			}
			if b.CoverURL != "" {
				c.CoverURL = b.CoverURL
			}
		}
		out = append(out, c)
	}
	return out
}

// Forget drops a cached book so the next match re-reads it.
func (s *Service) Forget(key string) {
	s.cache.Delete(key)
}
