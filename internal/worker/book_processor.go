package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"coverscan/features/job"
	"coverscan/internal/apperr"
	"coverscan/internal/books"
	"coverscan/internal/config"
	"coverscan/internal/feature"
	"coverscan/internal/isbn"
	"coverscan/internal/metadata"
)

// BookProcessor turns a fetch job into a stored book, a cover file and an
// index entry.
type BookProcessor struct {
	meta      MetadataFetcher
	covers    CoverDownloader
	store     CoverStore
	books     BookStore
	extractor feature.Extractor
	index     IndexWriter
	pub       Publisher
	logger    *slog.Logger
}

func NewBookProcessor(meta MetadataFetcher, covers CoverDownloader, store CoverStore, bookStore BookStore,
	extractor feature.Extractor, index IndexWriter, pub Publisher, logger *slog.Logger) *BookProcessor {
	if logger == nil {
		logger = slog.Default()
	}
	return &BookProcessor{
		meta:      meta,
		covers:    covers,
		store:     store,
		books:     bookStore,
		extractor: extractor,
		index:     index,
		pub:       pub,
		logger:    logger,
	}
}

// Process runs in two phases. Network work observes ctx so a stop releases
// the job; once every input is in hand the writes run to completion.
func (p *BookProcessor) Process(ctx context.Context, j *job.Job) error {
	code, err := isbn.Parse(j.ISBN)
	if err != nil {
		return err
	}

	rec, err := p.meta.Fetch(ctx, code.ISBN13)
	if err != nil {
		return fmt.Errorf("fetch metadata: %w", err)
	}
	data, source, err := p.covers.Download(ctx, rec)
	if err != nil {
		return fmt.Errorf("download cover: %w", err)
	}
	vec, err := p.extractor.Extract(ctx, data)
	if err != nil {
		return fmt.Errorf("extract features: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	wctx := context.WithoutCancel(ctx)
	key := code.Key()
	// The index entry goes first so a book row never exists without one. Later
	// write failures roll it back.
	if err := p.index.Insert(wctx, key, vec); err != nil {
		return writeFailure("index cover", err)
	}
	if err := p.store.Save(key, data); err != nil {
		p.rollback(wctx, key, false)
		return writeFailure("save cover", err)
	}
	if err := p.books.Put(wctx, newBook(key, code, rec)); err != nil {
		p.rollback(wctx, key, true)
		return writeFailure("store book", err)
	}

	p.logger.InfoContext(wctx, "book indexed", "isbn", key, "title", rec.Title, "cover_source", source)
	job.Announce(wctx, p.pub, config.TopicIntakeIndexed, j, nil)
	return nil
}

func (p *BookProcessor) rollback(ctx context.Context, key string, coverSaved bool) {
	if err := p.index.Remove(ctx, key); err != nil {
		p.logger.ErrorContext(ctx, "failed to roll back index entry", "isbn", key, "error", err)
	}
	if !coverSaved {
		return
	}
	if err := p.store.Delete(key); err != nil {
		p.logger.ErrorContext(ctx, "failed to roll back cover file", "isbn", key, "error", err)
	}
}

// writeFailure marks storage errors as transient so the job is retried.
// Rejections of the data itself stay permanent.
func writeFailure(op string, err error) error {
	if errors.Is(err, apperr.ErrInvalidArgument) || errors.Is(err, apperr.ErrTransient) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %v: %w", op, err, apperr.ErrTransient)
}

func newBook(key string, code isbn.ISBN, rec *metadata.Record) *books.Book {
	return &books.Book{
		ISBN:            key,
		ISBN13:          code.ISBN13,
		Title:           rec.Title,
		Authors:         rec.Authors,
		Publisher:       rec.Publisher,
		PublicationDate: rec.PublicationDate,
		Pages:           rec.Pages,
		LanguageCode:    rec.LanguageCode,
		Description:     rec.Description,
		Genres:          rec.Genres,
		CoverURL:        books.CoverPath(key),
		AverageRating:   rec.AverageRating,
		RatingsCount:    rec.RatingsCount,
		GoogleID:        rec.GoogleID,
	}
}
