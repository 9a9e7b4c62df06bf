// Package barcode handles ISBNs scanned from a book's barcode: known books are
// reported, unknown ones are queued for intake.
package barcode

import (
	"context"
	"errors"

	"coverscan/features/job"
	"coverscan/internal/apperr"
	"coverscan/internal/books"
	"coverscan/internal/isbn"
)

const (
	MessageKnown  = "This book is already in the dataset."
	MessageQueued = "This book is already waiting to be added."
	MessageAdded  = "Book added to the intake queue."
)

type BookFinder interface {
	Find(ctx context.Context, code isbn.ISBN) (*books.Book, error)
}

// IndexChecker reports whether a book's cover is matchable.
type IndexChecker interface {
	Contains(ctx context.Context, isbn string) (bool, error)
}

type JobQueue interface {
	FindActive(ctx context.Context, isbn string, kind job.Kind) (*job.Job, error)
	Enqueue(ctx context.Context, isbn string, kind job.Kind) (*job.Job, error)
}

type Result struct {
	ISBN             string `json:"isbn"`
	AlreadyInDataset bool   `json:"already_in_dataset"`
	AlreadyInQueue   bool   `json:"already_in_queue"`
	Title            string `json:"title,omitempty"`
	CoverURL         string `json:"cover_url,omitempty"`
	JobID            string `json:"job_id,omitempty"`
	Message          string `json:"message"`
}

type Service struct {
	books BookFinder
	index IndexChecker
	jobs  JobQueue
}

func NewService(b BookFinder, idx IndexChecker, j JobQueue) *Service {
	return &Service{books: b, index: idx, jobs: j}
}

// Scan reports a book as known only when it has both a book row and an index
// entry. Otherwise it checks the intake queue and enqueues a fetch job when
// none is active.
func (s *Service) Scan(ctx context.Context, raw string) (*Result, error) {
	code, err := isbn.Parse(raw)
	if err != nil {
		return nil, err
	}

	book, err := s.books.Find(ctx, code)
	switch {
	case err == nil:
		indexed, err := s.index.Contains(ctx, book.ISBN)
		if err != nil {
			return nil, err
		}
		if indexed {
			return &Result{
				ISBN:             book.ISBN,
				AlreadyInDataset: true,
				Title:            book.Title,
				CoverURL:         book.CoverURL,
				Message:          MessageKnown,
			}, nil
		}
		// A row without an embedding cannot be matched; fetch it again.
	case !errors.Is(err, apperr.ErrNotFound):
		return nil, err
	}

	res := &Result{ISBN: code.Key()}
	active, err := s.jobs.FindActive(ctx, code.ISBN13, job.KindFetch)
	switch {
	case err == nil:
		res.AlreadyInQueue = true
		res.JobID = active.ID
		res.Message = MessageQueued
		return res, nil
	case !errors.Is(err, apperr.ErrNotFound):
		return nil, err
	}

	created, err := s.jobs.Enqueue(ctx, code.ISBN13, job.KindFetch)
	switch {
	case err == nil:
		res.JobID = created.ID
		res.Message = MessageAdded
	case errors.Is(err, apperr.ErrConflict):
		// Lost the race with a concurrent scan of the same ISBN.
		res.AlreadyInQueue = true
		res.Message = MessageQueued
	default:
		return nil, err
	}
	return res, nil
}
