package worker

import (
	"context"
	"time"

	"coverscan/features/job"
	"coverscan/internal/books"
	"coverscan/internal/metadata"
)

// Queue is the part of job.Repository a worker loop drives.
type Queue interface {
	Claim(ctx context.Context, workerID string, kind job.Kind) (*job.Job, error)
	Complete(ctx context.Context, id, workerID string) error
	Fail(ctx context.Context, id, workerID string, cause error, retryable bool, maxAttempts int) (*job.Job, error)
	Release(ctx context.Context, id, workerID string) error
	Heartbeat(ctx context.Context, id, workerID string) error
}

type Reclaimer interface {
	ReclaimStale(ctx context.Context, olderThan time.Duration) (int, error)
}

type Enqueuer interface {
	Enqueue(ctx context.Context, isbn string, kind job.Kind) (*job.Job, error)
}

// Processor executes one claimed job. Returning an error wrapping
// apperr.ErrTransient asks for a retry; any other error fails the job.
type Processor interface {
	Process(ctx context.Context, j *job.Job) error
}

type Publisher interface {
	Publish(topic string, body []byte) error
}

type MetadataFetcher interface {
	Fetch(ctx context.Context, isbn13 string) (*metadata.Record, error)
}

type CoverDownloader interface {
	Download(ctx context.Context, rec *metadata.Record) ([]byte, string, error)
}

type CoverStore interface {
	Save(key string, data []byte) error
	Delete(key string) error
}

type BookStore interface {
	Put(ctx context.Context, b *books.Book) error
}

type IndexWriter interface {
	Insert(ctx context.Context, isbn string, vec []float32) error
	Remove(ctx context.Context, isbn string) error
}
