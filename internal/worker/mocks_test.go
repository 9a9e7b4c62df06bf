package worker

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"coverscan/features/job"
	"coverscan/internal/books"
	"coverscan/internal/metadata"
)

func newQueue(t *testing.T) *job.BoltRepo {
	t.Helper()
	q, err := job.OpenBolt(filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })
	return q
}

type processorFunc func(ctx context.Context, j *job.Job) error

func (f processorFunc) Process(ctx context.Context, j *job.Job) error { return f(ctx, j) }

type recordingPublisher struct {
	mu     sync.Mutex
	topics []string
}

func (p *recordingPublisher) Publish(topic string, _ []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	return nil
}

func (p *recordingPublisher) Topics() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.topics...)
}

type stubMetadata struct {
	rec *metadata.Record
	err error
}

func (s *stubMetadata) Fetch(_ context.Context, _ string) (*metadata.Record, error) {
	return s.rec, s.err
}

type stubCovers struct {
	data []byte
	err  error
}

func (s *stubCovers) Download(_ context.Context, _ *metadata.Record) ([]byte, string, error) {
	return s.data, "https://covers.example/x.jpg", s.err
}

type memCoverStore struct {
	saved map[string][]byte
}

func (m *memCoverStore) Save(key string, data []byte) error {
	if m.saved == nil {
		m.saved = map[string][]byte{}
	}
	m.saved[key] = data
	return nil
}

func (m *memCoverStore) Delete(key string) error {
	delete(m.saved, key)
	return nil
}

type memBookStore struct {
	books map[string]*books.Book
	err   error
}

func (m *memBookStore) Put(_ context.Context, b *books.Book) error {
	if m.err != nil {
		return m.err
	}
	if m.books == nil {
		m.books = map[string]*books.Book{}
	}
	m.books[b.ISBN] = b
	return nil
}

type memIndex struct {
	vectors map[string][]float32
	err     error
	removed []string
}

func (m *memIndex) Insert(_ context.Context, isbn string, vec []float32) error {
	if m.err != nil {
		return m.err
	}
	if m.vectors == nil {
		m.vectors = map[string][]float32{}
	}
	m.vectors[isbn] = vec
	return nil
}

func (m *memIndex) Remove(_ context.Context, isbn string) error {
	m.removed = append(m.removed, isbn)
	delete(m.vectors, isbn)
	return nil
}
