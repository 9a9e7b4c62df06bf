package index

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"coverscan/internal/metrics"
)

// Snapshot persists index contents so an in-memory index survives restarts.
type Snapshot interface {
	Save(ctx context.Context, isbn string, vec []float32) error
	Delete(ctx context.Context, isbn string) error
	// LoadAll streams records in original insertion order.
	LoadAll(ctx context.Context, fn func(isbn string, vec []float32) error) error
}

// Durable writes through to a Snapshot before touching the wrapped index, so
// a failed write leaves the in-memory state untouched. Writes to one isbn are
// serialised so the snapshot and memory agree on the last writer.
type Durable struct {
	Index
	snap  Snapshot
	locks [shardCount]sync.Mutex
}

func (d *Durable) lock(isbn string) func() {
	mu := &d.locks[stripe(isbn)]
	mu.Lock()
	return mu.Unlock
}

func NewDurable(inner Index, snap Snapshot) *Durable {
	return &Durable{Index: inner, snap: snap}
}

func (d *Durable) Insert(ctx context.Context, isbn string, vec []float32) error {
	if err := checkVector(d.Dimension(), vec); err != nil {
		return err
	}
	defer d.lock(isbn)()
	if err := d.snap.Save(ctx, isbn, vec); err != nil {
		return fmt.Errorf("persist embedding %s: %w", isbn, err)
	}
	if err := d.Index.Insert(ctx, isbn, vec); err != nil {
		return err
	}
	d.report(ctx)
	return nil
}

func (d *Durable) Remove(ctx context.Context, isbn string) error {
	defer d.lock(isbn)()
	if err := d.snap.Delete(ctx, isbn); err != nil {
		return fmt.Errorf("delete embedding %s: %w", isbn, err)
	}
	if err := d.Index.Remove(ctx, isbn); err != nil {
		return err
	}
	d.report(ctx)
	return nil
}

// Warm loads every persisted record into the wrapped index. Records whose
// dimension does not match are skipped and logged.
func (d *Durable) Warm(ctx context.Context) (int, error) {
	loaded, skipped := 0, 0
	err := d.snap.LoadAll(ctx, func(isbn string, vec []float32) error {
		if len(vec) != d.Dimension() {
			skipped++
			return nil
		}
		if err := d.Index.Insert(ctx, isbn, vec); err != nil {
			return err
		}
		loaded++
		return nil
	})
	if err != nil {
		return loaded, fmt.Errorf("warm index: %w", err)
	}
	if skipped > 0 {
		slog.WarnContext(ctx, "skipped embeddings with mismatched dimension", "skipped", skipped, "dimension", d.Dimension())
	}
	d.report(ctx)
	return loaded, nil
}

func (d *Durable) report(ctx context.Context) {
	if n, err := d.Index.Len(ctx); err == nil {
		metrics.IndexSize.Set(float64(n))
	}
}
