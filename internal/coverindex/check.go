package coverindex

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
)

type KeyLister interface {
	Keys(ctx context.Context) ([]string, error)
}

// CheckIndex is the part of the reference index a sync check reads and prunes.
type CheckIndex interface {
	KeyLister
	Remove(ctx context.Context, isbn string) error
}

// Drift lists the keys on which the book store, the reference index and the
// covers directory disagree.
type Drift struct {
	// Book rows with no index entry. /match can never return them.
	MissingEmbedding []string `json:"missing_embedding"`
	// Book rows with no cover file.
	MissingCover []string `json:"missing_cover"`
	// Cover files with no book row. They still match, without metadata.
	OrphanCover []string `json:"orphan_cover"`
	// Cover files with no index entry. Repair reindexes these.
	UnindexedCover []string `json:"unindexed_cover"`
	// Index entries with neither a book row nor a cover file. Repair removes
	// these.
	OrphanEmbedding []string `json:"orphan_embedding"`

	Reindexed    []string `json:"reindexed,omitempty"`
	Removed      []string `json:"removed,omitempty"`
	RepairFailed []string `json:"repair_failed,omitempty"`
}

// Clean reports whether no drift was found.
func (d *Drift) Clean() bool {
	return len(d.MissingEmbedding) == 0 && len(d.MissingCover) == 0 && len(d.OrphanCover) == 0 &&
		len(d.UnindexedCover) == 0 && len(d.OrphanEmbedding) == 0
}

type Checker struct {
	books   KeyLister
	index   CheckIndex
	builder *Builder
	logger  *slog.Logger
}

func NewChecker(books KeyLister, idx CheckIndex, builder *Builder, logger *slog.Logger) *Checker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{books: books, index: idx, builder: builder, logger: logger}
}

// coverFiles maps each cover key in dir to its file path.
func coverFiles(dir string) (map[string]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read covers dir: %w", err)
	}
	files := make(map[string]string, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if key, ok := KeyFor(e.Name()); ok {
			files[key] = filepath.Join(dir, e.Name())
		}
	}
	return files, nil
}

func toSet(keys []string) map[string]bool {
	set := make(map[string]bool, len(keys))
	for _, k := range keys {
		set[k] = true
	}
	return set
}

// Check compares the three stores without changing any of them.
func (c *Checker) Check(ctx context.Context, dir string) (*Drift, error) {
	drift, _, err := c.check(ctx, dir)
	return drift, err
}

func (c *Checker) check(ctx context.Context, dir string) (*Drift, map[string]string, error) {
	bookKeys, err := c.books.Keys(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("list books: %w", err)
	}
	indexKeys, err := c.index.Keys(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("list index: %w", err)
	}
	files, err := coverFiles(dir)
	if err != nil {
		return nil, nil, err
	}

	inBooks, inIndex := toSet(bookKeys), toSet(indexKeys)
	d := &Drift{}
	for _, k := range bookKeys {
		if !inIndex[k] {
			d.MissingEmbedding = append(d.MissingEmbedding, k)
		}
		if _, ok := files[k]; !ok {
			d.MissingCover = append(d.MissingCover, k)
		}
	}
	for k := range files {
		if !inBooks[k] {
			d.OrphanCover = append(d.OrphanCover, k)
		}
		if !inIndex[k] {
			d.UnindexedCover = append(d.UnindexedCover, k)
		}
	}
	for _, k := range indexKeys {
		if _, ok := files[k]; !ok && !inBooks[k] {
			d.OrphanEmbedding = append(d.OrphanEmbedding, k)
		}
	}
	slices.Sort(d.OrphanCover)
	slices.Sort(d.UnindexedCover)
	return d, files, nil
}

// Repair reindexes unindexed covers and removes orphan embeddings, then
// reports the drift that was found. Failures are recorded per key.
func (c *Checker) Repair(ctx context.Context, dir string) (*Drift, error) {
	d, files, err := c.check(ctx, dir)
	if err != nil {
		return nil, err
	}

	for _, k := range d.UnindexedCover {
		if err := ctx.Err(); err != nil {
			return d, err
		}
		if _, err := c.builder.IndexFile(ctx, files[k]); err != nil {
			c.logger.WarnContext(ctx, "failed to reindex cover", "isbn", k, "error", err)
			d.RepairFailed = append(d.RepairFailed, k)
			continue
		}
		d.Reindexed = append(d.Reindexed, k)
	}
	for _, k := range d.OrphanEmbedding {
		if err := ctx.Err(); err != nil {
			return d, err
		}
		if err := c.index.Remove(ctx, k); err != nil {
			c.logger.WarnContext(ctx, "failed to remove orphan embedding", "isbn", k, "error", err)
			d.RepairFailed = append(d.RepairFailed, k)
			continue
		}
		d.Removed = append(d.Removed, k)
	}

	c.logger.InfoContext(ctx, "cover index repair finished",
		"reindexed", len(d.Reindexed), "removed", len(d.Removed), "failed", len(d.RepairFailed))
	return d, nil
}
