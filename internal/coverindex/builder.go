// Package coverindex builds the reference index from a directory of cover
// images, once or continuously.
package coverindex

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"coverscan/internal/covers"
	"coverscan/internal/feature"
	"coverscan/internal/isbn"
)

type Index interface {
	Insert(ctx context.Context, isbn string, vec []float32) error
	Contains(ctx context.Context, isbn string) (bool, error)
}

type Builder struct {
	extractor feature.Extractor
	index     Index
	logger    *slog.Logger
}

// Report summarises one Build pass.
type Report struct {
	Indexed int `json:"indexed"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

func NewBuilder(extractor feature.Extractor, idx Index, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{extractor: extractor, index: idx, logger: logger}
}

// KeyFor maps a cover file to its index key. ISBN-named files use the
// canonical book key; anything else keeps its file stem.
func KeyFor(path string) (string, bool) {
	name := filepath.Base(path)
	if !covers.IsCoverFile(name) {
		return "", false
	}
	stem, err := covers.KeyFromFileName(name)
	if err != nil || stem == "" {
		return "", false
	}
	if code, err := isbn.Parse(stem); err == nil {
		return code.Key(), true
	}
	return strings.TrimSpace(stem), true
}

// IndexFile extracts and inserts one cover. Inserting an existing key
// replaces its vector.
func (b *Builder) IndexFile(ctx context.Context, path string) (string, error) {
	key, ok := KeyFor(path)
	if !ok {
		return "", fmt.Errorf("%s is not a cover image", path)
	}
	data, err := os.ReadFile(filepath.Clean(path)) // #nosec G304 -- operator-supplied covers directory
	if err != nil {
		return key, err
	}
	vec, err := b.extractor.Extract(ctx, data)
	if err != nil {
		return key, fmt.Errorf("extract %s: %w", path, err)
	}
	if err := b.index.Insert(ctx, key, vec); err != nil {
		return key, fmt.Errorf("insert %s: %w", key, err)
	}
	return key, nil
}

// Build indexes every cover in dir. Covers already in the index are skipped
// unless force is set. A bad file is counted and logged, not fatal.
func (b *Builder) Build(ctx context.Context, dir string, force bool) (Report, error) {
	var rep Report
	entries, err := os.ReadDir(dir)
	if err != nil {
		return rep, fmt.Errorf("read covers dir: %w", err)
	}

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		if e.IsDir() {
			continue
		}
		key, ok := KeyFor(e.Name())
		if !ok {
			continue
		}
		if !force {
			exists, err := b.index.Contains(ctx, key)
			if err != nil {
				return rep, fmt.Errorf("check %s: %w", key, err)
			}
			if exists {
				rep.Skipped++
				continue
			}
		}
		if _, err := b.IndexFile(ctx, filepath.Join(dir, e.Name())); err != nil {
			rep.Failed++
			b.logger.WarnContext(ctx, "failed to index cover", "file", e.Name(), "error", err)
			continue
		}
		rep.Indexed++
	}

	b.logger.InfoContext(ctx, "cover index build finished",
		"indexed", rep.Indexed, "skipped", rep.Skipped, "failed", rep.Failed)
	return rep, nil
}
