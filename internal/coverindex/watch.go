package coverindex

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ShouldIndex reports whether a filesystem event leaves a cover worth
// (re)indexing behind.
func ShouldIndex(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
		return false
	}
	_, ok := KeyFor(event.Name)
	return ok
}

// Watch indexes covers written to dir until ctx is done. Events are batched
// per file over the debounce window so a file being written is read once.
func (b *Builder) Watch(ctx context.Context, dir string, debounce time.Duration, indexed func(key string)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	b.logger.InfoContext(ctx, "watching covers dir", "dir", dir)

	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}
	pending := make(map[string]struct{})

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !ShouldIndex(event) {
				continue
			}
			if len(pending) == 0 {
				timer.Reset(debounce)
			}
			pending[filepath.Clean(event.Name)] = struct{}{}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			b.logger.WarnContext(ctx, "watch error", "error", err)
		case <-timer.C:
			for path := range pending {
				key, err := b.IndexFile(ctx, path)
				if err != nil {
					b.logger.WarnContext(ctx, "failed to index cover", "file", path, "error", err)
					continue
				}
				b.logger.InfoContext(ctx, "cover indexed", "isbn", key)
				if indexed != nil {
					indexed(key)
				}
			}
			clear(pending)
		}
	}
}
