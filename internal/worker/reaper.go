package worker

import (
	"context"
	"log/slog"
	"time"

	"coverscan/internal/metrics"
)

// Reaper returns running jobs whose heartbeat is older than timeout to
// pending.
type Reaper struct {
	repo      Reclaimer
	timeout   time.Duration
	interval  time.Duration
	onReclaim func()
	logger    *slog.Logger
}

func NewReaper(repo Reclaimer, timeout time.Duration, onReclaim func(), logger *slog.Logger) *Reaper {
	if logger == nil {
		logger = slog.Default()
	}
	interval := timeout / 2
	if interval <= 0 {
		interval = time.Second
	}
	return &Reaper{repo: repo, timeout: timeout, interval: interval, onReclaim: onReclaim, logger: logger}
}

func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.ReclaimOnce(ctx); err != nil && ctx.Err() == nil {
				r.logger.ErrorContext(ctx, "reclaim stale jobs failed", "error", err)
			}
		}
	}
}

func (r *Reaper) ReclaimOnce(ctx context.Context) (int, error) {
	n, err := r.repo.ReclaimStale(ctx, r.timeout)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		metrics.JobsReclaimed.Add(float64(n))
		r.logger.WarnContext(ctx, "reclaimed stale jobs", "count", n, "timeout", r.timeout)
		if r.onReclaim != nil {
			r.onReclaim()
		}
	}
	return n, nil
}
