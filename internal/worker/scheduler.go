package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"coverscan/features/job"
	"coverscan/internal/apperr"
)

// Scheduler enqueues a collection merge job at a fixed interval.
type Scheduler struct {
	jobs     Enqueuer
	interval time.Duration
	logger   *slog.Logger
}

func NewScheduler(jobs Enqueuer, interval time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{jobs: jobs, interval: interval, logger: logger}
}

// Run schedules once immediately and then on every tick.
func (s *Scheduler) Run(ctx context.Context) {
	s.ScheduleOnce(ctx)
	if s.interval <= 0 {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.ScheduleOnce(ctx)
		}
	}
}

// ScheduleOnce reports whether a new merge job was created. A merge already
// pending or running is not an error.
func (s *Scheduler) ScheduleOnce(ctx context.Context) bool {
	_, err := s.jobs.Enqueue(ctx, job.MergeKey, job.KindMerge)
	switch {
	case err == nil:
		return true
	case errors.Is(err, apperr.ErrConflict):
		s.logger.DebugContext(ctx, "merge job already active")
	case ctx.Err() == nil:
		s.logger.ErrorContext(ctx, "failed to schedule merge job", "error", err)
	}
	return false
}
