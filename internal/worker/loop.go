package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"coverscan/features/job"
	"coverscan/internal/apperr"
	"coverscan/internal/config"
	"coverscan/internal/metrics"
	"coverscan/internal/middleware"
)

const finalizeTimeout = 10 * time.Second

type LoopConfig struct {
	ID                string
	Kind              job.Kind
	MaxAttempts       int
	HeartbeatInterval time.Duration
	PollMin           time.Duration
	PollMax           time.Duration
}

// Stats is a point-in-time view of a loop's counters.
type Stats struct {
	LastHeartbeat time.Time
	Processed     int64
	Failed        int64
	CurrentJob    string
}

// Loop claims jobs of one kind and runs them through a Processor until its
// context is cancelled.
type Loop struct {
	cfg    LoopConfig
	queue  Queue
	proc   Processor
	pub    Publisher
	logger *slog.Logger
	wake   chan struct{}

	processed atomic.Int64
	failed    atomic.Int64
	lastBeat  atomic.Int64

	mu      sync.Mutex
	current string
}

func NewLoop(cfg LoopConfig, queue Queue, proc Processor, pub Publisher, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PollMin <= 0 {
		cfg.PollMin = 500 * time.Millisecond
	}
	if cfg.PollMax < cfg.PollMin {
		cfg.PollMax = cfg.PollMin
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 5 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	return &Loop{
		cfg:    cfg,
		queue:  queue,
		proc:   proc,
		pub:    pub,
		logger: logger.With("worker", cfg.ID, "kind", cfg.Kind),
		wake:   make(chan struct{}, 1),
	}
}

func (l *Loop) Kind() job.Kind { return l.cfg.Kind }

// Wake cuts the current idle wait short.
func (l *Loop) Wake() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *Loop) Stats() Stats {
	l.mu.Lock()
	current := l.current
	l.mu.Unlock()

	var last time.Time
	if ns := l.lastBeat.Load(); ns > 0 {
		last = time.Unix(0, ns)
	}
	return Stats{
		LastHeartbeat: last,
		Processed:     l.processed.Load(),
		Failed:        l.failed.Load(),
		CurrentJob:    current,
	}
}

func (l *Loop) beat() {
	l.lastBeat.Store(time.Now().UnixNano())
}

func (l *Loop) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = l.cfg.PollMin
	b.MaxInterval = l.cfg.PollMax
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Run blocks until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) {
	l.logger.InfoContext(ctx, "worker loop started")
	defer l.logger.InfoContext(ctx, "worker loop stopped")

	idle := l.newBackOff()
	for {
		if ctx.Err() != nil {
			return
		}
		l.beat()

		worked, err := l.RunOnce(ctx)
		if err != nil && ctx.Err() == nil {
			l.logger.ErrorContext(ctx, "claim failed", "error", err)
		}
		if worked {
			idle.Reset()
			continue
		}

		timer := time.NewTimer(idle.NextBackOff())
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-l.wake:
			timer.Stop()
			idle.Reset()
		case <-timer.C:
		}
	}
}

// RunOnce claims and handles at most one job. It reports whether a job was
// claimed.
func (l *Loop) RunOnce(ctx context.Context) (bool, error) {
	j, err := l.queue.Claim(ctx, l.cfg.ID, l.cfg.Kind)
	if errors.Is(err, job.ErrNoJob) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	l.handle(middleware.WithCorrelationID(ctx, j.ID), j)
	return true, nil
}

func (l *Loop) setCurrent(id string) {
	l.mu.Lock()
	l.current = id
	l.mu.Unlock()
}

func (l *Loop) handle(ctx context.Context, j *job.Job) {
	l.setCurrent(j.ID)
	defer l.setCurrent("")

	logger := l.logger.With("job_id", j.ID, "isbn", j.ISBN)
	logger.InfoContext(ctx, "job claimed", "attempts", j.Attempts)

	// A stop cancels jobCtx, but the claim is kept alive until Process
	// returns because the write phase ignores cancellation.
	jobCtx, cancelJob := context.WithCancel(ctx)
	defer cancelJob()
	hbCtx, stopBeats := context.WithCancel(context.WithoutCancel(ctx))
	var lost atomic.Bool
	hbDone := make(chan struct{})
	go func() {
		defer close(hbDone)
		l.heartbeat(hbCtx, j, func() {
			lost.Store(true)
			cancelJob()
		})
	}()

	err := l.proc.Process(jobCtx, j)
	stopBeats()
	<-hbDone

	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	kind := string(j.Kind)
	switch {
	case lost.Load():
		logger.WarnContext(ctx, "job ownership lost, leaving it to its new owner", "error", err)
		metrics.JobsFinished.WithLabelValues(kind, "lost").Inc()

	case err == nil:
		if cerr := l.queue.Complete(fctx, j.ID, l.cfg.ID); cerr != nil {
			logger.ErrorContext(ctx, "failed to complete job", "error", cerr)
			return
		}
		l.processed.Add(1)
		metrics.JobsFinished.WithLabelValues(kind, "done").Inc()
		logger.InfoContext(ctx, "job done")

	case ctx.Err() != nil:
		// Stopped mid-job: hand it back without spending an attempt.
		if rerr := l.queue.Release(fctx, j.ID, l.cfg.ID); rerr != nil {
			logger.ErrorContext(ctx, "failed to release job", "error", rerr)
			return
		}
		metrics.JobsFinished.WithLabelValues(kind, "released").Inc()
		logger.InfoContext(ctx, "job released on stop", "cause", err)

	default:
		retryable := errors.Is(err, apperr.ErrTransient)
		updated, ferr := l.queue.Fail(fctx, j.ID, l.cfg.ID, err, retryable, l.cfg.MaxAttempts)
		if ferr != nil {
			logger.ErrorContext(ctx, "failed to record job failure", "error", ferr, "cause", err)
			return
		}
		l.failed.Add(1)
		if updated.State == job.StateFailed {
			metrics.JobsFinished.WithLabelValues(kind, "failed").Inc()
			logger.ErrorContext(ctx, "job failed", "error", err, "attempts", updated.Attempts)
			job.Announce(ctx, l.pub, config.TopicIntakeFailed, updated, err)
			return
		}
		metrics.JobsFinished.WithLabelValues(kind, "retry").Inc()
		logger.WarnContext(ctx, "job will be retried", "error", err, "attempts", updated.Attempts)
	}
}

// heartbeat refreshes the claim until ctx ends. onLost runs once if the
// queue reports the job is no longer ours.
func (l *Loop) heartbeat(ctx context.Context, j *job.Job, onLost func()) {
	ticker := time.NewTicker(l.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := l.queue.Heartbeat(ctx, j.ID, l.cfg.ID)
			switch {
			case err == nil:
				l.beat()
			case errors.Is(err, apperr.ErrConflict):
				onLost()
				return
			case ctx.Err() == nil:
				l.logger.WarnContext(ctx, "heartbeat failed", "job_id", j.ID, "error", err)
			}
		}
	}
}
