package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"coverscan/features/job"
	"coverscan/internal/apperr"
	"coverscan/internal/metrics"
	"coverscan/internal/middleware"
)

// Outcomes of Start and Stop.
const (
	StatusStarted        = "started"
	StatusAlreadyRunning = "already_running"
	StatusStopped        = "stopped"
	StatusNotRunning     = "not_running"
)

type Runner interface {
	Run(ctx context.Context)
	Wake()
	Stats() Stats
	Kind() job.Kind
}

// Status is what GET /workers/status reports for one worker.
type Status struct {
	ID            string     `json:"id"`
	Kind          job.Kind   `json:"kind"`
	Running       bool       `json:"running"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	LastHeartbeat *time.Time `json:"last_heartbeat"`
	Processed     int64      `json:"processed"`
	Failed        int64      `json:"failed"`
	CurrentJob    string     `json:"current_job,omitempty"`
}

type entry struct {
	runner    Runner
	cancel    context.CancelFunc
	done      chan struct{}
	startedAt time.Time
}

func (e *entry) alive() bool {
	if e.done == nil {
		return false
	}
	select {
	case <-e.done:
		return false
	default:
		return true
	}
}

// Registry owns the worker goroutines. Running state is read from each
// goroutine's done channel, not from the last command issued.
type Registry struct {
	mu      sync.Mutex
	workers map[string]*entry
	logger  *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{workers: make(map[string]*entry), logger: logger}
}

func (r *Registry) Register(id string, runner Runner) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.workers[id]; exists {
		return fmt.Errorf("worker %s already registered: %w", id, apperr.ErrConflict)
	}
	r.workers[id] = &entry{runner: runner}
	metrics.WorkerRunning.WithLabelValues(id).Set(0)
	return nil
}

func (r *Registry) lookup(id string) (*entry, error) {
	e, ok := r.workers[id]
	if !ok {
		return nil, fmt.Errorf("worker %s: %w", id, apperr.ErrNotFound)
	}
	return e, nil
}

// Start launches the worker goroutine. The goroutine outlives the caller's
// request, so it runs on a fresh context.
func (r *Registry) Start(id string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, err := r.lookup(id)
	if err != nil {
		return "", err
	}
	if e.alive() {
		return StatusAlreadyRunning, nil
	}

	ctx, cancel := context.WithCancel(middleware.WithCorrelationID(context.Background(), id))
	done := make(chan struct{})
	e.cancel = cancel
	e.done = done
	e.startedAt = time.Now()

	go func() {
		defer close(done)
		defer metrics.WorkerRunning.WithLabelValues(id).Set(0)
		defer func() {
			if p := recover(); p != nil {
				r.logger.Error("worker panicked", "worker", id, "panic", p)
			}
		}()
		metrics.WorkerRunning.WithLabelValues(id).Set(1)
		e.runner.Run(ctx)
	}()

	r.logger.Info("worker started", "worker", id)
	return StatusStarted, nil
}

// Stop signals the worker and waits for its goroutine to exit or ctx to end.
// An in-flight job is finished or released by the loop before it returns.
func (r *Registry) Stop(ctx context.Context, id string) (string, error) {
	r.mu.Lock()
	e, err := r.lookup(id)
	if err != nil {
		r.mu.Unlock()
		return "", err
	}
	if !e.alive() {
		r.mu.Unlock()
		return StatusNotRunning, nil
	}
	cancel, done := e.cancel, e.done
	r.mu.Unlock()

	cancel()
	select {
	case <-done:
	case <-ctx.Done():
		return "", fmt.Errorf("waiting for worker %s to stop: %w", id, ctx.Err())
	}
	r.logger.InfoContext(ctx, "worker stopped", "worker", id)
	return StatusStopped, nil
}

// StopAll stops every running worker in parallel.
func (r *Registry) StopAll(ctx context.Context) {
	var wg sync.WaitGroup
	for _, id := range r.IDs() {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if _, err := r.Stop(ctx, id); err != nil {
				r.logger.WarnContext(ctx, "worker did not stop cleanly", "worker", id, "error", err)
			}
		}(id)
	}
	wg.Wait()
}

func (r *Registry) StartAll() {
	for _, id := range r.IDs() {
		if _, err := r.Start(id); err != nil {
			r.logger.Error("failed to start worker", "worker", id, "error", err)
		}
	}
}

func (r *Registry) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.workers))
	for id := range r.workers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Wake nudges every worker handling kind.
func (r *Registry) Wake(kind job.Kind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.workers {
		if e.runner.Kind() == kind {
			e.runner.Wake()
		}
	}
}

func (r *Registry) Status() map[string]Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]Status, len(r.workers))
	for id, e := range r.workers {
		st := e.runner.Stats()
		s := Status{
			ID:         id,
			Kind:       e.runner.Kind(),
			Running:    e.alive(),
			Processed:  st.Processed,
			Failed:     st.Failed,
			CurrentJob: st.CurrentJob,
		}
		if !e.startedAt.IsZero() {
			started := e.startedAt
			s.StartedAt = &started
		}
		if !st.LastHeartbeat.IsZero() {
			last := st.LastHeartbeat
			s.LastHeartbeat = &last
		}
		out[id] = s
	}
	return out
}
