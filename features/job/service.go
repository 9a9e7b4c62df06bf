package job

import (
	"context"
	"fmt"
	"log/slog"

	"coverscan/internal/apperr"
	"coverscan/internal/config"
	"coverscan/internal/metrics"
)

type Service struct {
	repo        Repository
	pub         EventPublisher
	logger      *slog.Logger
	maxAttempts int
}

func NewService(repo Repository, pub EventPublisher, logger *slog.Logger, maxAttempts int) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, pub: pub, logger: logger, maxAttempts: maxAttempts}
}

func (s *Service) MaxAttempts() int {
	return s.maxAttempts
}

// Enqueue creates a pending job and nudges idle workers through NSQ.
func (s *Service) Enqueue(ctx context.Context, isbn string, kind Kind) (*Job, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("job kind %q: %w", kind, apperr.ErrInvalidArgument)
	}
	j, err := s.repo.Enqueue(ctx, isbn, kind)
	if err != nil {
		return nil, err
	}
	metrics.JobsEnqueued.WithLabelValues(string(kind)).Inc()
	s.logger.InfoContext(ctx, "job enqueued", "job_id", j.ID, "isbn", isbn, "kind", kind)
	Announce(ctx, s.pub, config.TopicIntakeEnqueued, j, nil)
	return j, nil
}

func (s *Service) FindActive(ctx context.Context, isbn string, kind Kind) (*Job, error) {
	return s.repo.FindActive(ctx, isbn, kind)
}

func (s *Service) Get(ctx context.Context, id string) (*Job, error) {
	return s.repo.Get(ctx, id)
}

// List returns jobs filtered by state; an empty state lists all.
func (s *Service) List(ctx context.Context, state State) ([]Job, error) {
	if state != "" && !state.Valid() {
		return nil, fmt.Errorf("job state %q: %w", state, apperr.ErrInvalidArgument)
	}
	return s.repo.List(ctx, state)
}

// Retry puts a failed job back on the queue.
func (s *Service) Retry(ctx context.Context, id string) (*Job, error) {
	j, err := s.repo.Retry(ctx, id, s.maxAttempts)
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "job retried by operator", "job_id", j.ID, "isbn", j.ISBN, "attempts", j.Attempts)
	Announce(ctx, s.pub, config.TopicIntakeEnqueued, j, nil)
	return j, nil
}

func (s *Service) Counts(ctx context.Context) (map[State]int, error) {
	return s.repo.CountByState(ctx)
}
