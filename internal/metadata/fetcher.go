package metadata

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"coverscan/internal/apperr"
	"coverscan/internal/metrics"
)

// Breaker guards a Provider with a circuit breaker. A missing record is a
// successful call; only transport-level failures count toward tripping.
type Breaker struct {
	provider Provider
	cb       *gobreaker.CircuitBreaker[*Record]
}

func NewBreaker(p Provider, failures uint32, openFor time.Duration) *Breaker {
	name := p.Name()
	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)

	cb := gobreaker.NewCircuitBreaker[*Record](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     openFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, apperr.ErrNotFound) ||
				errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("metadata circuit breaker state change", "provider", name, "from", from.String(), "to", to.String())
			metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		},
	})
	return &Breaker{provider: p, cb: cb}
}

func (b *Breaker) Name() string { return b.provider.Name() }

func (b *Breaker) Lookup(ctx context.Context, isbn13 string) (*Record, error) {
	rec, err := b.cb.Execute(func() (*Record, error) {
		return b.provider.Lookup(ctx, isbn13)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%s unavailable: %v: %w", b.provider.Name(), err, apperr.ErrTransient)
	}
	return rec, err
}

// Chain asks each provider in order and returns the first record found.
type Chain struct {
	providers []Provider
}

func NewChain(providers ...Provider) *Chain {
	return &Chain{providers: providers}
}

// Fetch returns apperr.ErrNotFound only when every provider answered that it
// has no record. Any transient failure makes the overall result transient.
func (c *Chain) Fetch(ctx context.Context, isbn13 string) (*Record, error) {
	var transient error
	for _, p := range c.providers {
		rec, err := p.Lookup(ctx, isbn13)
		if err == nil {
			metrics.MetadataFetches.WithLabelValues(p.Name(), "found").Inc()
			return rec, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		switch {
		case errors.Is(err, apperr.ErrNotFound):
			metrics.MetadataFetches.WithLabelValues(p.Name(), "not_found").Inc()
		case errors.Is(err, apperr.ErrTransient):
			metrics.MetadataFetches.WithLabelValues(p.Name(), "transient").Inc()
			transient = err
		default:
			metrics.MetadataFetches.WithLabelValues(p.Name(), "error").Inc()
			transient = fmt.Errorf("%v: %w", err, apperr.ErrTransient)
		}
		slog.WarnContext(ctx, "metadata lookup failed, trying next provider", "provider", p.Name(), "isbn", isbn13, "error", err)
	}
	if transient != nil {
		return nil, transient
	}
	return nil, fmt.Errorf("no metadata for %s: %w", isbn13, apperr.ErrNotFound)
}
