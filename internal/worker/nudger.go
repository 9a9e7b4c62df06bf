package worker

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/nsqio/go-nsq"

	"coverscan/features/job"
	"coverscan/internal/middleware"
)

type Waker interface {
	Wake(kind job.Kind)
}

// Nudger consumes intake.enqueued and wakes idle loops so new jobs do not
// wait out a full poll interval. Messages are hints; bad ones are dropped.
type Nudger struct {
	waker Waker
}

func NewNudger(w Waker) *Nudger {
	return &Nudger{waker: w}
}

func (n *Nudger) HandleMessage(m *nsq.Message) error {
	if len(m.Body) == 0 {
		return nil
	}
	var ev job.Event
	if err := json.Unmarshal(m.Body, &ev); err != nil {
		slog.Error("invalid intake event, dropping", "error", err)
		return nil
	}
	ctx := middleware.WithCorrelationID(context.Background(), ev.JobID)
	if !ev.Kind.Valid() {
		slog.WarnContext(ctx, "intake event with unknown kind, dropping", "kind", ev.Kind)
		return nil
	}
	slog.DebugContext(ctx, "waking workers", "kind", ev.Kind)
	n.waker.Wake(ev.Kind)
	return nil
}
