package job

import (
	"context"
	"encoding/json"
	"log/slog"
)

type EventPublisher interface {
	Publish(topic string, body []byte) error
}

// Event is the NSQ payload for every intake topic.
type Event struct {
	JobID    string `json:"job_id"`
	ISBN     string `json:"isbn"`
	Kind     Kind   `json:"kind"`
	State    State  `json:"state"`
	Attempts int    `json:"attempts"`
	Error    string `json:"error,omitempty"`
}

func NewEvent(j *Job, cause error) Event {
	return Event{
		JobID:    j.ID,
		ISBN:     j.ISBN,
		Kind:     j.Kind,
		State:    j.State,
		Attempts: j.Attempts,
		Error:    errorText(cause),
	}
}

// Announce publishes an event for j. The queue row is the source of truth, so
// a publish failure is logged and otherwise ignored.
func Announce(ctx context.Context, pub EventPublisher, topic string, j *Job, cause error) {
	if pub == nil || j == nil {
		return
	}
	body, err := json.Marshal(NewEvent(j, cause))
	if err != nil {
		slog.ErrorContext(ctx, "failed to marshal intake event", "topic", topic, "job_id", j.ID, "error", err)
		return
	}
	if err := pub.Publish(topic, body); err != nil {
		slog.WarnContext(ctx, "failed to publish intake event", "topic", topic, "job_id", j.ID, "error", err)
	}
}
