package match

import (
	"encoding/json"
	"log/slog"

	"github.com/nsqio/go-nsq"

	"coverscan/features/job"
	"coverscan/internal/isbn"
)

// CacheInvalidator consumes intake.indexed and drops the cached book so a
// re-ingested title is re-read on the next match.
type CacheInvalidator struct {
	svc *Service
}

func NewCacheInvalidator(s *Service) *CacheInvalidator {
	return &CacheInvalidator{svc: s}
}

func (c *CacheInvalidator) HandleMessage(m *nsq.Message) error {
	var ev job.Event
	if err := json.Unmarshal(m.Body, &ev); err != nil {
		slog.Error("invalid indexed event, dropping", "error", err)
		return nil
	}
	code, err := isbn.Parse(ev.ISBN)
	if err != nil {
		slog.Warn("indexed event with bad isbn, dropping", "isbn", ev.ISBN, "job_id", ev.JobID)
		return nil
	}
	c.svc.Forget(code.Key())
	return nil
}
