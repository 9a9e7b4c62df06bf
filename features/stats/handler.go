package stats

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"coverscan/features/job"
	"coverscan/internal/middleware"
)

type BookRepo interface {
	Count(ctx context.Context) (int, error)
}

type CoverIndex interface {
	Len(ctx context.Context) (int, error)
}

type JobCounter interface {
	Counts(ctx context.Context) (map[job.State]int, error)
}

type Handler struct {
	bookRepo BookRepo
	index    CoverIndex
	jobs     JobCounter
}

func NewHandler(b BookRepo, i CoverIndex, j JobCounter) *Handler {
	return &Handler{bookRepo: b, index: i, jobs: j}
}

type JobCounts struct {
	Pending int `json:"pending"`
	Running int `json:"running"`
	Done    int `json:"done"`
	Failed  int `json:"failed"`
}

type StatsResponse struct {
	Books         int       `json:"books"`
	CoversIndexed int       `json:"covers_indexed"`
	Jobs          JobCounts `json:"jobs"`
}

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	slog.InfoContext(ctx, "getting stats")

	books, err := h.bookRepo.Count(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count books", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count books", http.StatusInternalServerError)
		return
	}

	indexed, err := h.index.Len(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count indexed covers", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count indexed covers", http.StatusInternalServerError)
		return
	}

	counts, err := h.jobs.Counts(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count jobs", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count jobs", http.StatusInternalServerError)
		return
	}

	resp := StatsResponse{
		Books:         books,
		CoversIndexed: indexed,
		Jobs: JobCounts{
			Pending: counts[job.StatePending],
			Running: counts[job.StateRunning],
			Done:    counts[job.StateDone],
			Failed:  counts[job.StateFailed],
		},
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"correlationId": middleware.GetCorrelationID(ctx),
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}
