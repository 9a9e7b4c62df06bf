// Package workers exposes operator control over the background intake loops.
package workers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"coverscan/internal/apperr"
	"coverscan/internal/middleware"
	"coverscan/internal/worker"
)

const stopTimeout = 30 * time.Second

type Registry interface {
	Status() map[string]worker.Status
	Start(id string) (string, error)
	Stop(ctx context.Context, id string) (string, error)
}

type Handler struct {
	registry Registry
}

func NewHandler(r Registry) *Handler {
	return &Handler{registry: r}
}

// Status handles GET /workers/status.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(r.Context(), w, http.StatusOK, h.registry.Status())
}

// Start handles POST /workers/{id}/start.
func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	status, err := h.registry.Start(id)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	slog.InfoContext(ctx, "worker start requested", "worker", id, "status", status)
	h.writeJSON(ctx, w, http.StatusOK, map[string]string{"status": status})
}

// Stop handles POST /workers/{id}/stop. It returns once the worker's
// in-flight job has been completed or released.
func (h *Handler) Stop(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	stopCtx, cancel := context.WithTimeout(ctx, stopTimeout)
	defer cancel()

	status, err := h.registry.Stop(stopCtx, id)
	if err != nil {
		slog.WarnContext(ctx, "worker stop failed", "worker", id, "error", err)
		h.writeError(ctx, w, err)
		return
	}
	slog.InfoContext(ctx, "worker stop requested", "worker", id, "status", status)
	h.writeJSON(ctx, w, http.StatusOK, map[string]string{"status": status})
}

func (h *Handler) writeJSON(ctx context.Context, w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, err error) {
	code, status := apperr.Classify(err)
	h.writeJSON(ctx, w, status, map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": apperr.Message(err),
		},
		"correlationId": middleware.GetCorrelationID(ctx),
	})
}
