package barcode

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"coverscan/internal/apperr"
	"coverscan/internal/isbn"
	"coverscan/internal/middleware"
	"coverscan/internal/validation"
)

type Handler struct {
	service *Service
}

func NewHandler(s *Service) *Handler {
	return &Handler{service: s}
}

type ScanRequest struct {
	ISBN string `json:"isbn" validate:"required,isbn"`
}

// Scan handles POST /barcode.
func (h *Handler) Scan(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req ScanRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		h.writeError(ctx, w, fmt.Errorf("invalid JSON body: %w", apperr.ErrInvalidArgument))
		return
	}
	req.ISBN = isbn.Normalize(req.ISBN)
	if err := validation.Struct(req); err != nil {
		slog.WarnContext(ctx, "rejected barcode scan", "error", err)
		h.writeError(ctx, w, err)
		return
	}

	res, err := h.service.Scan(ctx, req.ISBN)
	if err != nil {
		slog.ErrorContext(ctx, "barcode scan failed", "isbn", req.ISBN, "error", err)
		h.writeError(ctx, w, err)
		return
	}

	slog.InfoContext(ctx, "barcode scanned", "isbn", res.ISBN,
		"already_in_dataset", res.AlreadyInDataset, "already_in_queue", res.AlreadyInQueue)
	h.writeJSON(ctx, w, http.StatusOK, res)
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
