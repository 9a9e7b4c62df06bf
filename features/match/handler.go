package match

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"coverscan/internal/apperr"
	"coverscan/internal/covers"
	"coverscan/internal/middleware"
)

type CoverReader interface {
	Read(key string) ([]byte, error)
}

type Handler struct {
	service   *Service
	covers    CoverReader
	scans     *ScanLogger
	maxUpload int64
}

func NewHandler(s *Service, coverStore CoverReader, scans *ScanLogger, maxUploadBytes int64) *Handler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = 10 << 20
	}
	return &Handler{service: s, covers: coverStore, scans: scans, maxUpload: maxUploadBytes}
}

type matchResponse struct {
	*Candidate
	Alternatives []Candidate `json:"alternatives"`
	Username     string      `json:"username,omitempty"`
}

// Match handles POST /match with a multipart "image" field.
func (h *Handler) Match(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()

	data, username, err := h.readUpload(w, r)
	if err != nil {
		slog.WarnContext(ctx, "rejected match upload", "error", err)
		h.logScan(ctx, username, nil, err, start)
		h.writeError(ctx, w, err)
		return
	}

	res, err := h.service.Match(ctx, data)
	h.logScan(ctx, username, res, err, start)
	if err != nil {
		if code, _ := apperr.Classify(err); code == apperr.CodeInternal {
			slog.ErrorContext(ctx, "match failed", "error", err)
		}
		h.writeError(ctx, w, err)
		return
	}

	h.writeJSON(ctx, w, http.StatusOK, matchResponse{
		Candidate:    res.Best,
		Alternatives: res.Alternatives,
		Username:     username,
	})
}

var errTooLarge = errors.New("upload too large")

func (h *Handler) readUpload(w http.ResponseWriter, r *http.Request) ([]byte, string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, "", fmt.Errorf("%w: limit is %d bytes", errTooLarge, h.maxUpload)
		}
		return nil, "", fmt.Errorf("expected a multipart form: %w", apperr.ErrInvalidImage)
	}
	username := r.FormValue("username")

	file, _, err := r.FormFile("image")
	if err != nil {
		return nil, username, fmt.Errorf("missing image field: %w", apperr.ErrInvalidImage)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, username, fmt.Errorf("read upload: %w", err)
	}
	if len(data) == 0 {
		return nil, username, fmt.Errorf("empty image: %w", apperr.ErrInvalidImage)
	}
	return data, username, nil
}

// Cover handles GET /cover/{filename}.
func (h *Handler) Cover(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	key, err := covers.KeyFromFileName(r.PathValue("filename"))
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	data, err := h.covers.Read(key)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}

	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.Header().Set("Cache-Control", "public, max-age=86400")
	if _, err := w.Write(data); err != nil {
		slog.ErrorContext(ctx, "failed to write cover", "key", key, "error", err)
	}
}

func (h *Handler) logScan(ctx context.Context, username string, res *Result, err error, start time.Time) {
	if h.scans == nil {
		return
	}
	entry := ScanEntry{
		Username:      username,
		Duration:      time.Since(start),
		CorrelationID: middleware.GetCorrelationID(ctx),
	}
	if err != nil {
		entry.Error = err.Error()
	}
	if res != nil && res.Best != nil {
		entry.ISBN = res.Best.ISBN
		entry.Score = res.Best.Score
		entry.Candidates = 1 + len(res.Alternatives)
	}
	h.scans.Log(entry)
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
	message := apperr.Message(err)
	if errors.Is(err, errTooLarge) {
		code, status, message = "PAYLOAD_TOO_LARGE", http.StatusRequestEntityTooLarge, err.Error()
	}
	h.writeJSON(ctx, w, status, map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"correlationId": middleware.GetCorrelationID(ctx),
	})
}
