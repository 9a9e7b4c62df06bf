package apperr

import (
	"errors"
	"net/http"
)

var (
	ErrInvalidImage    = errors.New("invalid image")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrConflict        = errors.New("conflict")
	ErrNotFound        = errors.New("not found")
	ErrTransient       = errors.New("transient failure")
	ErrInternal        = errors.New("internal error")
)

// Stable error kind strings returned to HTTP callers.
const (
	CodeInvalidImage    = "INVALID_IMAGE"
	CodeInvalidArgument = "INVALID_ARGUMENT"
	CodeConflict        = "CONFLICT"
	CodeNotFound        = "NOT_FOUND"
	CodeTransient       = "TRANSIENT"
	CodeInternal        = "INTERNAL_ERROR"
)

// Classify maps an error chain to its error kind and HTTP status.
// Anything not wrapping a known sentinel is treated as internal.
func Classify(err error) (string, int) {
	switch {
	case errors.Is(err, ErrInvalidImage):
		return CodeInvalidImage, http.StatusBadRequest
	case errors.Is(err, ErrInvalidArgument):
		return CodeInvalidArgument, http.StatusBadRequest
	case errors.Is(err, ErrConflict):
		return CodeConflict, http.StatusConflict
	case errors.Is(err, ErrNotFound):
		return CodeNotFound, http.StatusNotFound
	case errors.Is(err, ErrTransient):
		return CodeTransient, http.StatusServiceUnavailable
	default:
		return CodeInternal, http.StatusInternalServerError
	}
}

// Message returns the text shown to callers. Internal errors are not echoed.
func Message(err error) string {
	if code, _ := Classify(err); code == CodeInternal {
		return "internal server error"
	}
	return err.Error()
}
