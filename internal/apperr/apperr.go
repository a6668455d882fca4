// Package apperr defines the error kinds surfaced by the HTTP layer.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrInvalidInput  = errors.New("invalid input")
	ErrConversion    = errors.New("conversion failed")
	ErrUpstream      = errors.New("upstream failure")
	ErrNotFound      = errors.New("not found")
	ErrPathViolation = errors.New("path violation")
)

// Wrap annotates err with a kind so callers can match it with errors.Is.
func Wrap(kind error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))
}

// Status maps an error to its HTTP status code.
func Status(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrPathViolation):
		return http.StatusNotFound
	case errors.Is(err, ErrUpstream):
		return http.StatusBadGateway
	case errors.Is(err, ErrConversion):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// Message returns the client facing message for err. Unknown errors are
// reported generically so internal details do not leak.
func Message(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "process not found"
	case errors.Is(err, ErrPathViolation):
		return "asset not found"
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrUpstream), errors.Is(err, ErrConversion):
		return err.Error()
	default:
		return "internal error"
	}
}
