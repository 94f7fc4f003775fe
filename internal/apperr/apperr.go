// Package apperr is the error taxonomy shared by the gateway, the services
// and the REST handlers.
//
// Every error that crosses a package boundary wraps one of the sentinels
// below, so callers branch with errors.Is and never on message text.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrAuth: handshake or request authentication failed.
	ErrAuth = errors.New("authentication failed")
	// ErrValidation: malformed payload. The connection stays open.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound: missing, or not visible to the requester.
	ErrNotFound = errors.New("not found")
	// ErrStore: the durable write or read failed. Nothing was pushed.
	ErrStore = errors.New("store failure")
)

func Auth(format string, args ...any) error {
	return wrap(ErrAuth, format, args...)
}

func Validation(format string, args ...any) error {
	return wrap(ErrValidation, format, args...)
}

func NotFound(format string, args ...any) error {
	return wrap(ErrNotFound, format, args...)
}

// Store wraps a repository error. The cause stays reachable through
// errors.Unwrap for logging.
func Store(op string, cause error) error {
	return fmt.Errorf("%w: %s: %w", ErrStore, op, cause)
}

func wrap(sentinel error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))
}

// Code is the machine-readable code sent to clients in error events and
// JSON error bodies.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAuth):
		return "auth_error"
	case errors.Is(err, ErrValidation):
		return "validation_error"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrStore):
		return "store_error"
	default:
		return "internal_error"
	}
}

func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrAuth):
		return http.StatusUnauthorized
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Public is the message safe to show a client. Store and internal errors
// are collapsed so SQL details never leave the process.
func Public(err error) string {
	switch {
	case errors.Is(err, ErrAuth), errors.Is(err, ErrValidation), errors.Is(err, ErrNotFound):
		return err.Error()
	case errors.Is(err, ErrStore):
		return "could not save, please retry"
	default:
		return "internal error"
	}
}
