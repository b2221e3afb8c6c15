// Package api is the HTTP client for the journal service: the four write
// endpoints the sync queue replays, the identity lookup, and OAuth2 device
// login with a persisted, self-refreshing session.
package api

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for HTTP status code classification.
// Use errors.Is(err, api.ErrNotFound) to check.
var (
	ErrBadRequest    = errors.New("api: bad request")
	ErrUnauthorized  = errors.New("api: unauthorized")
	ErrForbidden     = errors.New("api: forbidden")
	ErrNotFound      = errors.New("api: not found")
	ErrConflict      = errors.New("api: conflict")
	ErrUnprocessable = errors.New("api: unprocessable entity")
	ErrThrottled     = errors.New("api: throttled")
	ErrServerError   = errors.New("api: server error")

	// ErrNotLoggedIn means no session token exists on disk.
	ErrNotLoggedIn = errors.New("api: not logged in")
)

// APIError wraps a sentinel with the HTTP status code, the server's request
// ID, and the response body for debugging.
type APIError struct {
	StatusCode int
	RequestID  string
	Message    string
	Err        error // sentinel, for errors.Is()
}

func (e *APIError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("api: HTTP %d (request-id: %s): %s", e.StatusCode, e.RequestID, e.Message)
	}

	return fmt.Sprintf("api: HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// classifyStatus maps an HTTP status code to a sentinel error.
// Returns nil for codes without a sentinel.
func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	case http.StatusUnprocessableEntity:
		return ErrUnprocessable
	case http.StatusTooManyRequests:
		return ErrThrottled
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return nil
	}
}

// isRetryable reports whether a status is worth retrying within one call.
// Writes carry an Idempotency-Key, so replaying them is safe.
func isRetryable(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
