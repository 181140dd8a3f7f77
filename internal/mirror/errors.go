package mirror

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	// ErrMissingToken is returned by NewClient without a bearer token.
	ErrMissingToken = errors.New("insightful API bearer token is required")
	// ErrUnauthorized covers rejected or expired credentials (401/403).
	ErrUnauthorized = errors.New("insightful API rejected credentials")
	// ErrRateLimited is returned on 429. The remote allows 200 requests per minute.
	ErrRateLimited = errors.New("insightful API rate limit exceeded")
	// ErrNotFound is returned when the remote resource does not exist.
	ErrNotFound = errors.New("insightful resource not found")
	// ErrValidation covers other 4xx responses.
	ErrValidation = errors.New("insightful API rejected request")
	// ErrServer covers 5xx responses.
	ErrServer = errors.New("insightful API server error")
)

// APIError is a non-2xx response from the remote service.
type APIError struct {
	StatusCode int
	Method     string
	Path       string
	Message    string
	Body       []byte
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("insightful %s %s: status %d: %s", e.Method, e.Path, e.StatusCode, msg)
}

// Unwrap maps the status code onto the sentinel errors so callers can use errors.Is.
func (e *APIError) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden:
		return ErrUnauthorized
	case e.StatusCode == http.StatusTooManyRequests:
		return ErrRateLimited
	case e.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case e.StatusCode >= 500:
		return ErrServer
	default:
		return ErrValidation
	}
}

// TransportError wraps failures that produced no HTTP response: DNS, connection, timeout.
type TransportError struct {
	Method string
	Path   string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("insightful %s %s: %v", e.Method, e.Path, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Timeout reports whether the request ran out of time.
func (e *TransportError) Timeout() bool {
	var t interface{ Timeout() bool }
	if errors.As(e.Err, &t) {
		return t.Timeout()
	}
	return false
}

// DecodeError is a 2xx response whose body could not be decoded. The remote accepted the
// request, so repeating a create would duplicate it. Body holds the raw reply for manual recovery.
type DecodeError struct {
	StatusCode int
	Method     string
	Path       string
	Body       []byte
	Err        error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("insightful %s %s: status %d: decode response: %v", e.Method, e.Path, e.StatusCode, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Retryable reports whether repeating the same request later may succeed. The client itself
// never retries. A DecodeError is not retryable.
func Retryable(err error) bool {
	var decode *DecodeError
	if errors.As(err, &decode) {
		return false
	}
	var transport *TransportError
	if errors.As(err, &transport) {
		return true
	}
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrServer)
}
