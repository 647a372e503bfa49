// Package apperr defines the stable error taxonomy surfaced by the gateway.
// Every user-visible failure maps to one of these codes plus the propagated
// correlation ID, so callers can correlate logs across services without
// seeing internal state machine details.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Codes returned in error responses. These are part of the external
// contract and must stay stable.
const (
	CodeRateLimited        = "RATE_LIMITED"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeCircuitOpen        = "CIRCUIT_OPEN"
	CodeUpstreamTimeout    = "UPSTREAM_TIMEOUT"
	CodeBadRequest         = "BAD_REQUEST"
	CodeInternal           = "INTERNAL"
)

// Error is a service error with a stable code and an HTTP mapping.
type Error struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`

	cause error
}

// Error implements error.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is/As.
func (e *Error) Unwrap() error { return e.cause }

// WithCause attaches an underlying cause.
func (e *Error) WithCause(err error) *Error {
	clone := *e
	clone.cause = err
	return &clone
}

// RateLimited reports an exceeded quota for the given scope.
func RateLimited(scope string, limit int, window time.Duration) *Error {
	return &Error{
		Code:       CodeRateLimited,
		Message:    fmt.Sprintf("quota exceeded for %s: %d per %s", scope, limit, window),
		HTTPStatus: http.StatusTooManyRequests,
	}
}

// ServiceUnavailable reports that no healthy instance nor fallback exists.
func ServiceUnavailable(service string) *Error {
	return &Error{
		Code:       CodeServiceUnavailable,
		Message:    fmt.Sprintf("no healthy instance of %s", service),
		HTTPStatus: http.StatusServiceUnavailable,
	}
}

// CircuitOpen reports a fast-failed call because the breaker is open.
func CircuitOpen(service string) *Error {
	return &Error{
		Code:       CodeCircuitOpen,
		Message:    fmt.Sprintf("circuit open for %s", service),
		HTTPStatus: http.StatusServiceUnavailable,
	}
}

// UpstreamTimeout reports a downstream call exceeding the request deadline.
func UpstreamTimeout(service string, timeout time.Duration) *Error {
	return &Error{
		Code:       CodeUpstreamTimeout,
		Message:    fmt.Sprintf("%s did not respond within %s", service, timeout),
		HTTPStatus: http.StatusGatewayTimeout,
	}
}

// BadRequest reports a malformed inbound request.
func BadRequest(msg string) *Error {
	return &Error{
		Code:       CodeBadRequest,
		Message:    msg,
		HTTPStatus: http.StatusBadRequest,
	}
}

// Internal reports an unexpected failure.
func Internal(err error) *Error {
	return &Error{
		Code:       CodeInternal,
		Message:    "internal error",
		HTTPStatus: http.StatusInternalServerError,
		cause:      err,
	}
}

// AsError extracts an *Error from err, or wraps it as Internal.
func AsError(err error) *Error {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return Internal(err)
}
