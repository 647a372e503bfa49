// Package correlation propagates the identifier linking every request and
// every event derived from it across the backbone. The correlation ID is
// stable over an entire causal chain; the causation ID always names the
// immediate parent event.
package correlation

import (
	"context"

	"github.com/google/uuid"
)

// Header is the inbound/outbound HTTP header carrying the correlation ID.
const Header = "X-Correlation-ID"

type contextKey string

const (
	correlationIDKey contextKey = "correlation_id"
	causationIDKey   contextKey = "causation_id"
)

// NewID generates a fresh correlation ID.
func NewID() string {
	return uuid.NewString()
}

// WithID returns a context carrying the given correlation ID.
func WithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

// FromContext returns the correlation ID on the context, or "" if absent.
func FromContext(ctx context.Context) string {
	if v, ok := ctx.Value(correlationIDKey).(string); ok {
		return v
	}
	return ""
}

// Ensure returns a context that is guaranteed to carry a correlation ID,
// generating one when the context has none, along with the ID itself.
func Ensure(ctx context.Context) (context.Context, string) {
	if id := FromContext(ctx); id != "" {
		return ctx, id
	}
	id := NewID()
	return WithID(ctx, id), id
}

// WithCausation returns a context carrying the ID of the event that caused
// the current work. Empty for the origin of a chain.
func WithCausation(ctx context.Context, eventID string) context.Context {
	return context.WithValue(ctx, causationIDKey, eventID)
}

// CausationFromContext returns the causation ID on the context, or "".
func CausationFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(causationIDKey).(string); ok {
		return v
	}
	return ""
}
