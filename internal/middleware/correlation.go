// Package middleware provides HTTP middleware for the gateway.
package middleware

import (
	"net/http"
	"time"

	"github.com/astra-platform/backbone/internal/correlation"
	"github.com/astra-platform/backbone/internal/logging"
)

// CorrelationMiddleware attaches a correlation ID to every request and
// echoes it on the response for client-side tracing.
type CorrelationMiddleware struct {
	logger *logging.Logger
}

// NewCorrelationMiddleware creates the middleware.
func NewCorrelationMiddleware(logger *logging.Logger) *CorrelationMiddleware {
	return &CorrelationMiddleware{logger: logger}
}

// Handler returns the correlation middleware handler.
func (m *CorrelationMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(correlation.Header)
		if id == "" {
			id = correlation.NewID()
		}

		ctx := correlation.WithID(r.Context(), id)
		w.Header().Set(correlation.Header, id)

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(rw, r.WithContext(ctx))

		m.logger.LogRequest(ctx, r.Method, r.URL.Path, rw.statusCode, time.Since(start))
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}
