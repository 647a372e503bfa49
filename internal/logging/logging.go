// Package logging provides structured logging for the backbone built on
// zerolog. Loggers are component-scoped and carry the correlation ID of the
// request or event chain they are logging for.
package logging

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/astra-platform/backbone/internal/correlation"
)

// Config controls logger construction.
type Config struct {
	// Level is one of debug, info, warn, error. Defaults to info.
	Level string

	// Format is "json" or "console". Defaults to json.
	Format string

	// Output defaults to stderr.
	Output io.Writer
}

// Logger wraps a zerolog.Logger with backbone conventions.
type Logger struct {
	zl zerolog.Logger
}

// New creates a logger from the given config.
func New(cfg Config) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if strings.EqualFold(cfg.Format, "console") {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	zl := zerolog.New(out).Level(level).With().Timestamp().Logger()
	return &Logger{zl: zl}
}

// NewNop returns a logger that discards everything. Useful in tests.
func NewNop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

// Component returns a child logger tagged with a component name.
func (l *Logger) Component(name string) *Logger {
	return &Logger{zl: l.zl.With().Str("component", name).Logger()}
}

// With returns a child logger with an extra string field.
func (l *Logger) With(key, value string) *Logger {
	return &Logger{zl: l.zl.With().Str(key, value).Logger()}
}

// Debugf logs at debug level.
func (l *Logger) Debugf(format string, args ...any) {
	l.zl.Debug().Msgf(format, args...)
}

// Infof logs at info level.
func (l *Logger) Infof(format string, args ...any) {
	l.zl.Info().Msgf(format, args...)
}

// Warnf logs at warn level.
func (l *Logger) Warnf(format string, args ...any) {
	l.zl.Warn().Msgf(format, args...)
}

// Errorf logs at error level.
func (l *Logger) Errorf(format string, args ...any) {
	l.zl.Error().Msgf(format, args...)
}

// WithError returns a child logger carrying the error.
func (l *Logger) WithError(err error) *Logger {
	return &Logger{zl: l.zl.With().AnErr("error", err).Logger()}
}

// LogRequest records one handled gateway request with its correlation ID.
func (l *Logger) LogRequest(ctx context.Context, method, path string, status int, duration time.Duration) {
	l.zl.Info().
		Str("correlation_id", correlation.FromContext(ctx)).
		Str("method", method).
		Str("path", path).
		Int("status", status).
		Dur("duration", duration).
		Msg("request")
}

// LogSecurityEvent records a security-relevant occurrence such as a
// rate-limit rejection.
func (l *Logger) LogSecurityEvent(ctx context.Context, event string, fields map[string]any) {
	ev := l.zl.Warn().
		Str("correlation_id", correlation.FromContext(ctx)).
		Str("security_event", event)
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	ev.Msg("security event")
}
