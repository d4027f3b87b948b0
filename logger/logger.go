// Package logger builds the process-wide *slog.Logger and carries
// request-scoped loggers through context.
//
//	log := logger.WithCtx(r.Context())
//	log.Info("sale recorded", "sale_id", id)
//	// → time=... level=INFO msg="sale recorded" request_id=host/abc-000001 sale_id=...
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// New returns a JSON logger for production and a text logger otherwise.
// level is one of debug, info, warn, error; anything else means info.
func New(production bool, level string) *slog.Logger {
	return NewWithWriter(os.Stdout, production, level)
}

func NewWithWriter(w io.Writer, production bool, level string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	var handler slog.Handler
	if production {
		handler = slog.NewJSONHandler(w, opts) // structured JSON for log aggregators
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// =============================================================================
// CONTEXT-AWARE LOGGER
// =============================================================================

type ctxKey struct{}

// WithCtx returns the logger stored by InjectLogger, or slog.Default().
func WithCtx(ctx context.Context) *slog.Logger {
	if log, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok && log != nil {
		return log
	}
	return slog.Default()
}

// InjectLogger stores a request-scoped logger in ctx.
func InjectLogger(ctx context.Context, log *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, log)
}

// Discard is a logger that drops everything. Handy in tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
