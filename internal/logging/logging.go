// Package logging provides structured, component-scoped loggers built on
// log/slog, plus a handful of helpers used throughout the codebase so that
// error and operation logging reads the same everywhere.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

type ctxKey struct{}

// NewStructuredLogger builds the process-wide slog.Logger. level is parsed
// case-insensitively ("debug", "info", "warn", "error"); unrecognized values
// fall back to info.
func NewStructuredLogger(level string, out io.Writer) *slog.Logger {
	if out == nil {
		out = os.Stdout
	}
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	handler := slog.NewJSONHandler(out, opts)
	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

// WithLogger attaches logger to ctx for later retrieval via FromContext.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

// FromContext returns the logger attached by WithLogger, or slog.Default()
// if none was attached.
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok && logger != nil {
		return logger
	}
	return slog.Default()
}

// LogError logs err at error level with msg and any additional attrs. It is
// a no-op convenience when err is nil, so call sites can write
// logging.LogError(logger, "...", err) unconditionally inside a defer.
func LogError(logger *slog.Logger, msg string, err error, attrs ...any) {
	if err == nil {
		return
	}
	args := append([]any{"error", err}, attrs...)
	logger.Error(msg, args...)
}

// LogOperation logs a successful operation at info level.
func LogOperation(logger *slog.Logger, event string, attrs ...any) {
	logger.Info(event, attrs...)
}

// SafeCloseWithLogging closes c, logging any error instead of returning it.
// Intended for deferred closes of resources whose close error cannot be
// usefully propagated (response bodies, rows, statements).
func SafeCloseWithLogging(logger *slog.Logger, c io.Closer, what string) {
	if c == nil {
		return
	}
	if err := c.Close(); err != nil {
		LogError(logger, "close failed", err, "resource", what)
	}
}
