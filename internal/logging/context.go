// Package logging carries request-scoped slog loggers and fans records out
// to more than one sink.
package logging

import (
	"context"
	"io"
	"log/slog"
)

type loggerContextKey struct{}

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return discard
}

// WithLogger stores logger on ctx. A nil logger is stored as Discard.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if logger == nil {
		logger = discard
	}
	return context.WithValue(ctx, loggerContextKey{}, logger)
}

// FromContext prefers the request logger, then fallback, then Discard.
func FromContext(ctx context.Context, fallback *slog.Logger) *slog.Logger {
	if ctx != nil {
		if logger, _ := ctx.Value(loggerContextKey{}).(*slog.Logger); logger != nil {
			return logger
		}
	}
	if fallback != nil {
		return fallback
	}
	return discard
}

// With attaches args to the logger already on ctx and stores the result.
func With(ctx context.Context, fallback *slog.Logger, args ...any) (context.Context, *slog.Logger) {
	logger := FromContext(ctx, fallback).With(args...)
	return WithLogger(ctx, logger), logger
}
