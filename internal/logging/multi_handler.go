package logging

import (
	"context"
	"errors"
	"log/slog"
	"slices"
)

// MultiHandler writes each record to every sink that accepts its level,
// e.g. tinted console output plus a JSON log file.
func MultiHandler(handlers ...slog.Handler) slog.Handler {
	sinks := slices.DeleteFunc(slices.Clone(handlers), func(h slog.Handler) bool { return h == nil })
	switch len(sinks) {
	case 0:
		return discard.Handler()
	case 1:
		return sinks[0]
	}
	return &fanout{sinks: sinks}
}

type fanout struct {
	sinks []slog.Handler
}

func (f *fanout) Enabled(ctx context.Context, level slog.Level) bool {
	return slices.ContainsFunc(f.sinks, func(h slog.Handler) bool { return h.Enabled(ctx, level) })
}

func (f *fanout) Handle(ctx context.Context, record slog.Record) error {
	var errs []error
	for _, sink := range f.sinks {
		if sink.Enabled(ctx, record.Level) {
			// Handlers may retain the record, so each gets its own copy.
			if err := sink.Handle(ctx, record.Clone()); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (f *fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	return f.derive(func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) })
}

func (f *fanout) WithGroup(name string) slog.Handler {
	if name == "" {
		return f
	}
	return f.derive(func(h slog.Handler) slog.Handler { return h.WithGroup(name) })
}

func (f *fanout) derive(fn func(slog.Handler) slog.Handler) slog.Handler {
	sinks := make([]slog.Handler, len(f.sinks))
	for i, sink := range f.sinks {
		sinks[i] = fn(sink)
	}
	return &fanout{sinks: sinks}
}
