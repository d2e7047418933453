package logging

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
)

// Setup initializes the global slog logger with JSON output to stdout. Any
// extra handlers, such as a SentryHandler, receive the same records.
func Setup(level slog.Level, extra ...slog.Handler) *slog.Logger {
	return SetupWriter(os.Stdout, level, extra...)
}

func SetupWriter(w io.Writer, level slog.Level, extra ...slog.Handler) *slog.Logger {
	var handler slog.Handler = slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	})
	if len(extra) > 0 {
		handler = fanout(append([]slog.Handler{handler}, extra...))
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// fanout sends each record to every handler that accepts its level.
type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, record slog.Record) error {
	var errs []error
	for _, h := range f {
		if h.Enabled(ctx, record.Level) {
			errs = append(errs, h.Handle(ctx, record.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanout) WithGroup(name string) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}
