package logging

import (
	"context"
	"log/slog"

	"github.com/getsentry/sentry-go"
)

// Attributes promoted to Sentry tags so events can be grouped and searched.
var sentryTags = map[string]bool{
	"component":  true,
	"op":         true,
	"sqlstate":   true,
	"request_id": true,
}

// SentryHandler is an slog.Handler that reports ERROR+ records to Sentry.
type SentryHandler struct {
	hub   *sentry.Hub
	attrs []slog.Attr
	group string
}

func NewSentryHandler(hub *sentry.Hub) *SentryHandler {
	return &SentryHandler{hub: hub}
}

// Enabled only handles ERROR and above.
func (h *SentryHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= slog.LevelError
}

func (h *SentryHandler) Handle(_ context.Context, record slog.Record) error {
	event := sentry.NewEvent()
	event.Level = sentry.LevelError
	event.Message = record.Message
	event.Timestamp = record.Time
	event.Logger = "slog"
	if event.Tags == nil {
		event.Tags = map[string]string{}
	}
	if event.Extra == nil {
		event.Extra = map[string]interface{}{}
	}

	add := func(a slog.Attr) {
		key := a.Key
		if h.group != "" {
			key = h.group + "." + key
		}
		if sentryTags[a.Key] {
			event.Tags[key] = a.Value.String()
			return
		}
		event.Extra[key] = a.Value.Resolve().Any()
	}
	for _, a := range h.attrs {
		add(a)
	}
	record.Attrs(func(a slog.Attr) bool {
		add(a)
		return true
	})

	h.hub.CaptureEvent(event)
	return nil
}

func (h *SentryHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &next
}

func (h *SentryHandler) WithGroup(name string) slog.Handler {
	next := *h
	if next.group != "" {
		name = next.group + "." + name
	}
	next.group = name
	return &next
}
