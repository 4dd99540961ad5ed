package logging

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/getsentry/sentry-go"
)

// Fanout sends each record to every non-nil handler that accepts its level.
func Fanout(handlers ...slog.Handler) slog.Handler {
	filtered := make([]slog.Handler, 0, len(handlers))
	for _, handler := range handlers {
		if handler != nil {
			filtered = append(filtered, handler)
		}
	}
	switch len(filtered) {
	case 0:
		return slog.NewTextHandler(io.Discard, nil)
	case 1:
		return filtered[0]
	}
	return fanout(filtered)
}

type fanout []slog.Handler

func (h fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h fanout) Handle(ctx context.Context, record slog.Record) error {
	var handleErr error
	for _, handler := range h {
		if !handler.Enabled(ctx, record.Level) {
			continue
		}
		handleErr = errors.Join(handleErr, handler.Handle(ctx, record.Clone()))
	}
	return handleErr
}

func (h fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make(fanout, 0, len(h))
	for _, handler := range h {
		next = append(next, handler.WithAttrs(attrs))
	}
	return next
}

func (h fanout) WithGroup(name string) slog.Handler {
	next := make(fanout, 0, len(h))
	for _, handler := range h {
		next = append(next, handler.WithGroup(name))
	}
	return next
}

// SentryHandler reports records at or above level as Sentry events. The first
// error-valued attribute becomes the event exception.
type SentryHandler struct {
	level slog.Level
	attrs []slog.Attr
	group string
}

func NewSentryHandler(level slog.Level) *SentryHandler {
	return &SentryHandler{level: level}
}

func (h *SentryHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *SentryHandler) Handle(ctx context.Context, record slog.Record) error {
	hub := sentry.GetHubFromContext(ctx)
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	if hub.Client() == nil {
		return nil
	}

	event := sentry.NewEvent()
	event.Level = sentryLevel(record.Level)
	event.Message = record.Message
	event.Timestamp = record.Time

	var cause error
	collect := func(attr slog.Attr) bool {
		if err, ok := attr.Value.Any().(error); ok && cause == nil {
			cause = err
			return true
		}
		event.Extra[h.key(attr.Key)] = attr.Value.String()
		return true
	}
	for _, attr := range h.attrs {
		collect(attr)
	}
	record.Attrs(collect)
	if cause != nil {
		event.SetException(cause, 5)
	}

	hub.CaptureEvent(event)
	return nil
}

func (h *SentryHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
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

func (h *SentryHandler) key(k string) string {
	if h.group == "" {
		return k
	}
	return h.group + "." + k
}

func sentryLevel(level slog.Level) sentry.Level {
	switch {
	case level >= slog.LevelError:
		return sentry.LevelError
	case level >= slog.LevelWarn:
		return sentry.LevelWarning
	case level >= slog.LevelInfo:
		return sentry.LevelInfo
	default:
		return sentry.LevelDebug
	}
}
