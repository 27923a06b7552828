package logging

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alecthomas/errors"
)

// messageHandler wraps a slog.Handler and folds record attributes into the
// message text, so that JSON log consumers see a single readable line
// (e.g. "Cloning failed (remote=..., err=...)").
type messageHandler struct {
	inner slog.Handler
}

func (h *messageHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *messageHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.NumAttrs() > 0 {
		parts := make([]string, 0, r.NumAttrs())
		r.Attrs(func(a slog.Attr) bool {
			parts = append(parts, a.Key+"="+formatValue(a.Value))
			return true
		})
		r.Message = r.Message + " (" + strings.Join(parts, ", ") + ")"
	}
	return errors.Wrap(h.inner.Handle(ctx, r), "handle log record")
}

func formatValue(v slog.Value) string {
	v = v.Resolve()
	if v.Kind() == slog.KindString {
		s := v.String()
		if s == "" || strings.ContainsAny(s, " \t\",=()") {
			return fmt.Sprintf("%q", s)
		}
		return s
	}
	return v.String()
}

func (h *messageHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &messageHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *messageHandler) WithGroup(name string) slog.Handler {
	return &messageHandler{inner: h.inner.WithGroup(name)}
}
