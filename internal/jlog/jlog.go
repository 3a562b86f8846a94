// Package jlog provides the stderr diagnostic logger: each line is
// prefixed with a timestamp and a level tag ("[info]", "[debug]",
// "[error]"), implemented as a thin slog.Handler writing a single
// formatted line per record.
package jlog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"
)

type handler struct {
	w     io.Writer
	level slog.Level
	attrs []slog.Attr
}

// New builds a *slog.Logger writing to w. When verbose is true, debug
// records are emitted; otherwise the floor is info.
func New(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(&handler{w: w, level: level})
}

func (h *handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *handler) Handle(_ context.Context, r slog.Record) error {
	tag := levelTag(r.Level)
	line := fmt.Sprintf("%s %s %s", r.Time.Format(time.RFC3339), tag, r.Message)

	for _, a := range h.attrs {
		line += " " + formatAttr(a)
	}
	r.Attrs(func(a slog.Attr) bool {
		line += " " + formatAttr(a)
		return true
	})

	_, err := fmt.Fprintln(h.w, line)
	return err
}

func (h *handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := &handler{w: h.w, level: h.level}
	next.attrs = append(next.attrs, h.attrs...)
	next.attrs = append(next.attrs, attrs...)
	return next
}

func (h *handler) WithGroup(_ string) slog.Handler {
	// Groups aren't meaningful for this flat line format; ignore.
	return h
}

func formatAttr(a slog.Attr) string {
	return fmt.Sprintf("%s=%v", a.Key, a.Value.Any())
}

func levelTag(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "[error]"
	case level >= slog.LevelWarn:
		return "[warn]"
	case level >= slog.LevelInfo:
		return "[info]"
	default:
		return "[debug]"
	}
}
