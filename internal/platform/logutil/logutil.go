// Package logutil holds nil-safe slog helpers.
package logutil

import (
	"io"
	"log/slog"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// Noop returns a logger that drops everything.
func Noop() *slog.Logger { return discard }

// NoopIfNil returns l, or Noop when l is nil.
func NoopIfNil(l *slog.Logger) *slog.Logger {
	if l == nil {
		return discard
	}
	return l
}

// ForComponent tags l with component=name. A nil l yields Noop.
func ForComponent(l *slog.Logger, name string) *slog.Logger {
	if l == nil {
		return discard
	}
	return l.With("component", name)
}
