// Package logging provides structured logging infrastructure for the engine.
package logging

import (
	"io"
	"log/slog"
	"os"
)

// Format selects the slog handler used by New.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// New creates a logger writing to w in the given format at the given level.
func New(format Format, level slog.Level, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch format {
	case FormatJSON:
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// NewDefault creates a text logger at Info level writing to stderr, the
// engine's default when the caller supplies no logger.
func NewDefault() *slog.Logger {
	return New(FormatText, slog.LevelInfo, os.Stderr)
}

// NewSilent creates a logger that discards everything, for tests that don't
// want log noise but still need a non-nil *slog.Logger.
func NewSilent() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}
