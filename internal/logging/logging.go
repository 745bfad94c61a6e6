// Package logging builds the process logger.
package logging

import (
	"io"
	"log/slog"
)

// New returns a text slog.Logger writing to w. verbose enables debug logs.
func New(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	h := slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(h).With("app", "ymir")
}
