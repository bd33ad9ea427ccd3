// Package logger configures structured logging for tfguard.
// Logs go to stderr so that stdout stays reserved for command output.
package logger

import (
	"io"
	"log/slog"
	"os"
)

// New returns a text logger writing to w. Debug records are emitted only when verbose is set.
func New(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// Setup installs the process-wide default logger on stderr.
func Setup(verbose bool) *slog.Logger {
	l := New(os.Stderr, verbose)
	slog.SetDefault(l)
	return l
}

// Component returns the default logger tagged with a pipeline component name.
func Component(name string) *slog.Logger {
	return slog.Default().With("component", name)
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
