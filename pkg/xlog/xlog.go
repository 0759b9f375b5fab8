package xlog

import (
	"io"
	"log/slog"
	"os"
)

// New builds a leveled slog logger writing to w. Components receive a child
// handle via With and never share package-level state, so tests and embedders
// can wire their own sinks.
func New(level, format string, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}

	var lvl = slog.LevelDebug

	switch level {
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "debug":
		lvl = slog.LevelDebug
	}

	var opts = &slog.HandlerOptions{
		Level: lvl,
	}

	var handler slog.Handler

	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

// ForComponent tags a logger with the component name carried on every record.
func ForComponent(l *slog.Logger, name string) *slog.Logger {
	if l == nil {
		return Nop()
	}
	return l.With("component", name)
}

// Nop returns a logger that discards everything. Useful as an option default.
func Nop() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
