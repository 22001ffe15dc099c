// Package logger builds the process-wide structured JSON logger.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Option configures the logger.
type Option func(*settings)

type settings struct {
	level slog.Level
	out   io.Writer
}

// WithLevel sets the minimum log level.
func WithLevel(level slog.Level) Option {
	return func(s *settings) {
		s.level = level
	}
}

// WithWriter redirects log output, for tests.
func WithWriter(out io.Writer) Option {
	return func(s *settings) {
		s.out = out
	}
}

// New returns a structured JSON logger using slog. Defaults to info on stdout.
func New(opts ...Option) *slog.Logger {
	s := &settings{level: slog.LevelInfo, out: os.Stdout}
	for _, opt := range opts {
		opt(s)
	}
	handler := slog.NewJSONHandler(s.out, &slog.HandlerOptions{Level: s.level})
	return slog.New(handler)
}

// ParseLevel maps a level name to its slog value, defaulting to info on
// unknown input.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
