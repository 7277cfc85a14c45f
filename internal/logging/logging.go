// Package logging builds the zerolog logger shared by the engine components.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/rcliao/episodic-memory/internal/config"
)

// New returns a logger configured from cfg. The returned closer releases the
// log file when Output is "file" and is a no-op otherwise.
func New(cfg config.LogConfig) (zerolog.Logger, func() error, error) {
	noop := func() error { return nil }

	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		return zerolog.Nop(), noop, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	timeFormat := time.RFC3339
	switch strings.ToLower(cfg.TimeFormat) {
	case "unix":
		timeFormat = zerolog.TimeFormatUnix
	case "iso8601":
		timeFormat = "2006-01-02T15:04:05.000Z07:00"
	}
	zerolog.TimeFieldFormat = timeFormat

	var out io.Writer
	closer := noop
	switch strings.ToLower(cfg.Output) {
	case "stdout":
		out = os.Stdout
	case "file":
		if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0o755); err != nil {
			return zerolog.Nop(), noop, fmt.Errorf("create log dir: %w", err)
		}
		f, err := os.OpenFile(cfg.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return zerolog.Nop(), noop, fmt.Errorf("open log file %q: %w", cfg.FilePath, err)
		}
		out = f
		closer = f.Close
	default:
		out = os.Stderr
	}

	if strings.ToLower(cfg.Format) == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	return zerolog.New(out).Level(level).With().Timestamp().Caller().Logger(), closer, nil
}

// Component returns a child logger tagged with the component name.
func Component(l zerolog.Logger, name string) zerolog.Logger {
	return l.With().Str("component", name).Logger()
}
