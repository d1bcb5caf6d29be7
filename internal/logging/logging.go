// Package logging builds the process logger: JSON for machines, a
// charmbracelet console handler for people, both behind key redaction.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/hpn/gandalf-router/internal/config"
	"github.com/hpn/gandalf-router/internal/security"
)

// TimeFormat is the timestamp layout of the text format.
const TimeFormat = "15:04:05"

// ParseLevel maps a config level name onto slog. Unknown names yield info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

// NewHandler returns the handler for format writing to w, wrapped in
// redaction.
func NewHandler(w io.Writer, format string, level slog.Level, redactor *security.Redactor) slog.Handler {
	var inner slog.Handler
	if format == "text" {
		console := log.NewWithOptions(w, log.Options{
			ReportTimestamp: true,
			TimeFormat:      TimeFormat,
		})
		console.SetLevel(charmLevel(level))
		inner = console
	} else {
		inner = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	}
	return security.NewRedactedHandler(inner, redactor)
}

func charmLevel(level slog.Level) log.Level {
	switch {
	case level <= slog.LevelDebug:
		return log.DebugLevel
	case level <= slog.LevelInfo:
		return log.InfoLevel
	case level <= slog.LevelWarn:
		return log.WarnLevel
	default:
		return log.ErrorLevel
	}
}

// New creates the logger described by cfg. Output goes to stderr unless an
// output path is set; the returned close function releases that file.
func New(cfg config.LoggingConfig, redactor *security.Redactor) (*slog.Logger, func() error, error) {
	var w io.Writer = os.Stderr
	closeFn := func() error { return nil }

	if cfg.OutputPath != "" {
		f, err := os.OpenFile(cfg.OutputPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log output %s: %w", cfg.OutputPath, err)
		}
		w = f
		closeFn = f.Close
	}

	handler := NewHandler(w, cfg.Format, ParseLevel(cfg.Level), redactor)
	return slog.New(handler), closeFn, nil
}
