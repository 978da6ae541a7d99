// Package logging builds the process-wide structured logger. Both the
// dispatch server and the location consumer log JSON lines to stdout; the
// level comes from LOG_LEVEL and anything unrecognized falls back to info.
package logging

import (
	"log/slog"
	"os"
	"strings"
)

var levels = map[string]slog.Level{
	"debug":   slog.LevelDebug,
	"info":    slog.LevelInfo,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

// NewLogger returns a JSON slog logger with source attribution enabled.
func NewLogger(level string) *slog.Logger {
	lvl, ok := levels[strings.ToLower(strings.TrimSpace(level))]
	if !ok {
		lvl = slog.LevelInfo
	}
	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     lvl,
		AddSource: true,
	})
	return slog.New(h)
}
