// Package logging configures the process-wide structured logger.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options control log output.
type Options struct {
	// Level is debug, info, warn, or error. Unknown values mean info.
	Level string

	// File, when set, routes logs to a size-rotated file instead of
	// stderr.
	File      string
	MaxSizeMB int
	Backups   int

	// Quiet raises the stderr threshold to error.
	Quiet bool
}

// Setup builds the logger and installs it as slog's default. File
// output is JSON for machine consumption; stderr output is text.
func Setup(opts Options) *slog.Logger {
	level := parseLevel(opts.Level)
	if opts.Quiet && level < slog.LevelError {
		level = slog.LevelError
	}

	var handler slog.Handler
	if opts.File != "" {
		maxSize := opts.MaxSizeMB
		if maxSize <= 0 {
			maxSize = 10
		}
		var w io.Writer = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    maxSize,
			MaxBackups: opts.Backups,
			Compress:   true,
		}
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
