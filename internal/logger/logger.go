// Package logger provides structured logging functionality
package logger

import (
	"io"
	"log/slog"
	"os"
	"strconv"
)

// Logger wraps slog.Logger for application-wide logging
type Logger struct {
	*slog.Logger
}

// Config holds logger configuration
type Config struct {
	Output io.Writer // defaults to stdout
	Level  string    // debug, info, warn, error
	Format string    // text, json
}

// ParseLevel maps a level name to a slog level, defaulting to info.
func ParseLevel(name string) slog.Level {
	switch name {
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

// New creates a new structured logger
func New(cfg Config) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}

	opts := &slog.HandlerOptions{
		Level: ParseLevel(cfg.Level),
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	return &Logger{
		Logger: slog.New(handler),
	}
}

// WithComponent returns a logger with a component attribute
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		Logger: l.With("component", component),
	}
}

// WithJob returns a logger tagged with a background job kind
func (l *Logger) WithJob(kind string) *Logger {
	return &Logger{
		Logger: l.With("job_kind", kind),
	}
}

// WithDownload returns a logger with download context attributes
func (l *Logger) WithDownload(id, artist, album string) *Logger {
	return &Logger{
		Logger: l.With("download_id", id, "artist", artist, "album", album),
	}
}

// WithRelease returns a logger with release context attributes
func (l *Logger) WithRelease(id int64, title string) *Logger {
	return &Logger{
		Logger: l.With("release_id", strconv.FormatInt(id, 10), "release_title", title),
	}
}

// Default returns a default logger for quick usage
func Default() *Logger {
	return New(Config{
		Level:  "info",
		Format: "text",
	})
}

// Discard returns a logger that drops every record.
func Discard() *Logger {
	return New(Config{Output: io.Discard})
}
