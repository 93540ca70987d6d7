package pmem

import (
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with pmem-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
// Use this to disable logging entirely.
func NoopLogger() *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.Level(1000), // Unreachable level
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// WithPath adds a file path field to the logger.
func (l *Logger) WithPath(path string) *Logger {
	return &Logger{
		Logger: l.Logger.With("path", path),
	}
}

// WithRange adds offset and length fields to the logger.
func (l *Logger) WithRange(off, n int) *Logger {
	return &Logger{
		Logger: l.Logger.With("offset", off, "length", n),
	}
}

// LogMap logs a successful mapping.
func (l *Logger) LogMap(path string, size int, gran Granularity) {
	l.Info("mapped persistent memory file",
		"path", path,
		"size", size,
		"granularity", gran.String(),
	)
}

// LogFlush logs a flush of a mapped range.
func (l *Logger) LogFlush(off, n int, err error) {
	if err != nil {
		l.Error("flush failed",
			"offset", off,
			"length", n,
			"error", err,
		)
	} else {
		l.Debug("flushed range",
			"offset", off,
			"length", n,
		)
	}
}

// LogSnapshot logs a snapshot operation.
func (l *Logger) LogSnapshot(name string, bytes int64, err error) {
	if err != nil {
		l.Error("snapshot failed",
			"name", name,
			"error", err,
		)
	} else {
		l.Info("snapshot written",
			"name", name,
			"bytes", bytes,
		)
	}
}

// LogRestore logs a restore operation.
func (l *Logger) LogRestore(name string, bytes int64, err error) {
	if err != nil {
		l.Error("restore failed",
			"name", name,
			"error", err,
		)
	} else {
		l.Info("snapshot restored",
			"name", name,
			"bytes", bytes,
		)
	}
}
