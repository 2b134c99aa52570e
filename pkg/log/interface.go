// Package log provides the structured logging interface used across microforest.
//
// The interface is slog-compatible so callers can swap backends; the default
// provider is backed by zerolog (see zerolog.go). Fields are passed as
// alternating key/value pairs and the keys in attributes.go keep training and
// inference logs consistent.
//
// Example usage:
//
//	logger := log.GetLoggerWithName("forest.trainer").With(
//	    log.RunIDKey, runID,
//	)
//	logger.Info("grid point scored",
//	    log.MinSplitKey, 2,
//	    log.MaxDepthKey, 5,
//	    log.ScoreKey, 0.91,
//	)
package log

import (
	"context"
)

// Logger defines a structured logging interface compatible with Go's log/slog.
//
// If the first field passed to Error is an error value, it is logged under the
// "error" key together with its stack trace.
type Logger interface {
	Debug(msg string, fields ...any)
	Info(msg string, fields ...any)
	Warn(msg string, fields ...any)
	Error(msg string, fields ...any)

	// With returns a new Logger with the given fields pre-populated.
	With(fields ...any) Logger

	// Enabled reports whether the logger emits records at the given level.
	// Use it to skip building expensive diagnostic fields.
	Enabled(ctx context.Context, level Level) bool
}

// Level represents a logging level, compatible with slog.Level.
type Level int

// Standard logging levels, values are compatible with slog.Level.
const (
	LevelDebug Level = -4
	LevelInfo  Level = 0
	LevelWarn  Level = 4
	LevelError Level = 8
)

// String returns the string representation of the log level.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// LoggerProvider creates loggers; it exists so tests can inject a TestLoggerProvider.
type LoggerProvider interface {
	GetLogger() Logger
	GetLoggerWithName(name string) Logger
	SetLevel(level Level)
}
