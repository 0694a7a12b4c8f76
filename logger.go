package entidb

import (
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with entidb-specific helpers.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses a default text handler to stderr.
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

// LogInsert logs an insert operation.
func (l *Logger) LogInsert(table string, id string, err error) {
	if err != nil {
		l.Error("insert failed",
			"table", table,
			"error", err,
		)
	} else {
		l.Debug("insert completed",
			"table", table,
			"id", id,
		)
	}
}

// LogUpdate logs an update operation.
func (l *Logger) LogUpdate(table string, id string, err error) {
	if err != nil {
		l.Error("update failed",
			"table", table,
			"id", id,
			"error", err,
		)
	} else {
		l.Debug("update completed",
			"table", table,
			"id", id,
		)
	}
}

// LogDelete logs a delete operation.
func (l *Logger) LogDelete(table string, id string, err error) {
	if err != nil {
		l.Error("delete failed",
			"table", table,
			"id", id,
			"error", err,
		)
	} else {
		l.Debug("delete completed",
			"table", table,
			"id", id,
		)
	}
}

// LogSearch logs a fuzzy search operation.
func (l *Logger) LogSearch(table, indexName string, resultsFound int, err error) {
	if err != nil {
		l.Error("search failed",
			"table", table,
			"index", indexName,
			"error", err,
		)
	} else {
		l.Debug("search completed",
			"table", table,
			"index", indexName,
			"results", resultsFound,
		)
	}
}

// LogSnapshot logs a snapshot save or load.
func (l *Logger) LogSnapshot(table, op string, entities int, err error) {
	if err != nil {
		l.Error("snapshot failed",
			"table", table,
			"op", op,
			"error", err,
		)
	} else {
		l.Info("snapshot completed",
			"table", table,
			"op", op,
			"entities", entities,
		)
	}
}
