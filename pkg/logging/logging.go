package logging

import (
	"context"
	"log/slog"
	"os"
)

// LevelTrace sits below debug. Per-entry pruning decisions log here so
// a normal run stays quiet.
const LevelTrace = slog.Level(-8)

// ParseLevel maps a level name to its slog level. Unknown names fall
// back to info.
func ParseLevel(level string) slog.Level {
	switch level {
	case "trace":
		return LevelTrace
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New builds the process logger: JSON on stdout at the given level, and
// installs it as the slog default.
func New(level string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       ParseLevel(level),
		ReplaceAttr: replaceLevelName,
	}

	handler := slog.NewJSONHandler(os.Stdout, opts)
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// replaceLevelName renders LevelTrace as "TRACE" instead of slog's
// default "DEBUG-4".
func replaceLevelName(groups []string, a slog.Attr) slog.Attr {
	if a.Key == slog.LevelKey {
		if lvl, ok := a.Value.Any().(slog.Level); ok && lvl == LevelTrace {
			a.Value = slog.StringValue("TRACE")
		}
	}
	return a
}

// Trace logs msg at trace level.
func Trace(logger *slog.Logger, msg string, args ...any) {
	logger.Log(context.Background(), LevelTrace, msg, args...)
}
