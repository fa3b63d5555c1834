package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name     string
		expected slog.Level
	}{
		{"trace", LevelTrace},
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseLevel(tt.name)
			if got != tt.expected {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.name, got, tt.expected)
			}
		})
	}
}

func TestTraceBelowDebug(t *testing.T) {
	if LevelTrace >= slog.LevelDebug {
		t.Errorf("LevelTrace (%d) should sort below debug (%d)", LevelTrace, slog.LevelDebug)
	}
}

func TestTraceLevelName(t *testing.T) {
	var buf bytes.Buffer
	handler := slog.NewJSONHandler(&buf, &slog.HandlerOptions{
		Level:       LevelTrace,
		ReplaceAttr: replaceLevelName,
	})
	logger := slog.New(handler)

	Trace(logger, "checking entry", "path", "/mnt/x")

	out := buf.String()
	if !strings.Contains(out, `"level":"TRACE"`) {
		t.Errorf("trace line missing TRACE level name: %s", out)
	}
	if !strings.Contains(out, "checking entry") {
		t.Errorf("trace line missing message: %s", out)
	}
}

func TestTraceFilteredAtInfo(t *testing.T) {
	var buf bytes.Buffer
	handler := slog.NewJSONHandler(&buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	logger := slog.New(handler)

	Trace(logger, "should not appear")

	if buf.Len() != 0 {
		t.Errorf("trace line leaked through info level: %s", buf.String())
	}
}
