package log

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "gomint", "1.0.0", "info", "json")

	ctx := context.WithValue(context.Background(), IterationKey, 7)
	logger.WithContext(ctx).WithComponent("worker").Info("hello")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("invalid json log line: %v", err)
	}
	for key, want := range map[string]any{
		"service":   "gomint",
		"version":   "1.0.0",
		"component": "worker",
		"iteration": float64(7),
		"msg":       "hello",
	} {
		if entry[key] != want {
			t.Errorf("field %s = %v, want %v", key, entry[key], want)
		}
	}
}

func TestWithErrorNil(t *testing.T) {
	logger := Discard()
	if logger.WithError(nil) != logger {
		t.Error("WithError(nil) should return the same logger")
	}
}

func TestLogThroughputZeroDuration(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "gomint", "1.0.0", "info", "text")
	logger.LogThroughput("hash", 10, 0)
	if buf.Len() != 0 {
		t.Errorf("expected no output for zero duration, got %q", buf.String())
	}
	logger.LogThroughput("hash", 10, time.Second)
	if !strings.Contains(buf.String(), "per_sec=10") {
		t.Errorf("expected per_sec=10 in %q", buf.String())
	}
}
