package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"WARN", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewJSONHandler(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, Config{Format: "json", Level: "info"})
	log.Debug("hidden")
	log.Info("visible", "stage", "build")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected a single JSON line, got %q: %v", buf.String(), err)
	}
	if entry["msg"] != "visible" || entry["stage"] != "build" {
		t.Errorf("unexpected entry: %v", entry)
	}
}

func TestCorrelationID(t *testing.T) {
	ctx := context.Background()
	if got := CorrelationID(ctx); got != "" {
		t.Errorf("empty context returned %q", got)
	}

	id := GenerateCorrelationID()
	if len(id) != 16 {
		t.Errorf("correlation id length = %d, want 16", len(id))
	}
	if got := CorrelationID(WithCorrelationID(ctx, id)); got != id {
		t.Errorf("CorrelationID = %q, want %q", got, id)
	}
}
