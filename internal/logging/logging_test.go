package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestLevelFromString(t *testing.T) {
	t.Parallel()

	cases := map[string]slog.Level{
		"error":   slog.LevelError,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"info":    slog.LevelInfo,
		"debug":   slog.LevelDebug,
		"":        slog.LevelDebug,
	}
	for in, want := range cases {
		if got := LevelFromString(in); got != want {
			t.Fatalf("LevelFromString(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewWithWriterFiltersByLevel(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "warn", "text")
	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info record leaked at warn level: %q", out)
	}
	if !strings.Contains(out, "shown") {
		t.Fatalf("warn record missing: %q", out)
	}
}

func TestComponentJSON(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	Component(NewWithWriter(&buf, "info", "json"), "sync").Info("page applied", "items", 3)

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("decode record: %v (%q)", err, buf.String())
	}
	if record["component"] != "sync" {
		t.Fatalf("component = %v, want sync", record["component"])
	}
	if record["items"] != float64(3) {
		t.Fatalf("items = %v, want 3", record["items"])
	}
}
