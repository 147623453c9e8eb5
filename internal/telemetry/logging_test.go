package telemetry

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func captureLog(t *testing.T, level, format string, emit func(*slog.Logger)) []map[string]any {
	t.Helper()

	path := filepath.Join(t.TempDir(), "out.log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open log file: %v", err)
	}
	logger := slog.New(NewHandler(f, level, format))
	emit(logger)
	if err := f.Close(); err != nil {
		t.Fatalf("close log file: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var entries []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(string(raw)), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("unmarshal log line %q: %v", line, err)
		}
		entries = append(entries, entry)
	}
	return entries
}

func TestNew_JSONSchema(t *testing.T) {
	entries := captureLog(t, "debug", "json", func(l *slog.Logger) {
		l.Info("ingest", "channel", "demo", "user", "alice")
	})
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	entry := entries[0]
	for _, key := range []string{"timestamp", "level", "msg", "channel", "user"} {
		if _, ok := entry[key]; !ok {
			t.Fatalf("missing key %q in %#v", key, entry)
		}
	}
	if entry["channel"] != "demo" {
		t.Fatalf("channel = %#v, want demo", entry["channel"])
	}
}

func TestNew_RedactsSecrets(t *testing.T) {
	entries := captureLog(t, "info", "json", func(l *slog.Logger) {
		l.Info("connect",
			"access_token", "abc123",
			"line", "PASS oauth:zzz999",
			"channel", "demo",
		)
	})
	entry := entries[0]
	if entry["access_token"] != "[REDACTED]" {
		t.Fatalf("access_token = %#v, want [REDACTED]", entry["access_token"])
	}
	if entry["line"] != "[REDACTED]" {
		t.Fatalf("line = %#v, want [REDACTED]", entry["line"])
	}
	if entry["channel"] != "demo" {
		t.Fatalf("channel = %#v, want demo (not redacted)", entry["channel"])
	}
}

func TestNew_LevelFiltersDebug(t *testing.T) {
	entries := captureLog(t, "warn", "json", func(l *slog.Logger) {
		l.Debug("dropped")
		l.Info("also dropped")
		l.Warn("kept")
	})
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	if entries[0]["msg"] != "kept" {
		t.Fatalf("msg = %#v, want kept", entries[0]["msg"])
	}
}

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"Warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}
	for _, tc := range cases {
		if got := parseLevel(tc.in); got != tc.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
