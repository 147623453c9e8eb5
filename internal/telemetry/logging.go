// Package telemetry builds the structured loggers shared by the gateway and
// brain daemons.
package telemetry

import (
	"log/slog"
	"os"
	"strings"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

// New returns a logger for the given level and format. Format "json" forces
// the JSON handler, "console" forces the tint handler, and "auto" (or empty)
// picks tint only when stdout is a terminal.
func New(level, format string) *slog.Logger {
	return slog.New(NewHandler(os.Stdout, level, format))
}

// NewHandler builds the underlying handler. Split out so tests can capture
// output.
func NewHandler(w *os.File, level, format string) slog.Handler {
	lvl := parseLevel(level)

	if useConsole(w, format) {
		return tint.NewHandler(w, &tint.Options{
			Level:       lvl,
			ReplaceAttr: redactAttr,
		})
	}
	return slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: lvl,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				a.Key = "timestamp"
			}
			return redactAttr(groups, a)
		},
	})
}

func useConsole(w *os.File, format string) bool {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "console":
		return true
	case "json":
		return false
	default:
		return isatty.IsTerminal(w.Fd()) || isatty.IsCygwinTerminal(w.Fd())
	}
}

// redactAttr keeps chat credentials out of the logs. Keys that look like
// secrets are masked wholesale, and string values carrying an IRC PASS
// credential are masked even under innocent keys (for example a raw wire
// line logged at debug).
func redactAttr(_ []string, a slog.Attr) slog.Attr {
	if shouldRedactKey(a.Key) {
		return slog.String(a.Key, "[REDACTED]")
	}
	if a.Value.Kind() == slog.KindString {
		if v, ok := redactStringValue(a.Value.String()); ok {
			return slog.String(a.Key, v)
		}
	}
	return a
}

func shouldRedactKey(key string) bool {
	lower := strings.ToLower(strings.TrimSpace(key))
	if lower == "" {
		return false
	}
	for _, token := range []string{"token", "secret", "password", "authorization", "credential"} {
		if strings.Contains(lower, token) {
			return true
		}
	}
	return false
}

func redactStringValue(v string) (string, bool) {
	lower := strings.ToLower(v)
	if strings.Contains(lower, "oauth:") {
		return "[REDACTED]", true
	}
	if strings.Contains(lower, "authorization:") {
		return "[REDACTED]", true
	}
	return v, false
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
