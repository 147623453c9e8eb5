package filters

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the banword list when the backing file is rewritten, so
// moderators can extend it without restarting the brain.
type Watcher struct {
	path    string
	filters *Filters
	logger  *slog.Logger
}

// NewWatcher creates a watcher that feeds word lists from path into filters.
func NewWatcher(path string, filters *Filters, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{path: path, filters: filters, logger: logger}
}

// Start loads the file once, then watches it for changes until ctx is
// cancelled. The initial load must succeed; later reload failures keep
// the previous list and log a warning.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.reload(); err != nil {
		return fmt.Errorf("load banwords file: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(w.path); err != nil {
		fsw.Close()
		return fmt.Errorf("watch %s: %w", w.path, err)
	}

	go func() {
		defer fsw.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-fsw.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if err := w.reload(); err != nil {
					w.logger.Warn("banwords reload failed, keeping previous list", "path", w.path, "error", err)
					continue
				}
				w.logger.Info("banwords reloaded", "path", w.path)
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				w.logger.Error("banwords watcher error", "error", err)
			}
		}
	}()
	return nil
}

func (w *Watcher) reload() error {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return err
	}
	w.filters.SetBanwords(ParseBanwords(string(data)))
	return nil
}

// ParseBanwords splits a banword file into words: one per line or
// comma-separated, blank lines and #-comments skipped.
func ParseBanwords(data string) []string {
	var words []string
	for _, line := range strings.Split(data, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		for _, w := range strings.Split(line, ",") {
			if w = strings.TrimSpace(w); w != "" {
				words = append(words, w)
			}
		}
	}
	return words
}
