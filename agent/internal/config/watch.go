package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"reflect"

	"github.com/fsnotify/fsnotify"
)

// Keys the running agent applies without a restart.
const (
	KeyLogLevel = "log.level"
	KeyMaxAge   = "aging.max_age"
)

// Change is the outcome of one reload.
type Change struct {
	Config *Config

	// Applied lists the hot-reloadable keys whose value changed.
	Applied []string

	// Restart lists the sections that changed but only take effect after a
	// restart of the agent.
	Restart []string
}

// Empty reports whether the reload changed nothing.
func (c Change) Empty() bool { return len(c.Applied) == 0 && len(c.Restart) == 0 }

// Diff compares two loaded configs.
func Diff(prev, next *Config) Change {
	ch := Change{Config: next}
	p, n := prev.Agent, next.Agent

	if p.Log.Level != n.Log.Level {
		ch.Applied = append(ch.Applied, KeyLogLevel)
	}
	if p.Aging.MaxAge != n.Aging.MaxAge {
		ch.Applied = append(ch.Applied, KeyMaxAge)
	}

	// Everything else is wired once at startup.
	pl, nl := p.Log, n.Log
	pl.Level, nl.Level = "", ""
	pa, na := p.Aging, n.Aging
	pa.MaxAge, na.MaxAge = 0, 0
	for _, s := range []struct {
		name       string
		prev, next any
	}{
		{"name", p.Name, n.Name},
		{"device", p.Device, n.Device},
		{"aging", pa, na},
		{"sinks", p.Sinks, n.Sinks},
		{"metrics", p.Metrics, n.Metrics},
		{"log", pl, nl},
	} {
		if !reflect.DeepEqual(s.prev, s.next) {
			ch.Restart = append(ch.Restart, s.name)
		}
	}
	return ch
}

// Watch reloads path whenever it is written or replaced and calls onChange
// with the difference against the previously active config, starting from
// current. Reloads that fail to validate or change nothing are logged and
// skipped. It runs until ctx is cancelled.
//
// The parent directory is watched rather than the file, so atomic saves that
// rename a new file over path are seen.
func Watch(ctx context.Context, path string, current *Config, onChange func(Change)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: watch: %w", err)
	}
	defer watcher.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("config: watch: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("config: watch %s: %w", filepath.Dir(abs), err)
	}
	slog.Info("config: watching for changes", "path", abs)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs ||
				!event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			next, err := Load(abs)
			if err != nil {
				slog.Warn("config: reload rejected, keeping active config",
					"path", abs, "err", err)
				continue
			}
			ch := Diff(current, next)
			if ch.Empty() {
				slog.Debug("config: reload without changes", "path", abs)
				continue
			}
			if len(ch.Restart) > 0 {
				slog.Warn("config: changes need a restart", "sections", ch.Restart)
			}
			current = next
			onChange(ch)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("config: watcher error", "err", err)
		}
	}
}
