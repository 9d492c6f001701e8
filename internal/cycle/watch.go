package cycle

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch runs a cycle immediately, then again whenever a watched file
// changes (after the debounce window) and on every fallback interval tick.
// It returns nil when ctx is cancelled.
func (r *Runner) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := r.layout.Bootstrap(); err != nil {
		return err
	}
	dirs := []string{
		r.layout.MemoryRoot,
		filepath.Dir(r.layout.LedgerPath),
		filepath.Dir(r.layout.PlanningPath),
	}
	for _, dir := range dirs {
		if _, err := os.Stat(dir); err != nil {
			continue
		}
		if err := watcher.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
	}

	interval := r.opts.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	debounce := r.opts.Debounce
	if debounce <= 0 {
		debounce = 2 * time.Second
	}
	r.log.Info("cycle.watch_started", map[string]any{
		"memory_root": r.layout.MemoryRoot,
		"interval":    interval.String(),
		"debounce":    debounce.String(),
	})

	r.runAndReport()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			r.log.Info("cycle.watch_stopped")
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !r.relevant(event) {
				continue
			}
			r.log.Debug("cycle.change", map[string]any{"path": event.Name, "op": event.Op.String()})
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(debounce)
			}
			timerC = timer.C

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.log.ErrorErr("cycle.watch_error", err)

		case <-timerC:
			timerC = nil
			r.runAndReport()

		case <-ticker.C:
			r.runAndReport()
		}
	}
}

func (r *Runner) runAndReport() {
	res, err := r.RunOnce(false)
	if err != nil {
		r.log.ErrorErr("cycle.run_failed", err)
	}
	if res != nil && r.opts.OnResult != nil {
		r.opts.OnResult(res)
	}
}

// relevant filters out writes the cycle makes itself and lock churn.
func (r *Runner) relevant(event fsnotify.Event) bool {
	if event.Op == fsnotify.Chmod {
		return false
	}
	name := filepath.Clean(event.Name)
	base := filepath.Base(name)
	if strings.HasSuffix(base, ".lock") || strings.HasPrefix(base, ".") || strings.HasSuffix(base, ".tmp") {
		return false
	}
	for _, own := range []string{
		r.layout.RehydratedDir,
		r.layout.AutomationDir,
		r.layout.ContextDir,
		r.layout.TypedJSONPath,
		r.layout.TypedMarkdownPath,
	} {
		if name == own || strings.HasPrefix(name, own+string(filepath.Separator)) {
			return false
		}
	}
	return true
}
