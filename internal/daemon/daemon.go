// Package daemon runs the engine continuously: a debounced filesystem
// watcher over the vault plus a periodic timer, both feeding the same
// single-flight sync trigger.
package daemon

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/wrenware/taskmirror/internal/engine"
)

// defaultDebounce batches the burst of write events an editor emits
// when saving before a cycle is triggered.
const defaultDebounce = 2 * time.Second

// Syncer is the part of the engine the daemon drives.
type Syncer interface {
	RunCycle(ctx context.Context) (*engine.CycleReport, error)
}

// Runner watches a vault and triggers sync cycles.
type Runner struct {
	Syncer   Syncer
	VaultDir string

	// Interval between timer-driven cycles. Zero disables the timer.
	Interval time.Duration

	// Debounce delay for filesystem triggers. Zero uses the default.
	Debounce time.Duration

	Logger *slog.Logger
}

// Run blocks until ctx is cancelled, syncing once at startup, on every
// debounced vault change, and on the periodic timer. A trigger that
// collides with a running cycle is coalesced into one follow-up run.
func (r *Runner) Run(ctx context.Context) error {
	if r.Logger == nil {
		r.Logger = slog.Default()
	}
	debounce := r.Debounce
	if debounce <= 0 {
		debounce = defaultDebounce
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err := watchTree(watcher, r.VaultDir); err != nil {
		return err
	}
	r.Logger.Info("watching vault", "dir", r.VaultDir, "interval", r.Interval)

	// Debounce timer, armed only after a relevant event.
	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}

	var ticker *time.Ticker
	var tick <-chan time.Time
	if r.Interval > 0 {
		ticker = time.NewTicker(r.Interval)
		tick = ticker.C
		defer ticker.Stop()
	}

	r.sync(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !relevant(ev) {
				continue
			}
			// New directories join the watch set as they appear.
			if ev.Op.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					_ = watchTree(watcher, ev.Name)
				}
			}
			timer.Reset(debounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.Logger.Warn("watcher error", "error", err)

		case <-timer.C:
			if !r.sync(ctx) {
				// A cycle is already running; try again shortly.
				timer.Reset(debounce)
			}

		case <-tick:
			r.sync(ctx)
		}
	}
}

// sync runs one cycle, reporting false when it must be re-triggered.
func (r *Runner) sync(ctx context.Context) bool {
	_, err := r.Syncer.RunCycle(ctx)
	switch {
	case err == nil:
		return true
	case errors.Is(err, engine.ErrCycleInFlight):
		return false
	case errors.Is(err, context.Canceled):
		return true
	default:
		r.Logger.Error("sync cycle failed", "error", err)
		return true
	}
}

// relevant filters watcher noise down to markdown content changes.
func relevant(ev fsnotify.Event) bool {
	if !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Write) &&
		!ev.Op.Has(fsnotify.Remove) && !ev.Op.Has(fsnotify.Rename) {
		return false
	}
	base := filepath.Base(ev.Name)
	if strings.HasPrefix(base, ".") {
		return false
	}
	if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
		return true
	}
	return strings.EqualFold(filepath.Ext(ev.Name), ".md")
}

// watchTree registers root and every non-hidden subdirectory.
func watchTree(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return w.Add(path)
	})
}

// LogWriter returns a writer that tees to stderr and a size-rotated
// log file, for long-running watch sessions.
func LogWriter(path string) io.Writer {
	return io.MultiWriter(os.Stderr, &lumberjack.Logger{
		Filename:   path,
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
	})
}
