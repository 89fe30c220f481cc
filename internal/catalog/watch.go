package catalog

import (
	"fmt"
	"os"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher flags the catalog as stale when files appear, vanish or change in
// the save or replay directories. It never rebuilds by itself; the owner
// checks TakeDirty and calls Rebuild on its own goroutine.
type Watcher struct {
	fw     *fsnotify.Watcher
	logger *zap.Logger
	dirty  atomic.Bool
	done   chan struct{}
}

// Watch starts watching the catalog directories. The replays directory is
// created if absent; a missing save directory is not watched.
//
// Postcondition: Returns a running Watcher or a non-nil error.
func (c *Catalog) Watch() (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating catalog watcher: %w", err)
	}

	replays := c.cfg.ReplaysPath()
	if err := os.MkdirAll(replays, 0o755); err != nil {
		_ = fw.Close()
		return nil, newIOError("create replays dir", replays, err)
	}
	if err := fw.Add(replays); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("watching %s: %w", replays, err)
	}
	if info, err := os.Stat(c.cfg.SaveDir); err == nil && info.IsDir() {
		if err := fw.Add(c.cfg.SaveDir); err != nil {
			_ = fw.Close()
			return nil, fmt.Errorf("watching %s: %w", c.cfg.SaveDir, err)
		}
	}

	w := &Watcher{fw: fw, logger: c.logger, done: make(chan struct{})}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	defer close(w.done)
	for {
		select {
		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) || ev.Has(fsnotify.Write) {
				w.dirty.Store(true)
			}
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("catalog watcher error", zap.Error(err))
			// Events may have been lost.
			w.dirty.Store(true)
		}
	}
}

// TakeDirty reports whether anything changed since the last call and clears the flag.
func (w *Watcher) TakeDirty() bool { return w.dirty.Swap(false) }

// MarkDirty sets the flag again, so a failed rebuild is retried on the next check.
func (w *Watcher) MarkDirty() { w.dirty.Store(true) }

// Close stops watching and waits for the event goroutine to exit.
func (w *Watcher) Close() error {
	err := w.fw.Close()
	<-w.done
	return err
}
