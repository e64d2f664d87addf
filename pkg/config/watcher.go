package config

import (
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/cuemby/nodehealth/pkg/log"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher observes a config directory and raises a deferred reload flag.
// The daemons poll Pending at audit boundaries; the watcher never reloads
// anything itself.
type Watcher struct {
	fsw     *fsnotify.Watcher
	logger  zerolog.Logger
	pending atomic.Bool
	stopCh  chan struct{}
}

// NewWatcher starts watching dir for *.conf changes.
func NewWatcher(dir string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &Watcher{
		fsw:    fsw,
		logger: log.WithComponent("config-watcher"),
		stopCh: make(chan struct{}),
	}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(filepath.Base(ev.Name), ".conf") {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				if w.pending.CompareAndSwap(false, true) {
					w.logger.Info().Str("file", ev.Name).Str("op", ev.Op.String()).Msg("config change observed, reload deferred to next audit")
				}
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn().Err(err).Msg("config watch error")
		case <-w.stopCh:
			return
		}
	}
}

// Pending reports whether a reload is owed.
func (w *Watcher) Pending() bool {
	return w.pending.Load()
}

// Ack consumes the pending flag; returns true when a reload was owed.
func (w *Watcher) Ack() bool {
	return w.pending.Swap(false)
}

// Defer re-arms the pending flag; used when a reload must be postponed one
// audit because a manual restart is in progress.
func (w *Watcher) Defer() {
	w.pending.Store(true)
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.stopCh)
	return w.fsw.Close()
}
