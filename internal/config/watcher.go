package config

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/wudi/contractcheck/internal/logging"
)

// Watcher watches snapshot input directories and re-triggers analysis when
// their contents change. Rapid bursts of writes (an extraction step
// regenerating many files) collapse into one trigger via debounce.
type Watcher struct {
	watcher  *fsnotify.Watcher
	dirs     []string
	debounce time.Duration

	mu        sync.RWMutex
	callbacks []func()
}

// NewWatcher creates a watcher over the given directories. Non-existent
// directories are skipped; they may be created later by re-running with a
// corrected config, which is not this watcher's concern.
func NewWatcher(dirs []string, debounce time.Duration) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	return &Watcher{
		watcher:  fsWatcher,
		dirs:     dirs,
		debounce: debounce,
	}, nil
}

// OnChange registers a callback fired after each debounced change burst.
func (w *Watcher) OnChange(callback func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// Start begins watching.
func (w *Watcher) Start() error {
	for _, dir := range w.dirs {
		if dir == "" {
			continue
		}
		if err := w.watcher.Add(dir); err != nil {
			logging.Warn("cannot watch directory", zap.String("dir", dir), zap.Error(err))
		}
	}
	go w.watch()
	return nil
}

// Stop closes the underlying watcher.
func (w *Watcher) Stop() error {
	return w.watcher.Close()
}

func (w *Watcher) watch() {
	var debounceTimer *time.Timer

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if filepath.Ext(event.Name) != ".json" && filepath.Ext(event.Name) != ".yaml" && filepath.Ext(event.Name) != ".yml" {
				continue
			}
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(w.debounce, w.fire)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Warn("snapshot watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) fire() {
	w.mu.RLock()
	callbacks := make([]func(), len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.RUnlock()
	for _, cb := range callbacks {
		cb()
	}
}
