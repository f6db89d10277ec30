package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const reloadDebounce = 100 * time.Millisecond

// Watcher reloads the settings file into a Runtime whenever it changes on disk,
// so toggles like notifications_enabled take effect without a restart.
type Watcher struct {
	path    string
	runtime *Runtime

	fsWatcher  *fsnotify.Watcher
	debounceMu sync.Mutex
	debounce   *time.Timer
}

// NewWatcher watches the settings file at path (DefaultPath when empty) and
// pushes reloaded settings into runtime.
func NewWatcher(path string, runtime *Runtime) (*Watcher, error) {
	if path == "" {
		resolved, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = resolved
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "config: create settings dir failed")
	}
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "config: create fs watcher failed")
	}
	// Watch the directory, not the file: atomic writes (tmp + rename) replace
	// the inode and a file-level watch would go stale after the first change.
	if err := fsWatcher.Add(dir); err != nil {
		_ = fsWatcher.Close()
		return nil, errors.Wrapf(err, "config: watch %s failed", dir)
	}
	return &Watcher{path: path, runtime: runtime, fsWatcher: fsWatcher}, nil
}

// Run processes change events until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	defer func() { _ = w.fsWatcher.Close() }()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event)
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("config: settings watcher error")
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return
	}
	if filepath.Clean(event.Name) != filepath.Clean(w.path) {
		return
	}
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()
	if w.debounce != nil {
		w.debounce.Stop()
	}
	w.debounce = time.AfterFunc(reloadDebounce, w.reload)
}

func (w *Watcher) reload() {
	settings, err := Load(w.path)
	if err != nil {
		log.Warn().Err(err).Str("path", w.path).Msg("config: reload settings failed")
		return
	}
	w.runtime.Update(settings)
	log.Info().Str("path", w.path).Msg("config: settings reloaded")
}
