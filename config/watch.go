package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the configuration file when it changes on disk and hands
// each successful reload to a callback. Reloads that fail to parse or
// validate are reported to the error callback and the previous configuration
// stays in effect.
type Watcher struct {
	path     string
	onReload func(AppConfig)
	onError  func(error)

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	started bool
}

// NewWatcher creates a watcher for the configuration file at path. onError
// may be nil.
func NewWatcher(path string, onReload func(AppConfig), onError func(error)) *Watcher {
	if onError == nil {
		onError = func(error) {}
	}
	return &Watcher{
		path:     path,
		onReload: onReload,
		onError:  onError,
	}
}

// Start begins watching. It watches the file's directory, so editors that
// replace the file on save are still observed.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.started {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", w.path, err)
	}

	w.watcher = watcher
	w.started = true
	go w.loop(ctx, watcher)
	return nil
}

func (w *Watcher) loop(ctx context.Context, watcher *fsnotify.Watcher) {
	fileName := filepath.Base(w.path)
	var lastEvent time.Time
	const debounce = 100 * time.Millisecond

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != fileName {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			now := time.Now()
			if now.Sub(lastEvent) < debounce {
				continue
			}
			lastEvent = now

			cfg, err := Load(w.path)
			if err != nil {
				w.onError(err)
				continue
			}
			w.onReload(cfg)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.onError(err)
		case <-ctx.Done():
			return
		}
	}
}

// Close stops watching.
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.started {
		return nil
	}
	w.started = false
	return w.watcher.Close()
}
