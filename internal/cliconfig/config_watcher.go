package cliconfig

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/obstack/walpipe/internal/pipeline"
	"github.com/obstack/walpipe/pkg/log"
)

// ConfigWatcher monitors the config file via fsnotify and pushes reloaded
// destination tables to a callback. Only destinations are hot-reloadable;
// everything else needs a restart.
type ConfigWatcher struct {
	path     string
	onReload func(map[string]pipeline.DestinationConfig)
	logger   log.Logger

	mu       sync.Mutex
	debounce *time.Timer
}

func NewConfigWatcher(path string, onReload func(map[string]pipeline.DestinationConfig), logger log.Logger) *ConfigWatcher {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	return &ConfigWatcher{path: path, onReload: onReload, logger: logger}
}

// Run watches the config file's directory until ctx is cancelled. Editors
// replace files rather than writing in place, so the directory is watched and
// events are filtered by name.
func (w *ConfigWatcher) Run(ctx context.Context) {
	if w.path == "" || w.onReload == nil {
		return
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.Error("config watcher: create failed", log.Err(err))
		return
	}
	defer watcher.Close()

	dir := filepath.Dir(w.path)
	if err := watcher.Add(dir); err != nil {
		w.logger.Error("config watcher: watch failed", log.String("dir", dir), log.Err(err))
		return
	}

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filepath.Base(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.debounceReload(100 * time.Millisecond)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher: error", log.Err(err))
		}
	}
}

// debounceReload coalesces the event bursts editors produce into one reload.
func (w *ConfigWatcher) debounceReload(delay time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.debounce != nil {
		w.debounce.Stop()
	}
	w.debounce = time.AfterFunc(delay, w.reload)
}

func (w *ConfigWatcher) reload() {
	fc, err := LoadFileConfig(w.path)
	if err != nil {
		w.logger.Error("config watcher: reload failed", log.String("file", w.path), log.Err(err))
		return
	}
	if len(fc.Destinations) == 0 {
		w.logger.Warn("config watcher: reload ignored, no destinations", log.String("file", w.path))
		return
	}
	w.logger.Info("config watcher: destinations reloaded",
		log.String("file", w.path), log.Int("count", len(fc.Destinations)))
	w.onReload(DestinationsFromFile(fc.Destinations))
}
