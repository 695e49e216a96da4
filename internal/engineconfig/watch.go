package engineconfig

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher reloads the engine configuration file whenever it changes on
// disk, the same fsnotify-driven hot-reload the orchestrator's config
// manager implements for its own multi-file config directory — trimmed
// here to the engine's single engine.yaml document.
type Watcher struct {
	watcher *fsnotify.Watcher
	path    string
	logger  *zap.Logger
}

// NewWatcher starts watching path's parent directory (fsnotify watches
// directories, not bare files, so atomic-rename-based config deploys are
// still observed) and returns a Watcher the caller must Close.
func NewWatcher(path string, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close()
		return nil, err
	}
	return &Watcher{watcher: w, path: filepath.Clean(path), logger: logger}, nil
}

// Run blocks, invoking onReload with the freshly-parsed configuration
// every time the watched file is written, created or renamed into place.
// It returns when ctx is cancelled or the watcher's event channel closes.
func (w *Watcher) Run(ctx context.Context, onReload func(*Config)) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			cfg, err := Load()
			if err != nil {
				w.logger.Warn("failed to reload engine configuration", zap.Error(err))
				continue
			}
			onReload(cfg)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", zap.Error(err))
		}
	}
}

// Close stops the underlying filesystem watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
