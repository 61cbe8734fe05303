// Package watch invalidates cached images when their files change on disk.
package watch

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"

	"github.com/lumaview/lumaview/internal/browser"
	lerrors "github.com/lumaview/lumaview/pkg/errors"
	"github.com/lumaview/lumaview/pkg/utils"
)

// Invalidator drops a cached entry. *cache.Store implements it.
type Invalidator interface {
	Remove(key string) bool
}

const invalidatingOps = fsnotify.Write | fsnotify.Remove | fsnotify.Rename | fsnotify.Create

// Watcher removes an image from the cache whenever its file is written,
// replaced, renamed or deleted.
type Watcher struct {
	target  Invalidator
	watcher *fsnotify.Watcher
	logger  *utils.StructuredLogger

	closeOnce     sync.Once
	invalidations atomic.Uint64
}

// NewWatcher creates a watcher that invalidates entries in target.
func NewWatcher(target Invalidator, logger *utils.StructuredLogger) (*Watcher, error) {
	if target == nil {
		return nil, lerrors.NewError(lerrors.ErrCodeInvalidConfig, "watcher requires an invalidation target").WithComponent("watch")
	}
	if logger == nil {
		logger = utils.NewDefaultLogger()
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, lerrors.Wrap(err, lerrors.ErrCodeOperationFailed, "failed to create file watcher").WithComponent("watch")
	}

	return &Watcher{
		target:  target,
		watcher: fw,
		logger:  logger.WithComponent("watch"),
	}, nil
}

// Add watches a directory. Subdirectories are not followed.
func (w *Watcher) Add(dir string) error {
	if err := w.watcher.Add(dir); err != nil {
		return lerrors.Wrap(err, lerrors.ErrCodeOperationFailed, "failed to watch directory").
			WithComponent("watch").
			WithOperation("add").
			WithContext("dir", dir)
	}
	w.logger.Debug("Watching directory", map[string]interface{}{"dir": dir})
	return nil
}

// Run handles events until ctx is done or the watcher is closed. Watcher
// errors are logged and do not stop the loop.
func (w *Watcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.handle(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("File watcher error", map[string]interface{}{"error": err.Error()})
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) bool {
	if event.Op&invalidatingOps == 0 || !browser.IsImage(event.Name) {
		return false
	}

	path := filepath.Clean(event.Name)
	if !w.target.Remove(path) {
		return false
	}

	w.invalidations.Add(1)
	w.logger.Debug("Invalidated cached image", map[string]interface{}{
		"path": path,
		"op":   event.Op.String(),
	})
	return true
}

// Invalidations is the number of entries removed so far.
func (w *Watcher) Invalidations() uint64 {
	return w.invalidations.Load()
}

// Close stops watching. Run returns once the event channels close.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		err = w.watcher.Close()
	})
	return err
}
