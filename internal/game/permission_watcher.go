package game

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// PermissionWatcher reloads a permissions file into a PermissionManager
// whenever it changes on disk. The parent directory is watched so editors
// that save through rename are picked up too.
type PermissionWatcher struct {
	mu          sync.Mutex
	watcher     *fsnotify.Watcher
	manager     *PermissionManager
	path        string
	logger      *zap.Logger
	debounceDur time.Duration
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool

	// OnReload is called after every successful reload (tests, metrics).
	OnReload func()
}

// NewPermissionWatcher creates a watcher for path.
func NewPermissionWatcher(path string, manager *PermissionManager, logger *zap.Logger) (*PermissionWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create permissions watcher: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		w.Close()
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}
	return &PermissionWatcher{
		watcher:     w,
		manager:     manager,
		path:        abs,
		logger:      logger,
		debounceDur: 200 * time.Millisecond,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// Start begins watching. Non-blocking.
func (pw *PermissionWatcher) Start(ctx context.Context) error {
	pw.mu.Lock()
	defer pw.mu.Unlock()
	if pw.running {
		return nil
	}

	// Not running until Add succeeds, so Stop never waits on a missing run.
	if err := pw.watcher.Add(filepath.Dir(pw.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(pw.path), err)
	}
	pw.running = true
	pw.logger.Info("watching permissions file", zap.String("path", pw.path))

	go pw.run(ctx)
	return nil
}

// Stop stops the watcher and waits for its goroutine.
func (pw *PermissionWatcher) Stop() {
	pw.mu.Lock()
	if !pw.running {
		pw.mu.Unlock()
		pw.watcher.Close()
		return
	}
	pw.running = false
	pw.mu.Unlock()

	close(pw.stopCh)
	<-pw.doneCh

	if err := pw.watcher.Close(); err != nil {
		pw.logger.Warn("closing permissions watcher", zap.Error(err))
	}
}

func (pw *PermissionWatcher) run(ctx context.Context) {
	defer close(pw.doneCh)

	var debounce <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case <-pw.stopCh:
			return

		case event, ok := <-pw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != pw.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			debounce = time.After(pw.debounceDur)

		case err, ok := <-pw.watcher.Errors:
			if !ok {
				return
			}
			pw.logger.Warn("permissions watcher error", zap.Error(err))

		case <-debounce:
			debounce = nil
			pw.reload()
		}
	}
}

func (pw *PermissionWatcher) reload() {
	f, err := LoadPermissionFile(pw.path)
	if err != nil {
		// Keep the previous rules; a half-written file is common.
		pw.logger.Warn("permissions reload failed", zap.Error(err))
		return
	}
	pw.manager.Replace(f)
	pw.logger.Info("permissions reloaded", zap.String("path", pw.path))
	if pw.OnReload != nil {
		pw.OnReload()
	}
}
