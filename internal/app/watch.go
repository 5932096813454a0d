package app

import (
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ConfigWatcher watches a configuration file and triggers a callback when it
// is modified. The live session uses it to restart with edited settings.
type ConfigWatcher struct {
	mu            sync.Mutex
	path          string
	baseline      time.Time
	checkInterval time.Duration
	stopCh        chan struct{}
	onChange      func() // Called when a newer file is detected
}

// NewConfigWatcher creates a watcher for path. Returns nil if the file cannot
// be found.
func NewConfigWatcher(path string, checkInterval time.Duration) *ConfigWatcher {
	// Resolve symlinks so editors that replace the target are noticed
	if realPath, err := filepath.EvalSymlinks(path); err == nil {
		path = realPath
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil
	}

	return &ConfigWatcher{
		path:          path,
		baseline:      info.ModTime(),
		checkInterval: checkInterval,
		stopCh:        make(chan struct{}),
	}
}

// OnChange sets the callback to invoke when the file changes. The callback is
// called from a background goroutine.
func (w *ConfigWatcher) OnChange(callback func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onChange = callback
}

// Start begins watching in a background goroutine.
func (w *ConfigWatcher) Start() {
	// Create a fresh stop channel in case we're restarting
	w.stopCh = make(chan struct{})
	go w.watchLoop(w.stopCh)
}

// Stop stops the watcher goroutine.
func (w *ConfigWatcher) Stop() {
	close(w.stopCh)
}

func (w *ConfigWatcher) watchLoop(stop chan struct{}) {
	ticker := time.NewTicker(w.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if !w.checkForUpdate() {
				continue
			}
			w.ResetBaseline()
			w.mu.Lock()
			cb := w.onChange
			w.mu.Unlock()
			if cb != nil {
				cb()
			}
		}
	}
}

// checkForUpdate returns true if the file has been modified since the baseline.
func (w *ConfigWatcher) checkForUpdate() bool {
	info, err := os.Stat(w.path)
	if err != nil {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return info.ModTime().After(w.baseline)
}

// Path returns the watched file.
func (w *ConfigWatcher) Path() string {
	return w.path
}

// ResetBaseline updates the baseline timestamp to the file's current mod time.
func (w *ConfigWatcher) ResetBaseline() {
	if info, err := os.Stat(w.path); err == nil {
		w.mu.Lock()
		w.baseline = info.ModTime()
		w.mu.Unlock()
	}
}
