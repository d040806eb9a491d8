package monitor

import (
	"path/filepath"
	"sync"
	"time"

	"driftwatch/internal/config"
	"driftwatch/internal/logging"

	"github.com/fsnotify/fsnotify"
)

// ConfigReloader watches the config file and applies validated changes
// while the monitor runs. Invalid edits are logged and ignored; the
// running settings stay as they were.
type ConfigReloader struct {
	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	path     string
	apply    func(*config.Config)
	debounce time.Duration
	// pending holds the time of the newest save event; zero when no
	// reload is queued. The reload fires only after the file has been
	// quiet for a full debounce window, so the last write in a burst
	// of editor saves always applies.
	pending time.Time

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewConfigReloader creates a reloader for the given config path.
// Watches the parent directory, since editors typically replace the
// file rather than write in place.
func NewConfigReloader(path string, apply func(*config.Config)) (*ConfigReloader, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, err
	}

	return &ConfigReloader{
		watcher:  watcher,
		path:     path,
		apply:    apply,
		debounce: 500 * time.Millisecond,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start begins watching. Non-blocking.
func (r *ConfigReloader) Start() {
	go r.loop()
}

// Close stops watching and releases the watcher.
func (r *ConfigReloader) Close() {
	close(r.stopCh)
	<-r.doneCh
}

func (r *ConfigReloader) loop() {
	defer close(r.doneCh)
	defer r.watcher.Close()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(r.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			r.mu.Lock()
			r.pending = time.Now()
			r.mu.Unlock()
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			logging.Get(logging.CategoryMonitor).Warn("Config watcher error: %v", err)
		case <-ticker.C:
			r.processPending()
		}
	}
}

// processPending reloads once the pending save has aged past the
// debounce window.
func (r *ConfigReloader) processPending() {
	r.mu.Lock()
	if r.pending.IsZero() || time.Since(r.pending) < r.debounce {
		r.mu.Unlock()
		return
	}
	r.pending = time.Time{}
	r.mu.Unlock()

	cfg, err := config.Load(r.path)
	if err != nil {
		logging.Get(logging.CategoryMonitor).Warn("Ignoring invalid config change: %v", err)
		return
	}
	logging.MonitorDebug("Config change detected at %s", r.path)
	r.apply(cfg)
}
