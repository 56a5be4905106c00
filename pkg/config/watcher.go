package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/irctrakz/wildprobe/pkg/logging"
)

// DefaultDebounce is how long the watcher waits for writes to settle.
const DefaultDebounce = 500 * time.Millisecond

// Watcher reloads a config file when it changes. Editors often write a file
// in several steps, so reloads are debounced.
type Watcher struct {
	path     string
	onChange func(*Config)
	log      *logrus.Entry

	// Debounce may be changed before Start.
	Debounce time.Duration

	watcher  *fsnotify.Watcher
	mu       sync.Mutex
	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewWatcher creates a watcher for the config file at path. onChange is
// called with the reloaded, validated config.
func NewWatcher(path string, onChange func(*Config)) *Watcher {
	return &Watcher{
		path:     filepath.Clean(path),
		onChange: onChange,
		log:      logging.WithComponent("ConfigWatcher"),
		Debounce: DefaultDebounce,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start begins watching. The directory is watched rather than the file so
// that atomic replace-by-rename is seen.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.watcher = fsw

	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		fsw.Close()
		return err
	}

	go w.loop(ctx)
	w.log.Infof("Watching %s for changes", w.path)
	return nil
}

// Stop shuts down the watcher and waits for it to exit.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		if w.watcher != nil {
			w.watcher.Close()
			<-w.done
		}
	})
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)

	var debounceTimer *time.Timer
	stopTimer := func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				stopTimer()
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.log.Debugf("Config file changed: %s", event.Op)

			stopTimer()
			debounceTimer = time.AfterFunc(w.Debounce, w.reload)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				stopTimer()
				return
			}
			w.log.WithError(err).Warn("Config watcher error")

		case <-ctx.Done():
			stopTimer()
			return

		case <-w.stopCh:
			stopTimer()
			return
		}
	}
}

func (w *Watcher) reload() {
	w.mu.Lock()
	defer w.mu.Unlock()

	select {
	case <-w.stopCh:
		return
	default:
	}

	cfg, err := Load(w.path)
	if err != nil {
		w.log.WithError(err).Error("Config reload failed, keeping current settings")
		return
	}

	w.log.Info("Config reloaded")
	w.onChange(cfg)
}
