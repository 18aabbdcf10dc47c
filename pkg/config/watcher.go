package config

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/halcyonchat/sentinel/pkg/logging"
)

// reloadDebounce coalesces the write bursts editors produce when saving.
const reloadDebounce = 200 * time.Millisecond

// Watcher hot-reloads the config file and hands each successfully
// parsed revision to the registered callback. A revision that fails to
// load is logged and dropped; the previous config stays in effect.
type Watcher struct {
	path     string
	logger   *logging.Logger
	onChange func(*Config)

	fsw      *fsnotify.Watcher
	done     chan struct{}
	closeOne sync.Once
}

// NewWatcher starts watching path. The callback runs on the watcher's
// goroutine; keep it quick (swap pointers, poke SetGates, return).
func NewWatcher(path string, logger *logging.Logger, onChange func(*Config)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	// Watch the directory, not the file: editors commonly replace the
	// file on save, which drops a direct watch.
	dir := filepath.Dir(path)
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &Watcher{
		path:     path,
		logger:   logger,
		onChange: onChange,
		fsw:      fsw,
		done:     make(chan struct{}),
	}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
				timerC = timer.C
			} else {
				timer.Reset(reloadDebounce)
			}
		case <-timerC:
			w.reload()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logEvent(logging.LevelWarn, "watch_error", "config watch error", map[string]any{"error": err.Error()})
		case <-w.done:
			return
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logEvent(logging.LevelWarn, "reload_rejected", "config reload rejected, keeping previous", map[string]any{
			"path": w.path, "error": err.Error(),
		})
		return
	}
	w.logEvent(logging.LevelInfo, "reloaded", "config reloaded", map[string]any{"path": w.path})
	w.onChange(cfg)
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	var err error
	w.closeOne.Do(func() {
		close(w.done)
		err = w.fsw.Close()
	})
	return err
}

func (w *Watcher) logEvent(level logging.Level, eventType, message string, details map[string]any) {
	if w.logger == nil {
		return
	}
	_ = w.logger.Log(logging.Event{
		Level:     level,
		Category:  logging.CategoryConfig,
		EventType: eventType,
		Message:   message,
		Details:   details,
	})
}
