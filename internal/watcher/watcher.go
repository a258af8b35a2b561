// Package watcher watches for the exit trigger file with debouncing.
package watcher

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/examalpha/examshell/internal/log"
)

// Watcher signals when the trigger file is created or written.
type Watcher struct {
	fsWatcher   *fsnotify.Watcher
	triggerPath string
	debounce    time.Duration
	onTrigger   chan struct{}
	done        chan struct{}
}

// Config holds watcher configuration options.
type Config struct {
	TriggerPath string
	DebounceDur time.Duration
}

// DefaultConfig returns the defaults for watching triggerPath.
func DefaultConfig(triggerPath string) Config {
	return Config{
		TriggerPath: triggerPath,
		DebounceDur: 250 * time.Millisecond,
	}
}

// New creates a trigger file watcher.
func New(cfg Config) (*Watcher, error) {
	if cfg.TriggerPath == "" {
		return nil, errors.New("trigger path is required")
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}

	return &Watcher{
		fsWatcher:   fsw,
		triggerPath: filepath.Clean(cfg.TriggerPath),
		debounce:    cfg.DebounceDur,
		onTrigger:   make(chan struct{}, 1),
		done:        make(chan struct{}),
	}, nil
}

// Start watches the trigger file's directory, creating it when missing.
// A trigger file that already exists is reported straight away.
func (w *Watcher) Start() (<-chan struct{}, error) {
	dir := filepath.Dir(w.triggerPath)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating directory %s: %w", dir, err)
	}
	if err := w.fsWatcher.Add(dir); err != nil {
		return nil, fmt.Errorf("watching directory %s: %w", dir, err)
	}

	if _, err := os.Stat(w.triggerPath); err == nil {
		w.notify()
	}

	go w.loop()

	return w.onTrigger, nil
}

// Stop terminates the watcher and releases resources.
func (w *Watcher) Stop() error {
	close(w.done)
	return w.fsWatcher.Close()
}

// Path returns the watched trigger file.
func (w *Watcher) Path() string {
	return w.triggerPath
}

func (w *Watcher) loop() {
	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if !w.isRelevantEvent(event) {
				continue
			}

			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			w.notify()

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			log.ErrorErr(log.CatWatcher, "fsnotify error", err, "path", w.triggerPath)

		case <-w.done:
			if timer != nil {
				timer.Stop()
			}
			return
		}
	}
}

// notify never blocks; a pending signal already covers this one.
func (w *Watcher) notify() {
	select {
	case w.onTrigger <- struct{}{}:
		log.Debug(log.CatWatcher, "trigger file seen", "path", w.triggerPath)
	default:
	}
}

func (w *Watcher) isRelevantEvent(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return false
	}
	return filepath.Clean(event.Name) == w.triggerPath
}
