// Package notify reloads the retrieval tuning file when it changes on disk.
//
// The watcher observes the file's parent directory rather than the file
// itself so that editors which replace the file atomically (write a temporary
// name, then rename over the original) are still seen. A single save usually
// produces a burst of events, so reloads are debounced.
package notify

import (
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/greenfell/hearth/internal/config"
)

// defaultDebounce collapses the event burst of one file save into one reload.
const defaultDebounce = 250 * time.Millisecond

// ConfigWatcher reloads a retrieval YAML file whenever it changes and hands
// the parsed result to a callback. A file that fails to load or validate
// keeps the previously applied tuning.
type ConfigWatcher struct {
	path     string
	debounce time.Duration
	callback func(*config.RetrievalFile)
	watcher  *fsnotify.Watcher
	done     chan struct{}
}

// NewConfigWatcher creates a watcher for the retrieval file at path. The
// callback runs on the watcher goroutine after every successful reload.
func NewConfigWatcher(path string, callback func(*config.RetrievalFile)) *ConfigWatcher {
	return &ConfigWatcher{
		path:     path,
		debounce: defaultDebounce,
		callback: callback,
		done:     make(chan struct{}),
	}
}

// Start begins watching the file's directory. The directory must exist; the
// file itself may appear later.
func (cw *ConfigWatcher) Start() error {
	abs, err := filepath.Abs(cw.path)
	if err != nil {
		return fmt.Errorf("notify: failed to resolve %s: %w", cw.path, err)
	}
	cw.path = abs

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("notify: failed to create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("notify: failed to watch %s: %w", filepath.Dir(abs), err)
	}
	cw.watcher = watcher

	go cw.loop()
	log.Printf("notify: watching %s for retrieval tuning changes", cw.path)
	return nil
}

// Stop shuts down the watcher and waits for the loop to exit. Stopping a
// watcher that never started is a no-op.
func (cw *ConfigWatcher) Stop() {
	if cw.watcher == nil {
		return
	}
	_ = cw.watcher.Close()
	<-cw.done
}

func (cw *ConfigWatcher) loop() {
	defer close(cw.done)

	var pending *time.Timer
	defer func() {
		if pending != nil {
			pending.Stop()
		}
	}()
	reload := make(chan struct{}, 1)

	for {
		select {
		case evt, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(evt.Name) != filepath.Base(cw.path) {
				continue
			}
			if evt.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if pending == nil {
				pending = time.AfterFunc(cw.debounce, func() {
					select {
					case reload <- struct{}{}:
					default:
					}
				})
			} else {
				pending.Reset(cw.debounce)
			}

		case <-reload:
			cw.reload()

		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("notify: watcher error: %v", err)
		}
	}
}

func (cw *ConfigWatcher) reload() {
	file, err := config.LoadRetrievalFile(cw.path)
	if err != nil {
		log.Printf("notify: WARNING - reload of %s failed, keeping previous tuning: %v", cw.path, err)
		return
	}
	log.Printf("notify: reloaded retrieval tuning from %s", cw.path)
	if cw.callback != nil {
		cw.callback(file)
	}
}
