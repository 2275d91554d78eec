// Package outbox watches a local drop directory for images to attach.
//
// Dropping a file named {itemID}.jpg (or .jpeg/.png) into the outbox
// queues an image attachment for that item. The daemon consumes the
// events, runs the upload pipeline, and removes the file once handed
// off.
package outbox

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// imageExtensions lists the accepted file extensions, lower case.
var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
}

// ImageEvent signals a dropped image ready to attach.
type ImageEvent struct {
	// Path is the absolute path of the dropped file.
	Path string

	// ItemID is the owning item's id, taken from the file name.
	ItemID string
}

// Watcher watches the outbox directory for dropped images.
// It uses fsnotify for cross-platform file system event monitoring.
type Watcher struct {
	watcher *fsnotify.Watcher
	events  chan ImageEvent
	errors  chan error
	done    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
	dir     string
}

// NewWatcher creates a new Watcher instance.
// The watcher must be started with Start() before it will emit events.
func NewWatcher() (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &Watcher{
		watcher: watcher,
		events:  make(chan ImageEvent, 100),
		errors:  make(chan error, 10),
		done:    make(chan struct{}),
	}, nil
}

// Start begins watching the outbox directory for dropped images.
func (w *Watcher) Start(dir string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("watcher already running")
	}

	w.dir = dir
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch outbox directory %s: %w", dir, err)
	}

	w.running = true
	w.wg.Add(1)
	go w.processEvents()

	return nil
}

// Stop stops watching and cleans up resources.
// It blocks until the event processing goroutine has exited.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	w.mu.Unlock()

	close(w.done)

	if err := w.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}

	w.wg.Wait()

	close(w.events)
	close(w.errors)

	return nil
}

// Events returns the channel that emits ImageEvent notifications.
// This channel is closed when the watcher is stopped.
func (w *Watcher) Events() <-chan ImageEvent {
	return w.events
}

// Errors returns the channel that emits error notifications.
// This channel is closed when the watcher is stopped.
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

// IsRunning returns true if the watcher is currently running.
func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// processEvents converts fsnotify events into ImageEvent notifications.
func (w *Watcher) processEvents() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			if imageEvent, ok := w.convertEvent(event); ok {
				select {
				case w.events <- imageEvent:
				case <-w.done:
					return
				}
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}

			select {
			case w.errors <- err:
			case <-w.done:
				return
			}
		}
	}
}

// convertEvent turns an fsnotify event into an ImageEvent.
// Returns (ImageEvent{}, false) for events that should be ignored:
// non-image files, removals, chmods.
func (w *Watcher) convertEvent(event fsnotify.Event) (ImageEvent, bool) {
	// A drop shows up as a create (move into place) or a write
	// (copy into place).
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return ImageEvent{}, false
	}

	ext := strings.ToLower(filepath.Ext(event.Name))
	if !imageExtensions[ext] {
		return ImageEvent{}, false
	}

	base := filepath.Base(event.Name)
	itemID := strings.TrimSuffix(base, filepath.Ext(base))
	if itemID == "" {
		return ImageEvent{}, false
	}

	return ImageEvent{
		Path:   event.Name,
		ItemID: itemID,
	}, true
}
