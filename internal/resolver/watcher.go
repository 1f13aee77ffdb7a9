package resolver

import (
	"fmt"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// RecordingWatcher watches the recording directory and emits the path
// of every audio file the recorder app finishes writing. It uses
// fsnotify for cross-platform file system event monitoring.
type RecordingWatcher struct {
	watcher *fsnotify.Watcher
	files   chan string
	errors  chan error
	done    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewRecordingWatcher creates a new RecordingWatcher instance.
// The watcher must be started with Start() before it will emit files.
func NewRecordingWatcher() (*RecordingWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &RecordingWatcher{
		watcher: watcher,
		files:   make(chan string, 100),
		errors:  make(chan error, 10),
		done:    make(chan struct{}),
	}, nil
}

// Start begins watching the recording directory for new audio files.
func (rw *RecordingWatcher) Start(dir string) error {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	if rw.running {
		return fmt.Errorf("watcher already running")
	}

	if err := rw.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch recording directory %s: %w", dir, err)
	}

	rw.running = true
	rw.wg.Add(1)
	go rw.processEvents()

	return nil
}

// Stop stops watching and cleans up resources. It blocks until the
// event processing goroutine has exited.
func (rw *RecordingWatcher) Stop() error {
	rw.mu.Lock()
	if !rw.running {
		rw.mu.Unlock()
		return nil
	}
	rw.running = false
	rw.mu.Unlock()

	close(rw.done)

	if err := rw.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}

	rw.wg.Wait()

	close(rw.files)
	close(rw.errors)

	return nil
}

// Files returns the channel that emits finished recording paths.
// This channel is closed when the watcher is stopped.
func (rw *RecordingWatcher) Files() <-chan string {
	return rw.files
}

// Errors returns the channel that emits error notifications.
// This channel is closed when the watcher is stopped.
func (rw *RecordingWatcher) Errors() <-chan error {
	return rw.errors
}

// IsRunning returns true if the watcher is currently running.
func (rw *RecordingWatcher) IsRunning() bool {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	return rw.running
}

// processEvents is the main loop converting fsnotify events into
// recording paths. Recorder apps create the file at call start and keep
// appending until the call ends, so both Create and Write events are
// forwarded; the debounce on the consumer side collapses the burst.
func (rw *RecordingWatcher) processEvents() {
	defer rw.wg.Done()

	for {
		select {
		case <-rw.done:
			return

		case event, ok := <-rw.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if !IsAudioFile(event.Name) {
				continue
			}

			select {
			case rw.files <- event.Name:
			case <-rw.done:
				return
			}

		case err, ok := <-rw.watcher.Errors:
			if !ok {
				return
			}

			select {
			case rw.errors <- err:
			case <-rw.done:
				return
			}
		}
	}
}
