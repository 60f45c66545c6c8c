// Package manifestwatch watches every plugin directory's manifest.json
// for modifications,
// debounces rapid successive writes, and notifies the Engine (package
// engine) so it can re-read the manifest and rebuild its function
// catalogue without killing the plugin.
package manifestwatch

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	rrerrors "github.com/roadrunner-server/errors"
)

// DefaultDebounce is the default debounce window for manifest rewrites.
const DefaultDebounce = 250 * time.Millisecond

// ChangeFunc is invoked, after debouncing settles, with the plugin name
// whose manifest changed.
type ChangeFunc func(pluginName string)

// Watcher watches a set of plugin directories for manifest.json changes.
type Watcher struct {
	fsw      *fsnotify.Watcher
	log      *zap.Logger
	debounce time.Duration
	onChange ChangeFunc

	mu     sync.Mutex
	timers map[string]*time.Timer
	byPath map[string]string // manifest.json absolute path -> plugin name

	done chan struct{}
}

// New creates a Watcher. Call Add for each plugin directory to watch,
// then Run to start processing events.
func New(debounce time.Duration, log *zap.Logger, onChange ChangeFunc) (*Watcher, error) {
	const op = rrerrors.Op("manifestwatch_new")

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, rrerrors.E(op, err)
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	return &Watcher{
		fsw:      fsw,
		log:      log,
		debounce: debounce,
		onChange: onChange,
		timers:   make(map[string]*time.Timer),
		byPath:   make(map[string]string),
		done:     make(chan struct{}),
	}, nil
}

// Add registers pluginDir's manifest.json for watching, keyed under
// pluginName. fsnotify watches the directory (not the file directly) so
// editor write-then-rename sequences are still observed.
func (w *Watcher) Add(pluginDir, pluginName string) error {
	const op = rrerrors.Op("manifestwatch_add")

	if err := w.fsw.Add(pluginDir); err != nil {
		return rrerrors.E(op, err)
	}

	w.mu.Lock()
	w.byPath[filepath.Join(pluginDir, "manifest.json")] = pluginName
	w.mu.Unlock()
	return nil
}

// Run processes filesystem events until Close is called. It should be
// started in its own goroutine.
func (w *Watcher) Run() {
	defer close(w.done)
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			if w.log != nil {
				w.log.Warn("manifest watcher error", zap.Error(err))
			}
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if filepath.Base(event.Name) != "manifest.json" {
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return
	}

	w.mu.Lock()
	pluginName, ok := w.byPath[event.Name]
	if !ok {
		w.mu.Unlock()
		return
	}
	if timer, exists := w.timers[event.Name]; exists {
		timer.Stop()
	}
	w.timers[event.Name] = time.AfterFunc(w.debounce, func() {
		if w.onChange != nil {
			w.onChange(pluginName)
		}
	})
	w.mu.Unlock()
}

// Close stops the underlying fsnotify watcher and waits for Run to
// return.
func (w *Watcher) Close() error {
	err := w.fsw.Close()
	<-w.done
	return err
}
