package watcher

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"snapwatch/internal/event"
	"snapwatch/internal/logging"
	"snapwatch/internal/metrics"

	"github.com/fsnotify/fsnotify"
)

const (
	defaultDebounce   = 100 * time.Millisecond
	defaultMaxWatches = 4096
)

var (
	ErrRootRequired       = errors.New("watcher: root directory required")
	ErrCallbackRequired   = errors.New("watcher: change callback required")
	ErrMaxWatchesExceeded = errors.New("watcher: max watches exceeded")
)

// TreeWatcher watches one directory tree and reports changes through a
// single callback. Directories created under the root are picked up and
// watched automatically.
type TreeWatcher struct {
	watcher   *fsnotify.Watcher
	root      string
	onChange  func(Event)
	coalescer *coalescer
	bus       *event.Bus[Event]
	logger    *logging.Logger
	registry  *metrics.Registry

	maxWatches int
	mutex      sync.Mutex
	watched    map[string]struct{}
	closed     bool
	done       chan struct{}

	eventsDelivered uint64
	eventsCoalesced uint64
	errorCount      uint64
}

func New(options Options) (*TreeWatcher, error) {
	if options.Root == "" {
		return nil, ErrRootRequired
	}
	if options.OnChange == nil {
		return nil, ErrCallbackRequired
	}
	info, err := os.Stat(options.Root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, errors.New("watcher: root is not a directory")
	}

	source, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	debounce := options.Debounce
	if debounce == 0 {
		debounce = defaultDebounce
	}
	maxWatches := options.MaxWatches
	if maxWatches <= 0 {
		maxWatches = defaultMaxWatches
	}
	registry := options.Registry
	if registry == nil {
		registry = metrics.Default
	}

	instance := &TreeWatcher{
		watcher:    source,
		root:       options.Root,
		onChange:   options.OnChange,
		bus:        options.Bus,
		logger:     options.Logger,
		registry:   registry,
		maxWatches: maxWatches,
		watched:    make(map[string]struct{}),
		done:       make(chan struct{}),
	}
	if debounce > 0 {
		instance.coalescer = newCoalescer(debounce)
	}

	if err := instance.addTree(options.Root); err != nil {
		_ = source.Close()
		return nil, err
	}

	go instance.run()
	return instance, nil
}

// Close shuts down the watcher and stops event delivery.
func (w *TreeWatcher) Close() error {
	if w == nil {
		return nil
	}
	w.mutex.Lock()
	if w.closed {
		w.mutex.Unlock()
		return nil
	}
	w.closed = true
	w.mutex.Unlock()

	w.coalescer.stop()
	close(w.done)
	return w.watcher.Close()
}

// Metrics reports current watcher stats.
func (w *TreeWatcher) Metrics() Metrics {
	if w == nil {
		return Metrics{}
	}
	w.mutex.Lock()
	active := len(w.watched)
	w.mutex.Unlock()
	return Metrics{
		ActiveWatches:   active,
		EventsDelivered: atomic.LoadUint64(&w.eventsDelivered),
		EventsCoalesced: atomic.LoadUint64(&w.eventsCoalesced),
		Errors:          atomic.LoadUint64(&w.errorCount),
	}
}

func (w *TreeWatcher) run() {
	for {
		select {
		case entry, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(entry)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.handleError(err)
		case <-w.done:
			return
		}
	}
}

func (w *TreeWatcher) handleEvent(entry fsnotify.Event) {
	w.mutex.Lock()
	if w.closed {
		w.mutex.Unlock()
		return
	}
	w.mutex.Unlock()

	if entry.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(entry.Name); err == nil && info.IsDir() {
			if err := w.addTree(entry.Name); err != nil {
				w.logWarn("failed to watch new directory", map[string]string{
					"path":  entry.Name,
					"error": err.Error(),
				})
			}
		}
	}

	change := Event{
		Path:      entry.Name,
		Op:        entry.Op,
		Operation: entry.Op.String(),
		Timestamp: time.Now().UTC(),
	}
	if w.coalescer == nil {
		w.deliver(change)
		return
	}
	if w.coalescer.schedule(change, w.deliver) {
		atomic.AddUint64(&w.eventsCoalesced, 1)
	}
}

func (w *TreeWatcher) deliver(change Event) {
	w.mutex.Lock()
	if w.closed {
		w.mutex.Unlock()
		return
	}
	w.mutex.Unlock()

	atomic.AddUint64(&w.eventsDelivered, 1)
	w.onChange(change)
	if w.bus != nil {
		w.bus.Publish(change)
	}
}

func (w *TreeWatcher) handleError(err error) {
	atomic.AddUint64(&w.errorCount, 1)
	w.registry.IncWatcherError()
	w.logWarn("watch error", map[string]string{
		"error": err.Error(),
	})
}

// addTree registers root and every directory below it.
func (w *TreeWatcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !entry.IsDir() {
			return nil
		}
		return w.addDir(path)
	})
}

func (w *TreeWatcher) addDir(path string) error {
	w.mutex.Lock()
	if w.closed {
		w.mutex.Unlock()
		return nil
	}
	if _, ok := w.watched[path]; ok {
		w.mutex.Unlock()
		return nil
	}
	if len(w.watched) >= w.maxWatches {
		w.mutex.Unlock()
		return ErrMaxWatchesExceeded
	}
	w.watched[path] = struct{}{}
	active := len(w.watched)
	w.mutex.Unlock()

	if err := w.watcher.Add(path); err != nil {
		w.mutex.Lock()
		delete(w.watched, path)
		w.mutex.Unlock()
		return err
	}
	if w.logger != nil {
		w.logger.Debug("watch added", map[string]string{
			"path":           path,
			"active_watches": strconv.Itoa(active),
		})
	}
	return nil
}

func (w *TreeWatcher) logWarn(message string, fields map[string]string) {
	if w == nil || w.logger == nil {
		return
	}
	w.logger.Warn(message, fields)
}
