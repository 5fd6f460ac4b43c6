package watcher

import (
	"time"

	"snapwatch/internal/event"
	"snapwatch/internal/logging"
	"snapwatch/internal/metrics"

	"github.com/fsnotify/fsnotify"
)

// Event represents a single filesystem change on the watched tree.
type Event struct {
	Path      string      `json:"path"`
	Op        fsnotify.Op `json:"-"`
	Operation string      `json:"operation"`
	Timestamp time.Time   `json:"timestamp"`
}

// Options controls a TreeWatcher.
type Options struct {
	// Root is the directory tree to watch.
	Root string
	// OnChange is invoked after debouncing whenever the tree changed.
	OnChange func(Event)
	// Debounce collapses write storms into a single notification.
	// Zero uses the default; negative disables debouncing.
	Debounce time.Duration
	// MaxWatches caps the number of watched directories.
	MaxWatches int

	Logger   *logging.Logger
	Registry *metrics.Registry
	// Bus, when set, receives every delivered event for observers.
	Bus *event.Bus[Event]
}

// Metrics reports watcher counters.
type Metrics struct {
	ActiveWatches   int
	EventsDelivered uint64
	EventsCoalesced uint64
	Errors          uint64
}
