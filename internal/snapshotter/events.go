package snapshotter

import "time"

const (
	EventTypeAttemptStarted   = "attempt_started"
	EventTypeAttemptSucceeded = "attempt_succeeded"
	EventTypeAttemptFailed    = "attempt_failed"
	EventTypeAttemptTimedOut  = "attempt_timed_out"
	EventTypeStaleDropped     = "stale_result_dropped"
)

// Event describes one step of an attempt's lifecycle. Events are an
// observability layer over the coordinator, not part of its contract:
// dropping every event changes nothing about snapshot behavior.
type Event struct {
	Type      string       `json:"type"`
	Name      SnapshotName `json:"-"`
	Snapshot  string       `json:"snapshot"`
	Node      string       `json:"node"`
	State     string       `json:"state"`
	Error     string       `json:"error,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

// Observer receives lifecycle events in dispatch order. It is called
// outside the coordinator's lock and may call back into the coordinator.
type Observer func(Event)
