package snapshotter

import (
	"context"
	"errors"
	"sync"
	"time"

	"snapwatch/internal/logging"
	"snapwatch/internal/metrics"

	"github.com/benbjohnson/clock"
)

const (
	// DefaultAttemptDeadline bounds how long one attempt may stay
	// unresolved before it is canceled and treated as failed.
	DefaultAttemptDeadline = 10 * time.Second
	// DefaultMinAttemptInterval is the default throttle between attempt
	// starts. A zero MinAttemptInterval in Options disables the throttle.
	DefaultMinAttemptInterval = time.Second
)

var (
	ErrNodeRequired     = errors.New("snapshotter: node identity required")
	ErrProviderRequired = errors.New("snapshotter: provider required")

	errDeadlineExceeded = errors.New("snapshotter: attempt deadline exceeded")
)

// Options configures a Coordinator.
type Options struct {
	// Node is the stable identity recorded in every SnapshotName.
	Node string
	// Provider creates the storage snapshots.
	Provider Provider
	// Clock supplies time. Defaults to the real clock; tests inject
	// clock.NewMock().
	Clock clock.Clock
	// AttemptDeadline bounds each attempt. Defaults to DefaultAttemptDeadline.
	AttemptDeadline time.Duration
	// MinAttemptInterval throttles attempt starts. Zero disables it.
	MinAttemptInterval time.Duration

	Logger   *logging.Logger
	Registry *metrics.Registry
	Observer Observer
}

// Coordinator turns change notifications into a serialized sequence of
// snapshot attempts: at most one attempt in flight, bursts coalesced
// into a single follow-up, failures retried immediately, each attempt
// bounded by a deadline.
//
// Every input (change, provider resolution, deadline expiry, deferred
// start) funnels through the coordinator's mutex, so no two inputs are
// ever evaluated concurrently and the single-attempt invariant holds by
// construction.
type Coordinator struct {
	node        string
	provider    Provider
	clock       clock.Clock
	deadline    time.Duration
	minInterval time.Duration
	logger      *logging.Logger
	registry    *metrics.Registry
	observer    Observer

	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu    sync.Mutex
	state State
	// seq tags the current attempt; resolutions carrying another seq, or
	// arriving once active is false, are stale and discarded.
	seq    uint64
	active bool
	// current is the name of the in-flight attempt while active.
	current       SnapshotName
	startedAt     time.Time
	lastStartAt   time.Time
	deadlineTimer *clock.Timer
	cancelAttempt context.CancelFunc
	startTimer    *clock.Timer
	startDeferred bool
	closed        bool
	queued        []Event
}

func NewCoordinator(opts Options) (*Coordinator, error) {
	if opts.Node == "" {
		return nil, ErrNodeRequired
	}
	if opts.Provider == nil {
		return nil, ErrProviderRequired
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.AttemptDeadline <= 0 {
		opts.AttemptDeadline = DefaultAttemptDeadline
	}
	if opts.MinAttemptInterval < 0 {
		opts.MinAttemptInterval = 0
	}
	if opts.Registry == nil {
		opts.Registry = metrics.Default
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		node:        opts.Node,
		provider:    opts.Provider,
		clock:       opts.Clock,
		deadline:    opts.AttemptDeadline,
		minInterval: opts.MinAttemptInterval,
		logger:      opts.Logger,
		registry:    opts.Registry,
		observer:    opts.Observer,
		baseCtx:     ctx,
		baseCancel:  cancel,
		state:       StateIdle,
	}, nil
}

// NotifyChanged reports that the watched filesystem changed. It never
// fails and never blocks on snapshot work.
func (c *Coordinator) NotifyChanged() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.registry.IncChangeObserved()
	if c.state != StateIdle {
		c.registry.IncChangeCoalesced()
	}
	c.applyLocked(InputChanged)
	events := c.flushLocked()
	c.mu.Unlock()
	c.emit(events)
}

// State reports the coordinator's current logical state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Close stops timers and cancels any in-flight attempt. Inputs arriving
// after Close are ignored. Close exists for process shutdown only; the
// state machine itself has no terminal state.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.active = false
	if c.deadlineTimer != nil {
		c.deadlineTimer.Stop()
		c.deadlineTimer = nil
	}
	if c.startTimer != nil {
		c.startTimer.Stop()
		c.startTimer = nil
	}
	if c.cancelAttempt != nil {
		c.cancelAttempt()
		c.cancelAttempt = nil
	}
	c.mu.Unlock()
	c.baseCancel()
	return nil
}

// applyLocked runs one input through the transition table and performs
// the requested effect atomically with the state change.
func (c *Coordinator) applyLocked(input Input) {
	output, next, ok := transition(c.state, input)
	if !ok {
		c.registry.IncStaleDropped()
		c.logWarn("input discarded: not valid in current state", map[string]string{
			"input": input.String(),
			"state": c.state.String(),
		})
		return
	}
	c.state = next
	if output == OutputStartAttempt {
		c.startAttemptLocked()
	}
}

// startAttemptLocked begins an attempt now, or defers it until the
// minimum interval since the previous start has elapsed. Deferral does
// not change the logical state.
func (c *Coordinator) startAttemptLocked() {
	if c.closed {
		return
	}
	now := c.clock.Now()
	if c.minInterval > 0 && !c.lastStartAt.IsZero() {
		if wait := c.minInterval - now.Sub(c.lastStartAt); wait > 0 {
			if c.startDeferred {
				return
			}
			c.startDeferred = true
			c.startTimer = c.clock.AfterFunc(wait, c.deferredStartElapsed)
			c.logDebug("attempt deferred by throttle", map[string]string{
				"wait": wait.String(),
			})
			return
		}
	}
	c.beginAttemptLocked(now)
}

// deferredStartElapsed fires when the throttle interval has passed. The
// attempt starts now, so changes that arrived during the deferral are
// captured by it and the pending flag is cleared.
func (c *Coordinator) deferredStartElapsed() {
	c.mu.Lock()
	if c.closed || !c.startDeferred {
		c.mu.Unlock()
		return
	}
	c.startDeferred = false
	c.startTimer = nil
	c.state = StateAttempting
	c.beginAttemptLocked(c.clock.Now())
	events := c.flushLocked()
	c.mu.Unlock()
	c.emit(events)
}

func (c *Coordinator) beginAttemptLocked(now time.Time) {
	c.seq++
	seq := c.seq
	name := NewSnapshotName(now, seq, c.node)

	c.active = true
	c.current = name
	c.startedAt = now
	c.lastStartAt = now

	ctx, cancel := context.WithCancel(c.baseCtx)
	c.cancelAttempt = cancel
	c.deadlineTimer = c.clock.AfterFunc(c.deadline, func() {
		c.attemptTimedOut(seq)
	})

	c.registry.IncSnapshotStarted()
	c.queueLocked(EventTypeAttemptStarted, name, "")
	c.logDebug("snapshot attempt started", map[string]string{
		"snapshot": name.String(),
	})

	go func() {
		err := c.provider.Create(ctx, name)
		c.resolveAttempt(seq, name, err)
	}()
}

// resolveAttempt is the provider's continuation. Resolutions for a
// superseded attempt fall to the stale guard.
func (c *Coordinator) resolveAttempt(seq uint64, name SnapshotName, err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if !c.active || seq != c.seq {
		c.registry.IncStaleDropped()
		c.queueLocked(EventTypeStaleDropped, name, "")
		c.logDebug("stale snapshot result discarded", map[string]string{
			"snapshot": name.String(),
		})
		events := c.flushLocked()
		c.mu.Unlock()
		c.emit(events)
		return
	}

	c.settleAttemptLocked()
	c.registry.RecordSnapshot(c.clock.Now().Sub(c.startedAt), err)
	if err != nil {
		c.registry.IncRetry()
		c.queueLocked(EventTypeAttemptFailed, name, err.Error())
		c.logWarn("snapshot attempt failed, retrying", map[string]string{
			"snapshot": name.String(),
			"error":    err.Error(),
		})
		c.applyLocked(InputFailed)
	} else {
		c.queueLocked(EventTypeAttemptSucceeded, name, "")
		c.logDebug("snapshot attempt succeeded", map[string]string{
			"snapshot": name.String(),
		})
		c.applyLocked(InputSucceeded)
	}
	events := c.flushLocked()
	c.mu.Unlock()
	c.emit(events)
}

// attemptTimedOut fires when the deadline elapses before resolution:
// cancel the attempt's context and behave exactly as if the provider had
// reported failure. A later provider return is stale by then.
func (c *Coordinator) attemptTimedOut(seq uint64) {
	c.mu.Lock()
	if c.closed || !c.active || seq != c.seq {
		c.mu.Unlock()
		return
	}

	name := c.current
	c.settleAttemptLocked()
	c.registry.IncSnapshotTimedOut()
	c.registry.RecordSnapshot(c.clock.Now().Sub(c.startedAt), errDeadlineExceeded)
	c.registry.IncRetry()
	c.queueLocked(EventTypeAttemptTimedOut, name, errDeadlineExceeded.Error())
	c.logWarn("snapshot attempt timed out, retrying", map[string]string{
		"snapshot": name.String(),
		"deadline": c.deadline.String(),
	})
	c.applyLocked(InputFailed)
	events := c.flushLocked()
	c.mu.Unlock()
	c.emit(events)
}

// settleAttemptLocked marks the in-flight attempt as resolved and
// releases its deadline timer and context.
func (c *Coordinator) settleAttemptLocked() {
	c.active = false
	if c.deadlineTimer != nil {
		c.deadlineTimer.Stop()
		c.deadlineTimer = nil
	}
	if c.cancelAttempt != nil {
		c.cancelAttempt()
		c.cancelAttempt = nil
	}
}

func (c *Coordinator) queueLocked(eventType string, name SnapshotName, errText string) {
	if c.observer == nil {
		return
	}
	c.queued = append(c.queued, Event{
		Type:      eventType,
		Name:      name,
		Snapshot:  name.String(),
		Node:      c.node,
		State:     c.state.String(),
		Error:     errText,
		Timestamp: c.clock.Now().UTC(),
	})
}

func (c *Coordinator) flushLocked() []Event {
	events := c.queued
	c.queued = nil
	return events
}

// emit delivers queued events outside the lock so observers may call
// back into the coordinator.
func (c *Coordinator) emit(events []Event) {
	if c.observer == nil {
		return
	}
	for _, event := range events {
		c.observer(event)
	}
}

func (c *Coordinator) logDebug(message string, fields map[string]string) {
	if c.logger == nil {
		return
	}
	c.logger.Debug(message, fields)
}

func (c *Coordinator) logWarn(message string, fields map[string]string) {
	if c.logger == nil {
		return
	}
	c.logger.Warn(message, fields)
}
