package watcher

import (
	"sync"
	"time"
)

// coalescer holds the latest event for the tree while a quiet-period
// timer runs. Scheduling a second event before the timer fires replaces
// the held event and reports it as coalesced.
type coalescer struct {
	duration time.Duration
	mu       sync.Mutex
	pending  Event
	armed    bool
	timer    *time.Timer
}

func newCoalescer(duration time.Duration) *coalescer {
	return &coalescer{duration: duration}
}

func (c *coalescer) schedule(entry Event, flush func(Event)) bool {
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	coalesced := c.armed
	c.pending = entry
	if !c.armed {
		c.armed = true
		c.timer = time.AfterFunc(c.duration, func() {
			if entry, ok := c.pop(); ok {
				flush(entry)
			}
		})
	}
	return coalesced
}

func (c *coalescer) pop() (Event, bool) {
	if c == nil {
		return Event{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.armed {
		return Event{}, false
	}
	c.armed = false
	c.timer = nil
	return c.pending, true
}

func (c *coalescer) stop() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.armed = false
}
