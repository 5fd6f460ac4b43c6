package logging

import (
	"sync"

	"snapwatch/internal/buffer"
)

const DefaultBufferSize = 1000

// EntryBuffer retains the most recent log entries for the health and
// diagnostics surfaces.
type EntryBuffer struct {
	mu      sync.Mutex
	entries *buffer.Ring[Entry]
}

func NewEntryBuffer(size int) *EntryBuffer {
	return &EntryBuffer{
		entries: buffer.NewRing[Entry](size),
	}
}

func (b *EntryBuffer) Add(entry Entry) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.entries == nil {
		return
	}
	b.entries.Append(entry)
}

func (b *EntryBuffer) List() []Entry {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.entries.Items()
}
