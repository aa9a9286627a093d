package sinks

import (
	"context"
	"sync"

	"github.com/mechdocs/harvester/internal/progress"
)

// MemorySink keeps the most recent events in a bounded ring so the API can
// serve a live log display without a durable store.
type MemorySink struct {
	mu     sync.Mutex
	buf    []progress.Event
	next   int
	filled bool
}

// NewMemorySink builds a sink retaining up to capacity events.
func NewMemorySink(capacity int) *MemorySink {
	if capacity <= 0 {
		capacity = 500
	}
	return &MemorySink{buf: make([]progress.Event, capacity)}
}

// Consume appends the batch, overwriting the oldest events when full.
func (s *MemorySink) Consume(_ context.Context, batch []progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, evt := range batch {
		s.buf[s.next] = evt
		s.next++
		if s.next == len(s.buf) {
			s.next = 0
			s.filled = true
		}
	}
	return nil
}

// Recent returns the retained events in emission order.
func (s *MemorySink) Recent() []progress.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.filled {
		out := make([]progress.Event, s.next)
		copy(out, s.buf[:s.next])
		return out
	}
	out := make([]progress.Event, 0, len(s.buf))
	out = append(out, s.buf[s.next:]...)
	out = append(out, s.buf[:s.next]...)
	return out
}

// Close implements the Sink interface; it performs no action.
func (s *MemorySink) Close(context.Context) error {
	return nil
}
