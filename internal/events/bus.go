// Package events carries firing lifecycle events from the runner side to
// in-process subscribers (stats, logs, metrics), plus the jobs-changed
// notifier that wakes the scheduler loop.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/ragline/ingestd/internal/domain/model"
)

// Type classifies a lifecycle event.
type Type string

const (
	// TypeExecuted marks a firing whose child exited 0.
	TypeExecuted Type = "executed"
	// TypeFailed marks a firing that ran and failed (non-zero exit,
	// timeout, or spawn failure).
	TypeFailed Type = "failed"
	// TypeMissed marks a firing that was never dispatched.
	TypeMissed Type = "missed"
)

// Event is one firing lifecycle notification.
type Event struct {
	Type    Type
	JobID   string
	FiredAt time.Time
	At      time.Time
	Outcome model.Outcome
	Message string
}

// DefaultSubscriberBuffer is the per-subscriber channel capacity.
const DefaultSubscriberBuffer = 256

// Bus fans events out to subscribers. Publish never blocks: when a
// subscriber's buffer is full the oldest event is dropped and counted.
type Bus struct {
	buffer  int
	dropped atomic.Uint64

	mu     sync.Mutex
	subs   map[chan Event]string
	closed bool
}

// BusOptions configures Bus construction.
type BusOptions struct {
	// Buffer overrides DefaultSubscriberBuffer when positive.
	Buffer int
}

// NewBus constructs a Bus with sane defaults.
func NewBus(opts BusOptions) *Bus {
	buffer := opts.Buffer
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	return &Bus{
		buffer: buffer,
		subs:   make(map[chan Event]string),
	}
}

// Subscribe registers a named subscriber and returns its channel plus an
// unsubscribe func. The name only labels the subscriber in logs.
func (b *Bus) Subscribe(name string) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.buffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	b.subs[ch] = name

	unsub := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[ch]; !ok {
			return
		}
		delete(b.subs, ch)
		drainAndCloseEvents(ch)
	}
	return ch, unsub
}

// Publish delivers ev to every subscriber without blocking. A full
// subscriber loses its oldest buffered event first.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	for ch := range b.subs {
		select {
		case ch <- ev:
			continue
		default:
		}
		select {
		case <-ch:
			b.dropped.Add(1)
		default:
		}
		select {
		case ch <- ev:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped returns how many events overflowed subscriber buffers.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Close unsubscribes everyone. Publish becomes a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for ch := range b.subs {
		drainAndCloseEvents(ch)
		delete(b.subs, ch)
	}
}

// drainAndCloseEvents removes buffered events before closing so receivers
// observe a closed channel immediately.
func drainAndCloseEvents(ch chan Event) {
	for {
		select {
		case <-ch:
		default:
			close(ch)
			return
		}
	}
}
