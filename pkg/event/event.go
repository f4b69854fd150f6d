// Package event carries the notifications emitted by state transitions.
package event

import "sync"

// Event is implemented by every notification type of the ledger, the records
// keeper, the bridge and the header chain.
type Event interface {
	Name() string
}

type Sink interface {
	Publish(e Event)
}

// Buffer collects events of a single call until the call's writes are
// committed. Events of a failed call are dropped with it.
type Buffer struct {
	mu     sync.Mutex
	events []Event
}

func (b *Buffer) Publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
}

// Drain returns the collected events and empties the buffer.
func (b *Buffer) Drain() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.events
	b.events = nil
	return out
}

// SinkFunc adapts a plain function to a Sink.
type SinkFunc func(e Event)

func (f SinkFunc) Publish(e Event) {
	f(e)
}

type discard struct{}

func (discard) Publish(Event) {}

// Discard drops every event.
var Discard Sink = discard{}
