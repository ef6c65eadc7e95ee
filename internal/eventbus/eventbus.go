// Package eventbus carries domain events between loosely coupled parts of
// the service: mission lifecycle transitions, offer outcomes, geofence
// crossings and sync mutations all travel through it on their way to the
// metric sinks and the dispatch loops.
package eventbus

import "sync"

// Event is any domain event published on the bus. Consumers type-switch on
// the concrete payloads from core/events.
type Event interface{}

// subscriberBuffer is the per-subscriber channel capacity. A consumer that
// falls further behind loses events rather than stalling publishers.
const subscriberBuffer = 8

// EventBus is the contract handed to the domain services. The dispatch
// engine and the mission machine only ever see this interface.
type EventBus interface {
	Publish(Event)
	Subscribe() <-chan Event
	Unsubscribe(<-chan Event)
	Close()
}

// Bus fans events out to every subscriber. Publication never blocks: a slow
// consumer drops events once its buffer fills, which keeps the dispatch and
// tracking hot paths independent of sink speed.
type Bus struct {
	mu        sync.RWMutex
	receivers []chan Event
	closed    bool
}

// New returns an empty bus ready for subscribers.
func New() *Bus { return &Bus{} }

// Publish delivers e to every live subscriber, skipping those whose buffer
// is full. Publishing on a closed bus is a no-op.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, r := range b.receivers {
		select {
		case r <- e:
		default:
		}
	}
}

// Subscribe returns a buffered channel that receives future events. On a
// closed bus the returned channel is already closed.
func (b *Bus) Subscribe() <-chan Event {
	r := make(chan Event, subscriberBuffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(r)
		return r
	}
	b.receivers = append(b.receivers, r)
	return r
}

// Unsubscribe detaches sub and closes it. Channels the bus does not know
// are ignored.
func (b *Bus) Unsubscribe(sub <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, r := range b.receivers {
		if r == sub {
			b.receivers = append(b.receivers[:i], b.receivers[i+1:]...)
			if !b.closed {
				close(r)
			}
			return
		}
	}
}

// Close closes every subscriber channel. Later publishes are dropped and
// later subscribers get an already closed channel.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, r := range b.receivers {
		close(r)
	}
	b.receivers = nil
}
