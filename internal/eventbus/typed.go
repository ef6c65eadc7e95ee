package eventbus

import "sync"

// TypedBus narrows the bus to a single event type. The geofence stream uses
// it so the state machine consumes zone crossings without type switches;
// delivery semantics match Bus (buffered, non-blocking, lossy when behind).
type TypedBus[T any] struct {
	mu        sync.RWMutex
	receivers []chan T
	closed    bool
}

// NewTyped returns an empty bus for events of type T.
func NewTyped[T any]() *TypedBus[T] { return &TypedBus[T]{} }

// Publish delivers e to every live subscriber, skipping those whose buffer
// is full. Publishing on a closed bus is a no-op.
func (b *TypedBus[T]) Publish(e T) {
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
func (b *TypedBus[T]) Subscribe() <-chan T {
	r := make(chan T, subscriberBuffer)
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
func (b *TypedBus[T]) Unsubscribe(sub <-chan T) {
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

// Close closes every subscriber channel. Later publishes are dropped.
func (b *TypedBus[T]) Close() {
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
