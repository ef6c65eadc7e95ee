package eventbus

import "testing"

func TestPublishFanOut(t *testing.T) {
	b := New()
	a := b.Subscribe()
	c := b.Subscribe()
	b.Publish("hello")

	if got := <-a; got != "hello" {
		t.Fatalf("sub a got %v", got)
	}
	if got := <-c; got != "hello" {
		t.Fatalf("sub c got %v", got)
	}
}

func TestPublishNonBlockingOnFullSubscriber(t *testing.T) {
	b := New()
	slow := b.Subscribe()
	for i := 0; i < 20; i++ {
		b.Publish(i)
	}
	// The slow subscriber only holds its buffer; Publish never blocked.
	if len(slow) != 8 {
		t.Fatalf("expected full buffer of 8, got %d", len(slow))
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New()
	ch := b.Subscribe()
	b.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Fatal("expected closed channel")
	}
	// Publishing after unsubscribe must not panic.
	b.Publish("x")
}

func TestCloseStopsBus(t *testing.T) {
	b := New()
	ch := b.Subscribe()
	b.Close()
	if _, ok := <-ch; ok {
		t.Fatal("expected closed channel")
	}
	b.Publish("dropped")
	if got := b.Subscribe(); got == nil {
		t.Fatal("subscribe after close must return a closed channel, not nil")
	} else if _, ok := <-got; ok {
		t.Fatal("expected closed channel after Close")
	}
	b.Close()
}

func TestTypedBus(t *testing.T) {
	type ping struct{ N int }
	b := NewTyped[ping]()
	ch := b.Subscribe()
	b.Publish(ping{N: 7})
	if got := <-ch; got.N != 7 {
		t.Fatalf("got %+v", got)
	}
	b.Unsubscribe(ch)
	b.Publish(ping{N: 8})
	b.Close()
}
