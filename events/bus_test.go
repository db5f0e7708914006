package events

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestBusDeliversToMatchingSubscribers(t *testing.T) {
	bus := NewBus()
	var mu sync.Mutex
	received := []string{}

	bus.Subscribe(func(ctx context.Context, evt *Event) {
		mu.Lock()
		received = append(received, "interested:"+string(evt.Payload))
		mu.Unlock()
	}, "order.created")

	bus.Subscribe(func(ctx context.Context, evt *Event) {
		mu.Lock()
		received = append(received, "other:"+string(evt.Payload))
		mu.Unlock()
	}, "order.shipped")

	bus.Emit(context.Background(), &Event{Type: "order.created", Payload: []byte("42")})

	deadline := time.After(time.Second)
	for {
		mu.Lock()
		n := len(received)
		mu.Unlock()
		if n >= 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("expected a delivery, got none")
		case <-time.After(5 * time.Millisecond):
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 || received[0] != "interested:42" {
		t.Fatalf("expected exactly one matching delivery, got %v", received)
	}
}

func TestBusUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus()
	var mu sync.Mutex
	count := 0

	id := bus.Subscribe(func(ctx context.Context, evt *Event) {
		mu.Lock()
		count++
		mu.Unlock()
	}, "ping")

	bus.Unsubscribe(id)
	bus.Emit(context.Background(), &Event{Type: "ping"})

	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if count != 0 {
		t.Fatalf("expected no delivery after unsubscribe, got %d", count)
	}
}

func TestBusHandlerPanicDoesNotCrashEmit(t *testing.T) {
	bus := NewBus()
	bus.Subscribe(func(ctx context.Context, evt *Event) {
		panic("boom")
	}, "crashy")

	if err := bus.Emit(context.Background(), &Event{Type: "crashy"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
}
