// Bus is the in-process fan-out implementation of System. No pack
// dependency covers "external event broker" better than what the standard
// library already gives us for same-process delivery (see DESIGN.md), so
// this is the one ambient concern implemented without a third-party
// library: a mutex-protected subscriber map dispatching each Emit on its
// own goroutine per handler, matching the "at-least-once, unordered"
// contract in SPEC_FULL.md §4.6.
package events

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

type subscription struct {
	id         string
	eventTypes map[string]bool // empty set means "all types"
	handler    Handler
}

// Bus is an in-process, goroutine-safe event broker.
type Bus struct {
	mu        sync.RWMutex
	subs      map[string]*subscription
	nextID    atomic.Int64
}

// NewBus creates an empty in-process event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string]*subscription)}
}

// Emit dispatches evt to every subscriber interested in evt.Type, each on
// its own goroutine so one slow handler cannot block another.
func (b *Bus) Emit(ctx context.Context, evt *Event) error {
	b.mu.RLock()
	matched := make([]*subscription, 0)
	for _, s := range b.subs {
		if len(s.eventTypes) == 0 || s.eventTypes[evt.Type] {
			matched = append(matched, s)
		}
	}
	b.mu.RUnlock()

	for _, s := range matched {
		go func(s *subscription) {
			defer func() {
				if r := recover(); r != nil {
					log.Error().Interface("panic", r).Str("event_type", evt.Type).Msg("event handler panicked")
				}
			}()
			s.handler(ctx, evt)
		}(s)
	}
	return nil
}

// Subscribe registers handler for the given event types (all types if none
// given) and returns an id for later Unsubscribe.
func (b *Bus) Subscribe(handler Handler, eventTypes ...string) string {
	id := fmt.Sprintf("sub-%d", b.nextID.Add(1))
	types := make(map[string]bool, len(eventTypes))
	for _, t := range eventTypes {
		types[t] = true
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[id] = &subscription{id: id, eventTypes: types, handler: handler}
	return id
}

// Unsubscribe removes a previously registered handler; unknown ids are a
// no-op.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, id)
}

func (b *Bus) OnStart(ctx context.Context) error { return nil }
func (b *Bus) OnStop(ctx context.Context) error  { return nil }
