// Package events implements the event system abstraction described in
// SPEC_FULL.md §4.6: emit/subscribe/unsubscribe delivering Events
// (type, payload, source, headers) to interested handlers across the
// fleet, at-least-once and unordered.
package events

import "context"

// Event is a fire-and-forget notification, distinct from the Message type
// used for request/reply RPC.
type Event struct {
	Type    string
	Payload []byte
	Source  string
	Headers map[string]string
}

// Header returns the value of the named header, or "" if absent.
func (e *Event) Header(name string) string {
	if e.Headers == nil {
		return ""
	}
	return e.Headers[name]
}

// Handler receives delivered Events. Handlers run on their own goroutine
// per delivery and must not block the broker indefinitely.
type Handler func(ctx context.Context, evt *Event)

// System is the pluggable event broker interface.
type System interface {
	// Emit delivers evt to every handler currently subscribed to evt.Type.
	// Delivery is best-effort and unordered across subscribers.
	Emit(ctx context.Context, evt *Event) error

	// Subscribe registers handler for one or more event types. Returns a
	// subscription id usable with Unsubscribe.
	Subscribe(handler Handler, eventTypes ...string) string

	// Unsubscribe removes a previously registered handler.
	Unsubscribe(id string)

	OnStart(ctx context.Context) error
	OnStop(ctx context.Context) error
}
