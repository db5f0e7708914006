// Package trace propagates the opaque trace id that tags every message
// derived from a single user request. The original runtime kept this in a
// greenlet-local slot; a preemptive Go runtime has no such implicit thread
// identity, so the id travels explicitly through context.Context instead
// (see SPEC_FULL.md §9, "Thread-local trace id → explicit context").
package trace

import (
	"context"
	"crypto/rand"
	"encoding/hex"
)

type ctxKey struct{}

// NewID generates a fresh opaque trace id.
func NewID() string {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand failing means the platform's randomness source is
		// broken; there is nothing useful to do but produce a stable
		// placeholder rather than panic mid-request.
		return "00000000000000000000000000000000"
	}
	return hex.EncodeToString(buf[:])
}

// WithID returns a context carrying id as the current trace id.
func WithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// ID returns the trace id carried by ctx, or "" if none is set.
func ID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// EnsureID returns ctx unchanged if it already carries a trace id, otherwise
// returns a new context carrying a freshly generated one. Used at the
// ingress of every outbound request/reply/event per SPEC_FULL.md §4.7.
func EnsureID(ctx context.Context) (context.Context, string) {
	if id := ID(ctx); id != "" {
		return ctx, id
	}
	id := NewID()
	return WithID(ctx, id), id
}
