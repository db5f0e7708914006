// Package middleware implements the onion-model chain wrapping request
// dispatch: each middleware can add a cross-cutting concern (logging, rate
// limiting) around the container's installed-interface dispatch without
// the interfaces themselves knowing it's there.
//
// Onion model execution order:
//
//	Chain(A, B, C)(handler)  →  A(B(C(handler)))
//
//	Request:   A.before → B.before → C.before → handler
//	Response:  handler → C.after → B.after → A.after
package middleware

import (
	"context"

	"github.com/mouadino/lymph/channel"
)

// HandlerFunc is the dispatch signature every middleware wraps: resolve
// serviceName.method and answer on reply, reporting whether the service
// was recognized. Its HandleRequest method lets a HandlerFunc satisfy
// transport.Dispatcher directly, the way http.HandlerFunc satisfies
// http.Handler.
type HandlerFunc func(ctx context.Context, serviceName, method string, reply *channel.ReplyChannel) bool

// HandleRequest implements transport.Dispatcher.
func (f HandlerFunc) HandleRequest(ctx context.Context, serviceName, method string, reply *channel.ReplyChannel) bool {
	return f(ctx, serviceName, method, reply)
}

// Middleware takes a handler and returns a new handler that wraps it.
type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes multiple middlewares into a single middleware, built from
// right to left so the first middleware in the list is the outermost layer
// (executed first on request, last on response).
//
//	chain := Chain(Logging(), RateLimit(50, 100))
//	dispatcher := chain(container.HandleRequest)
//	// Execution: Logging -> RateLimit -> container -> RateLimit -> Logging
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
