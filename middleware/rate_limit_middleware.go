package middleware

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/mouadino/lymph/channel"
)

// RateLimitMiddleware creates a rate limiter using the token bucket algorithm.
//
// Token bucket: tokens are added at rate r per second, up to a burst size.
// Each request consumes one token. If the bucket is empty, the request is
// rejected. Unlike a leaky bucket (constant drain rate), token bucket
// allows short bursts of traffic — more suitable for RPC workloads with
// bursty patterns.
//
// The limiter is created in the outer closure, once per middleware
// construction, and shared across every dispatched request.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, serviceName, method string, reply *channel.ReplyChannel) bool {
			if !limiter.Allow() {
				reply.Nack(false)
				return true
			}
			return next(ctx, serviceName, method, reply)
		}
	}
}
