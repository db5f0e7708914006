package middleware

import (
	"context"
	"time"

	"github.com/mouadino/lymph/channel"
	"github.com/rs/zerolog/log"
)

// LoggingMiddleware records the service method and duration for each
// dispatched request, and whether it was recognized.
func LoggingMiddleware() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, serviceName, method string, reply *channel.ReplyChannel) bool {
			start := time.Now()

			handled := next(ctx, serviceName, method, reply)

			duration := time.Since(start)
			event := log.Debug()
			if !handled {
				event = log.Warn()
			}
			event.
				Str("service", serviceName).
				Str("method", method).
				Dur("duration", duration).
				Bool("handled", handled).
				Msg("dispatched request")
			return handled
		}
	}
}
