package interfaces

import (
	"context"
	"encoding/json"

	"github.com/mouadino/lymph/channel"
)

// MetricsFunc supplies the current container metrics snapshot for
// lymph.get_metrics.
type MetricsFunc func() any

// DefaultInterface answers the two reserved subjects every container
// supports regardless of which interfaces it installs: lymph.ping (pure
// liveness probe, also used by Connection's heartbeat loop) and
// lymph.get_metrics (SPEC_FULL.md §6).
type DefaultInterface struct {
	*Base
}

// NewDefault installs "lymph" with ping/get_metrics. It is never
// advertised to the registry — it exists for peers who already know this
// endpoint, not for discovery.
func NewDefault(metrics MetricsFunc) *DefaultInterface {
	d := &DefaultInterface{Base: NewBase("lymph", false)}
	d.On("ping", func(ctx context.Context, reply *channel.ReplyChannel) {
		reply.Reply(nil)
	})
	d.On("get_metrics", func(ctx context.Context, reply *channel.ReplyChannel) {
		var snapshot any
		if metrics != nil {
			snapshot = metrics()
		}
		body, err := json.Marshal(snapshot)
		if err != nil {
			reply.Error([]byte(err.Error()))
			return
		}
		reply.Reply(body)
	})
	return d
}
