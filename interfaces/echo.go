package interfaces

import (
	"context"
	"strconv"
	"time"

	"github.com/mouadino/lymph/channel"
)

// EchoInterface is the reference installed interface used by the runtime's
// end-to-end scenarios: upper(text) round-trips an upper-cased body,
// sleep(ms) blocks the handler for the requested duration so callers can
// exercise client-side timeouts against a real in-flight request.
type EchoInterface struct {
	*Base
}

// NewEcho installs "echo" with upper and sleep, advertised to the registry
// so peers can discover it.
func NewEcho() *EchoInterface {
	e := &EchoInterface{Base: NewBase("echo", true)}
	e.On("upper", handleUpper)
	e.On("sleep", handleSleep)
	return e
}

func handleUpper(ctx context.Context, reply *channel.ReplyChannel) {
	body := reply.Request().Body
	out := make([]byte, len(body))
	for i, b := range body {
		if b >= 'a' && b <= 'z' {
			b -= 'a' - 'A'
		}
		out[i] = b
	}
	reply.Reply(out)
}

func handleSleep(ctx context.Context, reply *channel.ReplyChannel) {
	ms, err := strconv.Atoi(string(reply.Request().Body))
	if err != nil {
		reply.Error([]byte("sleep expects a millisecond count as its body"))
		return
	}

	select {
	case <-time.After(time.Duration(ms) * time.Millisecond):
		reply.Reply(nil)
	case <-ctx.Done():
		// Whoever invoked the handler canceled ctx before the sleep ended.
		// The transport dispatches with a context that is never canceled,
		// neither on shutdown nor on the remote caller's timeout, so a
		// request arriving over the wire always sleeps the full duration.
		reply.Nack(false)
	}
}
