package transport

import (
	"context"
	"testing"
	"time"

	"github.com/mouadino/lymph/channel"
)

// echoDispatcher answers every "echo.upper" request by upper-casing the
// body; anything else is reported unhandled.
type echoDispatcher struct{}

func (echoDispatcher) HandleRequest(ctx context.Context, serviceName, method string, reply *channel.ReplyChannel) bool {
	if serviceName != "echo" || method != "upper" {
		return false
	}
	body := reply.Request().Body
	out := make([]byte, len(body))
	for i, b := range body {
		if b >= 'a' && b <= 'z' {
			b -= 'a' - 'A'
		}
		out[i] = b
	}
	reply.Reply(out)
	return true
}

func newTestTransport(t *testing.T) *Transport {
	t.Helper()
	tr := New(Options{
		HeartbeatInterval: 20 * time.Millisecond,
		ConnTimeout:       200 * time.Millisecond,
	})
	if err := tr.Start(); err != nil {
		t.Fatalf("failed to start transport: %v", err)
	}
	t.Cleanup(tr.Stop)
	return tr
}

func TestSendRequestRoundTrip(t *testing.T) {
	server := newTestTransport(t)
	server.SetDispatcher(echoDispatcher{})

	client := newTestTransport(t)

	rc, err := client.SendRequest(context.Background(), server.Endpoint(), "echo.upper", []byte("hello"), nil)
	if err != nil {
		t.Fatalf("SendRequest failed: %v", err)
	}

	reply, err := rc.Get(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("unexpected error waiting for reply: %v", err)
	}
	if string(reply.Body) != "HELLO" {
		t.Fatalf("expected HELLO, got %q", reply.Body)
	}
}

func TestSendRequestUnknownServiceTimesOut(t *testing.T) {
	server := newTestTransport(t)
	server.SetDispatcher(echoDispatcher{})

	client := newTestTransport(t)

	rc, err := client.SendRequest(context.Background(), server.Endpoint(), "bogus.method", nil, nil)
	if err != nil {
		t.Fatalf("SendRequest failed: %v", err)
	}
	if _, err := rc.Get(context.Background(), 100*time.Millisecond); err == nil {
		t.Fatal("expected timeout for unhandled subject")
	}
}

func TestSendWhenStoppedIsNoop(t *testing.T) {
	tr := New(Options{})
	// Never started: Send must log and return without panicking.
	tr.Send("tcp://127.0.0.1:1", nil)
}
