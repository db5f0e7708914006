package service

import (
	"context"
	"testing"
	"time"

	"github.com/mouadino/lymph/codec"
	"github.com/mouadino/lymph/conn"
	"github.com/mouadino/lymph/internal/rpcerr"
	"github.com/mouadino/lymph/message"
	"github.com/mouadino/lymph/registry"
)

// fakeWaiter/fakePinger let a test control whether a connection's
// heartbeat ever succeeds, without needing a real transport.
type fakeWaiter struct{ alive bool }

func (w *fakeWaiter) Get(ctx context.Context, timeout time.Duration) (*message.Message, error) {
	if w.alive {
		return &message.Message{Type: message.REP}, nil
	}
	return nil, rpcerr.ErrTimeout
}

type fakePinger struct{ alive bool }

func (p *fakePinger) Ping(ctx context.Context, endpoint string) (conn.Waiter, error) {
	return &fakeWaiter{alive: p.alive}, nil
}
func (p *fakePinger) Disconnect(endpoint string) {}

type fakeDialer struct {
	deadEndpoints map[string]bool
}

func (d *fakeDialer) Connect(endpoint string) (*conn.Connection, error) {
	alive := !d.deadEndpoints[endpoint]
	return conn.New(endpoint, &fakePinger{alive: alive}, 5*time.Millisecond, 30*time.Millisecond), nil
}

func (d *fakeDialer) NegotiateCodec(endpoint string, supported []string) (codec.CodecType, error) {
	ct, ok := codec.Negotiate(codec.DefaultContentTypes, codec.ParseContentTypes(supported))
	if !ok {
		return 0, rpcerr.New(rpcerr.UnsupportedSerialization, "no common content type with %s", endpoint)
	}
	return ct, nil
}

func TestServiceConnectPicksOnlyAliveInstance(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	ctx := context.Background()

	reg.Register(ctx, "echo", registry.Instance{Endpoint: "tcp://alive"}, time.Minute)
	reg.Register(ctx, "echo", registry.Instance{Endpoint: "tcp://dead"}, time.Minute)

	dialer := &fakeDialer{deadEndpoints: map[string]bool{"tcp://dead": true}}
	svc, err := New(ctx, reg, dialer, "echo", Options{MaxConnectAttempts: 3, ConnectRetryDelay: 10 * time.Millisecond})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}

	deadline := time.After(time.Second)
	for {
		inst, connection, err := svc.Connect(ctx)
		if err == nil {
			if inst.Endpoint != "tcp://alive" || connection != inst.Connection {
				t.Fatalf("expected the alive instance, got %+v", inst)
			}
			return
		}
		select {
		case <-deadline:
			t.Fatalf("never found an alive instance: %v", err)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestServiceConnectFailsWithNoInstances(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	ctx := context.Background()
	dialer := &fakeDialer{}

	svc, err := New(ctx, reg, dialer, "ghost", Options{MaxConnectAttempts: 2, ConnectRetryDelay: time.Millisecond})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}

	_, _, err = svc.Connect(ctx)
	if !rpcerr.Of(err, rpcerr.NotConnected) {
		t.Fatalf("expected NotConnected, got %v", err)
	}
}

func TestServiceRemoveClosesConnection(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	ctx := context.Background()
	dialer := &fakeDialer{}

	reg.Register(ctx, "echo", registry.Instance{Endpoint: "tcp://a"}, time.Minute)
	svc, err := New(ctx, reg, dialer, "echo", Options{})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}

	instances := svc.Instances()
	if len(instances) != 1 {
		t.Fatalf("expected 1 instance, got %d", len(instances))
	}
	c := instances[0].Connection

	reg.Unregister(ctx, "echo", "tcp://a")
	time.Sleep(20 * time.Millisecond)

	if c.Status() != conn.Closed {
		t.Fatalf("expected connection to be closed on removal, got %v", c.Status())
	}
	if len(svc.Instances()) != 0 {
		t.Fatalf("expected instance to be pruned, got %d", len(svc.Instances()))
	}
}
