package container

import (
	"context"
	"testing"
	"time"

	"github.com/mouadino/lymph/events"
	"github.com/mouadino/lymph/interfaces"
	"github.com/mouadino/lymph/registry"
	"github.com/mouadino/lymph/service"
	"github.com/mouadino/lymph/transport"
)

// newTestContainer builds a container with a short heartbeat interval (so
// Connection liveness settles fast enough for tests) and the default
// "lymph" interface installed, since every peer needs to answer lymph.ping
// for the other side's heartbeat to ever report it alive.
func newTestContainer(t *testing.T, reg registry.Registry) *Container {
	t.Helper()
	tr := transport.New(transport.Options{
		HeartbeatInterval: 20 * time.Millisecond,
		ConnTimeout:       200 * time.Millisecond,
	})
	c := New(tr, reg, events.NewBus(), Options{
		ServiceOptions: service.Options{
			MaxConnectAttempts: 10,
			ConnectRetryDelay:  30 * time.Millisecond,
		},
	})
	c.Install(interfaces.NewDefault(c.Metrics))
	t.Cleanup(func() { c.Stop(context.Background()) })
	return c
}

func TestContainerDispatchesToInstalledInterface(t *testing.T) {
	server := newTestContainer(t, registry.NewMemoryRegistry())
	server.Install(interfaces.NewEcho())
	if err := server.Start(context.Background()); err != nil {
		t.Fatalf("server start: %v", err)
	}

	client := newTestContainer(t, registry.NewMemoryRegistry())
	if err := client.Start(context.Background()); err != nil {
		t.Fatalf("client start: %v", err)
	}

	reply, err := client.Call(context.Background(), server.Endpoint(), "echo.upper", []byte("hi"), time.Second)
	if err != nil {
		t.Fatalf("call failed: %v", err)
	}
	if string(reply.Body) != "HI" {
		t.Fatalf("expected HI, got %q", reply.Body)
	}
}

func TestContainerLookupResolvesLogicalServiceName(t *testing.T) {
	reg := registry.NewMemoryRegistry()

	server := newTestContainer(t, reg)
	server.Install(interfaces.NewEcho())
	if err := server.Start(context.Background()); err != nil {
		t.Fatalf("server start: %v", err)
	}

	client := newTestContainer(t, reg)
	if err := client.Start(context.Background()); err != nil {
		t.Fatalf("client start: %v", err)
	}

	reply, err := client.Call(context.Background(), "echo", "echo.upper", []byte("named"), time.Second)
	if err != nil {
		t.Fatalf("call by logical name failed: %v", err)
	}
	if string(reply.Body) != "NAMED" {
		t.Fatalf("expected NAMED, got %q", reply.Body)
	}
}

func TestContainerStopUnregistersInstalledInterfaces(t *testing.T) {
	reg := registry.NewMemoryRegistry()

	server := newTestContainer(t, reg)
	server.Install(interfaces.NewEcho())
	if err := server.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	instances, err := reg.List(context.Background(), "echo")
	if err != nil || len(instances) != 1 {
		t.Fatalf("expected one registered instance, got %v err=%v", instances, err)
	}

	server.Stop(context.Background())

	instances, err = reg.List(context.Background(), "echo")
	if err != nil || len(instances) != 0 {
		t.Fatalf("expected instance withdrawn after stop, got %v err=%v", instances, err)
	}
}

type failingRegistry struct {
	registry.Registry
}

func (failingRegistry) Register(ctx context.Context, name string, instance registry.Instance, ttl time.Duration) error {
	return errRegistrationFailed
}

func (failingRegistry) OnStart(ctx context.Context) error { return nil }
func (failingRegistry) OnStop(ctx context.Context) error  { return nil }

var errRegistrationFailed = registryError("simulated backend failure")

type registryError string

func (e registryError) Error() string { return string(e) }

func TestContainerStartStopsOnRegistrationFailure(t *testing.T) {
	tr := transport.New(transport.Options{})
	c := New(tr, failingRegistry{Registry: registry.NewMemoryRegistry()}, events.NewBus(), Options{})
	c.Install(interfaces.NewEcho())

	err := c.Start(context.Background())
	if err == nil {
		t.Fatal("expected Start to fail when registration fails")
	}

	// Start already called Stop internally; a direct Send on the now-closed
	// transport must be a no-op rather than panic.
	tr.Send(tr.Endpoint(), nil)
}
