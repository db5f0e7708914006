// Package registry defines the service discovery interface and the data
// types service discovery deals in: Instance (an endpoint advertised under
// a logical service name) and Event (an ADDED/REMOVED/UPDATED notification
// the Service observable consumes).
//
// Discovery here is deliberately thin: a Registry only knows about
// endpoints, not about liveness or connections. Liveness and connection
// caching are layered on top by the service package, which is what lets
// Registry stay swappable (etcd today, anything else tomorrow) without
// dragging the transport/conn packages along with it.
package registry

import (
	"context"
	"time"
)

// EventType is the kind of change a Registry reports as instances of a
// service come and go.
type EventType int

const (
	Added EventType = iota
	Removed
	Updated
)

func (t EventType) String() string {
	switch t {
	case Added:
		return "added"
	case Removed:
		return "removed"
	case Updated:
		return "updated"
	default:
		return "unknown"
	}
}

// Instance is one endpoint registered under a service name.
type Instance struct {
	Endpoint     string   // e.g. "tcp://10.0.0.5:9090"
	Identity     string   // MD5-hex of Endpoint
	Weight       int      // advertised weight, for weighted load balancing
	ContentTypes []string // priority-ordered serializer preference
}

// Event is a single discovery change for a named service.
type Event struct {
	Type     EventType
	Name     string
	Instance Instance
}

// Registry is the pluggable service discovery backend. Operations mirror
// the container's needs directly: advertise this process under a name,
// stop advertising it, and resolve other names to their current instances
// plus a feed of future changes.
type Registry interface {
	// Discover returns the set of service names currently known to the
	// registry.
	Discover(ctx context.Context) ([]string, error)

	// List returns the current snapshot of instances registered under
	// name.
	List(ctx context.Context, name string) ([]Instance, error)

	// Watch returns a channel of ADDED/REMOVED/UPDATED events for name.
	// The channel is closed when ctx is canceled. EtcdRegistry also closes
	// it when OnStop closes the client; MemoryRegistry's OnStop does not.
	Watch(ctx context.Context, name string) (<-chan Event, error)

	// Register advertises this process as an instance of name with the
	// given endpoint, renewed for ttl until Unregister or process exit.
	// Fails with rpcerr.RegistrationFailure on backend error.
	Register(ctx context.Context, name string, instance Instance, ttl time.Duration) error

	// Unregister withdraws a previously registered instance.
	Unregister(ctx context.Context, name, endpoint string) error

	// OnStart/OnStop bracket the registry's lifecycle within the
	// container's own start/stop sequence.
	OnStart(ctx context.Context) error
	OnStop(ctx context.Context) error
}
