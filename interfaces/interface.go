// Package interfaces implements installed-interface dispatch: a typed
// handler table per interface, replacing the original runtime's dynamic
// attribute lookup (SPEC_FULL.md §9 design note: "dynamic interface
// registration → typed handler table... no runtime attribute lookup").
package interfaces

import (
	"context"
	"fmt"

	"github.com/mouadino/lymph/channel"
)

// HandlerFunc answers one inbound request on an interface's reply channel.
type HandlerFunc func(ctx context.Context, reply *channel.ReplyChannel)

// Interface is an installed service interface: a named set of methods the
// container dispatches "name.method" subjects into.
type Interface interface {
	Name() string
	HandleRequest(ctx context.Context, method string, reply *channel.ReplyChannel)
	OnStart(ctx context.Context) error
	OnStop(ctx context.Context) error
	Configure(config map[string]any) error
	RegisterWithCoordinator() bool
}

// Base is the typed handler table every Interface embeds: method name to
// HandlerFunc, populated at construction time via On, with no reflection
// involved in dispatch.
type Base struct {
	name                    string
	handlers                map[string]HandlerFunc
	registerWithCoordinator bool
}

// NewBase creates an interface named name. registerWithCoordinator governs
// whether the container advertises this interface to the registry on
// startup.
func NewBase(name string, registerWithCoordinator bool) *Base {
	return &Base{
		name:                    name,
		handlers:                make(map[string]HandlerFunc),
		registerWithCoordinator: registerWithCoordinator,
	}
}

// On registers fn as the handler for method.
func (b *Base) On(method string, fn HandlerFunc) {
	b.handlers[method] = fn
}

// Name returns the interface's installed name.
func (b *Base) Name() string {
	return b.name
}

// RegisterWithCoordinator reports whether the container should advertise
// this interface to the registry.
func (b *Base) RegisterWithCoordinator() bool {
	return b.registerWithCoordinator
}

// HandleRequest looks method up in the typed handler table and invokes it,
// or sends an ERR reply when the method is unknown.
func (b *Base) HandleRequest(ctx context.Context, method string, reply *channel.ReplyChannel) {
	fn, ok := b.handlers[method]
	if !ok {
		reply.Error([]byte(fmt.Sprintf("unknown method %q on interface %q", method, b.name)))
		return
	}
	fn(ctx, reply)
}

// OnStart, OnStop, Configure are no-ops by default; interfaces override
// whichever they need.
func (b *Base) OnStart(ctx context.Context) error          { return nil }
func (b *Base) OnStop(ctx context.Context) error           { return nil }
func (b *Base) Configure(config map[string]any) error { return nil }
