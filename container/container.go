// Package container implements the Container described in SPEC_FULL.md
// §4.7: the object that owns a Transport, a Registry, an event System, and
// the set of installed interfaces, and wires them together in the exact
// startup/shutdown order and addressing rule the spec prescribes.
package container

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mouadino/lymph/channel"
	"github.com/mouadino/lymph/codec"
	"github.com/mouadino/lymph/events"
	"github.com/mouadino/lymph/interfaces"
	"github.com/mouadino/lymph/internal/trace"
	"github.com/mouadino/lymph/message"
	"github.com/mouadino/lymph/middleware"
	"github.com/mouadino/lymph/registry"
	"github.com/mouadino/lymph/service"
	"github.com/mouadino/lymph/transport"
	"github.com/rs/zerolog/log"
)

// Monitor is the subset of the monitor component a Container drives through
// its own start/stop sequence. Declared here rather than importing the
// monitor package's concrete type to avoid a monitor<->container cycle
// (monitor needs a Snapshotter the container provides).
type Monitor interface {
	Start()
	Stop()
}

// RegistrationTTL is how long a registry.Register lease is renewed for.
const RegistrationTTL = 10 * time.Second

// Options configures a Container beyond the objects it's built from.
type Options struct {
	ServiceName     string // stored only; registration uses each interface's own name
	MonitorInterval time.Duration
	ServiceOptions  service.Options // propagated to every resolved Service
}

// Container is the runtime's integration point: it binds a Transport,
// brackets a Registry and an event System within its own lifecycle, and
// dispatches inbound requests to whichever installed Interface the subject
// names.
type Container struct {
	opts      Options
	transport *transport.Transport
	registry  registry.Registry
	events    events.System
	monitor   Monitor

	ifacesMu    sync.RWMutex
	ifaces      map[string]interfaces.Interface
	order       []string // installation order, for deterministic start/stop
	middlewares []middleware.Middleware

	svcMu    sync.Mutex
	services map[string]*service.Service

	registeredMu sync.Mutex
	registered   []string // interface names currently advertised to the registry

	runCtx    context.Context
	runCancel context.CancelFunc
}

// New builds a Container around the given Transport, Registry and event
// System. The transport's dispatcher is wired to the container itself
// inside Start, so SetDispatcher need not be called by the caller.
func New(tr *transport.Transport, reg registry.Registry, evs events.System, opts Options) *Container {
	return &Container{
		opts:      opts,
		transport: tr,
		registry:  reg,
		events:    evs,
		ifaces:    make(map[string]interfaces.Interface),
		services:  make(map[string]*service.Service),
	}
}

// SetMonitor attaches the periodic stats publisher. Optional: a Container
// with no Monitor simply skips that step of Start/Stop.
func (c *Container) SetMonitor(m Monitor) {
	c.monitor = m
}

// Use appends mw to the dispatch chain wrapped around the container's own
// HandleRequest (logging, rate limiting, ...). Order matters: the first
// middleware registered is the outermost layer. Must be called before
// Start.
func (c *Container) Use(mw ...middleware.Middleware) {
	c.middlewares = append(c.middlewares, mw...)
}

// Install adds iface to the set the container dispatches to and, if it
// reports RegisterWithCoordinator, advertises at Start time. Must be called
// before Start.
func (c *Container) Install(iface interfaces.Interface) {
	c.ifacesMu.Lock()
	defer c.ifacesMu.Unlock()
	c.ifaces[iface.Name()] = iface
	c.order = append(c.order, iface.Name())
}

// Endpoint returns the bound transport endpoint, valid only after Start.
func (c *Container) Endpoint() string {
	return c.transport.Endpoint()
}

// Identity returns the container's MD5-hex identity, derived from its
// transport endpoint.
func (c *Container) Identity() string {
	return c.transport.Identity()
}

// Start brings every owned component up in the order SPEC_FULL.md §4.7
// prescribes: monitor, registry, event system, transport (which binds),
// each installed interface's OnStart/Configure, then registry.Register for
// every interface marked RegisterWithCoordinator. A registration failure
// immediately stops the container and propagates the error.
func (c *Container) Start(ctx context.Context) error {
	c.runCtx, c.runCancel = context.WithCancel(ctx)

	if c.monitor != nil {
		c.monitor.Start()
	}

	if err := c.registry.OnStart(c.runCtx); err != nil {
		return fmt.Errorf("registry on_start: %w", err)
	}

	if err := c.events.OnStart(c.runCtx); err != nil {
		return fmt.Errorf("event system on_start: %w", err)
	}

	var dispatcher transport.Dispatcher = middleware.HandlerFunc(c.HandleRequest)
	if len(c.middlewares) > 0 {
		dispatcher = middleware.Chain(c.middlewares...)(middleware.HandlerFunc(c.HandleRequest))
	}
	c.transport.SetDispatcher(dispatcher)
	if err := c.transport.Start(); err != nil {
		return fmt.Errorf("transport start: %w", err)
	}

	c.ifacesMu.RLock()
	order := append([]string(nil), c.order...)
	c.ifacesMu.RUnlock()

	for _, name := range order {
		iface := c.ifaces[name]
		if err := iface.OnStart(c.runCtx); err != nil {
			c.Stop(ctx)
			return fmt.Errorf("interface %s on_start: %w", name, err)
		}
		if err := iface.Configure(map[string]any{}); err != nil {
			c.Stop(ctx)
			return fmt.Errorf("interface %s configure: %w", name, err)
		}
	}

	for _, name := range order {
		iface := c.ifaces[name]
		if !iface.RegisterWithCoordinator() {
			continue
		}
		inst := registry.Instance{
			Endpoint:     c.transport.Endpoint(),
			Identity:     c.transport.Identity(),
			Weight:       1,
			ContentTypes: contentTypeStrings(codec.DefaultContentTypes),
		}
		if err := c.registry.Register(c.runCtx, name, inst, RegistrationTTL); err != nil {
			log.Error().Err(err).Str("interface", name).Msg("registration failed, stopping container")
			c.Stop(ctx)
			return fmt.Errorf("register %s: %w", name, err)
		}
		c.registeredMu.Lock()
		c.registered = append(c.registered, name)
		c.registeredMu.Unlock()
	}

	log.Info().Str("endpoint", c.transport.Endpoint()).Msg("container started")
	return nil
}

// Stop reverses Start's order: unregister, then each interface's OnStop,
// then transport.Stop, event system OnStop, registry OnStop, monitor stop;
// the transport's worker pool is joined last of all, per SPEC_FULL.md
// §4.7's "joining the transport's worker pool last".
func (c *Container) Stop(ctx context.Context) {
	c.registeredMu.Lock()
	registered := append([]string(nil), c.registered...)
	c.registered = nil
	c.registeredMu.Unlock()
	for i := len(registered) - 1; i >= 0; i-- {
		name := registered[i]
		if err := c.registry.Unregister(ctx, name, c.transport.Endpoint()); err != nil {
			log.Warn().Err(err).Str("interface", name).Msg("failed to unregister on shutdown")
		}
	}

	c.ifacesMu.RLock()
	order := append([]string(nil), c.order...)
	c.ifacesMu.RUnlock()
	for i := len(order) - 1; i >= 0; i-- {
		iface := c.ifaces[order[i]]
		if err := iface.OnStop(ctx); err != nil {
			log.Warn().Err(err).Str("interface", order[i]).Msg("interface on_stop failed")
		}
	}

	c.transport.Stop()

	if err := c.events.OnStop(ctx); err != nil {
		log.Warn().Err(err).Msg("event system on_stop failed")
	}
	if err := c.registry.OnStop(ctx); err != nil {
		log.Warn().Err(err).Msg("registry on_stop failed")
	}
	if c.monitor != nil {
		c.monitor.Stop()
	}
	if c.runCancel != nil {
		c.runCancel()
	}

	c.transport.Join()
	log.Info().Msg("container stopped")
}

// HandleRequest implements transport.Dispatcher: it resolves serviceName
// against the installed interfaces and, if found, invokes its handler for
// method.
func (c *Container) HandleRequest(ctx context.Context, serviceName, method string, reply *channel.ReplyChannel) bool {
	c.ifacesMu.RLock()
	iface, ok := c.ifaces[serviceName]
	c.ifacesMu.RUnlock()
	if !ok {
		return false
	}
	iface.HandleRequest(ctx, method, reply)
	return true
}

// Lookup resolves address per SPEC_FULL.md §4.7's addressing rule: an
// address containing "://" is a direct endpoint, wrapped in an ad-hoc
// single-instance Service bound to this container; otherwise it names a
// logical service resolved (and cached) through the registry.
func (c *Container) Lookup(ctx context.Context, address string) (*service.Service, error) {
	if strings.Contains(address, "://") {
		return c.adHocService(ctx, address)
	}

	c.svcMu.Lock()
	defer c.svcMu.Unlock()
	if svc, ok := c.services[address]; ok {
		return svc, nil
	}
	svc, err := service.New(ctx, c.registry, c.transport, address, c.opts.ServiceOptions)
	if err != nil {
		return nil, err
	}
	c.services[address] = svc
	return svc, nil
}

// adHocService builds a never-cached, single-instance Service bound to a
// direct endpoint, using a MemoryRegistry pre-seeded with that one instance
// so it still flows through the same Service/Connect machinery (balancer,
// retry-on-no-alive) as a logical-name lookup.
func (c *Container) adHocService(ctx context.Context, endpoint string) (*service.Service, error) {
	reg := registry.NewMemoryRegistry()
	if err := reg.Register(ctx, endpoint, registry.Instance{
		Endpoint:     endpoint,
		ContentTypes: contentTypeStrings(codec.DefaultContentTypes),
	}, 0); err != nil {
		return nil, err
	}
	return service.New(ctx, reg, c.transport, endpoint, c.opts.ServiceOptions)
}

// SendRequest resolves address (direct endpoint or logical service name),
// ensures trace_id is set on the outgoing headers, and sends a REQ,
// returning the caller's RequestChannel.
func (c *Container) SendRequest(ctx context.Context, address, subject string, body []byte) (*channel.RequestChannel, error) {
	endpoint := address
	if !strings.Contains(address, "://") {
		svc, err := c.Lookup(ctx, address)
		if err != nil {
			return nil, err
		}
		inst, _, err := svc.Connect(ctx)
		if err != nil {
			return nil, err
		}
		endpoint = inst.Endpoint
	}
	return c.transport.SendRequest(ctx, endpoint, subject, body, nil)
}

// Call is SendRequest plus a blocking Get, the common case of a synchronous
// round trip with a bounded wait.
func (c *Container) Call(ctx context.Context, address, subject string, body []byte, timeout time.Duration) (*message.Message, error) {
	rc, err := c.SendRequest(ctx, address, subject, body)
	if err != nil {
		return nil, err
	}
	return rc.Get(ctx, timeout)
}

// EmitEvent stamps evt's source and trace id and publishes it through the
// owned event system.
func (c *Container) EmitEvent(ctx context.Context, evt *events.Event) error {
	if evt.Headers == nil {
		evt.Headers = map[string]string{}
	}
	if evt.Headers[message.TraceIDHeader] == "" {
		_, id := trace.EnsureID(ctx)
		evt.Headers[message.TraceIDHeader] = id
	}
	evt.Source = c.transport.Endpoint()
	return c.events.Emit(ctx, evt)
}

// Metrics returns a JSON-able snapshot of transport and per-interface
// request counters, consumed by interfaces.NewDefault's get_metrics and by
// the Monitor's periodic publish.
func (c *Container) Metrics() any {
	return struct {
		Endpoint  string          `json:"endpoint"`
		Transport transport.Stats `json:"transport"`
	}{
		Endpoint:  c.transport.Endpoint(),
		Transport: c.transport.Snapshot(),
	}
}

func contentTypeStrings(types []codec.CodecType) []string {
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = t.String()
	}
	return out
}
