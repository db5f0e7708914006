// Package service implements the ServiceInstance/Service pair described in
// SPEC_FULL.md §3-§4.5: a logical peer discovered through the registry,
// and the named collection of such peers a container connects through.
package service

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"sync"
	"time"

	"github.com/mouadino/lymph/codec"
	"github.com/mouadino/lymph/conn"
	"github.com/mouadino/lymph/internal/rpcerr"
	"github.com/mouadino/lymph/loadbalance"
	"github.com/mouadino/lymph/registry"
	"github.com/rs/zerolog/log"
)

// Dialer is the subset of transport.Transport a Service needs to turn an
// endpoint into a tracked Connection and to settle on a content type for
// it. Declared here, rather than importing the transport package's
// concrete type, so service stays free to be tested with a fake.
type Dialer interface {
	Connect(endpoint string) (*conn.Connection, error)

	// NegotiateCodec picks and pins the content type used for subsequent
	// sends to endpoint from its advertised supported types (spec.md §6),
	// failing with rpcerr.UnsupportedSerialization when there's no overlap.
	NegotiateCodec(endpoint string, supported []string) (codec.CodecType, error)
}

// ServiceInstance is a single peer of a logical Service: its discovered
// endpoint, identity, and a cached Connection used to judge liveness and
// to actually route requests.
type ServiceInstance struct {
	Endpoint      string
	Identity      string
	InstanceWeight int
	ContentTypes  []string
	Connection    *conn.Connection
}

// Addr, Weight, Alive implement loadbalance.Candidate.
func (s *ServiceInstance) Addr() string { return s.Endpoint }
func (s *ServiceInstance) Weight() int  { return s.InstanceWeight }

// Alive reports whether this instance's Connection currently reports
// Responsive. Instances without a Connection yet (dial failed at
// discovery time) are never alive.
func (s *ServiceInstance) Alive() bool {
	return s.Connection != nil && s.Connection.IsAlive()
}

func identityOf(endpoint string) string {
	sum := md5.Sum([]byte(endpoint))
	return hex.EncodeToString(sum[:])
}

// Event is a Service-level ADDED/REMOVED/UPDATED notification, mirroring
// registry.Event but carrying the richer ServiceInstance (with its
// Connection attached) rather than the registry's bare Instance.
type Event struct {
	Type     registry.EventType
	Instance *ServiceInstance
}

// Service is a named, observable collection of ServiceInstances, backed by
// a Registry and kept current by its Watch feed.
type Service struct {
	name     string
	reg      registry.Registry
	dialer   Dialer
	balancer loadbalance.Balancer

	maxConnectAttempts int
	connectRetryDelay  time.Duration

	mu        sync.RWMutex
	instances map[string]*ServiceInstance // keyed by Identity
	closed    bool

	subMu       sync.Mutex
	subscribers []chan Event
}

// Options configures a Service beyond its name and backing Registry.
type Options struct {
	Balancer           loadbalance.Balancer // default UniformRandomBalancer
	MaxConnectAttempts int                  // default 3, per spec.md §8 boundary test
	ConnectRetryDelay  time.Duration        // default 50ms
}

func (o Options) withDefaults() Options {
	if o.Balancer == nil {
		o.Balancer = &loadbalance.UniformRandomBalancer{}
	}
	if o.MaxConnectAttempts == 0 {
		o.MaxConnectAttempts = 3
	}
	if o.ConnectRetryDelay == 0 {
		o.ConnectRetryDelay = 50 * time.Millisecond
	}
	return o
}

// New creates a Service for name: it populates its initial instance set
// from reg.List, then spawns a goroutine consuming reg.Watch to keep the
// set current until ctx is canceled. Each discovered instance is dialed
// immediately so its Connection begins heartbeating right away.
func New(ctx context.Context, reg registry.Registry, dialer Dialer, name string, opts Options) (*Service, error) {
	opts = opts.withDefaults()
	s := &Service{
		name:               name,
		reg:                reg,
		dialer:             dialer,
		balancer:           opts.Balancer,
		maxConnectAttempts: opts.MaxConnectAttempts,
		connectRetryDelay:  opts.ConnectRetryDelay,
		instances:          make(map[string]*ServiceInstance),
	}

	initial, err := reg.List(ctx, name)
	if err != nil {
		return nil, rpcerr.Wrap(rpcerr.LookupFailure, err, "failed to list instances of %s", name)
	}
	for _, inst := range initial {
		s.upsert(inst)
	}

	events, err := reg.Watch(ctx, name)
	if err != nil {
		return nil, rpcerr.Wrap(rpcerr.LookupFailure, err, "failed to watch %s", name)
	}
	go s.consume(events)

	return s, nil
}

func (s *Service) consume(events <-chan registry.Event) {
	for evt := range events {
		switch evt.Type {
		case registry.Added, registry.Updated:
			s.upsert(evt.Instance)
		case registry.Removed:
			s.remove(evt.Instance.Endpoint)
		}
	}
}

func (s *Service) upsert(inst registry.Instance) {
	identity := inst.Identity
	if identity == "" {
		identity = identityOf(inst.Endpoint)
	}

	s.mu.Lock()
	existing, ok := s.instances[identity]
	if ok {
		existing.InstanceWeight = inst.Weight
		existing.ContentTypes = inst.ContentTypes
		s.mu.Unlock()
		s.notify(Event{Type: registry.Updated, Instance: existing})
		return
	}

	si := &ServiceInstance{
		Endpoint:       inst.Endpoint,
		Identity:       identity,
		InstanceWeight: inst.Weight,
		ContentTypes:   inst.ContentTypes,
	}
	s.instances[identity] = si
	s.mu.Unlock()

	if c, err := s.dialer.Connect(inst.Endpoint); err != nil {
		log.Warn().Err(err).Str("endpoint", inst.Endpoint).Msg("failed to connect to discovered instance")
	} else {
		si.Connection = c
	}

	s.notify(Event{Type: registry.Added, Instance: si})
}

func (s *Service) remove(endpoint string) {
	identity := identityOf(endpoint)
	s.mu.Lock()
	si, ok := s.instances[identity]
	if ok {
		delete(s.instances, identity)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	if si.Connection != nil {
		si.Connection.Close()
	}
	s.notify(Event{Type: registry.Removed, Instance: si})
}

// Subscribe registers a channel that receives every future Event. The
// caller is responsible for draining it; sends are non-blocking and drop
// when the subscriber's buffer is full.
func (s *Service) Subscribe() <-chan Event {
	ch := make(chan Event, 16)
	s.subMu.Lock()
	s.subscribers = append(s.subscribers, ch)
	s.subMu.Unlock()
	return ch
}

func (s *Service) notify(evt Event) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subscribers {
		select {
		case ch <- evt:
		default:
		}
	}
}

// Instances returns a snapshot of all currently known ServiceInstances.
func (s *Service) Instances() []*ServiceInstance {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*ServiceInstance, 0, len(s.instances))
	for _, si := range s.instances {
		out = append(out, si)
	}
	return out
}

// Connect selects one alive instance via the configured Balancer (uniform
// random by default), retrying up to maxConnectAttempts times with a short
// sleep between attempts if none are currently alive, per spec.md §4.5 /
// §8's boundary test. Returns NotConnected if every attempt finds nothing
// alive.
func (s *Service) Connect(ctx context.Context) (*ServiceInstance, *conn.Connection, error) {
	for attempt := 0; attempt < s.maxConnectAttempts; attempt++ {
		candidates := s.candidates()
		picked, err := s.balancer.Pick(candidates)
		if err == nil {
			si := picked.(*ServiceInstance)
			if _, err := s.dialer.NegotiateCodec(si.Endpoint, si.ContentTypes); err != nil {
				return nil, nil, err
			}
			return si, si.Connection, nil
		}

		if attempt < s.maxConnectAttempts-1 {
			select {
			case <-ctx.Done():
				return nil, nil, rpcerr.Wrap(rpcerr.NotConnected, ctx.Err(), "connect to %s canceled", s.name)
			case <-time.After(s.connectRetryDelay):
			}
		}
	}
	return nil, nil, rpcerr.New(rpcerr.NotConnected, "no alive instance of %s after %d attempts", s.name, s.maxConnectAttempts)
}

func (s *Service) candidates() []loadbalance.Candidate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]loadbalance.Candidate, 0, len(s.instances))
	for _, si := range s.instances {
		out = append(out, si)
	}
	return out
}
