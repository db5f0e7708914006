// EtcdRegistry implements Registry on top of etcd v3, following the
// teacher's lease-based TTL registration and prefix Watch/Get exactly:
//
//	Key:   /lymph/{ServiceName}/{Endpoint}
//	Value: JSON-encoded Instance
//
// A lease expiring (process crash, network partition) removes the key
// automatically, so a crashed instance disappears from discovery without
// any explicit cleanup step.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mouadino/lymph/internal/rpcerr"
	"github.com/rs/zerolog/log"
	clientv3 "go.etcd.io/etcd/client/v3"
)

const keyPrefix = "/lymph/"

// EtcdRegistry implements Registry using etcd v3.
type EtcdRegistry struct {
	client *clientv3.Client
}

// NewEtcdRegistry creates a registry connected to the given etcd endpoints.
func NewEtcdRegistry(endpoints []string, dialTimeout time.Duration) (*EtcdRegistry, error) {
	c, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
	})
	if err != nil {
		return nil, rpcerr.Wrap(rpcerr.RegistrationFailure, err, "failed to connect to etcd")
	}
	return &EtcdRegistry{client: c}, nil
}

func instanceKey(name, endpoint string) string {
	return keyPrefix + name + "/" + endpoint
}

func servicePrefix(name string) string {
	return keyPrefix + name + "/"
}

// Register puts the instance under a TTL lease and starts a background
// KeepAlive to renew it until OnStop or process exit.
func (r *EtcdRegistry) Register(ctx context.Context, name string, instance Instance, ttl time.Duration) error {
	lease, err := r.client.Grant(ctx, int64(ttl.Seconds()))
	if err != nil {
		return rpcerr.Wrap(rpcerr.RegistrationFailure, err, "failed to grant lease for %s", name)
	}

	val, err := json.Marshal(instance)
	if err != nil {
		return rpcerr.Wrap(rpcerr.RegistrationFailure, err, "failed to marshal instance")
	}

	_, err = r.client.Put(ctx, instanceKey(name, instance.Endpoint), string(val), clientv3.WithLease(lease.ID))
	if err != nil {
		return rpcerr.Wrap(rpcerr.RegistrationFailure, err, "failed to register %s at %s", name, instance.Endpoint)
	}

	ch, err := r.client.KeepAlive(ctx, lease.ID)
	if err != nil {
		return rpcerr.Wrap(rpcerr.RegistrationFailure, err, "failed to start lease keepalive")
	}
	go func() {
		for range ch {
		}
	}()
	return nil
}

// Unregister deletes the instance's key, withdrawing it immediately rather
// than waiting on lease expiry.
func (r *EtcdRegistry) Unregister(ctx context.Context, name, endpoint string) error {
	_, err := r.client.Delete(ctx, instanceKey(name, endpoint))
	if err != nil {
		return rpcerr.Wrap(rpcerr.RegistrationFailure, err, "failed to unregister %s at %s", name, endpoint)
	}
	return nil
}

// List fetches every instance currently registered under name.
func (r *EtcdRegistry) List(ctx context.Context, name string) ([]Instance, error) {
	resp, err := r.client.Get(ctx, servicePrefix(name), clientv3.WithPrefix())
	if err != nil {
		return nil, rpcerr.Wrap(rpcerr.LookupFailure, err, "failed to list instances of %s", name)
	}
	instances := make([]Instance, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var inst Instance
		if err := json.Unmarshal(kv.Value, &inst); err != nil {
			log.Warn().Str("key", string(kv.Key)).Msg("skipping malformed registry entry")
			continue
		}
		instances = append(instances, inst)
	}
	return instances, nil
}

// Discover lists the distinct service names currently advertised anywhere
// under the registry's root prefix.
func (r *EtcdRegistry) Discover(ctx context.Context) ([]string, error) {
	resp, err := r.client.Get(ctx, keyPrefix, clientv3.WithPrefix(), clientv3.WithKeysOnly())
	if err != nil {
		return nil, rpcerr.Wrap(rpcerr.LookupFailure, err, "failed to discover service names")
	}
	seen := make(map[string]bool)
	names := make([]string, 0)
	for _, kv := range resp.Kvs {
		rest := strings.TrimPrefix(string(kv.Key), keyPrefix)
		name, _, ok := strings.Cut(rest, "/")
		if !ok || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	return names, nil
}

// Watch streams ADDED/REMOVED/UPDATED events for name by translating
// etcd's own put/delete events: a put that creates the key is an Add, a put
// that modifies an existing key is an Update, deletes are Removes.
func (r *EtcdRegistry) Watch(ctx context.Context, name string) (<-chan Event, error) {
	out := make(chan Event, 16)
	watchChan := r.client.Watch(ctx, servicePrefix(name), clientv3.WithPrefix())

	go func() {
		defer close(out)
		for resp := range watchChan {
			if resp.Err() != nil {
				log.Warn().Err(resp.Err()).Str("service", name).Msg("registry watch error")
				return
			}
			for _, ev := range resp.Events {
				evt, ok := translateEvent(name, ev)
				if !ok {
					continue
				}
				select {
				case out <- evt:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

func translateEvent(name string, ev *clientv3.Event) (Event, bool) {
	switch ev.Type {
	case clientv3.EventTypeDelete:
		endpoint := strings.TrimPrefix(string(ev.Kv.Key), servicePrefix(name))
		return Event{Type: Removed, Name: name, Instance: Instance{Endpoint: endpoint}}, true
	case clientv3.EventTypePut:
		var inst Instance
		if err := json.Unmarshal(ev.Kv.Value, &inst); err != nil {
			return Event{}, false
		}
		t := Added
		if ev.IsModify() {
			t = Updated
		}
		return Event{Type: t, Name: name, Instance: inst}, true
	default:
		return Event{}, false
	}
}

// OnStart is a no-op: the etcd client connects lazily on first RPC.
func (r *EtcdRegistry) OnStart(ctx context.Context) error {
	return nil
}

// OnStop closes the underlying etcd client connection.
func (r *EtcdRegistry) OnStop(ctx context.Context) error {
	if err := r.client.Close(); err != nil {
		return fmt.Errorf("closing etcd client: %w", err)
	}
	return nil
}
