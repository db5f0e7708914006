// Package monitor implements the periodic stats publisher described in
// SPEC_FULL.md §4.8, grounded on lymph/core/monitoring.py: every tick it
// gathers container stats and process rusage deltas and fires them as a
// fire-and-forget message to a configured publisher endpoint, reusing the
// same transport primitives as the RPC layer rather than a separate
// ZeroMQ PUB socket.
package monitor

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/mouadino/lymph/message"
	"github.com/rs/zerolog/log"
)

// DefaultInterval matches the original runtime's 2-second publish cadence.
const DefaultInterval = 2 * time.Second

// Snapshotter supplies the point-in-time container stats to publish.
// *container.Container satisfies this via its Metrics method.
type Snapshotter interface {
	Metrics() any
}

// Sender is the one-way send primitive the monitor publishes over.
// *transport.Transport satisfies this directly.
type Sender interface {
	Send(endpoint string, msg *message.Message)
}

// Payload is the JSON envelope published on every tick.
type Payload struct {
	Time   float64 `json:"time"`
	DT     float64 `json:"dt"`
	Stats  any     `json:"stats"`
	Rusage rusage  `json:"rusage"`
}

// Monitor periodically publishes a Payload to Endpoint, when one is
// configured. With no Endpoint its sampling loop still runs but publishes
// nothing.
type Monitor struct {
	snapshot Snapshotter
	sender   Sender
	endpoint string
	interval time.Duration

	mu   sync.Mutex
	done chan struct{}
	wg   sync.WaitGroup
}

// New creates a Monitor that samples snapshot every interval (DefaultInterval
// if zero) and publishes to endpoint via sender. endpoint may be empty, in
// which case Start runs the sampling loop without ever calling Send.
func New(snapshot Snapshotter, sender Sender, endpoint string, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Monitor{snapshot: snapshot, sender: sender, endpoint: endpoint, interval: interval}
}

// Start spawns the sampling loop. Safe to call once; a second call before
// Stop is a no-op.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.done != nil {
		return
	}
	m.done = make(chan struct{})
	m.wg.Add(1)
	go m.loop(m.done)
}

// Stop halts the sampling loop and waits for it to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	done := m.done
	m.done = nil
	m.mu.Unlock()
	if done == nil {
		return
	}
	close(done)
	m.wg.Wait()
}

func (m *Monitor) loop(done <-chan struct{}) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	lastTick := time.Now()
	lastRusage := getRusage()

	for {
		select {
		case <-done:
			return
		case now := <-ticker.C:
			dt := now.Sub(lastTick)
			lastTick = now

			current := getRusage()
			payload := Payload{
				Time:   float64(now.UnixNano()) / 1e9,
				DT:     dt.Seconds(),
				Stats:  m.snapshot.Metrics(),
				Rusage: diffRusage(current, lastRusage),
			}
			lastRusage = current

			m.publish(&payload)
		}
	}
}

func (m *Monitor) publish(payload *Payload) {
	if m.endpoint == "" {
		return
	}
	body, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal monitor payload")
		return
	}
	msg := &message.Message{
		Type:    message.REQ,
		ID:      message.NewID(),
		Subject: "lymph.stats",
		Body:    body,
	}
	m.sender.Send(m.endpoint, msg)
}
