// Package conn implements the per-peer Connection type: its heartbeat
// loop, liveness estimate, and send/recv counters (SPEC_FULL.md §3, §4.2).
package conn

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mouadino/lymph/internal/rpcerr"
	"github.com/mouadino/lymph/internal/stats"
	"github.com/mouadino/lymph/message"
	"github.com/rs/zerolog/log"
)

// Status is a Connection lifecycle state.
type Status int

const (
	Unknown Status = iota
	Responsive
	Unresponsive
	Closed
)

func (s Status) String() string {
	switch s {
	case Unknown:
		return "unknown"
	case Responsive:
		return "responsive"
	case Unresponsive:
		return "unresponsive"
	case Closed:
		return "closed"
	default:
		return "invalid"
	}
}

// Pinger is the transport-side capability a Connection needs: the ability
// to send a ping request to its peer and to tear down the transport's
// route to that peer on close. Keeping this as an interface lets conn stay
// free of any dependency on the transport package.
type Pinger interface {
	Ping(ctx context.Context, endpoint string) (Waiter, error)
	Disconnect(endpoint string)
}

// Waiter is the subset of channel.RequestChannel the heartbeat loop needs.
type Waiter interface {
	Get(ctx context.Context, timeout time.Duration) (*message.Message, error)
}

// Connection tracks liveness state for a single peer endpoint.
type Connection struct {
	endpoint         string
	heartbeatInterval time.Duration
	timeout          time.Duration
	createdAt        time.Time

	pinger Pinger

	mu          sync.RWMutex
	lastSeen    time.Time // heartbeat-driven: last successful ping reply
	lastMessage time.Time // last traffic of any kind, in or out (OnSend/OnRecv)
	status      Status

	heartbeatSamples *stats.SampleWindow
	explicitHBCount  atomic.Int64
	sentCount        atomic.Int64
	recvCount        atomic.Int64

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Connection for endpoint and starts its dedicated heartbeat
// goroutine.
func New(endpoint string, pinger Pinger, heartbeatInterval, timeout time.Duration) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		endpoint:          endpoint,
		heartbeatInterval: heartbeatInterval,
		timeout:           timeout,
		createdAt:         time.Now(),
		pinger:            pinger,
		status:            Unknown,
		heartbeatSamples:  stats.NewSampleWindow(100, 1000),
		cancel:            cancel,
		done:              make(chan struct{}),
	}
	go c.heartbeatLoop(ctx)
	return c
}

// Endpoint returns the peer endpoint this Connection tracks.
func (c *Connection) Endpoint() string {
	return c.endpoint
}

func (c *Connection) heartbeatLoop(ctx context.Context) {
	defer close(c.done)
	ticker := time.NewTicker(c.heartbeatInterval)
	defer ticker.Stop()

	for {
		start := time.Now()
		ch, err := c.pinger.Ping(ctx, c.endpoint)
		if err == nil {
			if _, getErr := ch.Get(ctx, c.heartbeatInterval); getErr == nil {
				c.heartbeatSamples.Add(time.Since(start).Seconds())
				c.explicitHBCount.Add(1)
				c.mu.Lock()
				c.lastSeen = time.Now()
				c.mu.Unlock()
			} else if !rpcerr.Of(getErr, rpcerr.Timeout) {
				log.Debug().Err(getErr).Str("endpoint", c.endpoint).Msg("heartbeat failed")
			}
		} else {
			log.Debug().Err(err).Str("endpoint", c.endpoint).Msg("heartbeat ping failed")
		}
		c.updateStatus()

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (c *Connection) updateStatus() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status == Closed {
		return
	}
	if time.Since(c.lastSeen) >= c.timeout {
		c.status = Unresponsive
	} else {
		c.status = Responsive
	}
}

// Status returns the Connection's current lifecycle state.
func (c *Connection) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// IsAlive reports whether the Connection is currently Responsive.
func (c *Connection) IsAlive() bool {
	return c.Status() == Responsive
}

// Phi returns the current phi-accrual liveness score derived from the
// heartbeat sample window and time since last_seen. A peer that has never
// once replied has a zero-value last_seen; Phi falls back to createdAt in
// that case so dt grows from the connection's own age instead of from the
// Go zero time, letting the score climb gradually rather than saturating
// immediately.
func (c *Connection) Phi() float64 {
	c.mu.RLock()
	baseline := c.lastSeen
	if baseline.IsZero() {
		baseline = c.createdAt
	}
	dt := time.Since(baseline).Seconds()
	c.mu.RUnlock()
	return stats.Phi(c.heartbeatSamples.P(dt))
}

// OnSend records an outbound message on this connection and bumps the
// last-message timestamp (distinct from the heartbeat-only last_seen).
func (c *Connection) OnSend() {
	c.sentCount.Add(1)
	c.touchLastMessage()
}

// OnRecv records an inbound message on this connection and bumps the
// last-message timestamp (distinct from the heartbeat-only last_seen).
func (c *Connection) OnRecv() {
	c.recvCount.Add(1)
	c.touchLastMessage()
}

func (c *Connection) touchLastMessage() {
	c.mu.Lock()
	c.lastMessage = time.Now()
	c.mu.Unlock()
}

// LastMessage returns the time of the most recent traffic of any kind sent
// or received on this connection, or the zero Time if none has occurred
// yet.
func (c *Connection) LastMessage() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastMessage
}

// Close is idempotent: it marks the Connection CLOSED, cancels the
// heartbeat goroutine, and instructs the transport to drop its route
// (SPEC_FULL.md §4.2).
func (c *Connection) Close() {
	c.mu.Lock()
	if c.status == Closed {
		c.mu.Unlock()
		return
	}
	c.status = Closed
	c.mu.Unlock()

	c.cancel()
	<-c.done
	c.pinger.Disconnect(c.endpoint)
}

// Stats is a snapshot of this Connection's counters, used by the Monitor.
type Stats struct {
	Endpoint    string    `json:"endpoint"`
	Status      string    `json:"status"`
	Phi         float64   `json:"phi"`
	Sent        int64     `json:"sent"`
	Received    int64     `json:"received"`
	LastMessage time.Time `json:"last_message,omitempty"`
}

// Snapshot returns a point-in-time Stats for this Connection.
func (c *Connection) Snapshot() Stats {
	return Stats{
		Endpoint:    c.endpoint,
		Status:      c.Status().String(),
		Phi:         c.Phi(),
		Sent:        c.sentCount.Load(),
		Received:    c.recvCount.Load(),
		LastMessage: c.LastMessage(),
	}
}
