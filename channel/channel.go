// Package channel implements the two message-id-keyed handle types that
// mediate a single request/reply exchange: RequestChannel on the caller
// side, ReplyChannel on the callee side (SPEC_FULL.md §4.3).
package channel

import (
	"context"
	"sync"
	"time"

	"github.com/mouadino/lymph/internal/rpcerr"
	"github.com/mouadino/lymph/message"
)

// RequestState is a state in the RequestChannel state machine.
type RequestState int

const (
	RequestCreated RequestState = iota
	RequestWaiting
	RequestCompleted
	RequestNacked
	RequestErrored
	RequestTimedOut
)

// RequestChannel is the client-side future for an in-flight REQ. It is
// registered under the request's message id in the transport's pending map
// and resolved at most once, by whichever of Get/Recv observes the
// terminal reply first (SPEC_FULL.md §8: "at-most-one Get invocation for r
// observes a terminal outcome").
type RequestChannel struct {
	mu        sync.Mutex
	state     RequestState
	req       *message.Message
	slot      chan *message.Message // buffered(1): single-producer/single-consumer
	onCancel  func()
	cancelled bool
}

// NewRequestChannel creates a channel for the given outgoing request.
func NewRequestChannel(req *message.Message) *RequestChannel {
	return &RequestChannel{
		state: RequestCreated,
		req:   req,
		slot:  make(chan *message.Message, 1),
	}
}

// Request returns the original outgoing request message.
func (c *RequestChannel) Request() *message.Message {
	return c.req
}

// SetCancelFunc installs the callback the channel invokes exactly once,
// the moment it transitions to RequestTimedOut without a terminal reply
// ever arriving. The transport uses this to remove the channel's entry
// from its pending-requests map (SPEC_FULL.md §4.4: "Entries must be
// removed to prevent unbounded growth"), since neither Get nor Recv has
// any other way back into that map.
func (c *RequestChannel) SetCancelFunc(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onCancel = fn
}

// MarkWaiting transitions CREATED -> WAITING once the request has actually
// been sent on the wire.
func (c *RequestChannel) MarkWaiting() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == RequestCreated {
		c.state = RequestWaiting
	}
}

// Recv delivers a reply frame to the channel. Called by the transport's
// receive loop when it routes a REP/ACK/NACK/ERR to this channel's message
// id. Late duplicates (channel already terminal) are dropped, matching
// SPEC_FULL.md §4.3's "subsequent frames for the same id are dropped".
func (c *RequestChannel) Recv(reply *message.Message) {
	c.mu.Lock()
	if isTerminal(c.state) {
		c.mu.Unlock()
		return
	}
	switch reply.Type {
	case message.REP:
		c.state = RequestCompleted
	case message.NACK:
		c.state = RequestNacked
	case message.ERR:
		c.state = RequestErrored
	default:
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	select {
	case c.slot <- reply:
	default:
	}
}

func isTerminal(s RequestState) bool {
	switch s {
	case RequestCompleted, RequestNacked, RequestErrored, RequestTimedOut:
		return true
	default:
		return false
	}
}

// State returns the channel's current state.
func (c *RequestChannel) State() RequestState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Get blocks until a terminal reply arrives or timeout elapses, whichever
// is first. It can be called at most once meaningfully: the reply slot
// holds one message, so a later call finds it empty and returns a Timeout
// error once timeout elapses, while State keeps reporting the terminal
// state already reached.
func (c *RequestChannel) Get(ctx context.Context, timeout time.Duration) (*message.Message, error) {
	c.MarkWaiting()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case reply := <-c.slot:
		switch reply.Type {
		case message.NACK:
			return reply, rpcerr.New(rpcerr.Nack, "peer refused request %s", c.req.ID)
		case message.ERR:
			return reply, rpcerr.Wrap(rpcerr.ErrorReply, nil, "%s", string(reply.Body))
		default:
			return reply, nil
		}
	case <-ctx.Done():
		c.mu.Lock()
		onCancel := c.onCancel
		if !isTerminal(c.state) {
			c.state = RequestTimedOut
		}
		if onCancel != nil && !c.cancelled {
			c.cancelled = true
		} else {
			onCancel = nil
		}
		c.mu.Unlock()
		if onCancel != nil {
			onCancel()
		}
		return nil, rpcerr.Wrap(rpcerr.Timeout, ctx.Err(), "no reply for request %s", c.req.ID)
	}
}

// ReplyState is a state in the ReplyChannel state machine.
type ReplyState int

const (
	ReplyCreated ReplyState = iota
	ReplyAcked
	ReplyReplied
	ReplyErrored
	ReplyNacked
)

// Sender abstracts the transport operation of actually writing a reply
// frame to the wire, keeping ReplyChannel free of any transport import.
type Sender interface {
	SendReply(req *message.Message, reply *message.Message) error
}

// ReplyChannel is the server-side handle for an in-flight request. Exactly
// one of Reply/Error/Nack may succeed; Ack is optional and at-most-once;
// after any terminal send, further sends are rejected (SPEC_FULL.md §4.3).
type ReplyChannel struct {
	mu     sync.Mutex
	state  ReplyState
	req    *message.Message
	sender Sender
}

// NewReplyChannel creates a reply handle for an inbound request.
func NewReplyChannel(req *message.Message, sender Sender) *ReplyChannel {
	return &ReplyChannel{state: ReplyCreated, req: req, sender: sender}
}

// Request returns the inbound request this channel answers.
func (c *ReplyChannel) Request() *message.Message {
	return c.req
}

func (c *ReplyChannel) terminal() bool {
	switch c.state {
	case ReplyReplied, ReplyErrored, ReplyNacked:
		return true
	default:
		return false
	}
}

// Ack sends an ACK frame. Optional, at-most-once, only valid before any
// terminal send.
func (c *ReplyChannel) Ack() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != ReplyCreated {
		return rpcerr.New(rpcerr.Nack, "ack already sent or channel terminal for %s", c.req.ID)
	}
	c.state = ReplyAcked
	return c.send(message.ACK, nil)
}

// Reply sends a successful REP with the given body.
func (c *ReplyChannel) Reply(body []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.terminal() {
		return rpcerr.New(rpcerr.Nack, "reply channel %s already terminal", c.req.ID)
	}
	c.state = ReplyReplied
	return c.send(message.REP, body)
}

// Error sends an ERR with the given structured error body.
func (c *ReplyChannel) Error(body []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.terminal() {
		return rpcerr.New(rpcerr.Nack, "reply channel %s already terminal", c.req.ID)
	}
	c.state = ReplyErrored
	return c.send(message.ERR, body)
}

// Nack sends a NACK. requeue is carried in the body so the caller can tell
// an intentional refusal apart from the transport's automatic
// last-resort NACK(true) on an uncaught handler error.
func (c *ReplyChannel) Nack(requeue bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.terminal() {
		return rpcerr.New(rpcerr.Nack, "reply channel %s already terminal", c.req.ID)
	}
	c.state = ReplyNacked
	body := []byte("false")
	if requeue {
		body = []byte("true")
	}
	return c.send(message.NACK, body)
}

func (c *ReplyChannel) send(t message.Type, body []byte) error {
	reply := &message.Message{
		Type:    t,
		ID:      message.NewID(),
		Subject: c.req.ID,
		Body:    body,
	}
	return c.sender.SendReply(c.req, reply)
}
