// Package retry implements the bounded retry-with-backoff primitive
// described in SPEC_FULL.md §4.1, grounded on lymph/core/retry.py and
// composed the way the teacher composes its middleware.Middleware values —
// as a value with an Execute method, per SPEC_FULL.md §9's "Retry as
// composable policy object" design note.
package retry

import (
	"context"
	"math/rand"
	"time"

	"github.com/mouadino/lymph/internal/rpcerr"
)

// Options configures a Retry policy.
type Options struct {
	Timeout   time.Duration // overall deadline for Execute
	Delay     time.Duration // initial backoff delay
	Backoff   float64       // multiplier applied to delay after each retry, >= 1
	MaxJitter time.Duration // uniform jitter ceiling added to each delay
	MaxDelay  time.Duration // optional cap on delay; 0 means uncapped
}

// Retry executes an operation under a wall-clock deadline, retrying on the
// designated retryable error kind with exponential backoff and jitter.
type Retry struct {
	opts Options
}

// New constructs a Retry policy from opts, filling in the teacher-style
// defaults (backoff>=1, no jitter) for zero-valued fields.
func New(opts Options) *Retry {
	if opts.Backoff < 1 {
		opts.Backoff = 1
	}
	return &Retry{opts: opts}
}

// Execute invokes f under the configured deadline. If f returns an
// *rpcerr.Error of kind rpcerr.Retryable, Execute waits the current delay
// (Delay for the first retry) and retries; after each wait the delay is
// scaled by Backoff, jitter is added, and the result is capped at MaxDelay
// for the next wait. Any other error
// propagates immediately. If the deadline elapses mid-wait or mid-call,
// Execute fails with rpcerr.Timeout.
func (r *Retry) Execute(ctx context.Context, f func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()

	delay := r.opts.Delay
	for {
		err := f(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return rpcerr.Wrap(rpcerr.Timeout, ctx.Err(), "retry deadline exceeded")
		}
		if !rpcerr.Of(err, rpcerr.Retryable) {
			return err
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return rpcerr.Wrap(rpcerr.Timeout, ctx.Err(), "retry deadline exceeded")
		case <-timer.C:
		}

		delay = time.Duration(float64(delay) * r.opts.Backoff)
		if r.opts.MaxJitter > 0 {
			delay += time.Duration(rand.Int63n(int64(r.opts.MaxJitter)))
		}
		if r.opts.MaxDelay > 0 && delay > r.opts.MaxDelay {
			delay = r.opts.MaxDelay
		}
	}
}
