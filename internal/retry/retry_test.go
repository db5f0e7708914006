package retry

import (
	"context"
	"testing"
	"time"

	"github.com/mouadino/lymph/internal/rpcerr"
)

func TestExecuteSucceedsAfterRetries(t *testing.T) {
	attempts := 0
	r := New(Options{Timeout: 5 * time.Second, Delay: 10 * time.Millisecond, Backoff: 2})

	err := r.Execute(context.Background(), func(ctx context.Context) error {
		attempts++
		if attempts < 4 {
			return rpcerr.New(rpcerr.Retryable, "transient failure %d", attempts)
		}
		return nil
	})

	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if attempts != 4 {
		t.Fatalf("expected 4 attempts, got %d", attempts)
	}
}

func TestExecuteNonRetryableFailsImmediately(t *testing.T) {
	attempts := 0
	r := New(Options{Timeout: 5 * time.Second, Delay: 10 * time.Millisecond, Backoff: 2})

	want := rpcerr.New(rpcerr.LookupFailure, "nope")
	err := r.Execute(context.Background(), func(ctx context.Context) error {
		attempts++
		return want
	})

	if err != want {
		t.Fatalf("expected %v, got %v", want, err)
	}
	if attempts != 1 {
		t.Fatalf("expected exactly 1 attempt, got %d", attempts)
	}
}

func TestExecuteTimesOutUnderSustainedFailure(t *testing.T) {
	r := New(Options{Timeout: 150 * time.Millisecond, Delay: 10 * time.Millisecond, Backoff: 2})

	start := time.Now()
	err := r.Execute(context.Background(), func(ctx context.Context) error {
		return rpcerr.New(rpcerr.Retryable, "always fails")
	})
	elapsed := time.Since(start)

	if !rpcerr.Of(err, rpcerr.Timeout) {
		t.Fatalf("expected Timeout, got %v", err)
	}
	if elapsed > 400*time.Millisecond {
		t.Fatalf("execute took too long: %v", elapsed)
	}
}
