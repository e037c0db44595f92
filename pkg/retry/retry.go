// Package retry implements bounded retries with jittered exponential backoff
// for idempotent operations. Mutating calls must never go through this
// package.
package retry

import (
	"context"
	"math/rand"
	"time"
)

// Policy defines how to retry an operation.
type Policy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultPolicy is a sensible default for read calls.
var DefaultPolicy = Policy{
	MaxAttempts:    3,
	InitialBackoff: 100 * time.Millisecond,
	MaxBackoff:     2 * time.Second,
}

// IsTransientFunc reports whether an error is transient and worth retrying.
type IsTransientFunc func(error) bool

// OnRetryFunc is invoked before each retry sleep, with the attempt number
// (1-based) and the error that triggered the retry.
type OnRetryFunc func(attempt int, err error)

// Do executes fn with retries according to the policy. It returns the last
// error when the retry budget is exhausted; it never retries indefinitely.
func Do(ctx context.Context, policy Policy, isTransient IsTransientFunc, onRetry OnRetryFunc, fn func() error) error {
	var err error
	backoff := policy.InitialBackoff

	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err = fn()
		if err == nil {
			return nil
		}

		if !isTransient(err) {
			return err
		}

		if attempt == policy.MaxAttempts-1 {
			break
		}

		if onRetry != nil {
			onRetry(attempt+1, err)
		}

		// Jittered backoff: backoff + random(0, 50% of backoff)
		jitter := time.Duration(rand.Int63n(int64(backoff / 2)))
		sleepTime := backoff + jitter

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleepTime):
			backoff = minDuration(backoff*2, policy.MaxBackoff)
		}
	}

	return err
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
