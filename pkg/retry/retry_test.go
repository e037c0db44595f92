package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var errTransient = errors.New("transient")

func alwaysTransient(error) bool { return true }

func TestDo_SucceedsAfterRetries(t *testing.T) {
	policy := Policy{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}

	attempts := 0
	err := Do(context.Background(), policy, alwaysTransient, nil, func() error {
		attempts++
		if attempts < 3 {
			return errTransient
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDo_ExhaustsBudget(t *testing.T) {
	policy := Policy{MaxAttempts: 2, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}

	attempts := 0
	retries := 0
	err := Do(context.Background(), policy, alwaysTransient, func(int, error) { retries++ }, func() error {
		attempts++
		return errTransient
	})

	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 2, attempts)
	assert.Equal(t, 1, retries)
}

func TestDo_NonTransientStopsImmediately(t *testing.T) {
	policy := Policy{MaxAttempts: 5, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}
	permanent := errors.New("permanent")

	attempts := 0
	err := Do(context.Background(), policy, func(e error) bool { return !errors.Is(e, permanent) }, nil, func() error {
		attempts++
		return permanent
	})

	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, attempts)
}

func TestDo_ContextCanceled(t *testing.T) {
	policy := Policy{MaxAttempts: 10, InitialBackoff: 50 * time.Millisecond, MaxBackoff: time.Second}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Do(ctx, policy, alwaysTransient, nil, func() error { return errTransient })
	assert.ErrorIs(t, err, context.Canceled)
}
