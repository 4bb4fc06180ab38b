package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datasync/engine/internal/models"
)

func newTestScheduler(policy Policy, breaker BreakerConfig) (*Scheduler, *[]time.Duration) {
	s := NewScheduler(policy, breaker)
	var sleeps []time.Duration
	s.sleep = func(ctx context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return ctx.Err()
	}
	s.randInt63 = func(n int64) int64 { return n - 1 }
	return s, &sleeps
}

func TestSchedulerRetriesTransientErrors(t *testing.T) {
	s, sleeps := newTestScheduler(
		Policy{MaxAttempts: 4, BaseDelay: time.Second, MaxDelay: 30 * time.Second, Strategy: ExponentialJitter},
		BreakerConfig{Threshold: 10, Cooldown: time.Minute, MaxCooldown: 5 * time.Minute},
	)

	calls := 0
	err := s.Execute(context.Background(), "push", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return models.NewTransientError(errors.New("connection refused"))
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Len(t, *sleeps, 2)
	// Exponential ceilings: 1s then 2s, with the fake jitter picking the top.
	assert.Equal(t, time.Second-time.Nanosecond, (*sleeps)[0])
	assert.Equal(t, 2*time.Second-time.Nanosecond, (*sleeps)[1])
}

func TestSchedulerStopsOnNonRetryableError(t *testing.T) {
	s, sleeps := newTestScheduler(
		Policy{MaxAttempts: 4, BaseDelay: time.Second, Strategy: ExponentialJitter},
		BreakerConfig{Threshold: 2, Cooldown: time.Minute, MaxCooldown: 5 * time.Minute},
	)

	rejection := &models.RejectedError{StatusCode: 422, Reason: "schema validation failed"}
	calls := 0
	err := s.Execute(context.Background(), "push", func(ctx context.Context) error {
		calls++
		return rejection
	})

	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, rejection)
	assert.Empty(t, *sleeps)
	// A rejection says nothing about endpoint health.
	assert.Equal(t, BreakerClosed, s.BreakerState("push"))
}

func TestSchedulerExhaustsAttempts(t *testing.T) {
	s, _ := newTestScheduler(
		Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, Strategy: Fixed},
		BreakerConfig{Threshold: 10, Cooldown: time.Minute, MaxCooldown: 5 * time.Minute},
	)

	boom := models.NewTransientError(errors.New("timeout"))
	calls := 0
	err := s.Execute(context.Background(), "pull", func(ctx context.Context) error {
		calls++
		return boom
	})

	assert.Equal(t, 3, calls)
	assert.ErrorIs(t, err, boom)
}

func TestSchedulerBreakerTripsAndRejects(t *testing.T) {
	s, _ := newTestScheduler(
		Policy{MaxAttempts: 5, BaseDelay: time.Millisecond, Strategy: Fixed},
		BreakerConfig{Threshold: 2, Cooldown: time.Minute, MaxCooldown: 5 * time.Minute},
	)

	boom := models.NewTransientError(errors.New("unreachable"))
	calls := 0
	err := s.Execute(context.Background(), "pull", func(ctx context.Context) error {
		calls++
		return boom
	})

	// The breaker trips after two failures and stops the attempt loop.
	assert.Equal(t, 2, calls)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, BreakerOpen, s.BreakerState("pull"))

	// While open, calls are rejected without invoking fn.
	err = s.Execute(context.Background(), "pull", func(ctx context.Context) error {
		calls++
		return nil
	})
	assert.Equal(t, 2, calls)
	assert.True(t, models.IsTransient(err))
	assert.ErrorIs(t, err, ErrCircuitOpen)

	// Categories are independent.
	err = s.Execute(context.Background(), "push", func(ctx context.Context) error { return nil })
	assert.NoError(t, err)
}

func TestSchedulerHonorsContextCancellation(t *testing.T) {
	s := NewScheduler(
		Policy{MaxAttempts: 5, BaseDelay: 10 * time.Second, Strategy: Fixed},
		BreakerConfig{Threshold: 10, Cooldown: time.Minute, MaxCooldown: 5 * time.Minute},
	)

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := s.Execute(ctx, "pull", func(ctx context.Context) error {
		calls++
		return models.NewTransientError(errors.New("timeout"))
	})

	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 5*time.Second, "cancellation must interrupt the backoff sleep")
}
