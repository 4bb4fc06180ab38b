package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestBreaker(cfg BreakerConfig) (*Breaker, *time.Time) {
	b := NewBreaker(cfg)
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return clock }
	return b, &clock
}

func TestBreakerOpensAtThreshold(t *testing.T) {
	b, _ := newTestBreaker(BreakerConfig{Threshold: 3, Cooldown: 30 * time.Second, MaxCooldown: 5 * time.Minute})

	for i := 0; i < 2; i++ {
		b.Failure()
		assert.True(t, b.Allow())
	}
	b.Failure()
	assert.Equal(t, BreakerOpen, b.State())
	assert.False(t, b.Allow())
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b, _ := newTestBreaker(BreakerConfig{Threshold: 3, Cooldown: 30 * time.Second, MaxCooldown: 5 * time.Minute})

	b.Failure()
	b.Failure()
	b.Success()
	b.Failure()
	b.Failure()
	assert.Equal(t, BreakerClosed, b.State())
	assert.True(t, b.Allow())
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	t.Run("successful probe closes the circuit", func(t *testing.T) {
		b, clock := newTestBreaker(BreakerConfig{Threshold: 1, Cooldown: 30 * time.Second, MaxCooldown: 5 * time.Minute})

		b.Failure()
		assert.False(t, b.Allow())

		*clock = clock.Add(30 * time.Second)
		assert.True(t, b.Allow())  // the single probe
		assert.False(t, b.Allow()) // concurrent callers rejected
		b.Success()
		assert.Equal(t, BreakerClosed, b.State())
		assert.True(t, b.Allow())
	})

	t.Run("failed probe doubles the cooldown up to the cap", func(t *testing.T) {
		b, clock := newTestBreaker(BreakerConfig{Threshold: 1, Cooldown: 30 * time.Second, MaxCooldown: 2 * time.Minute})

		b.Failure()
		cooldowns := []time.Duration{60 * time.Second, 120 * time.Second, 120 * time.Second}
		wait := 30 * time.Second
		for _, next := range cooldowns {
			*clock = clock.Add(wait)
			assert.True(t, b.Allow())
			b.Failure()
			assert.False(t, b.Allow())
			wait = next
		}

		// Just before the capped cooldown elapses the circuit stays open.
		*clock = clock.Add(2*time.Minute - time.Second)
		assert.False(t, b.Allow())
		*clock = clock.Add(time.Second)
		assert.True(t, b.Allow())
	})
}
