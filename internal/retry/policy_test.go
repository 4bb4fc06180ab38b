package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDelayExponentialJitterBounds(t *testing.T) {
	policy := Policy{
		MaxAttempts: 10,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    30 * time.Second,
		Strategy:    ExponentialJitter,
	}

	// Fake jitter source that always picks the ceiling minus one, so the
	// reported delay exposes the upper bound.
	maxJitter := func(n int64) int64 { return n - 1 }

	cases := []struct {
		attempt int
		ceiling time.Duration
	}{
		{0, 500 * time.Millisecond},
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second},  // capped
		{40, 30 * time.Second}, // shift overflow capped
	}
	for _, tc := range cases {
		d := policy.Delay(tc.attempt, maxJitter)
		assert.Less(t, d, tc.ceiling, "attempt %d", tc.attempt)
		assert.GreaterOrEqual(t, d, tc.ceiling-time.Millisecond, "attempt %d", tc.attempt)
	}

	// The low end of the jitter range is zero.
	assert.Equal(t, time.Duration(0), policy.Delay(3, func(int64) int64 { return 0 }))
}

func TestDelayFixedAndLinear(t *testing.T) {
	fixed := Policy{BaseDelay: time.Second, MaxDelay: 30 * time.Second, Strategy: Fixed}
	assert.Equal(t, time.Second, fixed.Delay(0, nil))
	assert.Equal(t, time.Second, fixed.Delay(7, nil))

	linear := Policy{BaseDelay: time.Second, MaxDelay: 3 * time.Second, Strategy: Linear}
	assert.Equal(t, time.Second, linear.Delay(0, nil))
	assert.Equal(t, 2*time.Second, linear.Delay(1, nil))
	assert.Equal(t, 3*time.Second, linear.Delay(5, nil)) // capped
}
