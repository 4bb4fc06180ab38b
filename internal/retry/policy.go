// Package retry executes network operations under a resilience policy:
// bounded retries with configurable backoff, and a per-category circuit
// breaker that stops hammering an endpoint that keeps failing.
//
// The package knows nothing about sync semantics. Callers decide which
// errors are retryable; by default only transient network failures are.
package retry

import (
	"math/rand"
	"time"
)

// Strategy selects how the delay grows between attempts
type Strategy string

// Backoff strategies
const (
	Fixed             Strategy = "fixed"
	Linear            Strategy = "linear"
	ExponentialJitter Strategy = "exponential_jitter"
)

// Policy controls retry behavior for one category of operations
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Strategy    Strategy

	// Retryable decides whether an error is worth another attempt.
	// Nil means models.IsTransient.
	Retryable func(error) bool
}

// DefaultPolicy returns exponential backoff with jitter, five attempts
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 5,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    30 * time.Second,
		Strategy:    ExponentialJitter,
	}
}

// Delay computes the backoff before attempt k (0-based), using randInt63n
// as the jitter source. For ExponentialJitter the result is uniform in
// [0, min(MaxDelay, BaseDelay*2^k)].
func (p Policy) Delay(attempt int, randInt63n func(int64) int64) time.Duration {
	switch p.Strategy {
	case Fixed:
		return p.cap(p.BaseDelay)
	case Linear:
		return p.cap(p.BaseDelay * time.Duration(attempt+1))
	default:
		ceiling := p.cap(p.BaseDelay << uint(attempt))
		if ceiling <= 0 {
			return 0
		}
		return time.Duration(randInt63n(int64(ceiling)))
	}
}

func (p Policy) cap(d time.Duration) time.Duration {
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	// Shift overflow guard for large attempt counts.
	if d < 0 {
		return p.MaxDelay
	}
	return d
}

func defaultRandInt63n(n int64) int64 {
	return rand.Int63n(n)
}
