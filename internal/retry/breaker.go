package retry

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned without attempting the call while a
// category's breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker open")

// BreakerState is the circuit breaker's current disposition
type BreakerState string

// Breaker states
const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// BreakerConfig controls when a breaker trips and how long it stays open
type BreakerConfig struct {
	// Threshold is the number of consecutive failures that opens the circuit
	Threshold int
	// Cooldown is the base open interval before a probe is allowed
	Cooldown time.Duration
	// MaxCooldown caps the cooldown growth from repeated probe failures
	MaxCooldown time.Duration
}

// DefaultBreakerConfig returns the breaker defaults
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Threshold:   5,
		Cooldown:    30 * time.Second,
		MaxCooldown: 5 * time.Minute,
	}
}

// Breaker is a circuit breaker for one endpoint category.
//
// Closed counts consecutive failures; at Threshold it opens and rejects
// calls for the cooldown window. The first call after the window runs as
// a half-open probe: success closes the circuit, failure re-opens it
// with the cooldown doubled (up to MaxCooldown).
type Breaker struct {
	mu       sync.Mutex
	config   BreakerConfig
	state    BreakerState
	failures int
	cooldown time.Duration
	openedAt time.Time
	now      func() time.Time
}

// NewBreaker creates a closed breaker
func NewBreaker(config BreakerConfig) *Breaker {
	if config.Threshold <= 0 {
		config.Threshold = DefaultBreakerConfig().Threshold
	}
	if config.Cooldown <= 0 {
		config.Cooldown = DefaultBreakerConfig().Cooldown
	}
	if config.MaxCooldown <= 0 {
		config.MaxCooldown = DefaultBreakerConfig().MaxCooldown
	}
	return &Breaker{
		config:   config,
		state:    BreakerClosed,
		cooldown: config.Cooldown,
		now:      time.Now,
	}
}

// State returns the breaker's current state, accounting for elapsed cooldown
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerOpen && b.now().Sub(b.openedAt) >= b.cooldown {
		return BreakerHalfOpen
	}
	return b.state
}

// Allow reports whether a call may proceed. In the half-open state it
// admits exactly one probe; concurrent callers are rejected until the
// probe reports back.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return true
	case BreakerOpen:
		if b.now().Sub(b.openedAt) >= b.cooldown {
			b.state = BreakerHalfOpen
			return true
		}
		return false
	default: // half-open, probe already in flight
		return false
	}
}

// Success records a successful call
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = BreakerClosed
	b.failures = 0
	b.cooldown = b.config.Cooldown
}

// Failure records a failed call, possibly opening the circuit
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerHalfOpen {
		// Probe failed: re-open with extended cooldown.
		b.cooldown *= 2
		if b.cooldown > b.config.MaxCooldown {
			b.cooldown = b.config.MaxCooldown
		}
		b.state = BreakerOpen
		b.openedAt = b.now()
		return
	}

	b.failures++
	if b.failures >= b.config.Threshold {
		b.state = BreakerOpen
		b.openedAt = b.now()
	}
}
