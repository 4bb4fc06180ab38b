package retry

import (
	"context"
	"sync"
	"time"

	"github.com/datasync/engine/internal/models"
)

// Scheduler executes operations with retries, backoff and per-category
// circuit breaking. Backoff sleeps are the only intentional suspensions
// and are cancelled immediately when ctx is done.
type Scheduler struct {
	policy  Policy
	breaker BreakerConfig

	mu       sync.Mutex
	breakers map[string]*Breaker

	// test seams
	sleep     func(ctx context.Context, d time.Duration) error
	randInt63 func(int64) int64
}

// NewScheduler creates a scheduler with the given retry policy and
// breaker configuration
func NewScheduler(policy Policy, breaker BreakerConfig) *Scheduler {
	return &Scheduler{
		policy:    policy,
		breaker:   breaker,
		breakers:  make(map[string]*Breaker),
		sleep:     sleepCtx,
		randInt63: defaultRandInt63n,
	}
}

// Execute runs fn under the scheduler's policy. category selects the
// circuit breaker (typically "push" or "pull"). Non-retryable errors
// return immediately; retryable ones consume attempts with backoff in
// between. The last error is returned when the attempt budget runs out.
func (s *Scheduler) Execute(ctx context.Context, category string, fn func(ctx context.Context) error) error {
	breaker := s.breakerFor(category)
	retryable := s.policy.Retryable
	if retryable == nil {
		retryable = models.IsTransient
	}

	if !breaker.Allow() {
		return models.NewTransientError(ErrCircuitOpen)
	}

	var lastErr error
	for attempt := 0; attempt < s.policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			breaker.Success()
			return nil
		}
		if !retryable(lastErr) {
			// Terminal for this operation; not evidence of endpoint health.
			return lastErr
		}
		breaker.Failure()

		if !breaker.Allow() {
			// Tripped mid-sequence: stop burning attempts.
			return lastErr
		}
		if attempt < s.policy.MaxAttempts-1 {
			if err := s.sleep(ctx, s.policy.Delay(attempt, s.randInt63)); err != nil {
				return err
			}
		}
	}
	return lastErr
}

// BreakerState reports the breaker state for a category
func (s *Scheduler) BreakerState(category string) BreakerState {
	return s.breakerFor(category).State()
}

func (s *Scheduler) breakerFor(category string) *Breaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.breakers[category]
	if !ok {
		b = NewBreaker(s.breaker)
		s.breakers[category] = b
	}
	return b
}

// sleepCtx sleeps for d or until ctx is cancelled
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
