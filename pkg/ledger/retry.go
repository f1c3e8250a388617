package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// RetryPolicy bounds automatic retries on account version conflicts.
type RetryPolicy struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// DefaultRetryPolicy retries five times with 10ms exponential backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		BaseBackoff: 10 * time.Millisecond,
		MaxBackoff:  500 * time.Millisecond,
	}
}

func (policy RetryPolicy) validate() error {
	if policy.MaxAttempts < 1 {
		return fmt.Errorf("%w: retry attempts must be positive", ErrInvalidEngineConfig)
	}
	if policy.BaseBackoff <= 0 || policy.MaxBackoff < policy.BaseBackoff {
		return fmt.Errorf("%w: invalid retry backoff", ErrInvalidEngineConfig)
	}
	return nil
}

// delay returns the backoff before retry attempt (0-based) with jitter.
func (policy RetryPolicy) delay(attempt int) time.Duration {
	backoff := policy.BaseBackoff << uint(attempt)
	if backoff > policy.MaxBackoff || backoff <= 0 {
		backoff = policy.MaxBackoff
	}
	jitter := time.Duration(rand.Int63n(int64(backoff)/2 + 1))
	return backoff + jitter
}

// runWithRetry executes fn until it succeeds, fails with a non-contention
// error, or the policy is exhausted. Exhaustion surfaces as ErrContention so
// callers can distinguish a retryable service condition from a hard failure.
func (engine *Engine) runWithRetry(ctx context.Context, fn func() error) (int, error) {
	var err error
	for attempt := 0; attempt < engine.retry.MaxAttempts; attempt++ {
		err = fn()
		if !errors.Is(err, ErrVersionConflict) {
			return attempt + 1, err
		}
		timer := time.NewTimer(engine.retry.delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return attempt + 1, ctx.Err()
		case <-timer.C:
		}
	}
	return engine.retry.MaxAttempts, fmt.Errorf("%w: %v", ErrContention, err)
}
