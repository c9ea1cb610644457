// Package retry runs an operation under an explicit attempt budget with
// exponential backoff. Only errors classified transient are retried.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"reelswap/internal/services"
)

// Budget bounds one retried call.
type Budget struct {
	Attempts int
	Initial  time.Duration
	Max      time.Duration
}

// Option customises Do.
type Option func(*runner)

type runner struct {
	classify func(error) bool
	sleep    func(context.Context, time.Duration) error
	onRetry  func(attempt int, delay time.Duration, err error)
}

// WithClassifier replaces services.IsTransient as the retry predicate.
func WithClassifier(fn func(error) bool) Option {
	return func(r *runner) {
		if fn != nil {
			r.classify = fn
		}
	}
}

// WithSleeper overrides how delays are waited out (tests).
func WithSleeper(fn func(context.Context, time.Duration) error) Option {
	return func(r *runner) {
		if fn != nil {
			r.sleep = fn
		}
	}
}

// OnRetry registers a hook invoked before each retry sleep.
func OnRetry(fn func(attempt int, delay time.Duration, err error)) Option {
	return func(r *runner) {
		r.onRetry = fn
	}
}

// Do calls fn until it succeeds, returns a non-retryable error, the context
// ends, or the budget is spent. The last error is returned wrapped with the
// attempt count when the budget runs out.
func Do(ctx context.Context, budget Budget, fn func(ctx context.Context) error, opts ...Option) error {
	r := runner{classify: services.IsTransient, sleep: sleepContext}
	for _, opt := range opts {
		opt(&r)
	}
	attempts := budget.Attempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return fmt.Errorf("%w (last error: %v)", err, lastErr)
			}
			return err
		}
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if !r.classify(err) || ctx.Err() != nil {
			return err
		}
		if attempt == attempts {
			break
		}
		delay := Delay(budget, attempt, err)
		if r.onRetry != nil {
			r.onRetry(attempt, delay, err)
		}
		if err := r.sleep(ctx, delay); err != nil {
			return fmt.Errorf("%w (last error: %v)", err, lastErr)
		}
	}
	return fmt.Errorf("failed after %d attempts: %w", attempts, lastErr)
}

// Delay returns the wait before the retry following attempt. A Retry-After
// hint carried by err wins over the exponential schedule; both are capped at
// budget.Max.
func Delay(budget Budget, attempt int, err error) time.Duration {
	var hinted interface{ RetryDelay() time.Duration }
	if errors.As(err, &hinted) {
		if hint := hinted.RetryDelay(); hint > 0 {
			return capDelay(hint, budget.Max)
		}
	}
	if budget.Initial <= 0 {
		return 0
	}
	delay := budget.Initial
	for i := 1; i < attempt; i++ {
		if budget.Max > 0 && delay > budget.Max/2 {
			return budget.Max
		}
		delay *= 2
	}
	return capDelay(delay, budget.Max)
}

func capDelay(delay, limit time.Duration) time.Duration {
	if delay < 0 {
		return 0
	}
	if limit > 0 && delay > limit {
		return limit
	}
	return delay
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
