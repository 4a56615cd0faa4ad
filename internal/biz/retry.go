package biz

import (
	"context"
	"time"

	"github.com/go-kratos/kratos/v2/log"
)

// CallFunc is an attempt against an external dependency.
type CallFunc func(ctx context.Context) (interface{}, error)

// RetryExecutor wraps calls to flaky external dependencies. It consults the
// named circuit breaker before each attempt, classifies failures, and either
// backs off and retries or propagates the error. Every failed attempt is
// reported to the breaker, not only the last one.
type RetryExecutor struct {
	registry *CircuitBreakerRegistry
	logger   *log.Helper

	// sleep is swapped out in tests to observe backoff without waiting.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRetryExecutor creates a retry executor bound to a breaker registry.
func NewRetryExecutor(registry *CircuitBreakerRegistry, logger log.Logger) *RetryExecutor {
	return &RetryExecutor{
		registry: registry,
		logger:   log.NewHelper(logger),
		sleep:    sleepCtx,
	}
}

// Execute invokes fn up to maxAttempts times through the named breaker.
//
// When the breaker rejects the call: the fallback is invoked and returned if
// one was supplied, otherwise a CircuitBreakerOpenError carrying the
// remaining cooldown is returned. The open-circuit error is never retried
// here; the breaker already encodes "don't bother".
//
// The inter-attempt sleep is the only suspension point; ctx cancellation
// interrupts it and aborts the remaining attempts.
func (e *RetryExecutor) Execute(ctx context.Context, breakerName string, maxAttempts int, fn CallFunc, fallback CallFunc) (interface{}, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	breaker := e.registry.GetOrCreate(breakerName)

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if !breaker.CanExecute() {
			if fallback != nil {
				e.logger.Warnw("circuit open, using fallback",
					"circuit", breakerName,
					"retry_after", breaker.RetryAfter())
				return fallback(ctx)
			}
			return nil, &CircuitBreakerOpenError{
				CircuitName: breakerName,
				RetryAfter:  breaker.RetryAfter(),
			}
		}

		result, err := fn(ctx)
		if err == nil {
			breaker.RecordSuccess()
			return result, nil
		}

		lastErr = err
		breaker.RecordFailure(err)

		c := ClassifyError(err, attempt)
		if !c.ShouldRetry || attempt >= maxAttempts-1 {
			e.logger.Errorw("call failed, giving up",
				"circuit", breakerName,
				"kind", string(c.Kind),
				"attempt", attempt+1,
				"max_attempts", maxAttempts,
				"error", err)
			return nil, err
		}

		e.logger.Warnw("call failed, retrying",
			"circuit", breakerName,
			"kind", string(c.Kind),
			"attempt", attempt+1,
			"max_attempts", maxAttempts,
			"delay", c.Delay,
			"error", err)

		if err := e.sleep(ctx, c.Delay); err != nil {
			// Cancelled mid-backoff: abort remaining attempts.
			return nil, err
		}
	}

	return nil, lastErr
}

// sleepCtx sleeps for d or until ctx is cancelled, whichever comes first.
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
