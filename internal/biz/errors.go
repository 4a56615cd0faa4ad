package biz

import (
	"fmt"
	"time"

	"github.com/go-kratos/kratos/v2/errors"
)

// CircuitBreakerOpenError is returned when a call is rejected because the
// named circuit is open. It is never retried by the RetryExecutor itself;
// the breaker already encodes "don't bother". RetryAfter is the remaining
// cooldown before the circuit will admit a probe.
type CircuitBreakerOpenError struct {
	CircuitName string
	RetryAfter  time.Duration
}

// Error implements the error interface.
func (e *CircuitBreakerOpenError) Error() string {
	return fmt.Sprintf("circuit breaker %q is open, retry after %s", e.CircuitName, e.RetryAfter)
}

// RateLimitExceededError is returned when an inbound request is rejected by
// the rate limiter. It carries enough data for the caller to render
// Retry-After and X-RateLimit-* headers.
type RateLimitExceededError struct {
	Endpoint     string
	Identity     string
	RequestsMade int32
	Limit        int32
	ResetTime    time.Time
	BlockedUntil time.Time
}

// Error implements the error interface.
func (e *RateLimitExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s on %s: %d/%d, blocked until %s",
		e.Identity, e.Endpoint, e.RequestsMade, e.Limit, e.BlockedUntil.Format(time.RFC3339))
}

// BudgetExceededError is raised when a spend would push a campaign past its
// budget. Callers render add-funds guidance from it.
type BudgetExceededError struct {
	UserID          int64
	CampaignID      int64
	CurrentSpending float64
	BudgetLimit     float64
}

// Error implements the error interface.
func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("campaign %d budget exceeded: spent %.2f of %.2f", e.CampaignID, e.CurrentSpending, e.BudgetLimit)
}

// InsufficientFundsError is raised when a spend would push a user past the
// monthly allowance of their subscription tier. Callers render tier-upgrade
// guidance from it, as opposed to the add-funds guidance of BudgetExceededError.
type InsufficientFundsError struct {
	UserID       int64
	Tier         string
	MonthlySpend float64
	MonthlyLimit float64
}

// Error implements the error interface.
func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("user %d monthly tier limit reached: spent %.2f of %.2f (%s)",
		e.UserID, e.MonthlySpend, e.MonthlyLimit, e.Tier)
}

// NewRateLimitTransportError converts a RateLimitExceededError into a kratos
// HTTP 429 error for the transport layer.
func NewRateLimitTransportError(e *RateLimitExceededError) error {
	return errors.New(
		429,
		"RATE_LIMIT_EXCEEDED",
		e.Error(),
	)
}
