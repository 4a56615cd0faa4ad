package biz

import (
	"context"
	"time"

	"SpendGuard/internal/conf"
	"SpendGuard/pkg/clock"

	"github.com/go-kratos/kratos/v2/log"
)

// Subscription tiers recognized by the rate limiter and budget monitor.
const (
	TierAnonymous    = "anonymous"
	TierBasic        = "basic"
	TierProfessional = "professional"
	TierBusiness     = "business"
)

// RateLimitPolicy is one row of the endpoint policy table: a window length
// and per-tier request allowances, with DefaultLimit as the fallback for
// unknown tiers.
type RateLimitPolicy struct {
	Endpoint     string
	Window       time.Duration
	DefaultLimit int32
	TierLimits   map[string]int32
}

// limitFor resolves the request allowance for a tier.
func (p *RateLimitPolicy) limitFor(tier string) int32 {
	if limit, ok := p.TierLimits[tier]; ok {
		return limit
	}
	return p.DefaultLimit
}

// RateLimitResult is the outcome of a rate limit check, carrying everything
// the HTTP layer needs for X-RateLimit-Limit/-Remaining/-Reset and
// Retry-After response headers.
type RateLimitResult struct {
	Allowed           bool       `json:"allowed"`
	Endpoint          string     `json:"endpoint"`
	Identity          string     `json:"identity"`
	RequestsMade      int32      `json:"requests_made"`
	RequestsLimit     int32      `json:"requests_limit"`
	RequestsRemaining int32      `json:"requests_remaining"`
	ResetTime         time.Time  `json:"reset_time"`
	BlockedUntil      *time.Time `json:"blocked_until,omitempty"`
	RetryAfter        time.Duration
}

// RateLimiterUseCase throttles inbound requests per endpoint and identity
// using fixed windows aligned to clock boundaries.
//
// Fixed windows permit up to 2x the nominal limit across a window boundary;
// this is a known, accepted tradeoff of the algorithm. Upgrade to sliding
// windows only if a stricter guarantee becomes necessary.
type RateLimiterUseCase struct {
	repo     RateLimitRepo
	policies map[string]*RateLimitPolicy
	fallback *RateLimitPolicy

	retention time.Duration
	clk       clock.Clock
	logger    *log.Helper
}

// NewRateLimiterUseCase creates a rate limiter with the built-in endpoint
// policy table and the config-driven default policy.
func NewRateLimiterUseCase(c *conf.Resilience, repo RateLimitRepo, clk clock.Clock, logger log.Logger) *RateLimiterUseCase {
	defaultLimit := int32(60)
	window := time.Minute
	retentionDays := 7
	if c != nil && c.RateLimit != nil {
		if c.RateLimit.DefaultLimit > 0 {
			defaultLimit = c.RateLimit.DefaultLimit
		}
		if c.RateLimit.Window != nil && c.RateLimit.Window.AsDuration() > 0 {
			window = c.RateLimit.Window.AsDuration()
		}
		if c.RateLimit.RetentionDays > 0 {
			retentionDays = int(c.RateLimit.RetentionDays)
		}
	}

	return &RateLimiterUseCase{
		repo:      repo,
		policies:  defaultPolicyTable(window),
		fallback:  defaultPolicy(window, defaultLimit),
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		clk:       clk,
		logger:    log.NewHelper(logger),
	}
}

// defaultPolicyTable is the per-endpoint policy table. Content generation is
// the expensive path and gets the tightest allowances.
func defaultPolicyTable(window time.Duration) map[string]*RateLimitPolicy {
	return map[string]*RateLimitPolicy{
		"/v1/campaigns": {
			Endpoint:     "/v1/campaigns",
			Window:       window,
			DefaultLimit: 30,
			TierLimits: map[string]int32{
				TierAnonymous:    5,
				TierBasic:        30,
				TierProfessional: 120,
				TierBusiness:     300,
			},
		},
		"/v1/content/generate": {
			Endpoint:     "/v1/content/generate",
			Window:       window,
			DefaultLimit: 10,
			TierLimits: map[string]int32{
				TierAnonymous:    2,
				TierBasic:        10,
				TierProfessional: 40,
				TierBusiness:     100,
			},
		},
		"/v1/uploads": {
			Endpoint:     "/v1/uploads",
			Window:       window,
			DefaultLimit: 20,
			TierLimits: map[string]int32{
				TierAnonymous:    3,
				TierBasic:        20,
				TierProfessional: 60,
				TierBusiness:     150,
			},
		},
		"/v1/reports": {
			Endpoint:     "/v1/reports",
			Window:       window,
			DefaultLimit: 60,
			TierLimits: map[string]int32{
				TierAnonymous:    10,
				TierBasic:        60,
				TierProfessional: 240,
				TierBusiness:     600,
			},
		},
	}
}

func defaultPolicy(window time.Duration, limit int32) *RateLimitPolicy {
	return &RateLimitPolicy{
		Endpoint:     "*",
		Window:       window,
		DefaultLimit: limit,
		TierLimits: map[string]int32{
			TierAnonymous:    limit / 4,
			TierBasic:        limit,
			TierProfessional: limit * 4,
			TierBusiness:     limit * 10,
		},
	}
}

// PolicyFor returns the policy row for an endpoint, falling back to the
// default policy for endpoints without an explicit entry.
func (uc *RateLimiterUseCase) PolicyFor(endpoint string) *RateLimitPolicy {
	if p, ok := uc.policies[endpoint]; ok {
		return p
	}
	return uc.fallback
}

// CheckAndIncrement admits or rejects one request for (endpoint, identity).
//
// The window is a fixed window: windowStart = now truncated to the policy
// window length. The storage layer performs the atomic check-then-increment.
// Storage failure degrades gracefully: the request is allowed and a warning
// logged, matching the availability-over-strictness posture of the rest of
// the platform.
func (uc *RateLimiterUseCase) CheckAndIncrement(ctx context.Context, endpoint, identity, tier string) (*RateLimitResult, error) {
	policy := uc.PolicyFor(endpoint)
	limit := policy.limitFor(tier)

	now := uc.clk.Now()
	windowStart := now.Truncate(policy.Window)
	resetTime := windowStart.Add(policy.Window)

	window, allowed, err := uc.repo.IncrementWindow(ctx, endpoint, identity, windowStart, policy.Window, limit)
	if err != nil {
		uc.logger.Warnf("rate limit store failed for %s on %s: %v (request allowed)", identity, endpoint, err)
		return &RateLimitResult{
			Allowed:           true,
			Endpoint:          endpoint,
			Identity:          identity,
			RequestsLimit:     limit,
			RequestsRemaining: limit,
			ResetTime:         resetTime,
		}, nil
	}

	result := &RateLimitResult{
		Allowed:       allowed,
		Endpoint:      endpoint,
		Identity:      identity,
		RequestsMade:  window.RequestsMade,
		RequestsLimit: window.RequestsLimit,
		ResetTime:     resetTime,
	}

	if allowed {
		remaining := window.RequestsLimit - window.RequestsMade
		if remaining < 0 {
			remaining = 0
		}
		result.RequestsRemaining = remaining
		return result, nil
	}

	result.BlockedUntil = window.BlockedUntil
	if window.BlockedUntil != nil {
		retryAfter := window.BlockedUntil.Sub(now)
		if retryAfter < 0 {
			retryAfter = 0
		}
		result.RetryAfter = retryAfter
	}

	uc.logger.Warnw("rate limit exceeded",
		"endpoint", endpoint,
		"identity", identity,
		"tier", tier,
		"requests_made", window.RequestsMade,
		"limit", window.RequestsLimit)

	return result, nil
}

// Inspect reports the current window state for (endpoint, identity) without
// consuming a request. Used by the inspection endpoint.
func (uc *RateLimiterUseCase) Inspect(ctx context.Context, endpoint, identity, tier string) (*RateLimitResult, error) {
	policy := uc.PolicyFor(endpoint)
	limit := policy.limitFor(tier)

	now := uc.clk.Now()
	windowStart := now.Truncate(policy.Window)
	resetTime := windowStart.Add(policy.Window)

	window, err := uc.repo.GetWindow(ctx, endpoint, identity, windowStart)
	if err != nil {
		return nil, err
	}

	result := &RateLimitResult{
		Allowed:           true,
		Endpoint:          endpoint,
		Identity:          identity,
		RequestsLimit:     limit,
		RequestsRemaining: limit,
		ResetTime:         resetTime,
	}
	if window == nil {
		return result, nil
	}

	result.RequestsMade = window.RequestsMade
	result.RequestsLimit = window.RequestsLimit
	remaining := window.RequestsLimit - window.RequestsMade
	if remaining < 0 {
		remaining = 0
	}
	result.RequestsRemaining = remaining
	if window.IsBlocked {
		result.Allowed = false
		result.BlockedUntil = window.BlockedUntil
	}

	return result, nil
}

// ExceededError builds the typed rejection error for a blocked result.
func (uc *RateLimiterUseCase) ExceededError(result *RateLimitResult) *RateLimitExceededError {
	e := &RateLimitExceededError{
		Endpoint:     result.Endpoint,
		Identity:     result.Identity,
		RequestsMade: result.RequestsMade,
		Limit:        result.RequestsLimit,
		ResetTime:    result.ResetTime,
	}
	if result.BlockedUntil != nil {
		e.BlockedUntil = *result.BlockedUntil
	}
	return e
}

// PurgeStale removes window rows older than the configured retention.
// Called by the daily cleanup cron.
func (uc *RateLimiterUseCase) PurgeStale(ctx context.Context) (int64, error) {
	cutoff := uc.clk.Now().Add(-uc.retention)
	purged, err := uc.repo.PurgeBefore(ctx, cutoff)
	if err != nil {
		uc.logger.Errorw("rate limit window purge failed", "cutoff", cutoff, "error", err)
		return 0, err
	}
	if purged > 0 {
		uc.logger.Infow("rate limit windows purged", "count", purged, "cutoff", cutoff)
	}
	return purged, nil
}
