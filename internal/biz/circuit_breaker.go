package biz

import (
	"context"
	"sync"
	"time"

	"SpendGuard/internal/conf"
	"SpendGuard/internal/model"
	"SpendGuard/pkg/clock"

	"github.com/go-kratos/kratos/v2/log"
)

// BreakerState is the circuit breaker state.
type BreakerState int32

const (
	// StateClosed admits all calls and tracks failures.
	StateClosed BreakerState = iota
	// StateOpen rejects calls until the cooldown elapses.
	StateOpen
	// StateHalfOpen tentatively admits trial calls to test recovery.
	StateHalfOpen
)

// String returns the string representation of the state.
func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// BreakerSettings configures a single circuit breaker.
type BreakerSettings struct {
	// FailureThreshold is the consecutive failure count that trips CLOSED → OPEN.
	FailureThreshold int
	// SuccessThreshold is the probe success count that closes a HALF_OPEN circuit.
	SuccessThreshold int
	// Timeout is the cooldown before an OPEN circuit admits probes.
	Timeout time.Duration
	// MaxProbes bounds trial calls admitted while HALF_OPEN. 0 admits every
	// call once probing begins, which matches the reference behavior.
	MaxProbes int
	// IsFailure decides whether an error counts against the circuit.
	// nil counts every error.
	IsFailure func(error) bool
}

// BreakerSnapshot is a point-in-time export of breaker state.
type BreakerSnapshot struct {
	Name            string        `json:"name"`
	State           string        `json:"state"`
	FailureCount    int           `json:"failure_count"`
	SuccessCount    int           `json:"success_count"`
	LastFailureTime time.Time     `json:"last_failure_time"`
	RetryAfter      time.Duration `json:"retry_after"`
}

// CircuitBreaker guards calls to one named external dependency. All state
// transitions happen under the per-instance mutex; the only mutation points
// are CanExecute, RecordSuccess and RecordFailure.
//
// Reachable transitions: CLOSED→OPEN (failure threshold), OPEN→HALF_OPEN
// (time-gated), HALF_OPEN→CLOSED (success threshold), HALF_OPEN→OPEN
// (any failure).
type CircuitBreaker struct {
	name     string
	settings BreakerSettings
	clk      clock.Clock

	// onStateChange is invoked outside the lock after a transition.
	onStateChange func(name string, from, to BreakerState, snap BreakerSnapshot)

	mu              sync.Mutex
	state           BreakerState
	failureCount    int
	successCount    int
	probes          int
	lastFailureTime time.Time
	openedAt        time.Time
}

// NewCircuitBreaker creates a breaker in the CLOSED state. Most callers go
// through the registry instead.
func NewCircuitBreaker(name string, settings BreakerSettings, clk clock.Clock) *CircuitBreaker {
	return &CircuitBreaker{
		name:     name,
		settings: settings,
		clk:      clk,
		state:    StateClosed,
	}
}

// Name returns the breaker's dependency name.
func (b *CircuitBreaker) Name() string {
	return b.name
}

// CanExecute reports whether a call may proceed.
// CLOSED always admits. OPEN rejects until the cooldown elapses, at which
// point the circuit moves to HALF_OPEN and the call is admitted as a probe.
// HALF_OPEN admits trial calls (bounded by MaxProbes when configured).
func (b *CircuitBreaker) CanExecute() bool {
	b.mu.Lock()

	switch b.state {
	case StateClosed:
		b.mu.Unlock()
		return true

	case StateOpen:
		if b.clk.Now().Sub(b.lastFailureTime) >= b.settings.Timeout {
			from := b.state
			b.state = StateHalfOpen
			b.successCount = 0
			b.probes = 1
			snap := b.snapshotLocked()
			b.mu.Unlock()
			b.notify(from, StateHalfOpen, snap)
			return true
		}
		b.mu.Unlock()
		return false

	case StateHalfOpen:
		if b.settings.MaxProbes > 0 && b.probes >= b.settings.MaxProbes {
			b.mu.Unlock()
			return false
		}
		b.probes++
		b.mu.Unlock()
		return true

	default:
		b.mu.Unlock()
		return false
	}
}

// RecordSuccess reports a successful call. The consecutive failure count is
// reset unconditionally; while HALF_OPEN, enough successes close the circuit.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()

	b.failureCount = 0

	if b.state == StateHalfOpen {
		b.successCount++
		if b.successCount >= b.settings.SuccessThreshold {
			from := b.state
			b.state = StateClosed
			b.probes = 0
			snap := b.snapshotLocked()
			b.mu.Unlock()
			b.notify(from, StateClosed, snap)
			return
		}
	}

	b.mu.Unlock()
}

// RecordFailure reports a failed call. Errors rejected by IsFailure do not
// count. A failure while HALF_OPEN reopens the circuit immediately; while
// CLOSED, reaching the failure threshold trips it open.
func (b *CircuitBreaker) RecordFailure(err error) {
	if b.settings.IsFailure != nil && !b.settings.IsFailure(err) {
		return
	}

	b.mu.Lock()

	b.failureCount++
	b.lastFailureTime = b.clk.Now()

	switch b.state {
	case StateHalfOpen:
		from := b.state
		b.state = StateOpen
		b.successCount = 0
		b.probes = 0
		b.openedAt = b.lastFailureTime
		snap := b.snapshotLocked()
		b.mu.Unlock()
		b.notify(from, StateOpen, snap)
		return

	case StateClosed:
		if b.failureCount >= b.settings.FailureThreshold {
			from := b.state
			b.state = StateOpen
			b.openedAt = b.lastFailureTime
			snap := b.snapshotLocked()
			b.mu.Unlock()
			b.notify(from, StateOpen, snap)
			return
		}
	}

	b.mu.Unlock()
}

// RetryAfter returns the remaining cooldown of an OPEN circuit, zero otherwise.
func (b *CircuitBreaker) RetryAfter() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.retryAfterLocked()
}

func (b *CircuitBreaker) retryAfterLocked() time.Duration {
	if b.state != StateOpen {
		return 0
	}
	remaining := b.settings.Timeout - b.clk.Now().Sub(b.lastFailureTime)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// State returns the current state.
func (b *CircuitBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot exports the breaker state for health reporting.
func (b *CircuitBreaker) Snapshot() BreakerSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshotLocked()
}

func (b *CircuitBreaker) snapshotLocked() BreakerSnapshot {
	return BreakerSnapshot{
		Name:            b.name,
		State:           b.state.String(),
		FailureCount:    b.failureCount,
		SuccessCount:    b.successCount,
		LastFailureTime: b.lastFailureTime,
		RetryAfter:      b.retryAfterLocked(),
	}
}

// reset forces the breaker back to CLOSED and zeroes all counters.
// Admin action only; recovery normally goes through HALF_OPEN probing.
func (b *CircuitBreaker) reset() {
	b.mu.Lock()
	from := b.state
	b.state = StateClosed
	b.failureCount = 0
	b.successCount = 0
	b.probes = 0
	b.lastFailureTime = time.Time{}
	b.openedAt = time.Time{}
	snap := b.snapshotLocked()
	b.mu.Unlock()

	if from != StateClosed {
		b.notify(from, StateClosed, snap)
	}
}

func (b *CircuitBreaker) notify(from, to BreakerState, snap BreakerSnapshot) {
	if b.onStateChange != nil {
		b.onStateChange(b.name, from, to, snap)
	}
}

// Registry health status values.
const (
	HealthStatusHealthy    = "HEALTHY"
	HealthStatusDegraded   = "DEGRADED"
	HealthStatusRecovering = "RECOVERING"
)

// HealthSummary aggregates the state of all registered breakers.
type HealthSummary struct {
	Total            int      `json:"total"`
	Healthy          int      `json:"healthy"`
	Open             int      `json:"open"`
	Recovering       int      `json:"recovering"`
	HealthPercentage float64  `json:"health_percentage"`
	OpenCircuits     []string `json:"open_circuits"`
	OverallStatus    string   `json:"overall_status"`
}

// CircuitBreakerRegistry owns every breaker in the process. Breakers are
// created lazily, live for the process lifetime and are reset only through
// explicit admin action. The registry is constructed once at startup and
// passed by dependency injection; there is no package-level instance.
type CircuitBreakerRegistry struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker

	defaults BreakerSettings
	clk      clock.Clock
	webhook  WebhookService
	logger   *log.Helper
}

// NewCircuitBreakerRegistry creates a registry with defaults from config.
func NewCircuitBreakerRegistry(c *conf.Resilience, webhook WebhookService, clk clock.Clock, logger log.Logger) *CircuitBreakerRegistry {
	defaults := BreakerSettings{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          60 * time.Second,
	}
	if c != nil && c.Breaker != nil {
		if c.Breaker.FailureThreshold > 0 {
			defaults.FailureThreshold = int(c.Breaker.FailureThreshold)
		}
		if c.Breaker.SuccessThreshold > 0 {
			defaults.SuccessThreshold = int(c.Breaker.SuccessThreshold)
		}
		if c.Breaker.Timeout != nil && c.Breaker.Timeout.AsDuration() > 0 {
			defaults.Timeout = c.Breaker.Timeout.AsDuration()
		}
		defaults.MaxProbes = int(c.Breaker.MaxProbes)
	}

	return &CircuitBreakerRegistry{
		breakers: make(map[string]*CircuitBreaker),
		defaults: defaults,
		clk:      clk,
		webhook:  webhook,
		logger:   log.NewHelper(logger),
	}
}

// GetOrCreate returns the breaker for name, creating it with default
// settings on first use. Idempotent.
func (r *CircuitBreakerRegistry) GetOrCreate(name string) *CircuitBreaker {
	return r.GetOrCreateWith(name, r.defaults)
}

// GetOrCreateWith returns the breaker for name, creating it with the given
// settings on first use. Settings of an existing breaker are not changed.
func (r *CircuitBreakerRegistry) GetOrCreateWith(name string, settings BreakerSettings) *CircuitBreaker {
	r.mu.RLock()
	b, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[name]; ok {
		return b
	}

	b = NewCircuitBreaker(name, settings, r.clk)
	b.onStateChange = r.handleStateChange
	r.breakers[name] = b

	r.logger.Debugw("circuit breaker created",
		"circuit", name,
		"failure_threshold", settings.FailureThreshold,
		"success_threshold", settings.SuccessThreshold,
		"timeout", settings.Timeout)

	return b
}

// GetAllStates returns a snapshot of every registered breaker.
func (r *CircuitBreakerRegistry) GetAllStates() map[string]BreakerSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	states := make(map[string]BreakerSnapshot, len(r.breakers))
	for name, b := range r.breakers {
		states[name] = b.Snapshot()
	}
	return states
}

// ResetManually forces the named breaker back to CLOSED.
// Returns false if no breaker with that name exists.
func (r *CircuitBreakerRegistry) ResetManually(name string) bool {
	r.mu.RLock()
	b, ok := r.breakers[name]
	r.mu.RUnlock()
	if !ok {
		return false
	}

	b.reset()
	r.logger.Infow("circuit breaker manually reset", "circuit", name)
	return true
}

// GetHealthSummary aggregates breaker health for the operational endpoint.
// HEALTHY when every circuit is closed, DEGRADED when any is open,
// RECOVERING when the worst state is half-open.
func (r *CircuitBreakerRegistry) GetHealthSummary() *HealthSummary {
	states := r.GetAllStates()

	summary := &HealthSummary{
		Total:        len(states),
		OpenCircuits: []string{},
	}

	for name, snap := range states {
		switch snap.State {
		case StateOpen.String():
			summary.Open++
			summary.OpenCircuits = append(summary.OpenCircuits, name)
		case StateHalfOpen.String():
			summary.Recovering++
		default:
			summary.Healthy++
		}
	}

	if summary.Total > 0 {
		summary.HealthPercentage = float64(summary.Healthy) / float64(summary.Total) * 100
	} else {
		summary.HealthPercentage = 100
	}

	switch {
	case summary.Open > 0:
		summary.OverallStatus = HealthStatusDegraded
	case summary.Recovering > 0:
		summary.OverallStatus = HealthStatusRecovering
	default:
		summary.OverallStatus = HealthStatusHealthy
	}

	return summary
}

// handleStateChange logs transitions and fires webhook notifications.
// Called outside the breaker lock; webhook delivery is best-effort and
// must not block the calling request path.
func (r *CircuitBreakerRegistry) handleStateChange(name string, from, to BreakerState, snap BreakerSnapshot) {
	r.logger.Warnw("circuit breaker state change",
		"circuit", name,
		"from", from.String(),
		"to", to.String(),
		"failure_count", snap.FailureCount)

	if r.webhook == nil {
		return
	}

	switch {
	case to == StateOpen:
		event := &model.BreakerOpenedEvent{
			CircuitName:  name,
			FailureCount: snap.FailureCount,
			OpenedAt:     r.clk.Now(),
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := r.webhook.NotifyBreakerOpened(ctx, event); err != nil {
				r.logger.Warnw("failed to deliver breaker opened notification", "circuit", name, "error", err)
			}
		}()

	case from == StateHalfOpen && to == StateClosed:
		event := &model.BreakerRecoveredEvent{
			CircuitName: name,
			ProbeCount:  snap.SuccessCount,
			RecoveredAt: r.clk.Now(),
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := r.webhook.NotifyBreakerRecovered(ctx, event); err != nil {
				r.logger.Warnw("failed to deliver breaker recovered notification", "circuit", name, "error", err)
			}
		}()
	}
}
