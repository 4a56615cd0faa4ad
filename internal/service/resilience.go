package service

import (
	"errors"
	"strconv"

	"SpendGuard/internal/biz"
	"SpendGuard/internal/data"

	kratoserrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/transport/http"
)

// ResilienceService exposes the operational endpoints: breaker health and
// reset, on-demand monitoring cycles, alert acknowledgement and rate limit
// inspection.
type ResilienceService struct {
	registry *biz.CircuitBreakerRegistry
	limiter  *biz.RateLimiterUseCase
	monitor  *biz.BudgetMonitorUseCase
	logger   *log.Helper
}

// NewResilienceService creates the resilience service.
func NewResilienceService(
	registry *biz.CircuitBreakerRegistry,
	limiter *biz.RateLimiterUseCase,
	monitor *biz.BudgetMonitorUseCase,
	logger log.Logger,
) *ResilienceService {
	return &ResilienceService{
		registry: registry,
		limiter:  limiter,
		monitor:  monitor,
		logger:   log.NewHelper(logger),
	}
}

// RegisterRoutes attaches the service routes to the HTTP server.
func (s *ResilienceService) RegisterRoutes(srv *http.Server) {
	r := srv.Route("/v1")
	r.GET("/health/breakers", s.GetBreakerHealth)
	r.POST("/breakers/{name}/reset", s.ResetBreaker)
	r.POST("/monitor/run", s.RunMonitorCycle)
	r.POST("/alerts/{id}/acknowledge", s.AcknowledgeAlert)
	r.GET("/ratelimit/check", s.CheckRateLimit)
}

// breakerHealthReply is the health endpoint response body.
type breakerHealthReply struct {
	Summary  *biz.HealthSummary             `json:"summary"`
	Breakers map[string]biz.BreakerSnapshot `json:"breakers"`
}

// GetBreakerHealth returns the aggregated breaker health plus a per-breaker
// snapshot.
func (s *ResilienceService) GetBreakerHealth(ctx http.Context) error {
	reply := &breakerHealthReply{
		Summary:  s.registry.GetHealthSummary(),
		Breakers: s.registry.GetAllStates(),
	}
	return ctx.Result(200, reply)
}

// ResetBreaker forces the named breaker back to CLOSED.
func (s *ResilienceService) ResetBreaker(ctx http.Context) error {
	name := ctx.Vars().Get("name")
	if name == "" {
		return kratoserrors.BadRequest("MISSING_BREAKER_NAME", "breaker name is required")
	}

	if !s.registry.ResetManually(name) {
		return kratoserrors.NotFound("BREAKER_NOT_FOUND", "no circuit breaker named "+name)
	}

	return ctx.Result(200, map[string]string{
		"circuit": name,
		"state":   biz.StateClosed.String(),
	})
}

// RunMonitorCycle triggers one budget monitoring cycle on demand.
func (s *ResilienceService) RunMonitorCycle(ctx http.Context) error {
	result, err := s.monitor.RunCycle(ctx)
	if err != nil {
		s.logger.Errorw("on-demand monitoring cycle failed", "error", err)
		return kratoserrors.InternalServer("MONITOR_CYCLE_FAILED", err.Error())
	}
	return ctx.Result(200, result)
}

// AcknowledgeAlert marks a budget alert acknowledged.
func (s *ResilienceService) AcknowledgeAlert(ctx http.Context) error {
	id, err := strconv.ParseInt(ctx.Vars().Get("id"), 10, 64)
	if err != nil {
		return kratoserrors.BadRequest("INVALID_ALERT_ID", "alert id must be an integer")
	}

	if err := s.monitor.AcknowledgeAlert(ctx, id); err != nil {
		if errors.Is(err, data.ErrAlertNotFound) {
			return kratoserrors.NotFound("ALERT_NOT_FOUND", "no alert with that id")
		}
		s.logger.Errorw("failed to acknowledge alert", "alert_id", id, "error", err)
		return kratoserrors.InternalServer("ACKNOWLEDGE_FAILED", err.Error())
	}

	return ctx.Result(200, map[string]interface{}{
		"alert_id":     id,
		"acknowledged": true,
	})
}

// CheckRateLimit reports the current window state for (endpoint, identity)
// without consuming a request. Query params: endpoint, identity, tier.
func (s *ResilienceService) CheckRateLimit(ctx http.Context) error {
	q := ctx.Query()
	endpoint := q.Get("endpoint")
	identity := q.Get("identity")
	if endpoint == "" || identity == "" {
		return kratoserrors.BadRequest("MISSING_QUERY_PARAMS", "endpoint and identity are required")
	}
	tier := q.Get("tier")
	if tier == "" {
		tier = biz.TierAnonymous
	}

	result, err := s.limiter.Inspect(ctx, endpoint, identity, tier)
	if err != nil {
		s.logger.Errorw("rate limit inspection failed",
			"endpoint", endpoint,
			"identity", identity,
			"error", err)
		return kratoserrors.InternalServer("RATELIMIT_INSPECT_FAILED", err.Error())
	}

	return ctx.Result(200, result)
}
