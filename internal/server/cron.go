package server

import (
	"context"
	"fmt"
	"time"

	"SpendGuard/internal/biz"
	"SpendGuard/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/robfig/cron/v3"
)

// Cron schedules (seconds minutes hours dom month dow). Cleanup jobs run in
// the early-morning low-traffic window.
const (
	cronWindowGC   = "0 10 3 * * *"
	cronAlertPurge = "0 40 3 * * *"
)

// CronServer runs the periodic jobs: the budget monitoring cycle, rate limit
// window garbage collection and alert retention purge. It implements the
// kratos transport.Server interface so its lifecycle is managed by the app.
type CronServer struct {
	cron    *cron.Cron
	monitor *biz.BudgetMonitorUseCase
	limiter *biz.RateLimiterUseCase

	interval       time.Duration
	alertRetention time.Duration
	logger         *log.Helper
}

// NewCronServer creates the cron server. Jobs are registered at Start so a
// constructed-but-never-started server schedules nothing.
func NewCronServer(c *conf.Monitor, monitor *biz.BudgetMonitorUseCase, limiter *biz.RateLimiterUseCase, logger log.Logger) *CronServer {
	interval := 5 * time.Minute
	retentionDays := 30
	if c != nil {
		if c.Interval != nil && c.Interval.AsDuration() > 0 {
			interval = c.Interval.AsDuration()
		}
		if c.AlertRetentionDays > 0 {
			retentionDays = int(c.AlertRetentionDays)
		}
	}

	return &CronServer{
		cron:           cron.New(cron.WithSeconds()),
		monitor:        monitor,
		limiter:        limiter,
		interval:       interval,
		alertRetention: time.Duration(retentionDays) * 24 * time.Hour,
		logger:         log.NewHelper(logger),
	}
}

// Start registers and starts the cron jobs.
func (s *CronServer) Start(_ context.Context) error {
	monitorSpec := fmt.Sprintf("@every %s", s.interval)

	if _, err := s.cron.AddFunc(monitorSpec, s.runMonitorCycle); err != nil {
		return fmt.Errorf("failed to register monitoring job: %w", err)
	}
	if _, err := s.cron.AddFunc(cronWindowGC, s.purgeRateLimitWindows); err != nil {
		return fmt.Errorf("failed to register window GC job: %w", err)
	}
	if _, err := s.cron.AddFunc(cronAlertPurge, s.purgeExpiredAlerts); err != nil {
		return fmt.Errorf("failed to register alert purge job: %w", err)
	}

	s.cron.Start()
	s.logger.Infow("cron scheduler started",
		"monitor_interval", s.interval,
		"alert_retention", s.alertRetention)

	return nil
}

// Stop stops the scheduler and waits for running jobs to finish.
func (s *CronServer) Stop(ctx context.Context) error {
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
		s.logger.Info("cron scheduler stopped")
	case <-ctx.Done():
		s.logger.Warn("cron scheduler stop timed out with jobs still running")
	}
	return nil
}

func (s *CronServer) runMonitorCycle() {
	ctx, cancel := context.WithTimeout(context.Background(), 4*time.Minute)
	defer cancel()

	if _, err := s.monitor.RunCycle(ctx); err != nil {
		s.logger.Errorw("scheduled monitoring cycle failed", "error", err)
	}
}

func (s *CronServer) purgeRateLimitWindows() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	if _, err := s.limiter.PurgeStale(ctx); err != nil {
		s.logger.Errorw("rate limit window GC failed", "error", err)
	}
}

func (s *CronServer) purgeExpiredAlerts() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	if _, err := s.monitor.PurgeExpiredAlerts(ctx, s.alertRetention); err != nil {
		s.logger.Errorw("alert retention purge failed", "error", err)
	}
}
