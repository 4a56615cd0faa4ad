package biz

import (
	"context"
	"fmt"
	"math"
	"time"

	"SpendGuard/internal/data"
	"SpendGuard/internal/model"
	"SpendGuard/pkg/clock"

	"github.com/go-kratos/kratos/v2/log"
)

// Alert types raised by the monitor.
const (
	AlertTypeCampaignBudget = "campaign_budget"
	AlertTypeUserMonthly    = "user_monthly"
	AlertTypeSpendingLimit  = "spending_limit"
)

// Alert severities.
const (
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Spending limit window types.
const (
	LimitTypeDaily   = "daily"
	LimitTypeWeekly  = "weekly"
	LimitTypeMonthly = "monthly"
	LimitTypeTotal   = "total"
)

// Monitoring thresholds, in percent of the respective limit.
const (
	campaignWarningPct  = 80.0
	campaignCriticalPct = 95.0
	userWarningPct      = 75.0
	userCriticalPct     = 90.0
	userPausePct        = 100.0
)

// alertDedupWindow suppresses repeat alerts for the same target and type.
const alertDedupWindow = 24 * time.Hour

// CycleResult summarizes one monitoring cycle.
type CycleResult struct {
	AlertsCreated int `json:"alerts_created"`
	ActionsTaken  int `json:"actions_taken"`
	Errors        int `json:"errors"`
}

// BudgetMonitorUseCase periodically evaluates campaign spend, per-user tier
// usage and user-defined spending limits, raising alerts and pausing
// campaigns when thresholds are crossed.
//
// Each entity is processed independently: a failure while evaluating one
// campaign or user is logged and the cycle continues. The monitor holds no
// locks across iterations; a benign race with a concurrent spend update is
// corrected on the next tick.
type BudgetMonitorUseCase struct {
	campaigns CampaignRepo
	subs      SubscriptionRepo
	alerts    AlertRepo
	limits    SpendingLimitRepo
	webhook   WebhookService
	clk       clock.Clock
	logger    *log.Helper
}

// NewBudgetMonitorUseCase creates the budget monitor.
func NewBudgetMonitorUseCase(
	campaigns CampaignRepo,
	subs SubscriptionRepo,
	alerts AlertRepo,
	limits SpendingLimitRepo,
	webhook WebhookService,
	clk clock.Clock,
	logger log.Logger,
) *BudgetMonitorUseCase {
	return &BudgetMonitorUseCase{
		campaigns: campaigns,
		subs:      subs,
		alerts:    alerts,
		limits:    limits,
		webhook:   webhook,
		clk:       clk,
		logger:    log.NewHelper(logger),
	}
}

// RunCycle executes one monitoring cycle. Callable from the cron scheduler
// or on demand for audits.
func (uc *BudgetMonitorUseCase) RunCycle(ctx context.Context) (*CycleResult, error) {
	result := &CycleResult{}
	start := uc.clk.Now()

	activeCampaigns, err := uc.campaigns.ListActive(ctx)
	if err != nil {
		return result, fmt.Errorf("failed to list active campaigns: %w", err)
	}

	// Phase 1: per-campaign budget thresholds.
	for _, campaign := range activeCampaigns {
		if err := uc.checkCampaign(ctx, campaign, result); err != nil {
			result.Errors++
			uc.logger.Errorw("campaign check failed, continuing cycle",
				"campaign_id", campaign.ID,
				"error", err)
		}
	}

	// Phase 2: per-user monthly tier usage, each user evaluated once even
	// when several of their campaigns are active this cycle.
	seen := make(map[int64]bool)
	for _, campaign := range activeCampaigns {
		if seen[campaign.UserID] {
			continue
		}
		seen[campaign.UserID] = true

		if err := uc.checkUserMonthly(ctx, campaign.UserID, result); err != nil {
			result.Errors++
			uc.logger.Errorw("user monthly check failed, continuing cycle",
				"user_id", campaign.UserID,
				"error", err)
		}
	}

	// Phase 3: user-defined spending limits.
	enabledLimits, err := uc.limits.ListEnabled(ctx)
	if err != nil {
		result.Errors++
		uc.logger.Errorw("failed to list spending limits, skipping phase", "error", err)
	} else {
		for _, limit := range enabledLimits {
			if err := uc.checkSpendingLimit(ctx, limit, result); err != nil {
				result.Errors++
				uc.logger.Errorw("spending limit check failed, continuing cycle",
					"limit_id", limit.ID,
					"user_id", limit.UserID,
					"error", err)
			}
		}
	}

	uc.logger.Infow("budget monitoring cycle completed",
		"campaigns", len(activeCampaigns),
		"users", len(seen),
		"alerts_created", result.AlertsCreated,
		"actions_taken", result.ActionsTaken,
		"errors", result.Errors,
		"duration", uc.clk.Now().Sub(start))

	return result, nil
}

// checkCampaign evaluates a single campaign against its budget.
func (uc *BudgetMonitorUseCase) checkCampaign(ctx context.Context, campaign *data.Campaign, result *CycleResult) error {
	if campaign.BudgetTotal <= 0 {
		return nil
	}

	pct := spendingPercentage(campaign.Spend, campaign.BudgetTotal)

	switch {
	case pct >= campaignCriticalPct:
		paused := false
		if campaign.AutoPause {
			ok, err := uc.campaigns.Pause(ctx, campaign.ID)
			if err != nil {
				return fmt.Errorf("failed to pause campaign %d: %w", campaign.ID, err)
			}
			if ok {
				paused = true
				result.ActionsTaken++
				uc.logger.Warnw("campaign auto-paused at budget limit",
					"campaign_id", campaign.ID,
					"user_id", campaign.UserID,
					"spending_percentage", pct)
			}
		}
		uc.raiseAlert(ctx, result, campaign.UserID, &campaign.ID,
			AlertTypeCampaignBudget, SeverityCritical,
			campaign.Spend, campaign.BudgetTotal, pct, paused)

	case pct >= campaignWarningPct:
		uc.raiseAlert(ctx, result, campaign.UserID, &campaign.ID,
			AlertTypeCampaignBudget, SeverityWarning,
			campaign.Spend, campaign.BudgetTotal, pct, false)
	}

	return nil
}

// checkUserMonthly evaluates a user's current-month spend against the
// monthly allowance of their subscription tier.
func (uc *BudgetMonitorUseCase) checkUserMonthly(ctx context.Context, userID int64, result *CycleResult) error {
	tier, err := uc.subs.GetTier(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to resolve tier: %w", err)
	}

	monthlyLimit := uc.subs.GetTierMonthlyLimit(tier)
	if monthlyLimit <= 0 {
		// Unlimited sentinel.
		return nil
	}

	monthStart := startOfMonth(uc.clk.Now())
	monthSpend, err := uc.campaigns.SpendSince(ctx, userID, nil, monthStart)
	if err != nil {
		return fmt.Errorf("failed to aggregate monthly spend: %w", err)
	}

	pct := spendingPercentage(monthSpend, monthlyLimit)

	switch {
	case pct >= userCriticalPct:
		paused := false
		if pct >= userPausePct {
			n, err := uc.pauseAllForUser(ctx, userID)
			if err != nil {
				return err
			}
			if n > 0 {
				paused = true
				result.ActionsTaken += n
				uc.logger.Warnw("all campaigns paused, monthly tier limit reached",
					"user_id", userID,
					"tier", tier,
					"paused", n,
					"spending_percentage", pct)
			}
		}
		uc.raiseAlert(ctx, result, userID, nil,
			AlertTypeUserMonthly, SeverityCritical,
			monthSpend, monthlyLimit, pct, paused)

	case pct >= userWarningPct:
		uc.raiseAlert(ctx, result, userID, nil,
			AlertTypeUserMonthly, SeverityWarning,
			monthSpend, monthlyLimit, pct, false)
	}

	return nil
}

// checkSpendingLimit evaluates one user-defined spending limit over its own
// time window and scope.
func (uc *BudgetMonitorUseCase) checkSpendingLimit(ctx context.Context, limit *data.SpendingLimit, result *CycleResult) error {
	if limit.LimitAmount <= 0 {
		return nil
	}

	since := windowStartFor(limit.LimitType, uc.clk.Now())
	spend, err := uc.campaigns.SpendSince(ctx, limit.UserID, limit.CampaignID, since)
	if err != nil {
		return fmt.Errorf("failed to aggregate spend for limit window %s: %w", limit.LimitType, err)
	}

	pct := spendingPercentage(spend, limit.LimitAmount)

	switch {
	case pct >= limit.CriticalThreshold:
		paused := false
		if limit.AutoPauseAtLimit {
			n, err := uc.pauseScope(ctx, limit.UserID, limit.CampaignID)
			if err != nil {
				return err
			}
			if n > 0 {
				paused = true
				result.ActionsTaken += n
				uc.logger.Warnw("spending limit auto-pause executed",
					"limit_id", limit.ID,
					"user_id", limit.UserID,
					"paused", n,
					"spending_percentage", pct)
			}
		}
		uc.raiseAlert(ctx, result, limit.UserID, limit.CampaignID,
			AlertTypeSpendingLimit, SeverityCritical,
			spend, limit.LimitAmount, pct, paused)

	case pct >= limit.WarningThreshold:
		uc.raiseAlert(ctx, result, limit.UserID, limit.CampaignID,
			AlertTypeSpendingLimit, SeverityWarning,
			spend, limit.LimitAmount, pct, false)
	}

	return nil
}

// raiseAlert creates a deduplicated alert row and notifies the webhook for
// critical severities. Alert failures never abort the cycle.
func (uc *BudgetMonitorUseCase) raiseAlert(ctx context.Context, result *CycleResult, userID int64, campaignID *int64, alertType, severity string, spending, budgetLimit, pct float64, paused bool) {
	recent, err := uc.alerts.HasRecentAlert(ctx, userID, campaignID, alertType, severity, alertDedupWindow)
	if err != nil {
		result.Errors++
		uc.logger.Warnw("alert dedup check failed, skipping alert",
			"user_id", userID,
			"alert_type", alertType,
			"error", err)
		return
	}
	if recent {
		return
	}

	alert := &data.BudgetAlert{
		UserID:             userID,
		CampaignID:         campaignID,
		AlertType:          alertType,
		Severity:           severity,
		CurrentSpending:    spending,
		BudgetLimit:        budgetLimit,
		SpendingPercentage: pct,
		CreatedAt:          uc.clk.Now(),
	}

	if err := uc.alerts.CreateAlert(ctx, alert); err != nil {
		result.Errors++
		uc.logger.Errorw("failed to create budget alert",
			"user_id", userID,
			"alert_type", alertType,
			"severity", severity,
			"error", err)
		return
	}
	result.AlertsCreated++

	uc.logger.Infow("budget alert raised",
		"user_id", userID,
		"campaign_id", campaignID,
		"alert_type", alertType,
		"severity", severity,
		"spending_percentage", pct)

	if severity == SeverityCritical && uc.webhook != nil {
		event := &model.BudgetAlertEvent{
			UserID:             userID,
			CampaignID:         campaignID,
			AlertType:          alertType,
			Severity:           severity,
			CurrentSpending:    spending,
			BudgetLimit:        budgetLimit,
			SpendingPercentage: pct,
			Paused:             paused,
			RaisedAt:           uc.clk.Now(),
		}
		if err := uc.webhook.NotifyBudgetAlert(ctx, event); err != nil {
			uc.logger.Warnw("failed to deliver budget alert notification",
				"user_id", userID,
				"alert_type", alertType,
				"error", err)
		}
	}
}

// pauseAllForUser pauses every active campaign of a user and returns how
// many were paused.
func (uc *BudgetMonitorUseCase) pauseAllForUser(ctx context.Context, userID int64) (int, error) {
	campaigns, err := uc.campaigns.ListActiveForUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to list user campaigns: %w", err)
	}

	paused := 0
	for _, campaign := range campaigns {
		ok, err := uc.campaigns.Pause(ctx, campaign.ID)
		if err != nil {
			uc.logger.Errorw("failed to pause campaign, continuing",
				"campaign_id", campaign.ID,
				"user_id", userID,
				"error", err)
			continue
		}
		if ok {
			paused++
		}
	}
	return paused, nil
}

// pauseScope pauses one campaign or all of the user's active campaigns,
// depending on the spending limit's scope.
func (uc *BudgetMonitorUseCase) pauseScope(ctx context.Context, userID int64, campaignID *int64) (int, error) {
	if campaignID != nil {
		ok, err := uc.campaigns.Pause(ctx, *campaignID)
		if err != nil {
			return 0, fmt.Errorf("failed to pause campaign %d: %w", *campaignID, err)
		}
		if ok {
			return 1, nil
		}
		return 0, nil
	}
	return uc.pauseAllForUser(ctx, userID)
}

// ValidateSpend checks whether an additional spend amount would violate the
// campaign budget or the user's monthly tier allowance. Called by the
// application layer before booking spend.
func (uc *BudgetMonitorUseCase) ValidateSpend(ctx context.Context, userID, campaignID int64, amount float64) error {
	campaign, err := uc.campaigns.GetCampaign(ctx, campaignID)
	if err != nil {
		return fmt.Errorf("failed to load campaign %d: %w", campaignID, err)
	}

	if campaign.BudgetTotal > 0 && campaign.Spend+amount > campaign.BudgetTotal {
		return &BudgetExceededError{
			UserID:          userID,
			CampaignID:      campaignID,
			CurrentSpending: campaign.Spend,
			BudgetLimit:     campaign.BudgetTotal,
		}
	}

	tier, err := uc.subs.GetTier(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to resolve tier: %w", err)
	}

	monthlyLimit := uc.subs.GetTierMonthlyLimit(tier)
	if monthlyLimit <= 0 {
		return nil
	}

	monthSpend, err := uc.campaigns.SpendSince(ctx, userID, nil, startOfMonth(uc.clk.Now()))
	if err != nil {
		return fmt.Errorf("failed to aggregate monthly spend: %w", err)
	}

	if monthSpend+amount > monthlyLimit {
		return &InsufficientFundsError{
			UserID:       userID,
			Tier:         tier,
			MonthlySpend: monthSpend,
			MonthlyLimit: monthlyLimit,
		}
	}

	return nil
}

// AcknowledgeAlert marks an alert acknowledged.
func (uc *BudgetMonitorUseCase) AcknowledgeAlert(ctx context.Context, id int64) error {
	return uc.alerts.AcknowledgeAlert(ctx, id)
}

// PurgeExpiredAlerts removes alerts past the retention period.
// Called by the daily cleanup cron.
func (uc *BudgetMonitorUseCase) PurgeExpiredAlerts(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := uc.clk.Now().Add(-retention)
	purged, err := uc.alerts.PurgeAlertsBefore(ctx, cutoff)
	if err != nil {
		uc.logger.Errorw("alert purge failed", "cutoff", cutoff, "error", err)
		return 0, err
	}
	if purged > 0 {
		uc.logger.Infow("expired alerts purged", "count", purged, "cutoff", cutoff)
	}
	return purged, nil
}

// spendingPercentage computes spend/limit*100 rounded to two decimals.
func spendingPercentage(spend, limit float64) float64 {
	if limit <= 0 {
		return 0
	}
	return math.Round(spend/limit*100*100) / 100
}

// startOfMonth returns the first instant of t's calendar month.
func startOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}

// startOfDay returns the first instant of t's calendar day.
func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// startOfWeek returns the first instant of t's ISO week (Monday).
func startOfWeek(t time.Time) time.Time {
	day := startOfDay(t)
	weekday := int(day.Weekday())
	if weekday == 0 {
		weekday = 7 // Sunday
	}
	return day.AddDate(0, 0, -(weekday - 1))
}

// windowStartFor maps a spending limit type to the start of its evaluation
// window. "total" evaluates all-time spend.
func windowStartFor(limitType string, now time.Time) time.Time {
	switch limitType {
	case LimitTypeDaily:
		return startOfDay(now)
	case LimitTypeWeekly:
		return startOfWeek(now)
	case LimitTypeMonthly:
		return startOfMonth(now)
	default:
		return time.Time{}
	}
}
