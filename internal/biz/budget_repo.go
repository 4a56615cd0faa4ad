package biz

import (
	"context"
	"time"

	"SpendGuard/internal/data"
)

// CampaignRepo is the narrow interface the budget monitor needs from the
// campaign subsystem. Campaign CRUD itself lives outside this layer.
type CampaignRepo interface {
	// ListActive returns every campaign currently spending.
	ListActive(ctx context.Context) ([]*data.Campaign, error)

	// ListActiveForUser returns a user's active campaigns.
	ListActiveForUser(ctx context.Context, userID int64) ([]*data.Campaign, error)

	// GetCampaign loads one campaign.
	GetCampaign(ctx context.Context, id int64) (*data.Campaign, error)

	// Pause stops a campaign's spending. Returns false when the campaign
	// was not active (already paused or missing).
	Pause(ctx context.Context, id int64) (bool, error)

	// SpendSince aggregates the user's spend ledger from `since` onward,
	// optionally scoped to a single campaign. A zero `since` aggregates
	// all-time spend.
	SpendSince(ctx context.Context, userID int64, campaignID *int64, since time.Time) (float64, error)
}

// SubscriptionRepo resolves users to subscription tiers and tier allowances.
type SubscriptionRepo interface {
	// GetTier returns the user's subscription tier.
	GetTier(ctx context.Context, userID int64) (string, error)

	// GetTierMonthlyLimit returns the monthly spend allowance of a tier.
	// A value <= 0 is the unlimited sentinel.
	GetTierMonthlyLimit(tier string) float64
}

// AlertRepo persists budget alerts.
type AlertRepo interface {
	// CreateAlert appends an alert row.
	CreateAlert(ctx context.Context, alert *data.BudgetAlert) error

	// HasRecentAlert reports whether an alert for the same target and type
	// was raised within the given window. Used for 24h deduplication;
	// best-effort, not transactionally exact.
	HasRecentAlert(ctx context.Context, userID int64, campaignID *int64, alertType, severity string, within time.Duration) (bool, error)

	// AcknowledgeAlert marks an alert acknowledged by the user.
	AcknowledgeAlert(ctx context.Context, id int64) error

	// PurgeAlertsBefore removes alerts created before the cutoff.
	PurgeAlertsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// SpendingLimitRepo lists user-defined spending limits.
type SpendingLimitRepo interface {
	// ListEnabled returns every enabled spending limit.
	ListEnabled(ctx context.Context) ([]*data.SpendingLimit, error)
}
