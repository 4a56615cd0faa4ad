package data

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
)

// Campaign statuses.
const (
	CampaignStatusActive    = "active"
	CampaignStatusPaused    = "paused"
	CampaignStatusCompleted = "completed"
)

// Campaign is an advertising campaign with a total budget. Spend is a
// denormalized running total maintained alongside the spend ledger; the
// monitor reads it for cheap budget-percentage checks.
type Campaign struct {
	ID          int64     `gorm:"primaryKey;autoIncrement"`
	UserID      int64     `gorm:"not null;index:idx_user_status,priority:1"`
	Name        string    `gorm:"size:255;not null"`
	Status      string    `gorm:"size:32;not null;default:active;index:idx_user_status,priority:2"`
	BudgetTotal float64   `gorm:"not null;default:0"`
	Spend       float64   `gorm:"not null;default:0"`
	AutoPause   bool      `gorm:"not null;default:true"`
	PausedAt    *time.Time
	CreatedAt   time.Time `gorm:"autoCreateTime"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime"`
}

// TableName sets the table name for GORM.
func (Campaign) TableName() string {
	return "campaigns"
}

// SpendEntry is one row of the append-only spend ledger. Time-windowed
// aggregations (daily/weekly/monthly limits) run over this table.
type SpendEntry struct {
	ID         int64     `gorm:"primaryKey;autoIncrement"`
	UserID     int64     `gorm:"not null;index:idx_user_time,priority:1"`
	CampaignID int64     `gorm:"not null;index:idx_campaign_time,priority:1"`
	Amount     float64   `gorm:"not null"`
	Source     string    `gorm:"size:64"`
	SpentAt    time.Time `gorm:"not null;index:idx_user_time,priority:2;index:idx_campaign_time,priority:2"`
	CreatedAt  time.Time `gorm:"autoCreateTime"`
}

// TableName sets the table name for GORM.
func (SpendEntry) TableName() string {
	return "spend_entries"
}

// CampaignRepo implements biz.CampaignRepo.
type CampaignRepo struct {
	db     *gorm.DB
	logger *log.Helper
}

// NewCampaignRepo creates a new campaign repository.
func NewCampaignRepo(d *Data, logger log.Logger) *CampaignRepo {
	return &CampaignRepo{
		db:     d.db,
		logger: log.NewHelper(logger),
	}
}

// ListActive returns every active campaign.
func (r *CampaignRepo) ListActive(ctx context.Context) ([]*Campaign, error) {
	if r.db == nil {
		return nil, fmt.Errorf("mysql client is nil")
	}

	var campaigns []*Campaign
	if err := r.db.WithContext(ctx).
		Where("status = ?", CampaignStatusActive).
		Find(&campaigns).Error; err != nil {
		return nil, fmt.Errorf("failed to list active campaigns: %w", err)
	}

	return campaigns, nil
}

// ListActiveForUser returns a user's active campaigns.
func (r *CampaignRepo) ListActiveForUser(ctx context.Context, userID int64) ([]*Campaign, error) {
	if r.db == nil {
		return nil, fmt.Errorf("mysql client is nil")
	}

	var campaigns []*Campaign
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, CampaignStatusActive).
		Find(&campaigns).Error; err != nil {
		return nil, fmt.Errorf("failed to list active campaigns for user %d: %w", userID, err)
	}

	return campaigns, nil
}

// GetCampaign loads one campaign by ID.
func (r *CampaignRepo) GetCampaign(ctx context.Context, id int64) (*Campaign, error) {
	if r.db == nil {
		return nil, fmt.Errorf("mysql client is nil")
	}

	var campaign Campaign
	if err := r.db.WithContext(ctx).First(&campaign, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("campaign %d not found: %w", id, err)
		}
		return nil, fmt.Errorf("failed to load campaign %d: %w", id, err)
	}

	return &campaign, nil
}

// Pause transitions a campaign to paused. The status guard makes the call
// idempotent: a campaign that is already paused reports false without error,
// so concurrent monitors do not double-count pause actions.
func (r *CampaignRepo) Pause(ctx context.Context, id int64) (bool, error) {
	if r.db == nil {
		return false, fmt.Errorf("mysql client is nil")
	}

	now := time.Now()
	res := r.db.WithContext(ctx).
		Model(&Campaign{}).
		Where("id = ? AND status = ?", id, CampaignStatusActive).
		Updates(map[string]interface{}{
			"status":    CampaignStatusPaused,
			"paused_at": now,
		})
	if res.Error != nil {
		return false, fmt.Errorf("failed to pause campaign %d: %w", id, res.Error)
	}

	return res.RowsAffected == 1, nil
}

// SpendSince aggregates the spend ledger from `since` onward, optionally
// scoped to one campaign. A zero `since` aggregates all-time spend.
func (r *CampaignRepo) SpendSince(ctx context.Context, userID int64, campaignID *int64, since time.Time) (float64, error) {
	if r.db == nil {
		return 0, fmt.Errorf("mysql client is nil")
	}

	q := r.db.WithContext(ctx).
		Model(&SpendEntry{}).
		Where("user_id = ?", userID)
	if campaignID != nil {
		q = q.Where("campaign_id = ?", *campaignID)
	}
	if !since.IsZero() {
		q = q.Where("spent_at >= ?", since)
	}

	var total *float64
	if err := q.Select("SUM(amount)").Scan(&total).Error; err != nil {
		return 0, fmt.Errorf("failed to aggregate spend for user %d: %w", userID, err)
	}
	if total == nil {
		// SUM over zero rows is NULL.
		return 0, nil
	}

	return *total, nil
}

// RecordSpend appends a ledger entry and bumps the campaign's running total
// in one transaction.
func (r *CampaignRepo) RecordSpend(ctx context.Context, entry *SpendEntry) error {
	if r.db == nil {
		return fmt.Errorf("mysql client is nil")
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(entry).Error; err != nil {
			return fmt.Errorf("failed to append spend entry: %w", err)
		}
		if err := tx.Model(&Campaign{}).
			Where("id = ?", entry.CampaignID).
			UpdateColumn("spend", gorm.Expr("spend + ?", entry.Amount)).Error; err != nil {
			return fmt.Errorf("failed to update campaign spend total: %w", err)
		}
		return nil
	})
}
