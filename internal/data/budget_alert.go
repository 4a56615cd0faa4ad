package data

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
)

// BudgetAlert is one persisted alert row. Alerts are append-only except for
// acknowledgement; retention is enforced by the daily purge job.
type BudgetAlert struct {
	ID                 int64      `gorm:"primaryKey;autoIncrement"`
	UserID             int64      `gorm:"not null;index:idx_user_created,priority:1"`
	CampaignID         *int64     `gorm:"index"`
	AlertType          string     `gorm:"size:32;not null"`
	Severity           string     `gorm:"size:16;not null"`
	CurrentSpending    float64    `gorm:"not null"`
	BudgetLimit        float64    `gorm:"not null"`
	SpendingPercentage float64    `gorm:"not null"`
	Acknowledged       bool       `gorm:"not null;default:false"`
	AcknowledgedAt     *time.Time
	CreatedAt          time.Time `gorm:"index:idx_user_created,priority:2;index:idx_created"`
}

// TableName sets the table name for GORM.
func (BudgetAlert) TableName() string {
	return "budget_alerts"
}

// ErrAlertNotFound is returned when acknowledging a missing alert.
var ErrAlertNotFound = errors.New("budget alert not found")

// AlertRepo implements biz.AlertRepo. The dedup check uses a Redis marker as
// a fast path and falls back to a MySQL range query, so dedup survives Redis
// outages at the cost of one extra query.
type AlertRepo struct {
	db     *gorm.DB
	cache  CacheClient
	logger *log.Helper
}

// NewAlertRepo creates a new alert repository.
func NewAlertRepo(d *Data, logger log.Logger) *AlertRepo {
	return &AlertRepo{
		db:     d.db,
		cache:  d.cache,
		logger: log.NewHelper(logger),
	}
}

// CreateAlert appends an alert row and sets the dedup marker.
func (r *AlertRepo) CreateAlert(ctx context.Context, alert *BudgetAlert) error {
	if r.db == nil {
		return fmt.Errorf("mysql client is nil")
	}

	if err := r.db.WithContext(ctx).Create(alert).Error; err != nil {
		return fmt.Errorf("failed to create budget alert: %w", err)
	}

	if r.cache != nil {
		key := alertDedupKey(alert.UserID, alert.CampaignID, alert.AlertType, alert.Severity)
		if _, err := r.cache.SetNX(ctx, key, alert.ID, TTLAlertDedup); err != nil {
			r.logger.Debugf("failed to set alert dedup marker %s: %v", key, err)
		}
	}

	return nil
}

// HasRecentAlert reports whether an equivalent alert was raised within the
// window. Best-effort: a concurrent monitor may slip a duplicate through,
// which is tolerated.
func (r *AlertRepo) HasRecentAlert(ctx context.Context, userID int64, campaignID *int64, alertType, severity string, within time.Duration) (bool, error) {
	if r.cache != nil {
		key := alertDedupKey(userID, campaignID, alertType, severity)
		if exists, err := r.cache.Exists(ctx, key); err == nil && exists {
			return true, nil
		}
	}

	if r.db == nil {
		return false, fmt.Errorf("mysql client is nil")
	}

	cutoff := time.Now().Add(-within)
	q := r.db.WithContext(ctx).
		Model(&BudgetAlert{}).
		Where("user_id = ? AND alert_type = ? AND severity = ? AND created_at >= ?",
			userID, alertType, severity, cutoff)
	if campaignID != nil {
		q = q.Where("campaign_id = ?", *campaignID)
	} else {
		q = q.Where("campaign_id IS NULL")
	}

	var count int64
	if err := q.Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to query recent alerts: %w", err)
	}

	return count > 0, nil
}

// AcknowledgeAlert marks an alert acknowledged. Idempotent.
func (r *AlertRepo) AcknowledgeAlert(ctx context.Context, id int64) error {
	if r.db == nil {
		return fmt.Errorf("mysql client is nil")
	}

	now := time.Now()
	res := r.db.WithContext(ctx).
		Model(&BudgetAlert{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"acknowledged":    true,
			"acknowledged_at": now,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to acknowledge alert %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrAlertNotFound
	}

	return nil
}

// PurgeAlertsBefore removes alerts created before the cutoff.
func (r *AlertRepo) PurgeAlertsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if r.db == nil {
		return 0, fmt.Errorf("mysql client is nil")
	}

	res := r.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&BudgetAlert{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to purge budget alerts: %w", res.Error)
	}

	return res.RowsAffected, nil
}

// alertDedupKey generates the Redis dedup marker key.
// Format: alertdedup:{userId}:{campaignId|-}:{type}:{severity}
func alertDedupKey(userID int64, campaignID *int64, alertType, severity string) string {
	campaign := "-"
	if campaignID != nil {
		campaign = strconv.FormatInt(*campaignID, 10)
	}
	return BuildCacheKey(CacheKeyAlertDedup, strconv.FormatInt(userID, 10), campaign, alertType, severity)
}
