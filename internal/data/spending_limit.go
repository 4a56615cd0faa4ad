package data

import (
	"context"
	"fmt"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
)

// SpendingLimit is a user-defined spend guardrail evaluated over its own
// window type (daily, weekly, monthly or total). A nil CampaignID scopes the
// limit to all of the user's campaigns.
type SpendingLimit struct {
	ID                int64   `gorm:"primaryKey;autoIncrement"`
	UserID            int64   `gorm:"not null;index:idx_user_enabled,priority:1"`
	CampaignID        *int64  `gorm:"index"`
	LimitType         string  `gorm:"size:16;not null"`
	LimitAmount       float64 `gorm:"not null"`
	WarningThreshold  float64 `gorm:"not null;default:80"`
	CriticalThreshold float64 `gorm:"not null;default:95"`
	AutoPauseAtLimit  bool    `gorm:"not null;default:false"`
	Enabled           bool    `gorm:"not null;default:true;index:idx_user_enabled,priority:2"`
	CreatedAt         time.Time `gorm:"autoCreateTime"`
	UpdatedAt         time.Time `gorm:"autoUpdateTime"`
}

// TableName sets the table name for GORM.
func (SpendingLimit) TableName() string {
	return "spending_limits"
}

// SpendingLimitRepo implements biz.SpendingLimitRepo.
type SpendingLimitRepo struct {
	db     *gorm.DB
	logger *log.Helper
}

// NewSpendingLimitRepo creates a new spending limit repository.
func NewSpendingLimitRepo(d *Data, logger log.Logger) *SpendingLimitRepo {
	return &SpendingLimitRepo{
		db:     d.db,
		logger: log.NewHelper(logger),
	}
}

// ListEnabled returns every enabled spending limit.
func (r *SpendingLimitRepo) ListEnabled(ctx context.Context) ([]*SpendingLimit, error) {
	if r.db == nil {
		return nil, fmt.Errorf("mysql client is nil")
	}

	var limits []*SpendingLimit
	if err := r.db.WithContext(ctx).
		Where("enabled = ?", true).
		Find(&limits).Error; err != nil {
		return nil, fmt.Errorf("failed to list spending limits: %w", err)
	}

	return limits, nil
}
