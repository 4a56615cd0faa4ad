package data

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"SpendGuard/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"gorm.io/gorm"
)

// User carries the subscription fields the monitor and rate limiter need.
type User struct {
	ID               int64     `gorm:"primaryKey;autoIncrement"`
	Email            string    `gorm:"size:255;not null;uniqueIndex"`
	SubscriptionTier string    `gorm:"size:32;not null;default:basic"`
	CreatedAt        time.Time `gorm:"autoCreateTime"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime"`
}

// TableName sets the table name for GORM.
func (User) TableName() string {
	return "users"
}

// tierCacheSize bounds the in-process tier LRU.
const tierCacheSize = 4096

// SubscriptionRepo implements biz.SubscriptionRepo. Tier lookups are hot
// (every rate limit check and monitor cycle) so they go through two cache
// layers: an in-process expirable LRU, then Redis, then MySQL.
type SubscriptionRepo struct {
	db     *gorm.DB
	cache  CacheClient
	local  *expirable.LRU[int64, string]
	limits map[string]float64
	logger *log.Helper
}

// NewSubscriptionRepo creates a new subscription repository. Tier monthly
// allowances come from configuration, not the database.
func NewSubscriptionRepo(c *conf.Monitor, d *Data, logger log.Logger) *SubscriptionRepo {
	limits := map[string]float64{}
	if c != nil && c.TierMonthlyLimits != nil {
		limits = c.TierMonthlyLimits
	}

	return &SubscriptionRepo{
		db:     d.db,
		cache:  d.cache,
		local:  expirable.NewLRU[int64, string](tierCacheSize, nil, TTLTier),
		limits: limits,
		logger: log.NewHelper(logger),
	}
}

// GetTier resolves a user's subscription tier. Unknown users resolve to the
// anonymous tier rather than erroring, so a stale identity only tightens
// limits instead of failing requests.
func (r *SubscriptionRepo) GetTier(ctx context.Context, userID int64) (string, error) {
	if tier, ok := r.local.Get(userID); ok {
		return tier, nil
	}

	key := BuildCacheKey(CacheKeyTier, strconv.FormatInt(userID, 10))
	if r.cache != nil {
		var tier string
		if err := r.cache.Get(ctx, key, &tier); err == nil && tier != "" {
			r.local.Add(userID, tier)
			return tier, nil
		}
	}

	if r.db == nil {
		return "", fmt.Errorf("mysql client is nil")
	}

	var user User
	err := r.db.WithContext(ctx).
		Select("subscription_tier").
		First(&user, userID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			r.local.Add(userID, "anonymous")
			return "anonymous", nil
		}
		return "", fmt.Errorf("failed to load user %d: %w", userID, err)
	}

	tier := user.SubscriptionTier
	r.local.Add(userID, tier)
	if r.cache != nil {
		if err := r.cache.Set(ctx, key, tier, TTLTier); err != nil {
			r.logger.Debugf("failed to cache tier for user %d: %v", userID, err)
		}
	}

	return tier, nil
}

// GetTierMonthlyLimit returns the monthly spend allowance of a tier.
// Unknown tiers and missing config entries report 0 (treated as unlimited by
// callers only for tiers explicitly configured so; the anonymous tier never
// reaches spend paths).
func (r *SubscriptionRepo) GetTierMonthlyLimit(tier string) float64 {
	if limit, ok := r.limits[tier]; ok {
		return limit
	}
	return 0
}

// InvalidateTier drops a user's cached tier after a subscription change.
func (r *SubscriptionRepo) InvalidateTier(ctx context.Context, userID int64) {
	r.local.Remove(userID)
	if r.cache != nil {
		key := BuildCacheKey(CacheKeyTier, strconv.FormatInt(userID, 10))
		if err := r.cache.Delete(ctx, key); err != nil {
			r.logger.Debugf("failed to invalidate tier cache for user %d: %v", userID, err)
		}
	}
}
