package data

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	pkgerrors "SpendGuard/pkg/errors"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RateLimitWindow is one fixed-window counter row per
// (endpoint, identity, window_start). MySQL is the source of truth; Redis
// only carries a fast-path block marker for already-blocked windows.
type RateLimitWindow struct {
	ID            int64      `gorm:"primaryKey;autoIncrement"`
	Endpoint      string     `gorm:"size:128;not null;uniqueIndex:uniq_window,priority:1"`
	Identity      string     `gorm:"size:128;not null;uniqueIndex:uniq_window,priority:2"`
	WindowStart   time.Time  `gorm:"not null;uniqueIndex:uniq_window,priority:3;index:idx_window_start"`
	RequestsMade  int32      `gorm:"not null;default:0"`
	RequestsLimit int32      `gorm:"not null"`
	IsBlocked     bool       `gorm:"not null;default:false"`
	BlockedUntil  *time.Time `gorm:""`
	CreatedAt     time.Time  `gorm:"autoCreateTime"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime"`
}

// TableName sets the table name for GORM.
func (RateLimitWindow) TableName() string {
	return "rate_limit_windows"
}

// RateLimitRepo implements biz.RateLimitRepo.
// Following Kratos v2 DDD architecture, the interface is defined in biz.
type RateLimitRepo struct {
	db     *gorm.DB
	cache  CacheClient
	logger *log.Helper
}

// NewRateLimitRepo creates a new rate limit repository.
func NewRateLimitRepo(d *Data, logger log.Logger) *RateLimitRepo {
	return &RateLimitRepo{
		db:     d.db,
		cache:  d.cache,
		logger: log.NewHelper(logger),
	}
}

// IncrementWindow admits or rejects one request atomically.
//
// Admission is a conditional UPDATE gated on requests_made < requests_limit
// AND is_blocked = 0; RowsAffected tells us whether this request won the
// slot. Two concurrent requests therefore never undercount, across
// processes included. The row is created lazily with an idempotent upsert.
func (r *RateLimitRepo) IncrementWindow(ctx context.Context, endpoint, identity string, windowStart time.Time, window time.Duration, limit int32) (*RateLimitWindow, bool, error) {
	// Fast path: a Redis marker means this window is already blocked and we
	// can skip MySQL entirely. Marker errors are ignored; MySQL decides.
	if blocked, until := r.checkBlockMarker(ctx, endpoint, identity, windowStart); blocked {
		return &RateLimitWindow{
			Endpoint:      endpoint,
			Identity:      identity,
			WindowStart:   windowStart,
			RequestsMade:  limit,
			RequestsLimit: limit,
			IsBlocked:     true,
			BlockedUntil:  &until,
		}, false, nil
	}

	if r.db == nil {
		return nil, false, fmt.Errorf("mysql client is nil")
	}

	// Lazy row creation. DoNothing keeps the existing counter when the row
	// already exists; duplicate-key from a concurrent insert is fine too.
	row := &RateLimitWindow{
		Endpoint:      endpoint,
		Identity:      identity,
		WindowStart:   windowStart,
		RequestsMade:  0,
		RequestsLimit: limit,
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(row).Error
	if err != nil && !pkgerrors.IsDuplicateKey(err) {
		return nil, false, fmt.Errorf("failed to create rate limit window: %w", err)
	}

	// Atomic check-then-increment.
	res := r.db.WithContext(ctx).
		Model(&RateLimitWindow{}).
		Where("endpoint = ? AND identity = ? AND window_start = ? AND is_blocked = 0 AND requests_made < requests_limit",
			endpoint, identity, windowStart).
		UpdateColumn("requests_made", gorm.Expr("requests_made + 1"))
	if res.Error != nil {
		return nil, false, fmt.Errorf("failed to increment rate limit window: %w", res.Error)
	}

	admitted := res.RowsAffected == 1

	if !admitted {
		// Mark the row blocked until the window ends. Idempotent; losing the
		// race with another rejector is harmless.
		blockedUntil := windowStart.Add(window)
		if err := r.db.WithContext(ctx).
			Model(&RateLimitWindow{}).
			Where("endpoint = ? AND identity = ? AND window_start = ? AND is_blocked = 0",
				endpoint, identity, windowStart).
			Updates(map[string]interface{}{
				"is_blocked":    true,
				"blocked_until": blockedUntil,
			}).Error; err != nil {
			r.logger.Warnf("failed to mark window blocked for %s on %s: %v", identity, endpoint, err)
		}
		r.setBlockMarker(ctx, endpoint, identity, windowStart, blockedUntil)
	}

	current, err := r.GetWindow(ctx, endpoint, identity, windowStart)
	if err != nil {
		return nil, false, err
	}
	if current == nil {
		return nil, false, fmt.Errorf("rate limit window vanished for %s on %s", identity, endpoint)
	}

	return current, admitted, nil
}

// GetWindow loads a window row. Returns nil when the row does not exist.
func (r *RateLimitRepo) GetWindow(ctx context.Context, endpoint, identity string, windowStart time.Time) (*RateLimitWindow, error) {
	if r.db == nil {
		return nil, fmt.Errorf("mysql client is nil")
	}

	var row RateLimitWindow
	err := r.db.WithContext(ctx).
		Where("endpoint = ? AND identity = ? AND window_start = ?", endpoint, identity, windowStart).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load rate limit window: %w", err)
	}

	return &row, nil
}

// PurgeBefore garbage-collects window rows whose window started before the
// cutoff. Returns the number of rows removed.
func (r *RateLimitRepo) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if r.db == nil {
		return 0, fmt.Errorf("mysql client is nil")
	}

	res := r.db.WithContext(ctx).
		Where("window_start < ?", cutoff).
		Delete(&RateLimitWindow{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to purge rate limit windows: %w", res.Error)
	}

	return res.RowsAffected, nil
}

// checkBlockMarker consults the Redis fast-path marker. Any cache error is
// treated as "not blocked" so MySQL stays authoritative.
func (r *RateLimitRepo) checkBlockMarker(ctx context.Context, endpoint, identity string, windowStart time.Time) (bool, time.Time) {
	if r.cache == nil {
		return false, time.Time{}
	}

	key := blockMarkerKey(endpoint, identity, windowStart)
	var untilUnix int64
	if err := r.cache.Get(ctx, key, &untilUnix); err != nil {
		return false, time.Time{}
	}

	return true, time.Unix(untilUnix, 0)
}

// setBlockMarker writes the fast-path marker with a TTL to window end.
// Best effort only.
func (r *RateLimitRepo) setBlockMarker(ctx context.Context, endpoint, identity string, windowStart, blockedUntil time.Time) {
	if r.cache == nil {
		return
	}

	ttl := time.Until(blockedUntil)
	if ttl <= 0 {
		return
	}

	key := blockMarkerKey(endpoint, identity, windowStart)
	if err := r.cache.Set(ctx, key, blockedUntil.Unix(), ttl); err != nil {
		r.logger.Debugf("failed to set block marker %s: %v", key, err)
	}
}

// blockMarkerKey generates the Redis key for a blocked window.
// Format: block:{endpoint}:{identity}:{windowStartUnix}
func blockMarkerKey(endpoint, identity string, windowStart time.Time) string {
	return BuildCacheKey(CacheKeyBlock, endpoint, identity, strconv.FormatInt(windowStart.Unix(), 10))
}
