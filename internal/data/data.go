// Package data provides data access layer implementations.
// It handles database connections and data persistence.
package data

import (
	"SpendGuard/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// ProviderSet is data providers.
var ProviderSet = wire.NewSet(
	NewData,
	NewRedisClient,
	NewCacheClient,
	NewMySQLClient,
)

// Data bundles the shared data layer handles. Every repository is
// constructed from it, so MySQL and Redis wiring happens in one place.
// Redis may be nil; its absence is tolerated throughout.
type Data struct {
	db          *gorm.DB
	redisClient *redis.Client
	cache       CacheClient
}

// NewData creates the shared data layer state. Redis being down does not
// prevent startup: counters fall back to MySQL-only operation.
func NewData(_ *conf.Data, logger log.Logger, db *gorm.DB, rdb *redis.Client, cache CacheClient) (*Data, func(), error) {
	helper := log.NewHelper(logger)

	if rdb == nil {
		helper.Warn("Redis client is nil, block markers and dedup caching unavailable")
	}

	d := &Data{
		db:          db,
		redisClient: rdb,
		cache:       cache,
	}

	cleanup := func() {
		helper.Info("closing the data resources")
		// Redis and MySQL cleanups are returned by their own providers and
		// invoked by Wire in reverse order.
	}

	return d, cleanup, nil
}
