package data

import (
	"context"
	"time"

	"SpendGuard/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/redis/go-redis/v9"
)

// NewRedisClient creates a Redis client with connection pool configuration.
// Redis is an accelerator here (block markers, tier cache, alert dedup), not
// a source of truth: connection failure never prevents startup.
func NewRedisClient(c *conf.Data, logger log.Logger) (*redis.Client, func(), error) {
	helper := log.NewHelper(logger)

	if c == nil || c.Redis == nil || c.Redis.Addr == "" {
		helper.Warn("Redis configuration is missing, running without Redis")
		return nil, func() {}, nil
	}

	readTimeout := 200 * time.Millisecond
	if c.Redis.ReadTimeout != nil && c.Redis.ReadTimeout.AsDuration() > 0 {
		readTimeout = c.Redis.ReadTimeout.AsDuration()
	}
	writeTimeout := 200 * time.Millisecond
	if c.Redis.WriteTimeout != nil && c.Redis.WriteTimeout.AsDuration() > 0 {
		writeTimeout = c.Redis.WriteTimeout.AsDuration()
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:            c.Redis.Addr,
		DB:              0,
		PoolSize:        100,
		MinIdleConns:    10,
		DialTimeout:     3 * time.Second,
		ReadTimeout:     readTimeout,
		WriteTimeout:    writeTimeout,
		ConnMaxIdleTime: 5 * time.Minute,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		helper.Warnf("failed to connect to Redis at %s: %v (continuing without Redis)", c.Redis.Addr, err)
		// Keep the client: callers degrade per-operation, and the server
		// recovers automatically once Redis comes back.
		return rdb, func() {
			helper.Info("closing Redis client (connection was unavailable)")
			_ = rdb.Close()
		}, nil
	}

	helper.Infof("connected to Redis at %s", c.Redis.Addr)

	cleanup := func() {
		helper.Info("closing Redis client")
		if err := rdb.Close(); err != nil {
			helper.Errorf("failed to close Redis client: %v", err)
		}
	}

	return rdb, cleanup, nil
}
