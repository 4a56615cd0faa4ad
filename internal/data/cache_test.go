package data

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestRedis creates a miniredis instance for testing
func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	return rdb, mr
}

func TestCache_SetAndGet(t *testing.T) {
	rdb, _ := setupTestRedis(t)
	defer rdb.Close()

	cache := NewCacheClient(rdb)
	ctx := context.Background()

	err := cache.Set(ctx, "tier:42", "professional", TTLTier)
	require.NoError(t, err)

	var tier string
	err = cache.Get(ctx, "tier:42", &tier)
	assert.NoError(t, err)
	assert.Equal(t, "professional", tier)
}

func TestCache_GetMissing(t *testing.T) {
	rdb, _ := setupTestRedis(t)
	defer rdb.Close()

	cache := NewCacheClient(rdb)

	var dest string
	err := cache.Get(context.Background(), "no:such:key", &dest)
	assert.ErrorIs(t, err, ErrCacheNotFound)
}

func TestCache_SetNX(t *testing.T) {
	rdb, _ := setupTestRedis(t)
	defer rdb.Close()

	cache := NewCacheClient(rdb)
	ctx := context.Background()

	created, err := cache.SetNX(ctx, "alertdedup:10:-:campaign_budget:warning", int64(1), TTLAlertDedup)
	require.NoError(t, err)
	assert.True(t, created)

	// Second call must not overwrite.
	created, err = cache.SetNX(ctx, "alertdedup:10:-:campaign_budget:warning", int64(2), TTLAlertDedup)
	require.NoError(t, err)
	assert.False(t, created)

	var id int64
	require.NoError(t, cache.Get(ctx, "alertdedup:10:-:campaign_budget:warning", &id))
	assert.Equal(t, int64(1), id)
}

func TestCache_DeleteAndExists(t *testing.T) {
	rdb, _ := setupTestRedis(t)
	defer rdb.Close()

	cache := NewCacheClient(rdb)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "tier:42", "basic", TTLTier))

	exists, err := cache.Exists(ctx, "tier:42")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, cache.Delete(ctx, "tier:42"))

	exists, err = cache.Exists(ctx, "tier:42")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestCache_TTLExpiry(t *testing.T) {
	rdb, mr := setupTestRedis(t)
	defer rdb.Close()

	cache := NewCacheClient(rdb)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "tier:42", "basic", time.Minute))

	mr.FastForward(2 * time.Minute)

	var dest string
	err := cache.Get(ctx, "tier:42", &dest)
	assert.ErrorIs(t, err, ErrCacheNotFound)
}

func TestCache_NilClient(t *testing.T) {
	cache := NewCacheClient(nil)
	ctx := context.Background()

	var dest string
	assert.Error(t, cache.Get(ctx, "k", &dest))
	assert.Error(t, cache.Set(ctx, "k", "v", time.Minute))
	_, err := cache.SetNX(ctx, "k", "v", time.Minute)
	assert.Error(t, err)
}

func TestBuildCacheKey(t *testing.T) {
	assert.Equal(t, "tier:123", BuildCacheKey(CacheKeyTier, "123"))
	assert.Equal(t, "block:/v1/export:user:42:1700000000",
		BuildCacheKey(CacheKeyBlock, "/v1/export", "user:42", "1700000000"))
}
