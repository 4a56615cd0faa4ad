package data

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Block markers short-circuit admission without touching MySQL
func TestBlockMarker_FastPath(t *testing.T) {
	rdb, _ := setupTestRedis(t)
	defer rdb.Close()

	cache := NewCacheClient(rdb)
	logger := log.NewStdLogger(os.Stdout)
	// nil DB: only reachable paths are the marker fast path.
	repo := NewRateLimitRepo(&Data{cache: cache}, logger)

	ctx := context.Background()
	windowStart := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	blockedUntil := windowStart.Add(time.Minute)

	// setBlockMarker derives the TTL from the window end, so seed the marker
	// directly to keep the test independent of wall time.
	key := blockMarkerKey("/v1/export", "user:42", windowStart)
	require.NoError(t, cache.Set(ctx, key, blockedUntil.Unix(), time.Minute))

	window, admitted, err := repo.IncrementWindow(ctx, "/v1/export", "user:42", windowStart, time.Minute, 5)
	require.NoError(t, err)
	assert.False(t, admitted)
	require.NotNil(t, window)
	assert.True(t, window.IsBlocked)
	require.NotNil(t, window.BlockedUntil)
	assert.Equal(t, blockedUntil.Unix(), window.BlockedUntil.Unix())
}

// Without a marker and without MySQL the repo reports an error,
// which the use case layer converts into a fail-open admit
func TestIncrementWindow_NoStore(t *testing.T) {
	rdb, _ := setupTestRedis(t)
	defer rdb.Close()

	cache := NewCacheClient(rdb)
	repo := NewRateLimitRepo(&Data{cache: cache}, log.NewStdLogger(os.Stdout))

	_, _, err := repo.IncrementWindow(context.Background(), "/v1/export", "user:42",
		time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC), time.Minute, 5)
	assert.Error(t, err)
}

// checkBlockMarker tolerates cache errors and missing markers
func TestCheckBlockMarker_Degrades(t *testing.T) {
	repo := NewRateLimitRepo(&Data{cache: NewCacheClient(nil)}, log.NewStdLogger(os.Stdout))

	blocked, _ := repo.checkBlockMarker(context.Background(), "/v1/export", "user:42",
		time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	assert.False(t, blocked)
}

// setBlockMarker skips windows that already ended
func TestSetBlockMarker_PastWindowSkipped(t *testing.T) {
	rdb, _ := setupTestRedis(t)
	defer rdb.Close()

	cache := NewCacheClient(rdb)
	repo := NewRateLimitRepo(&Data{cache: cache}, log.NewStdLogger(os.Stdout))
	ctx := context.Background()

	windowStart := time.Date(2020, 1, 1, 12, 0, 0, 0, time.UTC)
	repo.setBlockMarker(ctx, "/v1/export", "user:42", windowStart, windowStart.Add(time.Minute))

	exists, err := cache.Exists(ctx, blockMarkerKey("/v1/export", "user:42", windowStart))
	require.NoError(t, err)
	assert.False(t, exists)
}
