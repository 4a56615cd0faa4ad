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

// Repositories are constructed from Data, and a Data built without Redis
// still yields working repositories (MySQL-only operation).
func TestNewData_WiresRepositories(t *testing.T) {
	rdb, _ := setupTestRedis(t)
	defer rdb.Close()

	logger := log.NewStdLogger(os.Stdout)
	cache := NewCacheClient(rdb)

	d, cleanup, err := NewData(nil, logger, nil, rdb, cache)
	require.NoError(t, err)
	defer cleanup()

	repo := NewRateLimitRepo(d, logger)
	ctx := context.Background()
	windowStart := time.Now().UTC().Truncate(time.Minute)

	key := blockMarkerKey("/v1/export", "user:7", windowStart)
	require.NoError(t, cache.Set(ctx, key, windowStart.Add(time.Minute).Unix(), time.Minute))

	// The marker written through the shared cache is visible via the repo,
	// proving the Data handles made it through construction.
	blocked, _ := repo.checkBlockMarker(ctx, "/v1/export", "user:7", windowStart)
	assert.True(t, blocked)
}

func TestNewData_ToleratesMissingRedis(t *testing.T) {
	logger := log.NewStdLogger(os.Stdout)

	d, cleanup, err := NewData(nil, logger, nil, nil, NewCacheClient(nil))
	require.NoError(t, err)
	defer cleanup()

	repo := NewRateLimitRepo(d, logger)
	blocked, _ := repo.checkBlockMarker(context.Background(), "/v1/export", "user:7",
		time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	assert.False(t, blocked)
}
