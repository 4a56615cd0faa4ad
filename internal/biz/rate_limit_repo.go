package biz

import (
	"context"
	"time"

	"SpendGuard/internal/data"
)

// RateLimitRepo defines the storage interface for fixed-window rate limiting.
// Interfaces live in the biz layer; implementations in data.
//
// IncrementWindow must perform the check-then-increment as a single atomic
// operation at the storage layer, so two concurrent requests for the same
// (endpoint, identity, window) never undercount, including across server
// processes sharing the store.
type RateLimitRepo interface {
	// IncrementWindow lazily creates the window row and attempts to admit
	// one request. It returns the row after the attempt and whether the
	// request was admitted. A rejected request leaves the row blocked until
	// the window ends.
	IncrementWindow(ctx context.Context, endpoint, identity string, windowStart time.Time, window time.Duration, limit int32) (*data.RateLimitWindow, bool, error)

	// GetWindow loads a window row without modifying it. Returns nil when
	// the row does not exist.
	GetWindow(ctx context.Context, endpoint, identity string, windowStart time.Time) (*data.RateLimitWindow, error)

	// PurgeBefore garbage-collects window rows whose window started before
	// the cutoff. Returns the number of rows removed.
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
