package log

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// contextKey is the private key type for storing RequestContext.
type contextKey string

const requestContextKey contextKey = "spendguard_request_context"

// RequestContext carries request tracing information across layers.
type RequestContext struct {
	RequestID string    // short 10-char request ID, e.g. mgrn0zfqda
	Identity  string    // rate-limit identity (user:<id> or ip:<addr>)
	Tier      string    // subscription tier resolved for the request
	StartTime time.Time // request start time
}

var (
	randSource = rand.NewSource(time.Now().UnixNano())
	randMutex  sync.Mutex
	// base36 charset (lowercase letters + digits)
	base36Chars = "0123456789abcdefghijklmnopqrstuvwxyz"
)

// GenerateRequestID generates a 10-character base36 request ID.
func GenerateRequestID() string {
	randMutex.Lock()
	defer randMutex.Unlock()

	b := make([]byte, 10)
	for i := range b {
		b[i] = base36Chars[randSource.Int63()%36]
	}
	return string(b)
}

// WithRequestContext injects a RequestContext into the Context.
// Called by the logging middleware at the start of each request.
func WithRequestContext(ctx context.Context, requestID, identity, tier string) context.Context {
	reqCtx := &RequestContext{
		RequestID: requestID,
		Identity:  identity,
		Tier:      tier,
		StartTime: time.Now(),
	}
	return context.WithValue(ctx, requestContextKey, reqCtx)
}

// GetRequestContext extracts the RequestContext from the Context.
// Returns an empty default when absent so callers skip nil checks.
func GetRequestContext(ctx context.Context) *RequestContext {
	if ctx == nil {
		return &RequestContext{RequestID: "unknown"}
	}

	if reqCtx, ok := ctx.Value(requestContextKey).(*RequestContext); ok {
		return reqCtx
	}

	return &RequestContext{RequestID: "unknown"}
}

// GetRequestID extracts the request ID from the Context.
func GetRequestID(ctx context.Context) string {
	return GetRequestContext(ctx).RequestID
}

// GetElapsedTime returns how long the request has been running, in milliseconds.
func GetElapsedTime(ctx context.Context) int64 {
	reqCtx := GetRequestContext(ctx)
	if reqCtx.StartTime.IsZero() {
		return 0
	}
	return time.Since(reqCtx.StartTime).Milliseconds()
}
