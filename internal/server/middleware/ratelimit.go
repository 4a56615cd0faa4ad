package middleware

import (
	"context"
	"strconv"

	"SpendGuard/internal/biz"
	pkglog "SpendGuard/pkg/log"

	"github.com/go-kratos/kratos/v2/middleware"
	"github.com/go-kratos/kratos/v2/transport"
	"github.com/go-kratos/kratos/v2/transport/http"
)

// RateLimit returns a middleware that enforces per-endpoint fixed-window
// rate limits. It runs after Logging so the identity and tier are already in
// the request context.
//
// Admitted and rejected requests both receive X-RateLimit-Limit,
// X-RateLimit-Remaining and X-RateLimit-Reset headers; rejections add
// Retry-After and return 429.
func RateLimit(limiter *biz.RateLimiterUseCase, logger *pkglog.LogHelper) middleware.Middleware {
	return func(handler middleware.Handler) middleware.Handler {
		return func(ctx context.Context, req interface{}) (interface{}, error) {
			tr, ok := transport.FromServerContext(ctx)
			if !ok {
				return handler(ctx, req)
			}
			ht, ok := tr.(http.Transporter)
			if !ok {
				return handler(ctx, req)
			}

			endpoint := ht.Request().URL.Path
			rc := pkglog.GetRequestContext(ctx)
			identity := rc.Identity
			tier := rc.Tier
			if identity == "" {
				identity = "ip:" + extractClientIP(ht.Request())
				tier = "anonymous"
			}

			result, err := limiter.CheckAndIncrement(ctx, endpoint, identity, tier)
			if err != nil {
				// The limiter already degrades internally; this path means a
				// programming error. Fail open.
				logger.RateLimit("rate limit check errored, allowing request",
					"endpoint", endpoint,
					"identity", identity,
					"error", err)
				return handler(ctx, req)
			}

			header := tr.ReplyHeader()
			header.Set("X-RateLimit-Limit", strconv.FormatInt(int64(result.RequestsLimit), 10))
			header.Set("X-RateLimit-Remaining", strconv.FormatInt(int64(result.RequestsRemaining), 10))
			header.Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetTime.Unix(), 10))

			if !result.Allowed {
				retryAfter := int64(result.RetryAfter.Seconds())
				if retryAfter < 1 {
					retryAfter = 1
				}
				header.Set("Retry-After", strconv.FormatInt(retryAfter, 10))
				return nil, biz.NewRateLimitTransportError(limiter.ExceededError(result))
			}

			return handler(ctx, req)
		}
	}
}
