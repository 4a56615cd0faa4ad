package middleware

import (
	"context"
	"strings"
	"time"

	pkglog "SpendGuard/pkg/log"

	kratoserrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/middleware"
	"github.com/go-kratos/kratos/v2/transport"
	"github.com/go-kratos/kratos/v2/transport/http"
)

// Logging returns a middleware that logs every HTTP request with a request
// ID, the caller identity, status and latency. Slow requests are flagged
// separately by the log helper.
func Logging(logger *pkglog.LogHelper) middleware.Middleware {
	return func(handler middleware.Handler) middleware.Handler {
		return func(ctx context.Context, req interface{}) (interface{}, error) {
			startTime := time.Now()

			var (
				method    string
				path      string
				ip        string
				userAgent string
				requestID string
				identity  string
				tier      string
			)

			if tr, ok := transport.FromServerContext(ctx); ok {
				method = tr.Operation()
				path = tr.Operation()

				if ht, ok := tr.(http.Transporter); ok {
					httpReq := ht.Request()
					method = httpReq.Method
					path = httpReq.URL.Path
					if httpReq.URL.RawQuery != "" {
						path = path + "?" + httpReq.URL.RawQuery
					}

					ip = extractClientIP(httpReq)
					userAgent = httpReq.Header.Get("User-Agent")

					requestID = httpReq.Header.Get("X-Request-ID")
					if requestID == "" {
						requestID = pkglog.GenerateRequestID()
					}

					identity, tier = extractIdentity(httpReq, ip)
				}
			}

			// Inject the request context so every downstream log line carries
			// the request ID and identity automatically.
			ctx = pkglog.WithRequestContext(ctx, requestID, identity, tier)

			reply, err := handler(ctx, req)

			duration := time.Since(startTime).Milliseconds()

			status := 200
			if err != nil {
				status = extractHTTPStatus(err)
			}

			logger.RequestWithContext(ctx, method, path, status, duration,
				"ip", ip,
				"user_agent", userAgent,
			)

			return reply, err
		}
	}
}

// extractClientIP resolves the client IP.
// Priority: X-Real-IP > X-Forwarded-For (first entry) > RemoteAddr.
func extractClientIP(req *http.Request) string {
	if ip := req.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}

	if forwarded := req.Header.Get("X-Forwarded-For"); forwarded != "" {
		ips := strings.Split(forwarded, ",")
		if len(ips) > 0 {
			return strings.TrimSpace(ips[0])
		}
	}

	return req.RemoteAddr
}

// extractIdentity resolves the rate limiting identity and tier from request
// headers. Authenticated callers send X-User-ID and X-User-Tier (set by the
// gateway); anonymous callers are identified by client IP.
func extractIdentity(req *http.Request, ip string) (identity, tier string) {
	if userID := req.Header.Get("X-User-ID"); userID != "" {
		tier = req.Header.Get("X-User-Tier")
		if tier == "" {
			tier = "basic"
		}
		return "user:" + userID, tier
	}
	return "ip:" + ip, "anonymous"
}

// extractHTTPStatus maps a Kratos error to its HTTP status code.
func extractHTTPStatus(err error) int {
	if err == nil {
		return 200
	}
	if se := kratoserrors.FromError(err); se != nil {
		return int(se.Code)
	}
	return 500
}
