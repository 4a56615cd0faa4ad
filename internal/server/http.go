package server

import (
	"SpendGuard/internal/biz"
	"SpendGuard/internal/conf"
	"SpendGuard/internal/server/middleware"
	"SpendGuard/internal/service"
	pkglog "SpendGuard/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/middleware/recovery"
	"github.com/go-kratos/kratos/v2/transport/http"
	"github.com/google/wire"
)

// ProviderSet is server providers.
var ProviderSet = wire.NewSet(
	NewHTTPServer,
	NewCronServer,
)

// NewHTTPServer new an HTTP server.
func NewHTTPServer(c *conf.Server, limiter *biz.RateLimiterUseCase, resilienceService *service.ResilienceService, logger log.Logger) *http.Server {
	logHelper := pkglog.NewLogHelper(logger)

	var opts = []http.ServerOption{
		http.Middleware(
			recovery.Recovery(),
			middleware.Logging(logHelper),
			middleware.RateLimit(limiter, logHelper),
		),
	}
	if c != nil && c.Http != nil {
		if c.Http.Network != "" {
			opts = append(opts, http.Network(c.Http.Network))
		}
		if c.Http.Addr != "" {
			opts = append(opts, http.Address(c.Http.Addr))
		}
		if c.Http.Timeout != nil {
			opts = append(opts, http.Timeout(c.Http.Timeout.AsDuration()))
		}
	}
	srv := http.NewServer(opts...)

	resilienceService.RegisterRoutes(srv)

	return srv
}
