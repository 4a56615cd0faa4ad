//go:build wireinject
// +build wireinject

// The build tag makes sure the stub is not built in the final build.

package main

import (
	"SpendGuard/internal/biz"
	"SpendGuard/internal/conf"
	"SpendGuard/internal/data"
	"SpendGuard/internal/server"
	"SpendGuard/internal/service"
	"SpendGuard/pkg/clock"

	"github.com/go-kratos/kratos/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
)

// wireApp init kratos application.
func wireApp(*conf.Server, *conf.Data, *conf.Resilience, *conf.Monitor, *conf.Webhook, log.Logger) (*kratos.App, func(), error) {
	panic(wire.Build(
		clock.New,
		data.ProviderSet,
		biz.ProviderSet,
		service.ProviderSet,
		server.ProviderSet,
		newApp,
	))
}
