// Package biz contains business logic layer implementations.
// This layer holds the core business rules and domain models.
package biz

import (
	"SpendGuard/internal/data"

	"github.com/google/wire"
)

// ProviderSet is biz providers.
var ProviderSet = wire.NewSet(
	NewCircuitBreakerRegistry,
	NewRetryExecutor,
	NewRateLimiterUseCase,
	NewBudgetMonitorUseCase,
	// Import data layer providers
	data.NewRateLimitRepo,
	data.NewCampaignRepo,
	data.NewSubscriptionRepo,
	data.NewAlertRepo,
	data.NewSpendingLimitRepo,
	data.NewWebhookService,
	// Bind data layer implementations to biz layer interfaces
	wire.Bind(new(RateLimitRepo), new(*data.RateLimitRepo)),
	wire.Bind(new(CampaignRepo), new(*data.CampaignRepo)),
	wire.Bind(new(SubscriptionRepo), new(*data.SubscriptionRepo)),
	wire.Bind(new(AlertRepo), new(*data.AlertRepo)),
	wire.Bind(new(SpendingLimitRepo), new(*data.SpendingLimitRepo)),
	wire.Bind(new(WebhookService), new(*data.WebhookServiceImpl)),
)
