package biz

import (
	"context"

	"SpendGuard/internal/model"
)

// WebhookService delivers operational notifications to an external endpoint.
// Delivery is best-effort; failures are logged and never propagate into the
// request or monitoring path.
type WebhookService interface {
	// NotifyBreakerOpened is sent when a circuit breaker trips open.
	NotifyBreakerOpened(ctx context.Context, event *model.BreakerOpenedEvent) error

	// NotifyBreakerRecovered is sent when a circuit breaker closes after probing.
	NotifyBreakerRecovered(ctx context.Context, event *model.BreakerRecoveredEvent) error

	// NotifyBudgetAlert is sent when the budget monitor raises a critical alert.
	NotifyBudgetAlert(ctx context.Context, event *model.BudgetAlertEvent) error
}
