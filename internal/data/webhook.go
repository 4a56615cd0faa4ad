package data

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"SpendGuard/internal/conf"
	"SpendGuard/internal/model"
	"SpendGuard/pkg/httpclient"

	"github.com/go-kratos/kratos/v2/log"
)

// Webhook event types on the wire.
const (
	webhookEventBreakerOpened    = "breaker.opened"
	webhookEventBreakerRecovered = "breaker.recovered"
	webhookEventBudgetAlert      = "budget.alert"
)

// webhookEnvelope is the JSON body POSTed to the configured endpoint.
type webhookEnvelope struct {
	Event     string      `json:"event"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// WebhookServiceImpl implements biz.WebhookService over HTTP POST. An empty
// URL disables delivery: events are logged and dropped, so environments
// without an alerting endpoint run unchanged.
type WebhookServiceImpl struct {
	url    string
	client *http.Client
	logger *log.Helper
}

// NewWebhookService creates the webhook delivery service.
func NewWebhookService(c *conf.Webhook, logger log.Logger) (*WebhookServiceImpl, error) {
	helper := log.NewHelper(logger)

	s := &WebhookServiceImpl{logger: helper}
	if c == nil || c.Url == "" {
		helper.Info("webhook URL not configured, notifications will be logged only")
		return s, nil
	}

	timeout := 10 * time.Second
	if c.Timeout != nil && c.Timeout.AsDuration() > 0 {
		timeout = c.Timeout.AsDuration()
	}

	client, err := httpclient.New(c.ProxyUrl, timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to build webhook HTTP client: %w", err)
	}

	s.url = c.Url
	s.client = client
	return s, nil
}

// NotifyBreakerOpened delivers a breaker-opened event.
func (s *WebhookServiceImpl) NotifyBreakerOpened(ctx context.Context, event *model.BreakerOpenedEvent) error {
	s.logger.Warnw("circuit breaker opened",
		"circuit", event.CircuitName,
		"failure_count", event.FailureCount,
		"opened_at", event.OpenedAt)
	return s.post(ctx, webhookEventBreakerOpened, event)
}

// NotifyBreakerRecovered delivers a breaker-recovered event.
func (s *WebhookServiceImpl) NotifyBreakerRecovered(ctx context.Context, event *model.BreakerRecoveredEvent) error {
	s.logger.Infow("circuit breaker recovered",
		"circuit", event.CircuitName,
		"probe_count", event.ProbeCount,
		"open_duration", event.OpenDuration)
	return s.post(ctx, webhookEventBreakerRecovered, event)
}

// NotifyBudgetAlert delivers a budget alert event.
func (s *WebhookServiceImpl) NotifyBudgetAlert(ctx context.Context, event *model.BudgetAlertEvent) error {
	s.logger.Warnw("budget alert",
		"user_id", event.UserID,
		"alert_type", event.AlertType,
		"severity", event.Severity,
		"spending_percentage", event.SpendingPercentage,
		"paused", event.Paused)
	return s.post(ctx, webhookEventBudgetAlert, event)
}

// post delivers one envelope. Non-2xx responses are errors so callers can
// log them; callers never propagate webhook failures further.
func (s *WebhookServiceImpl) post(ctx context.Context, eventType string, payload interface{}) error {
	if s.url == "" || s.client == nil {
		return nil
	}

	body, err := json.Marshal(&webhookEnvelope{
		Event:     eventType,
		Timestamp: time.Now(),
		Payload:   payload,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook delivery failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook endpoint returned status %d", resp.StatusCode)
	}

	return nil
}
