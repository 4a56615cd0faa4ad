package biz

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"SpendGuard/internal/data"
	"SpendGuard/pkg/clock"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCampaignRepo is an in-memory CampaignRepo.
type fakeCampaignRepo struct {
	mu        sync.Mutex
	campaigns map[int64]*data.Campaign
	// spendFn overrides ledger aggregation; default reports 0.
	spendFn  func(userID int64, campaignID *int64, since time.Time) (float64, error)
	pauseErr map[int64]error
}

func newFakeCampaignRepo(campaigns ...*data.Campaign) *fakeCampaignRepo {
	m := make(map[int64]*data.Campaign, len(campaigns))
	for _, c := range campaigns {
		m[c.ID] = c
	}
	return &fakeCampaignRepo{campaigns: m, pauseErr: map[int64]error{}}
}

func (f *fakeCampaignRepo) ListActive(_ context.Context) ([]*data.Campaign, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*data.Campaign
	for _, c := range f.campaigns {
		if c.Status == data.CampaignStatusActive {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeCampaignRepo) ListActiveForUser(_ context.Context, userID int64) ([]*data.Campaign, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*data.Campaign
	for _, c := range f.campaigns {
		if c.UserID == userID && c.Status == data.CampaignStatusActive {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeCampaignRepo) GetCampaign(_ context.Context, id int64) (*data.Campaign, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.campaigns[id]
	if !ok {
		return nil, errors.New("campaign not found")
	}
	return c, nil
}

func (f *fakeCampaignRepo) Pause(_ context.Context, id int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.pauseErr[id]; err != nil {
		return false, err
	}
	c, ok := f.campaigns[id]
	if !ok || c.Status != data.CampaignStatusActive {
		return false, nil
	}
	c.Status = data.CampaignStatusPaused
	return true, nil
}

func (f *fakeCampaignRepo) SpendSince(_ context.Context, userID int64, campaignID *int64, since time.Time) (float64, error) {
	if f.spendFn != nil {
		return f.spendFn(userID, campaignID, since)
	}
	return 0, nil
}

func (f *fakeCampaignRepo) status(id int64) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.campaigns[id].Status
}

// fakeSubscriptionRepo resolves tiers from a static map.
type fakeSubscriptionRepo struct {
	tiers  map[int64]string
	limits map[string]float64
}

func (f *fakeSubscriptionRepo) GetTier(_ context.Context, userID int64) (string, error) {
	if tier, ok := f.tiers[userID]; ok {
		return tier, nil
	}
	return TierAnonymous, nil
}

func (f *fakeSubscriptionRepo) GetTierMonthlyLimit(tier string) float64 {
	return f.limits[tier]
}

// fakeAlertRepo stores alerts in memory and implements dedup over them.
type fakeAlertRepo struct {
	mu        sync.Mutex
	clk       clock.Clock
	alerts    []*data.BudgetAlert
	createErr error
}

func (f *fakeAlertRepo) CreateAlert(_ context.Context, alert *data.BudgetAlert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	alert.ID = int64(len(f.alerts) + 1)
	f.alerts = append(f.alerts, alert)
	return nil
}

func (f *fakeAlertRepo) HasRecentAlert(_ context.Context, userID int64, campaignID *int64, alertType, severity string, within time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cutoff := f.clk.Now().Add(-within)
	for _, a := range f.alerts {
		if a.UserID != userID || a.AlertType != alertType || a.Severity != severity {
			continue
		}
		if (a.CampaignID == nil) != (campaignID == nil) {
			continue
		}
		if campaignID != nil && *a.CampaignID != *campaignID {
			continue
		}
		if !a.CreatedAt.Before(cutoff) {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeAlertRepo) AcknowledgeAlert(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.alerts {
		if a.ID == id {
			a.Acknowledged = true
			return nil
		}
	}
	return data.ErrAlertNotFound
}

func (f *fakeAlertRepo) PurgeAlertsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var kept []*data.BudgetAlert
	var purged int64
	for _, a := range f.alerts {
		if a.CreatedAt.Before(cutoff) {
			purged++
			continue
		}
		kept = append(kept, a)
	}
	f.alerts = kept
	return purged, nil
}

func (f *fakeAlertRepo) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.alerts)
}

func (f *fakeAlertRepo) last() *data.BudgetAlert {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.alerts) == 0 {
		return nil
	}
	return f.alerts[len(f.alerts)-1]
}

// fakeSpendingLimitRepo lists static limits.
type fakeSpendingLimitRepo struct {
	limits []*data.SpendingLimit
}

func (f *fakeSpendingLimitRepo) ListEnabled(_ context.Context) ([]*data.SpendingLimit, error) {
	return f.limits, nil
}

type monitorFixture struct {
	uc        *BudgetMonitorUseCase
	campaigns *fakeCampaignRepo
	subs      *fakeSubscriptionRepo
	alerts    *fakeAlertRepo
	limits    *fakeSpendingLimitRepo
	webhook   *MockWebhookService
	clk       *clock.Fake
}

func newMonitorFixture(campaigns ...*data.Campaign) *monitorFixture {
	clk := clock.NewFake(time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC))
	f := &monitorFixture{
		campaigns: newFakeCampaignRepo(campaigns...),
		subs: &fakeSubscriptionRepo{
			tiers:  map[int64]string{},
			limits: map[string]float64{TierBasic: 500, TierProfessional: 2000, TierBusiness: -1},
		},
		alerts:  &fakeAlertRepo{clk: clk},
		limits:  &fakeSpendingLimitRepo{},
		webhook: &MockWebhookService{},
		clk:     clk,
	}
	f.uc = NewBudgetMonitorUseCase(f.campaigns, f.subs, f.alerts, f.limits, f.webhook, clk, log.NewStdLogger(os.Stdout))
	return f
}

// A campaign under 80% raises nothing
func TestRunCycle_UnderThresholdQuiet(t *testing.T) {
	f := newMonitorFixture(&data.Campaign{
		ID: 1, UserID: 10, Status: data.CampaignStatusActive,
		BudgetTotal: 1000, Spend: 500, AutoPause: true,
	})
	f.subs.tiers[10] = TierBusiness

	result, err := f.uc.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, result.AlertsCreated)
	assert.Equal(t, 0, result.ActionsTaken)
	assert.Equal(t, data.CampaignStatusActive, f.campaigns.status(1))
}

// 80% raises a warning without pausing
func TestRunCycle_CampaignWarning(t *testing.T) {
	f := newMonitorFixture(&data.Campaign{
		ID: 1, UserID: 10, Status: data.CampaignStatusActive,
		BudgetTotal: 1000, Spend: 820, AutoPause: true,
	})
	f.subs.tiers[10] = TierBusiness

	result, err := f.uc.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.AlertsCreated)
	assert.Equal(t, 0, result.ActionsTaken)

	alert := f.alerts.last()
	require.NotNil(t, alert)
	assert.Equal(t, AlertTypeCampaignBudget, alert.AlertType)
	assert.Equal(t, SeverityWarning, alert.Severity)
	assert.Equal(t, 82.0, alert.SpendingPercentage)
	assert.Equal(t, data.CampaignStatusActive, f.campaigns.status(1))
	assert.Equal(t, 0, f.webhook.AlertCount(), "warnings do not hit the webhook")
}

// 96% raises a critical alert and auto-pauses the campaign
func TestRunCycle_CampaignCriticalAutoPause(t *testing.T) {
	f := newMonitorFixture(&data.Campaign{
		ID: 1, UserID: 10, Status: data.CampaignStatusActive,
		BudgetTotal: 1000, Spend: 960, AutoPause: true,
	})
	f.subs.tiers[10] = TierBusiness

	result, err := f.uc.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.AlertsCreated)
	assert.Equal(t, 1, result.ActionsTaken)
	assert.Equal(t, data.CampaignStatusPaused, f.campaigns.status(1))

	alert := f.alerts.last()
	require.NotNil(t, alert)
	assert.Equal(t, SeverityCritical, alert.Severity)
	assert.Equal(t, 96.0, alert.SpendingPercentage)
	assert.Equal(t, 1, f.webhook.AlertCount(), "critical alerts hit the webhook")
}

// Auto-pause disabled: critical alert only, campaign keeps running
func TestRunCycle_CriticalWithoutAutoPause(t *testing.T) {
	f := newMonitorFixture(&data.Campaign{
		ID: 1, UserID: 10, Status: data.CampaignStatusActive,
		BudgetTotal: 1000, Spend: 970, AutoPause: false,
	})
	f.subs.tiers[10] = TierBusiness

	result, err := f.uc.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.AlertsCreated)
	assert.Equal(t, 0, result.ActionsTaken)
	assert.Equal(t, data.CampaignStatusActive, f.campaigns.status(1))
}

// A second cycle within 24h raises no duplicate alert
func TestRunCycle_AlertDeduplication(t *testing.T) {
	f := newMonitorFixture(&data.Campaign{
		ID: 1, UserID: 10, Status: data.CampaignStatusActive,
		BudgetTotal: 1000, Spend: 850, AutoPause: true,
	})
	f.subs.tiers[10] = TierBusiness

	_, err := f.uc.RunCycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, f.alerts.count())

	f.clk.Advance(5 * time.Minute)
	result, err := f.uc.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, result.AlertsCreated)
	assert.Equal(t, 1, f.alerts.count())

	// Past the dedup window the alert fires again.
	f.clk.Advance(25 * time.Hour)
	result, err = f.uc.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.AlertsCreated)
	assert.Equal(t, 2, f.alerts.count())
}

// A recent warning does not suppress the critical alert once spend crosses
// the critical threshold inside the same 24h window
func TestRunCycle_WarningEscalatesToCritical(t *testing.T) {
	campaign := &data.Campaign{
		ID: 1, UserID: 10, Status: data.CampaignStatusActive,
		BudgetTotal: 1000, Spend: 820, AutoPause: true,
	}
	f := newMonitorFixture(campaign)
	f.subs.tiers[10] = TierBusiness

	_, err := f.uc.RunCycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, SeverityWarning, f.alerts.last().Severity)

	f.clk.Advance(time.Hour)
	campaign.Spend = 960

	result, err := f.uc.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.AlertsCreated)
	assert.Equal(t, SeverityCritical, f.alerts.last().Severity)
	assert.Equal(t, data.CampaignStatusPaused, f.campaigns.status(1))
	assert.Equal(t, 1, f.webhook.AlertCount())
}

// User at 100% of the monthly tier allowance gets all campaigns paused
func TestRunCycle_UserMonthlyPauseAll(t *testing.T) {
	f := newMonitorFixture(
		&data.Campaign{ID: 1, UserID: 10, Status: data.CampaignStatusActive, BudgetTotal: 10000, Spend: 100},
		&data.Campaign{ID: 2, UserID: 10, Status: data.CampaignStatusActive, BudgetTotal: 10000, Spend: 100},
	)
	f.subs.tiers[10] = TierBasic // monthly limit 500
	f.campaigns.spendFn = func(userID int64, campaignID *int64, _ time.Time) (float64, error) {
		if userID == 10 && campaignID == nil {
			return 510, nil
		}
		return 0, nil
	}

	result, err := f.uc.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.ActionsTaken)
	assert.Equal(t, data.CampaignStatusPaused, f.campaigns.status(1))
	assert.Equal(t, data.CampaignStatusPaused, f.campaigns.status(2))

	alert := f.alerts.last()
	require.NotNil(t, alert)
	assert.Equal(t, AlertTypeUserMonthly, alert.AlertType)
	assert.Equal(t, SeverityCritical, alert.Severity)
	assert.Nil(t, alert.CampaignID)
}

// A user between 75% and 90% gets a monthly warning only
func TestRunCycle_UserMonthlyWarning(t *testing.T) {
	f := newMonitorFixture(
		&data.Campaign{ID: 1, UserID: 10, Status: data.CampaignStatusActive, BudgetTotal: 10000, Spend: 100},
	)
	f.subs.tiers[10] = TierBasic
	f.campaigns.spendFn = func(userID int64, campaignID *int64, _ time.Time) (float64, error) {
		if campaignID == nil {
			return 400, nil // 80% of 500
		}
		return 0, nil
	}

	result, err := f.uc.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.AlertsCreated)
	assert.Equal(t, 0, result.ActionsTaken)
	assert.Equal(t, data.CampaignStatusActive, f.campaigns.status(1))
}

// Unlimited tiers are skipped entirely
func TestRunCycle_UnlimitedTierSkipped(t *testing.T) {
	f := newMonitorFixture(
		&data.Campaign{ID: 1, UserID: 10, Status: data.CampaignStatusActive, BudgetTotal: 10000, Spend: 100},
	)
	f.subs.tiers[10] = TierBusiness // limit -1: unlimited
	f.campaigns.spendFn = func(_ int64, _ *int64, _ time.Time) (float64, error) {
		return 1e9, nil
	}

	result, err := f.uc.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, result.AlertsCreated)
	assert.Equal(t, 0, result.ActionsTaken)
}

// One failing entity does not abort the cycle for the others
func TestRunCycle_PerEntityIsolation(t *testing.T) {
	f := newMonitorFixture(
		&data.Campaign{ID: 1, UserID: 10, Status: data.CampaignStatusActive, BudgetTotal: 1000, Spend: 960, AutoPause: true},
		&data.Campaign{ID: 2, UserID: 11, Status: data.CampaignStatusActive, BudgetTotal: 1000, Spend: 970, AutoPause: true},
	)
	f.subs.tiers[10] = TierBusiness
	f.subs.tiers[11] = TierBusiness
	f.campaigns.pauseErr[1] = errors.New("deadlock found when trying to get lock")

	result, err := f.uc.RunCycle(context.Background())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, result.Errors, 1)
	// Campaign 2 was still processed and paused.
	assert.Equal(t, data.CampaignStatusPaused, f.campaigns.status(2))
}

// A user-defined spending limit with auto-pause pauses its scope
func TestRunCycle_SpendingLimitAutoPause(t *testing.T) {
	campaignID := int64(1)
	f := newMonitorFixture(
		&data.Campaign{ID: 1, UserID: 10, Status: data.CampaignStatusActive, BudgetTotal: 100000, Spend: 100},
	)
	f.subs.tiers[10] = TierBusiness
	f.limits.limits = []*data.SpendingLimit{{
		ID: 1, UserID: 10, CampaignID: &campaignID,
		LimitType: LimitTypeDaily, LimitAmount: 50,
		WarningThreshold: 80, CriticalThreshold: 95, AutoPauseAtLimit: true,
	}}
	f.campaigns.spendFn = func(_ int64, campaignID *int64, since time.Time) (float64, error) {
		if campaignID != nil {
			// Daily window spend: 49 of 50 -> 98%
			return 49, nil
		}
		return 0, nil
	}

	result, err := f.uc.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, data.CampaignStatusPaused, f.campaigns.status(1))
	assert.Equal(t, 1, result.ActionsTaken)

	alert := f.alerts.last()
	require.NotNil(t, alert)
	assert.Equal(t, AlertTypeSpendingLimit, alert.AlertType)
	assert.Equal(t, SeverityCritical, alert.Severity)
}

// ValidateSpend rejects spend that would exceed the campaign budget
func TestValidateSpend_BudgetExceeded(t *testing.T) {
	f := newMonitorFixture(&data.Campaign{
		ID: 1, UserID: 10, Status: data.CampaignStatusActive,
		BudgetTotal: 1000, Spend: 990,
	})
	f.subs.tiers[10] = TierBusiness

	err := f.uc.ValidateSpend(context.Background(), 10, 1, 20)
	var budgetErr *BudgetExceededError
	require.ErrorAs(t, err, &budgetErr)
	assert.Equal(t, int64(1), budgetErr.CampaignID)
}

// ValidateSpend rejects spend past the monthly tier allowance
func TestValidateSpend_InsufficientFunds(t *testing.T) {
	f := newMonitorFixture(&data.Campaign{
		ID: 1, UserID: 10, Status: data.CampaignStatusActive,
		BudgetTotal: 100000, Spend: 0,
	})
	f.subs.tiers[10] = TierBasic // monthly 500
	f.campaigns.spendFn = func(_ int64, campaignID *int64, _ time.Time) (float64, error) {
		if campaignID == nil {
			return 495, nil
		}
		return 0, nil
	}

	err := f.uc.ValidateSpend(context.Background(), 10, 1, 10)
	var fundsErr *InsufficientFundsError
	require.ErrorAs(t, err, &fundsErr)
	assert.Equal(t, TierBasic, fundsErr.Tier)
}

// ValidateSpend admits spend within both budgets
func TestValidateSpend_OK(t *testing.T) {
	f := newMonitorFixture(&data.Campaign{
		ID: 1, UserID: 10, Status: data.CampaignStatusActive,
		BudgetTotal: 1000, Spend: 100,
	})
	f.subs.tiers[10] = TierBasic

	err := f.uc.ValidateSpend(context.Background(), 10, 1, 50)
	assert.NoError(t, err)
}

// Window starts: month, day, ISO week (Monday)
func TestWindowStartFor(t *testing.T) {
	// Sunday 2026-03-15
	now := time.Date(2026, 3, 15, 10, 30, 0, 0, time.UTC)

	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), windowStartFor(LimitTypeMonthly, now))
	assert.Equal(t, time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC), windowStartFor(LimitTypeDaily, now))
	assert.Equal(t, time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC), windowStartFor(LimitTypeWeekly, now),
		"week starts the preceding Monday")
	assert.True(t, windowStartFor(LimitTypeTotal, now).IsZero(), "total spend has no window start")
}

// PurgeExpiredAlerts removes alerts past retention
func TestPurgeExpiredAlerts(t *testing.T) {
	f := newMonitorFixture(&data.Campaign{
		ID: 1, UserID: 10, Status: data.CampaignStatusActive,
		BudgetTotal: 1000, Spend: 850, AutoPause: true,
	})
	f.subs.tiers[10] = TierBusiness

	_, err := f.uc.RunCycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, f.alerts.count())

	f.clk.Advance(31 * 24 * time.Hour)
	purged, err := f.uc.PurgeExpiredAlerts(context.Background(), 30*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)
	assert.Equal(t, 0, f.alerts.count())
}
