// Package model holds cross-layer value types shared by biz and data.
package model

import "time"

// BreakerOpenedEvent is emitted when a circuit breaker trips open.
type BreakerOpenedEvent struct {
	CircuitName  string
	FailureCount int
	OpenedAt     time.Time
}

// BreakerRecoveredEvent is emitted when a circuit breaker closes after probing.
type BreakerRecoveredEvent struct {
	CircuitName  string
	ProbeCount   int
	RecoveredAt  time.Time
	OpenDuration time.Duration
}

// BudgetAlertEvent is emitted when the budget monitor raises a critical alert.
type BudgetAlertEvent struct {
	UserID             int64
	CampaignID         *int64
	AlertType          string
	Severity           string
	CurrentSpending    float64
	BudgetLimit        float64
	SpendingPercentage float64
	Paused             bool
	RaisedAt           time.Time
}
