package conf

import (
	"google.golang.org/protobuf/types/known/durationpb"
)

// Bootstrap is the root configuration for the SpendGuard service.
type Bootstrap struct {
	Server     *Server
	Data       *Data
	Log        *Log
	Resilience *Resilience
	Monitor    *Monitor
	Webhook    *Webhook
}

// Server holds transport configuration.
type Server struct {
	Http *ServerHTTP
}

// ServerHTTP configures the HTTP server.
type ServerHTTP struct {
	Network string
	Addr    string
	Timeout *durationpb.Duration
}

// Data holds storage configuration.
type Data struct {
	Database *Database
	Redis    *Redis
}

// Database configures the MySQL connection.
type Database struct {
	Driver string
	Source string
}

// Redis configures the Redis connection.
type Redis struct {
	Network      string
	Addr         string
	ReadTimeout  *durationpb.Duration
	WriteTimeout *durationpb.Duration
}

// Log configures the zap logger.
type Log struct {
	Level      string
	Format     string
	Env        string
	OutputFile string
}

// Resilience holds circuit breaker and rate limiter defaults.
type Resilience struct {
	Breaker   *Breaker
	RateLimit *RateLimit
}

// Breaker holds default circuit breaker settings for dependencies that
// do not register explicit overrides.
type Breaker struct {
	FailureThreshold int32
	SuccessThreshold int32
	Timeout          *durationpb.Duration
	// MaxProbes bounds concurrent HALF_OPEN trial calls. 0 admits every
	// call once probing begins (reference behavior).
	MaxProbes int32
}

// RateLimit holds the default rate limit policy applied to endpoints
// without an explicit entry in the policy table.
type RateLimit struct {
	DefaultLimit  int32
	Window        *durationpb.Duration
	RetentionDays int32
}

// Monitor configures the budget monitoring cycle.
type Monitor struct {
	Interval           *durationpb.Duration
	AlertRetentionDays int32
	// TierMonthlyLimits maps subscription tier → monthly spend allowance.
	// A limit <= 0 means unlimited.
	TierMonthlyLimits map[string]float64
}

// Webhook configures alert/breaker event delivery. An empty URL disables delivery.
type Webhook struct {
	Url      string
	ProxyUrl string
	Timeout  *durationpb.Duration
}
