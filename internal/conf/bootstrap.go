// Package conf provides configuration management using Viper.
// It supports loading configuration from YAML files and environment variables,
// with CLI flag overrides.
package conf

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"google.golang.org/protobuf/types/known/durationpb"
)

// NewBootstrap creates and initializes a Bootstrap configuration.
// It loads configuration from the specified config file path, applies defaults,
// and allows overrides from environment variables prefixed with SPENDGUARD_.
//
// Configuration priority: CLI flags > Environment variables > Config file > Defaults
//
// Required environment variables:
//   - MYSQL_DSN or SPENDGUARD_DATA_DATABASE_SOURCE: MySQL connection string
func NewBootstrap(configPath string) (*Bootstrap, error) {
	v := viper.New()

	setDefaults(v)

	// Enable environment variable support with SPENDGUARD_ prefix
	v.SetEnvPrefix("SPENDGUARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Allow direct environment variable names (without SPENDGUARD_ prefix) for compatibility
	_ = v.BindEnv("data.database.source", "MYSQL_DSN", "SPENDGUARD_DATA_DATABASE_SOURCE")
	_ = v.BindEnv("data.redis.addr", "SPENDGUARD_DATA_REDIS_ADDR")
	_ = v.BindEnv("webhook.url", "SPENDGUARD_WEBHOOK_URL")

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
	}

	// AllKeys merges defaults with file keys, so tiers only present in one
	// source still enumerate. GetFloat64 resolves each key by priority.
	tierLimits := map[string]float64{}
	const tierLimitPrefix = "monitor.tier_monthly_limits."
	for _, key := range v.AllKeys() {
		if strings.HasPrefix(key, tierLimitPrefix) {
			tierLimits[strings.TrimPrefix(key, tierLimitPrefix)] = v.GetFloat64(key)
		}
	}

	bc := &Bootstrap{
		Server: &Server{
			Http: &ServerHTTP{
				Network: v.GetString("server.http.network"),
				Addr:    v.GetString("server.http.addr"),
				Timeout: durationpb.New(v.GetDuration("server.http.timeout")),
			},
		},
		Data: &Data{
			Database: &Database{
				Driver: v.GetString("data.database.driver"),
				Source: v.GetString("data.database.source"),
			},
			Redis: &Redis{
				Network:      v.GetString("data.redis.network"),
				Addr:         v.GetString("data.redis.addr"),
				ReadTimeout:  durationpb.New(v.GetDuration("data.redis.read_timeout")),
				WriteTimeout: durationpb.New(v.GetDuration("data.redis.write_timeout")),
			},
		},
		Log: &Log{
			Level:      v.GetString("log.level"),
			Format:     v.GetString("log.format"),
			Env:        v.GetString("log.env"),
			OutputFile: v.GetString("log.output_file"),
		},
		Resilience: &Resilience{
			Breaker: &Breaker{
				FailureThreshold: v.GetInt32("resilience.breaker.failure_threshold"),
				SuccessThreshold: v.GetInt32("resilience.breaker.success_threshold"),
				Timeout:          durationpb.New(v.GetDuration("resilience.breaker.timeout")),
				MaxProbes:        v.GetInt32("resilience.breaker.max_probes"),
			},
			RateLimit: &RateLimit{
				DefaultLimit:  v.GetInt32("resilience.ratelimit.default_limit"),
				Window:        durationpb.New(v.GetDuration("resilience.ratelimit.window")),
				RetentionDays: v.GetInt32("resilience.ratelimit.retention_days"),
			},
		},
		Monitor: &Monitor{
			Interval:           durationpb.New(v.GetDuration("monitor.interval")),
			AlertRetentionDays: v.GetInt32("monitor.alert_retention_days"),
			TierMonthlyLimits:  tierLimits,
		},
		Webhook: &Webhook{
			Url:      v.GetString("webhook.url"),
			ProxyUrl: v.GetString("webhook.proxy_url"),
			Timeout:  durationpb.New(v.GetDuration("webhook.timeout")),
		},
	}

	if err := Validate(bc); err != nil {
		return nil, err
	}

	return bc, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.http.network", "tcp")
	v.SetDefault("server.http.addr", ":8080")
	v.SetDefault("server.http.timeout", 30*time.Second)

	// Data defaults
	v.SetDefault("data.database.driver", "mysql")
	// Note: data.database.source (MYSQL_DSN) is required from environment

	v.SetDefault("data.redis.network", "tcp")
	v.SetDefault("data.redis.addr", "127.0.0.1:6379")
	v.SetDefault("data.redis.read_timeout", 200*time.Millisecond)
	v.SetDefault("data.redis.write_timeout", 200*time.Millisecond)

	// Resilience defaults
	v.SetDefault("resilience.breaker.failure_threshold", 5)
	v.SetDefault("resilience.breaker.success_threshold", 2)
	v.SetDefault("resilience.breaker.timeout", 60*time.Second)
	v.SetDefault("resilience.breaker.max_probes", 0)

	v.SetDefault("resilience.ratelimit.default_limit", 60)
	v.SetDefault("resilience.ratelimit.window", time.Minute)
	v.SetDefault("resilience.ratelimit.retention_days", 7)

	// Monitor defaults
	v.SetDefault("monitor.interval", 5*time.Minute)
	v.SetDefault("monitor.alert_retention_days", 30)
	// Per-key defaults: viper cannot enumerate a typed map default through
	// GetStringMap, and nested keys merge cleanly with file overrides.
	v.SetDefault("monitor.tier_monthly_limits.basic", 500.0)
	v.SetDefault("monitor.tier_monthly_limits.professional", 2000.0)
	v.SetDefault("monitor.tier_monthly_limits.business", -1.0) // unlimited

	// Webhook defaults
	v.SetDefault("webhook.timeout", 10*time.Second)

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Validate checks that all required configuration fields are present and valid.
// It returns an error listing all missing required fields.
func Validate(bc *Bootstrap) error {
	var missingFields []string

	if bc.Data == nil || bc.Data.Database == nil || bc.Data.Database.Source == "" {
		missingFields = append(missingFields, "data.database.source (MYSQL_DSN)")
	}

	if bc.Resilience != nil && bc.Resilience.Breaker != nil {
		if bc.Resilience.Breaker.FailureThreshold <= 0 {
			missingFields = append(missingFields, "resilience.breaker.failure_threshold (must be > 0)")
		}
		if bc.Resilience.Breaker.SuccessThreshold <= 0 {
			missingFields = append(missingFields, "resilience.breaker.success_threshold (must be > 0)")
		}
	}

	if len(missingFields) > 0 {
		return fmt.Errorf("missing required configuration fields: %s", strings.Join(missingFields, ", "))
	}

	return nil
}
