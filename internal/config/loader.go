package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/daimoniac/docshield/internal/errors"
	"github.com/daimoniac/docshield/internal/forwarder"
)

// Load loads configuration from environment variables and docshield.yml
func Load() (*Config, error) {
	policyPath := getEnv("DOCSHIELD_POLICY", "docshield.yml")

	// The policy file is optional; without it every setting keeps its default
	var policy *PolicyFile
	if _, err := os.Stat(policyPath); err == nil {
		parsed, err := ParsePolicy(policyPath)
		if err != nil {
			return nil, err
		}
		policy = parsed
	}

	fwd := forwarder.DefaultConfig()
	queueSize := 1024
	if policy != nil {
		if policy.Forwarder.Concurrency > 0 {
			fwd.Concurrency = policy.Forwarder.Concurrency
		}
		if policy.Forwarder.RetryAttempts > 0 {
			fwd.RetryAttempts = policy.Forwarder.RetryAttempts
		}
		if backoff, _ := policy.ForwarderRetryBackoff(); backoff > 0 {
			fwd.RetryBackoff = backoff
		}
		if policy.Forwarder.QueueSize > 0 {
			queueSize = policy.Forwarder.QueueSize
		}
		fwd.BlockedOnly = policy.Forwarder.BlockedOnly
	}

	cfg := &Config{
		PolicyPath: policyPath,
		Policy:     policy,
		Queue: QueueConfig{
			BufferSize: getEnvInt("EVENT_QUEUE_SIZE", queueSize),
		},
		Forwarder: ForwarderConfig{
			RetryAttempts: fwd.RetryAttempts,
			RetryBackoff:  getEnvDuration("FORWARDER_RETRY_BACKOFF", fwd.RetryBackoff),
			Concurrency:   fwd.Concurrency,
			BlockedOnly:   fwd.BlockedOnly,
		},
		Store: StoreConfig{
			Type:        getEnv("STATE_STORE_TYPE", "sqlite"),
			PostgresURL: getEnv("POSTGRES_URL", ""),
			SQLitePath:  getEnv("SQLITE_PATH", "docshield.db"),
		},
		NATS: NATSConfig{
			URL:     getEnv("NATS_URL", ""),
			Subject: getEnv("NATS_SUBJECT", forwarder.DefaultSubject),
		},
		API: APIConfig{
			Enabled:        getEnvBool("API_ENABLED", true),
			Port:           getEnvInt("API_PORT", 8080),
			APIKey:         getEnv("API_KEY", ""),
			ReadOnly:       getEnvBool("API_READ_ONLY", false),
			RateLimitRPS:   getEnvFloat("API_RATE_LIMIT_RPS", 20),
			RateLimitBurst: getEnvInt("API_RATE_LIMIT_BURST", 40),
		},
		Observability: ObservabilityConfig{
			LogLevel:        getEnv("LOG_LEVEL", "info"),
			MetricsPort:     getEnvInt("METRICS_PORT", 9090),
			HealthCheckPort: getEnvInt("HEALTH_CHECK_PORT", 8081),
		},
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.Store.Type {
	case "memory", "sqlite", "postgres":
	default:
		return errors.NewPermanentf("invalid state store type: %s (must be sqlite, postgres, or memory)", c.Store.Type)
	}

	if c.Store.Type == "postgres" && c.Store.PostgresURL == "" {
		return errors.NewPermanentf("postgres URL is required when using postgres state store")
	}

	if c.Store.Type == "sqlite" && c.Store.SQLitePath == "" {
		return errors.NewPermanentf("sqlite path is required when using sqlite state store")
	}

	if c.Queue.BufferSize <= 0 {
		return errors.NewPermanentf("event queue size must be positive, got %d", c.Queue.BufferSize)
	}

	if c.Forwarder.Concurrency <= 0 || c.Forwarder.RetryAttempts <= 0 {
		return errors.NewPermanentf("forwarder concurrency and retry attempts must be positive")
	}

	if c.API.Enabled {
		if c.API.Port <= 0 || c.API.Port > 65535 {
			return errors.NewPermanentf("invalid API port: %d", c.API.Port)
		}
		if c.API.RateLimitRPS <= 0 || c.API.RateLimitBurst <= 0 {
			return errors.NewPermanentf("API rate limit must be positive (rps=%v, burst=%d)", c.API.RateLimitRPS, c.API.RateLimitBurst)
		}
	}

	if c.Policy != nil {
		if err := c.Policy.Validate(); err != nil {
			return err
		}
	}

	return nil
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var intValue int
		if _, err := fmt.Sscanf(value, "%d", &intValue); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
