package config

import (
	"time"
)

// Config represents the complete application configuration
type Config struct {
	PolicyPath    string
	Policy        *PolicyFile
	Queue         QueueConfig
	Forwarder     ForwarderConfig
	Store         StoreConfig
	NATS          NATSConfig
	API           APIConfig
	Observability ObservabilityConfig
}

// QueueConfig configures the in-memory event queue
type QueueConfig struct {
	BufferSize int
}

// ForwarderConfig configures the event forwarder
type ForwarderConfig struct {
	RetryAttempts int
	RetryBackoff  time.Duration
	Concurrency   int
	BlockedOnly   bool
}

// StoreConfig configures the document store
type StoreConfig struct {
	Type        string
	PostgresURL string
	SQLitePath  string
}

// DSN returns the data source name for the configured store type
func (s StoreConfig) DSN() string {
	switch s.Type {
	case "postgres":
		return s.PostgresURL
	case "sqlite":
		return s.SQLitePath
	default:
		return ""
	}
}

// NATSConfig configures the NATS event sink. An empty URL disables it.
type NATSConfig struct {
	URL     string
	Subject string
}

// APIConfig configures the HTTP API server
type APIConfig struct {
	Enabled        bool
	Port           int
	APIKey         string
	ReadOnly       bool
	RateLimitRPS   float64
	RateLimitBurst int
}

// ObservabilityConfig configures logging and metrics
type ObservabilityConfig struct {
	LogLevel        string
	MetricsPort     int
	HealthCheckPort int
}

// PolicyFile represents the security policy file (docshield.yml)
type PolicyFile struct {
	Version int `yaml:"version"`
	// PatternLibrary is a semver constraint the built-in pattern library
	// must satisfy, e.g. ">= 1.0, < 2"
	PatternLibrary string          `yaml:"patternLibrary,omitempty"`
	Sanitizer      SanitizerPolicy `yaml:"sanitizer,omitempty"`
	RateLimit      RateLimitPolicy `yaml:"rateLimit,omitempty"`
	Audit          AuditPolicy     `yaml:"audit,omitempty"`
	Score          ScorePolicy     `yaml:"score,omitempty"`
	Posture        PosturePolicy   `yaml:"posture,omitempty"`
	Forwarder      ForwarderPolicy `yaml:"forwarder,omitempty"`
	Patterns       []PatternPolicy `yaml:"patterns,omitempty"`
}

// SanitizerPolicy overrides input sanitizer limits. Zero values keep the
// defaults.
type SanitizerPolicy struct {
	MaxSKULength       int `yaml:"maxSkuLength,omitempty"`
	MaxFaceShapeLength int `yaml:"maxFaceShapeLength,omitempty"`
	MaxQueryLength     int `yaml:"maxQueryLength,omitempty"`
	MaxQueryDepth      int `yaml:"maxQueryDepth,omitempty"`
	MaxKeyLength       int `yaml:"maxKeyLength,omitempty"`
	MaxStringLength    int `yaml:"maxStringLength,omitempty"`
}

// RateLimitPolicy configures per-source violation rate limiting
type RateLimitPolicy struct {
	Threshold  int    `yaml:"threshold,omitempty"`
	Window     string `yaml:"window,omitempty"`
	MaxSources int    `yaml:"maxSources,omitempty"`
}

// AuditPolicy configures the audit event window
type AuditPolicy struct {
	MaxEvents int    `yaml:"maxEvents,omitempty"`
	Retention string `yaml:"retention,omitempty"`
}

// ScorePolicy configures security score weighting
type ScorePolicy struct {
	// PenaltyWeight scales the blocked ratio, within (0, 1]
	PenaltyWeight float64 `yaml:"penaltyWeight,omitempty"`
	// Weights maps threat level names (LOW..CRITICAL) to weights in (0, 1]
	Weights map[string]float64 `yaml:"weights,omitempty"`
}

// PosturePolicy represents a CEL-based posture policy
type PosturePolicy struct {
	Expression     string `yaml:"expression,omitempty"`
	FailureMessage string `yaml:"failureMessage,omitempty"`
	Interval       string `yaml:"interval,omitempty"`
}

// ForwarderPolicy configures event forwarding
type ForwarderPolicy struct {
	Concurrency   int    `yaml:"concurrency,omitempty"`
	RetryAttempts int    `yaml:"retryAttempts,omitempty"`
	RetryBackoff  string `yaml:"retryBackoff,omitempty"`
	QueueSize     int    `yaml:"queueSize,omitempty"`
	BlockedOnly   bool   `yaml:"blockedOnly,omitempty"`
}

// PatternPolicy is an operator-defined threat signature
type PatternPolicy struct {
	Name     string   `yaml:"name"`
	Type     string   `yaml:"type"`
	Level    string   `yaml:"level"`
	Kind     string   `yaml:"kind"`
	Expr     string   `yaml:"expr,omitempty"`
	Keywords []string `yaml:"keywords,omitempty"`
}
