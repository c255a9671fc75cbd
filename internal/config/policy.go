package config

import (
	"fmt"
	"os"
	"time"

	"github.com/daimoniac/docshield/internal/audit"
	"github.com/daimoniac/docshield/internal/errors"
	"github.com/daimoniac/docshield/internal/posture"
	"github.com/daimoniac/docshield/internal/security"
	"gopkg.in/yaml.v3"
)

// DefaultPostureInterval is how often the health checker evaluates posture
const DefaultPostureInterval = 30 * time.Second

// ParsePolicy reads and parses a docshield.yml policy file
func ParsePolicy(path string) (*PolicyFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewTransientf("failed to read policy file: %w", err)
	}
	return ParsePolicyData(data)
}

// ParsePolicyData parses policy YAML and validates it
func ParsePolicyData(data []byte) (*PolicyFile, error) {
	var policy PolicyFile
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return nil, errors.NewPermanentf("failed to parse policy YAML: %w", err)
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return &policy, nil
}

// Validate checks every section of the policy
func (p *PolicyFile) Validate() error {
	if _, err := p.DetectorConfig(); err != nil {
		return err
	}
	if _, err := p.AuditConfig(); err != nil {
		return err
	}
	if _, err := p.PostureInterval(); err != nil {
		return err
	}
	if _, err := p.ForwarderRetryBackoff(); err != nil {
		return err
	}
	if _, err := p.Library(); err != nil {
		return err
	}
	if p.Posture.Expression != "" {
		if _, err := posture.Compile(p.Posture.Expression); err != nil {
			return errors.NewPermanentf("invalid posture policy: %w", err)
		}
	}
	for name, v := range map[string]int{
		"sanitizer.maxSkuLength":       p.Sanitizer.MaxSKULength,
		"sanitizer.maxFaceShapeLength": p.Sanitizer.MaxFaceShapeLength,
		"sanitizer.maxQueryLength":     p.Sanitizer.MaxQueryLength,
		"sanitizer.maxQueryDepth":      p.Sanitizer.MaxQueryDepth,
		"sanitizer.maxKeyLength":       p.Sanitizer.MaxKeyLength,
		"sanitizer.maxStringLength":    p.Sanitizer.MaxStringLength,
		"rateLimit.threshold":          p.RateLimit.Threshold,
		"rateLimit.maxSources":         p.RateLimit.MaxSources,
		"audit.maxEvents":              p.Audit.MaxEvents,
		"forwarder.concurrency":        p.Forwarder.Concurrency,
		"forwarder.retryAttempts":      p.Forwarder.RetryAttempts,
		"forwarder.queueSize":          p.Forwarder.QueueSize,
	} {
		if v < 0 {
			return errors.NewPermanentf("%s must not be negative, got %d", name, v)
		}
	}
	return nil
}

// SanitizerConfig returns sanitizer limits with defaults for unset values
func (p *PolicyFile) SanitizerConfig() security.SanitizerConfig {
	cfg := security.DefaultSanitizerConfig()
	if p == nil {
		return cfg
	}
	s := p.Sanitizer
	if s.MaxSKULength > 0 {
		cfg.MaxSKULength = s.MaxSKULength
	}
	if s.MaxFaceShapeLength > 0 {
		cfg.MaxFaceShapeLength = s.MaxFaceShapeLength
	}
	if s.MaxQueryLength > 0 {
		cfg.MaxQueryLength = s.MaxQueryLength
	}
	if s.MaxQueryDepth > 0 {
		cfg.MaxQueryDepth = s.MaxQueryDepth
	}
	if s.MaxKeyLength > 0 {
		cfg.MaxKeyLength = s.MaxKeyLength
	}
	if s.MaxStringLength > 0 {
		cfg.MaxStringLength = s.MaxStringLength
	}
	return cfg
}

// DetectorConfig returns the threat detector settings
func (p *PolicyFile) DetectorConfig() (security.DetectorConfig, error) {
	cfg := security.DefaultDetectorConfig()
	if p == nil {
		return cfg, nil
	}
	if p.RateLimit.Threshold > 0 {
		cfg.RateLimitThreshold = p.RateLimit.Threshold
	}
	if p.RateLimit.MaxSources > 0 {
		cfg.MaxTrackedSources = p.RateLimit.MaxSources
	}
	window, err := intervalOr(p.RateLimit.Window, cfg.RateLimitWindow)
	if err != nil {
		return cfg, errors.NewPermanentf("invalid rateLimit.window: %w", err)
	}
	cfg.RateLimitWindow = window
	return cfg, nil
}

// AuditConfig returns the auditor settings including the score policy
func (p *PolicyFile) AuditConfig() (audit.Config, error) {
	cfg := audit.DefaultConfig()
	if p == nil {
		return cfg, nil
	}
	if p.Audit.MaxEvents > 0 {
		cfg.MaxEvents = p.Audit.MaxEvents
	}
	retention, err := intervalOr(p.Audit.Retention, cfg.Retention)
	if err != nil {
		return cfg, errors.NewPermanentf("invalid audit.retention: %w", err)
	}
	cfg.Retention = retention

	score, err := p.ScorePolicy()
	if err != nil {
		return cfg, err
	}
	cfg.Score = score
	return cfg, nil
}

// ScorePolicy returns the security score weighting
func (p *PolicyFile) ScorePolicy() (audit.ScorePolicy, error) {
	policy := audit.DefaultScorePolicy()
	if p == nil {
		return policy, nil
	}
	if p.Score.PenaltyWeight != 0 {
		policy.PenaltyWeight = p.Score.PenaltyWeight
	}
	for name, weight := range p.Score.Weights {
		level, err := security.ParseThreatLevel(name)
		if err != nil {
			return policy, errors.NewPermanentf("invalid score weight: %w", err)
		}
		policy.SeverityWeights[level] = weight
	}
	if err := policy.Validate(); err != nil {
		return policy, errors.NewPermanentf("invalid score policy: %w", err)
	}
	return policy, nil
}

// PostureConfig returns the CEL posture policy
func (p *PolicyFile) PostureConfig() posture.Config {
	if p == nil {
		return posture.Config{}
	}
	return posture.Config{
		Expression:     p.Posture.Expression,
		FailureMessage: p.Posture.FailureMessage,
	}
}

// PostureInterval returns how often posture is evaluated
func (p *PolicyFile) PostureInterval() (time.Duration, error) {
	if p == nil {
		return DefaultPostureInterval, nil
	}
	d, err := intervalOr(p.Posture.Interval, DefaultPostureInterval)
	if err != nil {
		return 0, errors.NewPermanentf("invalid posture.interval: %w", err)
	}
	return d, nil
}

// ForwarderRetryBackoff returns the configured forwarder backoff, or zero
// when unset
func (p *PolicyFile) ForwarderRetryBackoff() (time.Duration, error) {
	if p == nil {
		return 0, nil
	}
	d, err := intervalOr(p.Forwarder.RetryBackoff, 0)
	if err != nil {
		return 0, errors.NewPermanentf("invalid forwarder.retryBackoff: %w", err)
	}
	return d, nil
}

// ExtraPatterns converts the operator-defined patterns
func (p *PolicyFile) ExtraPatterns() ([]security.Pattern, error) {
	if p == nil {
		return nil, nil
	}
	patterns := make([]security.Pattern, 0, len(p.Patterns))
	for _, pp := range p.Patterns {
		vtype, err := security.ParseViolationType(pp.Type)
		if err != nil {
			return nil, errors.NewPermanentf("pattern %s: %w", pp.Name, err)
		}
		level, err := security.ParseThreatLevel(pp.Level)
		if err != nil {
			return nil, errors.NewPermanentf("pattern %s: %w", pp.Name, err)
		}
		kind := security.PatternKind(pp.Kind)
		if kind == "" {
			kind = security.KindRegex
		}
		patterns = append(patterns, security.Pattern{
			Name:     pp.Name,
			Type:     vtype,
			Level:    level,
			Kind:     kind,
			Expr:     pp.Expr,
			Keywords: pp.Keywords,
		})
	}
	return patterns, nil
}

// Library builds the pattern library with the extra patterns and checks the
// required version constraint
func (p *PolicyFile) Library() (*security.Library, error) {
	extra, err := p.ExtraPatterns()
	if err != nil {
		return nil, err
	}
	lib, err := security.NewLibrary(extra...)
	if err != nil {
		return nil, errors.NewPermanentf("invalid pattern library: %w", err)
	}
	if p != nil {
		if err := lib.CheckVersion(p.PatternLibrary); err != nil {
			return nil, errors.NewPermanent(err)
		}
	}
	return lib, nil
}

// String summarizes the policy for logging
func (p *PolicyFile) String() string {
	if p == nil {
		return "default policy"
	}
	return fmt.Sprintf("policy v%d (%d extra patterns)", p.Version, len(p.Patterns))
}
