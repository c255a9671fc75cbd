package audit

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/daimoniac/docshield/internal/observability"
	"github.com/daimoniac/docshield/internal/security"
	"github.com/google/uuid"
)

// EventPublisher receives every recorded event. Publish must not block; it
// returns false when the event was dropped.
type EventPublisher interface {
	Publish(event Event) bool
}

// Config holds auditor settings
type Config struct {
	// MaxEvents bounds the event window by count
	MaxEvents int
	// Retention bounds the event window by age; zero disables age eviction
	Retention time.Duration
	Score     ScorePolicy
	// Now overrides the clock, for tests
	Now func() time.Time
}

// DefaultConfig returns the default auditor settings
func DefaultConfig() Config {
	return Config{
		MaxEvents: 1000,
		Retention: time.Hour,
		Score:     DefaultScorePolicy(),
	}
}

// Metrics is a snapshot of the auditor's counters and window
type Metrics struct {
	SecurityScore            float64 `json:"security_score"`
	TotalThreatsDetected     uint64  `json:"total_threats_detected"`
	TotalOperationsValidated uint64  `json:"total_operations_validated"`
	RateLimitedIPs           int     `json:"rate_limited_ips"`
	RecentEventsCount        int     `json:"recent_events_count"`
	BlockedInWindow          int     `json:"blocked_events_in_window"`
}

// AsMap returns the snapshot keyed by its JSON names
func (m Metrics) AsMap() map[string]any {
	return map[string]any{
		"security_score":             m.SecurityScore,
		"total_threats_detected":     m.TotalThreatsDetected,
		"total_operations_validated": m.TotalOperationsValidated,
		"rate_limited_ips":           m.RateLimitedIPs,
		"recent_events_count":        m.RecentEventsCount,
		"blocked_events_in_window":   m.BlockedInWindow,
	}
}

// Auditor records every validated operation as a SecurityEvent in a bounded
// window and derives the security score from that window. One Auditor is
// shared by all collection managers of a process.
type Auditor struct {
	detector *security.Detector
	logger   *slog.Logger
	metrics  *observability.Metrics
	now      func() time.Time

	mu        sync.Mutex
	ring      []Event
	start     int
	size      int
	retention time.Duration
	policy    ScorePolicy
	publisher EventPublisher
	seq       uint64
	lastTime  time.Time

	totalThreats    uint64
	totalOperations uint64
}

// NewAuditor creates an auditor backed by detector. A nil detector uses the
// default detector settings.
func NewAuditor(detector *security.Detector, cfg Config, logger *slog.Logger) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	if detector == nil {
		detector = security.NewDetector(nil, security.DefaultDetectorConfig())
	}
	if cfg.MaxEvents <= 0 {
		cfg.MaxEvents = DefaultConfig().MaxEvents
	}
	if cfg.Score.PenaltyWeight <= 0 {
		cfg.Score = DefaultScorePolicy()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Auditor{
		detector:  detector,
		logger:    logger,
		metrics:   observability.GetMetrics(),
		now:       now,
		ring:      make([]Event, cfg.MaxEvents),
		retention: cfg.Retention,
		policy:    cfg.Score,
	}
}

// Detector returns the detector the auditor consults
func (a *Auditor) Detector() *security.Detector {
	return a.detector
}

// SetPublisher sets the receiver of recorded events
func (a *Auditor) SetPublisher(p EventPublisher) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.publisher = p
}

// SetScorePolicy replaces the score policy. Invalid policies are rejected.
func (a *Auditor) SetScorePolicy(p ScorePolicy) error {
	if err := p.Validate(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.policy = p
	return nil
}

// Check runs threat detection on payload and records the outcome. It
// returns the violation for a blocked operation and nil otherwise.
func (a *Auditor) Check(op Operation, payload any, actorID, source string) error {
	if v := a.detect(payload, source); v != nil {
		a.record(op, actorID, source, OutcomeBlocked, v, nil)
		return v
	}
	a.record(op, actorID, source, OutcomeAllowed, nil, nil)
	return nil
}

// AuditOperation reports whether the operation is allowed
func (a *Auditor) AuditOperation(op Operation, payload any, actorID, source string) bool {
	return a.Check(op, payload, actorID, source) == nil
}

// Guard wraps fn with the audit hooks. The payload is checked first; a
// blocked operation never runs fn. After fn returns, its duration and error
// are recorded on the ALLOWED event.
func (a *Auditor) Guard(ctx context.Context, op Operation, payload any, fn func(ctx context.Context) error) error {
	info := RequestInfoFrom(ctx)

	if v := a.detect(payload, info.Source); v != nil {
		a.record(op, info.ActorID, info.Source, OutcomeBlocked, v, nil)
		return v
	}

	start := time.Now()
	err := fn(ctx)
	details := map[string]any{
		"duration_ms": float64(time.Since(start).Microseconds()) / 1000,
	}
	if err != nil {
		details["error"] = err.Error()
	}
	a.record(op, info.ActorID, info.Source, OutcomeAllowed, nil, details)
	return err
}

// RecordViolation records a violation raised outside the detector, such as
// a sanitizer rejection, and counts it against the source's rate limit. If
// the source is now rate limited the recorded and returned violation is a
// CRITICAL RATE_LIMITED escalation of v.
func (a *Auditor) RecordViolation(op Operation, v *security.Violation, actorID, source string) *security.Violation {
	if v == nil {
		return nil
	}
	source = security.NormalizeSource(source)

	recorded := v
	if a.detector.RecordViolation(source, v) && v.Type != security.RateLimited {
		recorded = security.NewViolation(security.RateLimited, security.LevelCritical,
			map[string]any{
				"source":        source,
				"cause_type":    string(v.Type),
				"cause_level":   v.Level.String(),
				"cause_message": v.Message,
				"threshold":     a.detector.Limiter().Threshold(),
				"window":        a.detector.Limiter().Window().String(),
			},
			"source %s exceeded %d violations within %s", source,
			a.detector.Limiter().Threshold(), a.detector.Limiter().Window())
	}

	a.record(op, actorID, source, OutcomeBlocked, recorded, nil)
	return recorded
}

// RecordError records err if it is a security violation. It returns the
// recorded violation, or nil when err is not one.
func (a *Auditor) RecordError(op Operation, err error, actorID, source string) *security.Violation {
	var v *security.Violation
	if !errors.As(err, &v) {
		return nil
	}
	return a.RecordViolation(op, v, actorID, source)
}

// GetSecurityScore computes the score from the current event window
func (a *Auditor) GetSecurityScore() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.evictExpired(a.now())
	return a.policy.Score(a.windowLocked())
}

// GetMetrics returns a snapshot of the security metrics
func (a *Auditor) GetMetrics() Metrics {
	limited := len(a.detector.RateLimitedSources())

	a.mu.Lock()
	defer a.mu.Unlock()
	a.evictExpired(a.now())

	window := a.windowLocked()
	blocked := 0
	for i := range window {
		if window[i].Blocked() {
			blocked++
		}
	}

	return Metrics{
		SecurityScore:            a.policy.Score(window),
		TotalThreatsDetected:     a.totalThreats,
		TotalOperationsValidated: a.totalOperations,
		RateLimitedIPs:           limited,
		RecentEventsCount:        len(window),
		BlockedInWindow:          blocked,
	}
}

// RecentEvents returns up to limit of the newest events, newest first. A
// non-positive limit returns the whole window.
func (a *Auditor) RecentEvents(limit int) []Event {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.evictExpired(a.now())

	window := a.windowLocked()
	if limit <= 0 || limit > len(window) {
		limit = len(window)
	}
	out := make([]Event, 0, limit)
	for i := len(window) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, window[i])
	}
	return out
}

func (a *Auditor) detect(payload any, source string) *security.Violation {
	start := time.Now()
	v := a.detector.DetectThreat(payload, source)
	a.metrics.DetectionDuration.Observe(time.Since(start).Seconds())
	return v
}

func (a *Auditor) record(op Operation, actorID, source string, outcome Outcome, v *security.Violation, details map[string]any) Event {
	source = security.NormalizeSource(source)

	a.mu.Lock()
	now := a.now()
	if now.Before(a.lastTime) {
		now = a.lastTime
	}
	a.lastTime = now
	a.seq++

	event := Event{
		EventID:          uuid.NewString(),
		Sequence:         a.seq,
		Operation:        op,
		ActorID:          actorID,
		SourceIdentifier: source,
		Outcome:          outcome,
		Violation:        v,
		Details:          details,
		Timestamp:        now,
	}

	a.totalOperations++
	if outcome == OutcomeBlocked {
		a.totalThreats++
	}
	a.appendLocked(event)
	a.evictExpired(now)
	publisher := a.publisher
	a.mu.Unlock()

	a.metrics.AuditOperations.WithLabelValues(string(op), string(outcome)).Inc()
	if v != nil {
		a.metrics.ViolationsTotal.WithLabelValues(string(v.Type), v.Level.String()).Inc()
		attrs := []any{
			"event_id", event.EventID,
			"operation", op,
			"source", source,
			"violation_type", v.Type,
			"threat_level", v.Level.String(),
		}
		if pattern, ok := v.Details["pattern"]; ok {
			attrs = append(attrs, "pattern", pattern)
		}
		if actorID != "" {
			attrs = append(attrs, "actor_id", actorID)
		}
		a.logger.Warn("operation blocked", attrs...)
	} else {
		a.logger.Debug("operation allowed",
			"event_id", event.EventID,
			"operation", op,
			"source", source)
	}

	if publisher != nil {
		publisher.Publish(event)
	}
	return event
}

// appendLocked adds event to the ring, overwriting the oldest when full
func (a *Auditor) appendLocked(event Event) {
	capacity := len(a.ring)
	if a.size < capacity {
		a.ring[(a.start+a.size)%capacity] = event
		a.size++
		return
	}
	a.ring[a.start] = event
	a.start = (a.start + 1) % capacity
}

// evictExpired drops events older than the retention window
func (a *Auditor) evictExpired(now time.Time) {
	if a.retention <= 0 {
		return
	}
	cutoff := now.Add(-a.retention)
	capacity := len(a.ring)
	for a.size > 0 && !a.ring[a.start].Timestamp.After(cutoff) {
		a.ring[a.start] = Event{}
		a.start = (a.start + 1) % capacity
		a.size--
	}
}

// windowLocked returns the window oldest first
func (a *Auditor) windowLocked() []Event {
	out := make([]Event, a.size)
	capacity := len(a.ring)
	for i := 0; i < a.size; i++ {
		out[i] = a.ring[(a.start+i)%capacity]
	}
	return out
}
