package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	securityCollectorOnce     sync.Once
	securityCollectorInstance *SecurityCollector
)

// SecuritySnapshot is the point-in-time security state exported at scrape time
type SecuritySnapshot struct {
	Score              float64
	RateLimitedSources int
	RecentEvents       int
	BlockedInWindow    int
}

// SnapshotFunc returns the current security state
type SnapshotFunc func() SecuritySnapshot

// CountFunc counts persisted records, e.g. stored security events
type CountFunc func(ctx context.Context) (int, error)

// SecurityCollector collects security metrics on-demand when /metrics is scraped
type SecurityCollector struct {
	snapshot     SnapshotFunc
	storedEvents CountFunc // Optional: counts the persisted audit trail
	logger       *slog.Logger

	// Metric descriptors
	scoreDesc           *prometheus.Desc
	rateLimitedDesc     *prometheus.Desc
	recentEventsDesc    *prometheus.Desc
	blockedInWindowDesc *prometheus.Desc
	storedEventsDesc    *prometheus.Desc
}

// NewSecurityCollector creates a new security metrics collector
func NewSecurityCollector(snapshot SnapshotFunc, storedEvents CountFunc, logger *slog.Logger) *SecurityCollector {
	if logger == nil {
		logger = slog.Default()
	}
	return &SecurityCollector{
		snapshot:     snapshot,
		storedEvents: storedEvents,
		logger:       logger,
		scoreDesc: prometheus.NewDesc(
			"docshield_security_score",
			"Current security score in [0, 1] derived from the audit window",
			nil,
			nil,
		),
		rateLimitedDesc: prometheus.NewDesc(
			"docshield_rate_limited_sources",
			"Number of sources currently rate limited",
			nil,
			nil,
		),
		recentEventsDesc: prometheus.NewDesc(
			"docshield_recent_events",
			"Number of security events in the audit window",
			nil,
			nil,
		),
		blockedInWindowDesc: prometheus.NewDesc(
			"docshield_blocked_events_in_window",
			"Number of blocked operations in the audit window",
			nil,
			nil,
		),
		storedEventsDesc: prometheus.NewDesc(
			"docshield_stored_security_events",
			"Number of security events persisted in the document store",
			nil,
			nil,
		),
	}
}

// RegisterSecurityCollector registers the security collector exactly once
func RegisterSecurityCollector(snapshot SnapshotFunc, storedEvents CountFunc, logger *slog.Logger) {
	securityCollectorOnce.Do(func() {
		securityCollectorInstance = NewSecurityCollector(snapshot, storedEvents, logger)
		prometheus.MustRegister(securityCollectorInstance)
		securityCollectorInstance.logger.Info("security metrics collector registered")
	})
}

// Describe sends the metric descriptors to the provided channel
func (c *SecurityCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.scoreDesc
	ch <- c.rateLimitedDesc
	ch <- c.recentEventsDesc
	ch <- c.blockedInWindowDesc
	ch <- c.storedEventsDesc
}

// Collect reads the current security state and sends it to the provided channel
func (c *SecurityCollector) Collect(ch chan<- prometheus.Metric) {
	snap := c.snapshot()
	ch <- prometheus.MustNewConstMetric(c.scoreDesc, prometheus.GaugeValue, snap.Score)
	ch <- prometheus.MustNewConstMetric(c.rateLimitedDesc, prometheus.GaugeValue, float64(snap.RateLimitedSources))
	ch <- prometheus.MustNewConstMetric(c.recentEventsDesc, prometheus.GaugeValue, float64(snap.RecentEvents))
	ch <- prometheus.MustNewConstMetric(c.blockedInWindowDesc, prometheus.GaugeValue, float64(snap.BlockedInWindow))

	if c.storedEvents == nil {
		return
	}

	// Don't block the /metrics endpoint on a slow store
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	count, err := c.storedEvents(ctx)
	if err != nil {
		c.logger.Warn("failed to count stored security events", "error", err.Error())
		return
	}
	ch <- prometheus.MustNewConstMetric(c.storedEventsDesc, prometheus.GaugeValue, float64(count))
}
