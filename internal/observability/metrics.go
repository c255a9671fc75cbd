package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	// Validation metrics
	ValidationsTotal  *prometheus.CounterVec
	ViolationsTotal   *prometheus.CounterVec
	DetectionDuration prometheus.Histogram

	// Audit metrics
	AuditOperations *prometheus.CounterVec

	// Event queue metrics
	EventQueueDepth prometheus.Gauge
	EventsEnqueued  prometheus.Counter
	EventsDropped   prometheus.Counter

	// Forwarder metrics
	EventsForwarded  *prometheus.CounterVec
	SinkErrors       *prometheus.CounterVec
	ForwarderRetries prometheus.Counter

	// Document store metrics
	StoreOperations        *prometheus.CounterVec
	StoreOperationDuration *prometheus.HistogramVec

	// Policy metrics
	PostureEvaluations *prometheus.CounterVec
	PolicyReloads      *prometheus.CounterVec

	// API metrics
	APIRequestsThrottled prometheus.Counter
}

var (
	metricsInstance *Metrics
	metricsOnce     sync.Once
)

// GetMetrics returns the singleton metrics instance
func GetMetrics() *Metrics {
	metricsOnce.Do(func() {
		metricsInstance = &Metrics{
			// Validation metrics
			ValidationsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "docshield_validations_total",
					Help: "Total number of field validations by field type and result",
				},
				[]string{"field", "result"}, // result: accepted, rejected
			),
			ViolationsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "docshield_violations_total",
					Help: "Total number of security violations by type and threat level",
				},
				[]string{"type", "level"},
			),
			DetectionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
				Name:    "docshield_detection_duration_seconds",
				Help:    "Duration of threat detection per audited operation in seconds",
				Buckets: prometheus.ExponentialBuckets(0.00001, 2, 14), // 10us to ~160ms
			}),

			// Audit metrics
			AuditOperations: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "docshield_audit_operations_total",
					Help: "Total number of audited operations by operation and outcome",
				},
				[]string{"operation", "outcome"},
			),

			// Event queue metrics
			EventQueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "docshield_event_queue_depth",
				Help: "Current number of security events waiting to be forwarded",
			}),
			EventsEnqueued: promauto.NewCounter(prometheus.CounterOpts{
				Name: "docshield_events_enqueued_total",
				Help: "Total number of security events enqueued for forwarding",
			}),
			EventsDropped: promauto.NewCounter(prometheus.CounterOpts{
				Name: "docshield_events_dropped_total",
				Help: "Total number of security events dropped because the queue was full",
			}),

			// Forwarder metrics
			EventsForwarded: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "docshield_events_forwarded_total",
					Help: "Total number of security events delivered by sink",
				},
				[]string{"sink"},
			),
			SinkErrors: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "docshield_sink_errors_total",
					Help: "Total number of failed deliveries by sink",
				},
				[]string{"sink"},
			),
			ForwarderRetries: promauto.NewCounter(prometheus.CounterOpts{
				Name: "docshield_forwarder_retries_total",
				Help: "Total number of delivery retries after transient sink errors",
			}),

			// Document store metrics
			StoreOperations: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "docshield_store_operations_total",
					Help: "Total number of document store operations by operation and result",
				},
				[]string{"operation", "result"},
			),
			StoreOperationDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "docshield_store_operation_duration_seconds",
					Help:    "Duration of document store operations in seconds",
					Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14), // 100us to ~1.6s
				},
				[]string{"operation"},
			),

			// Policy metrics
			PostureEvaluations: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "docshield_posture_evaluations_total",
					Help: "Total number of security posture evaluations by result",
				},
				[]string{"result"}, // passed, failed, error
			),
			PolicyReloads: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "docshield_policy_reloads_total",
					Help: "Total number of policy file reloads by result",
				},
				[]string{"result"}, // success, error
			),

			// API metrics
			APIRequestsThrottled: promauto.NewCounter(prometheus.CounterOpts{
				Name: "docshield_api_requests_throttled_total",
				Help: "Total number of API requests rejected by the per-client rate limiter",
			}),
		}
	})
	return metricsInstance
}
