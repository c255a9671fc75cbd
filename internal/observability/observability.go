// Package observability provides structured logging, Prometheus metrics,
// and health checking capabilities for docshield.
//
// Key features:
// - Structured JSON logging with configurable log levels
// - Prometheus metrics for validations, violations, audit outcomes, event forwarding and storage
// - Scrape-time security collector exporting the score and rate-limited sources
// - Health checks for component status monitoring, including security posture
// - HTTP endpoints for /metrics, /health, /ready and /security/metrics
package observability
