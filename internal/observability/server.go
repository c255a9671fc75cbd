package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/daimoniac/docshield/internal/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ServerConfig selects the observability listeners
type ServerConfig struct {
	MetricsPort int
	HealthPort  int
	// SecurityMetrics, when set, is served as JSON at /security/metrics on
	// the health port
	SecurityMetrics func() map[string]any
}

// Server exposes Prometheus metrics on one port and health, readiness and
// security metrics on another
type Server struct {
	metrics *http.Server
	health  *http.Server
	logger  *slog.Logger
}

// NewServer creates the observability listeners
func NewServer(cfg ServerConfig, logger *slog.Logger, healthChecker *HealthChecker) *Server {
	s := &Server{logger: logger}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	s.metrics = newListener(cfg.MetricsPort, metricsMux)

	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/health", healthChecker.HealthHandler())
	healthMux.HandleFunc("/ready", healthChecker.ReadyHandler())
	if cfg.SecurityMetrics != nil {
		healthMux.HandleFunc("/security/metrics", s.securityMetricsHandler(cfg.SecurityMetrics))
	}
	s.health = newListener(cfg.HealthPort, healthMux)

	return s
}

func newListener(port int, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      handler,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  15 * time.Second,
	}
}

// HealthHandler returns the handler behind the health port
func (s *Server) HealthHandler() http.Handler {
	return s.health.Handler
}

// securityMetricsHandler renders a fresh snapshot on every request
func (s *Server) securityMetricsHandler(snapshot func() map[string]any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		if err := json.NewEncoder(w).Encode(snapshot()); err != nil {
			s.logger.Error("error encoding security metrics",
				"error", err.Error())
		}
	}
}

// Start serves both listeners until ctx is cancelled, then shuts them down
func (s *Server) Start(ctx context.Context) error {
	s.serve("metrics", s.metrics)
	s.serve("health", s.health)

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("observability server shutdown error",
			"error", err.Error())
	}
	return nil
}

func (s *Server) serve(name string, srv *http.Server) {
	go func() {
		s.logger.Info("starting "+name+" server",
			"addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error(name+" server error",
				"error", err.Error())
		}
	}()
}

// Shutdown gracefully shuts down both listeners. It is safe to call more
// than once.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down observability servers")

	if err := s.metrics.Shutdown(ctx); err != nil {
		return errors.NewTransientf("metrics server shutdown: %w", err)
	}
	if err := s.health.Shutdown(ctx); err != nil {
		return errors.NewTransientf("health server shutdown: %w", err)
	}
	return nil
}
