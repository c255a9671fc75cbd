package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/daimoniac/docshield/internal/audit"
	"github.com/daimoniac/docshield/internal/catalog"
	"github.com/daimoniac/docshield/internal/config"
	"github.com/daimoniac/docshield/internal/posture"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	httpSwagger "github.com/swaggo/http-swagger"

	_ "github.com/daimoniac/docshield/build/swagger" // Import generated docs
)

// @title docshield API
// @version 1.0
// @description REST API for a product catalog guarded by the docshield security layer.
// @description
// @description ## Features
// @description - Look up, search and filter products with sanitized inputs
// @description - Create, update and delete products
// @description - Inspect the security score, metrics and recent security events

// @contact.name docshield
// @license.name Apache 2.0
// @license.url https://www.apache.org/licenses/LICENSE-2.0.html

// @host localhost:8080
// @BasePath /api/v1

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Enter your API key (with or without "Bearer " prefix)

// ActorHeader carries the caller's actor identifier
const ActorHeader = "X-Actor-ID"

// APIServer provides the HTTP API over the product catalog
type APIServer struct {
	config   *config.APIConfig
	products *catalog.ProductManager
	auditor  *audit.Auditor
	posture  posture.Evaluator
	limiter  *ipRateLimiter
	router   *chi.Mux
	server   *http.Server
	logger   *slog.Logger
}

// NewAPIServer creates a new API server instance. evaluator may be nil.
func NewAPIServer(cfg *config.APIConfig, products *catalog.ProductManager, auditor *audit.Auditor, evaluator posture.Evaluator, logger *slog.Logger) *APIServer {
	if logger == nil {
		logger = slog.Default()
	}
	api := &APIServer{
		config:   cfg,
		products: products,
		auditor:  auditor,
		posture:  evaluator,
		limiter:  newIPRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst),
		router:   chi.NewRouter(),
		logger:   logger,
	}

	api.setupRoutes()

	api.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      api.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return api
}

// Handler returns the root HTTP handler
func (s *APIServer) Handler() http.Handler {
	return s.router
}

// setupRoutes configures all API routes
func (s *APIServer) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)
	s.router.Use(s.corsMiddleware)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(s.requestInfoMiddleware)
		r.Use(s.rateLimitMiddleware)

		// Query endpoints
		r.Get("/products/{sku}", s.authMiddleware(s.handleGetProduct, false))
		r.Get("/products", s.authMiddleware(s.handleListProducts, false))
		r.Post("/products/search", s.authMiddleware(s.handleSearchProducts, false))

		// Write endpoints
		r.Post("/products", s.authMiddleware(s.handleCreateProduct, true))
		r.Patch("/products/{sku}", s.authMiddleware(s.handleUpdateProduct, true))
		r.Delete("/products/{sku}", s.authMiddleware(s.handleDeleteProduct, true))

		// Security
		r.Get("/security/metrics", s.authMiddleware(s.handleSecurityMetrics, false))
		r.Get("/security/events", s.authMiddleware(s.handleSecurityEvents, false))
	})

	s.router.Get("/health", s.handleHealth)

	// Swagger documentation
	s.router.Get("/swagger/*", httpSwagger.WrapHandler)

	// Redirect root to swagger
	s.router.Get("/", s.handleRootRedirect)
	s.router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.respondError(w, http.StatusNotFound, "not found")
	})
}

// corsMiddleware adds CORS headers to allow cross-origin requests
func (s *APIServer) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+ActorHeader)
		w.Header().Set("Access-Control-Max-Age", "3600")

		// Handle preflight OPTIONS request
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// requestInfoMiddleware attaches the actor and source identifiers the
// security layer audits against. The source is the peer address; forwarding
// headers are client controlled and ignored.
func (s *APIServer) requestInfoMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info := audit.RequestInfo{
			ActorID: strings.TrimSpace(r.Header.Get(ActorHeader)),
			Source:  clientIP(r),
		}
		next.ServeHTTP(w, r.WithContext(audit.WithRequestInfo(r.Context(), info)))
	})
}

// authMiddleware provides optional API key authentication
// requireWrite indicates if this is a write operation that should be blocked in read-only mode
func (s *APIServer) authMiddleware(next http.HandlerFunc, requireWrite bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Check if write operation is allowed
		if requireWrite && s.config.ReadOnly {
			s.respondError(w, http.StatusForbidden, "API is in read-only mode")
			return
		}

		// If API key is configured, validate it
		if s.config.APIKey != "" {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				s.respondError(w, http.StatusUnauthorized, "Authorization header required")
				return
			}

			// Extract token - accept both "Bearer <token>" and just "<token>"
			token := strings.TrimPrefix(authHeader, "Bearer ")

			if token != s.config.APIKey {
				s.respondError(w, http.StatusUnauthorized, "Invalid API key")
				return
			}
		}

		next(w, r)
	}
}

// Start starts the API server
func (s *APIServer) Start(ctx context.Context) error {
	if !s.config.Enabled {
		s.logger.Info("API server is disabled")
		return nil
	}

	s.logger.Info("starting API server",
		"port", s.config.Port,
		"read_only", s.config.ReadOnly)

	// Start server in a goroutine
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("API server error",
				"error", err.Error())
		}
	}()

	// Wait for context cancellation
	<-ctx.Done()

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s.logger.Info("shutting down API server")
	return s.server.Shutdown(shutdownCtx)
}

// Shutdown gracefully shuts down the API server
func (s *APIServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// respondJSON sends a JSON response
func (s *APIServer) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("error encoding JSON response",
			"error", err.Error())
	}
}

// respondError sends an error response
func (s *APIServer) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, ErrorResponse{Error: message})
}

// parseQueryParamInt extracts an integer query parameter
func parseQueryParamInt(r *http.Request, key string, defaultValue int) int {
	value := r.URL.Query().Get(key)
	if value == "" {
		return defaultValue
	}
	var intValue int
	if _, err := fmt.Sscanf(value, "%d", &intValue); err == nil {
		return intValue
	}
	return defaultValue
}

// handleRootRedirect redirects / to /swagger/
func (s *APIServer) handleRootRedirect(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/swagger/", http.StatusMovedPermanently)
}
