package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	apperrors "github.com/daimoniac/docshield/internal/errors"
	"github.com/daimoniac/docshield/internal/types"
	"github.com/go-chi/chi/v5"
)

const maxBodyBytes = 1 << 20

// handleGetProduct retrieves a product by SKU
// @Summary Get product by SKU
// @Description Retrieve a single product. The SKU is validated before the store is queried.
// @Tags Products
// @Accept json
// @Produce json
// @Param sku path string true "Product SKU (letters, digits, '-' and '_')"
// @Success 200 {object} types.Product
// @Failure 400 {object} ErrorResponse "Security violation or invalid input"
// @Failure 401 {object} ErrorResponse "Unauthorized"
// @Failure 404 {object} ErrorResponse "Product not found"
// @Failure 429 {object} ErrorResponse "Source rate limited"
// @Failure 500 {object} ErrorResponse "Internal server error"
// @Security BearerAuth
// @Router /products/{sku} [get]
func (s *APIServer) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	product, err := s.products.FindBySKU(r.Context(), chi.URLParam(r, "sku"))
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, product)
}

// handleListProducts lists products by face shape or free-text name query
// @Summary List products
// @Description List products suited to a face shape, or whose name contains a query. Without either parameter all products are listed.
// @Tags Products
// @Accept json
// @Produce json
// @Param face_shape query string false "Face shape (round, oval, square, rectangle, diamond, heart, triangle)"
// @Param q query string false "Free-text name query"
// @Param limit query int false "Maximum number of results" default(20)
// @Success 200 {object} ProductListResponse
// @Failure 400 {object} ErrorResponse "Security violation or invalid input"
// @Failure 401 {object} ErrorResponse "Unauthorized"
// @Failure 429 {object} ErrorResponse "Source rate limited"
// @Failure 500 {object} ErrorResponse "Internal server error"
// @Security BearerAuth
// @Router /products [get]
func (s *APIServer) handleListProducts(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit := parseQueryParamInt(r, "limit", 0)

	var (
		products []*types.Product
		err      error
	)
	switch {
	case query.Has("face_shape"):
		products, err = s.products.FindByFaceShape(r.Context(), query.Get("face_shape"), limit)
	case query.Has("q"):
		products, err = s.products.Search(r.Context(), query.Get("q"), limit)
	default:
		products, err = s.products.FindByFilter(r.Context(), map[string]any{}, limit)
	}
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, newProductList(products))
}

// handleSearchProducts runs a structured equality query
// @Summary Structured product search
// @Description Search with a JSON object of field/value pairs. Query operators such as $ne or $where are rejected as NoSQL injection.
// @Tags Products
// @Accept json
// @Produce json
// @Param filter body object true "Structured filter, e.g. {\"brand\": \"Acme\", \"active\": true}"
// @Param limit query int false "Maximum number of results" default(20)
// @Success 200 {object} ProductListResponse
// @Failure 400 {object} ErrorResponse "Security violation or invalid input"
// @Failure 401 {object} ErrorResponse "Unauthorized"
// @Failure 429 {object} ErrorResponse "Source rate limited"
// @Failure 500 {object} ErrorResponse "Internal server error"
// @Security BearerAuth
// @Router /products/search [post]
func (s *APIServer) handleSearchProducts(w http.ResponseWriter, r *http.Request) {
	var filter any
	if !s.decodeBody(w, r, &filter) {
		return
	}

	products, err := s.products.FindByFilter(r.Context(), filter, parseQueryParamInt(r, "limit", 0))
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, newProductList(products))
}

// handleCreateProduct creates a product
// @Summary Create product
// @Description Create a product. Every field is sanitized and the document is schema checked before insert.
// @Tags Products
// @Accept json
// @Produce json
// @Param product body types.ProductInput true "Product"
// @Success 201 {object} types.Product
// @Failure 400 {object} ErrorResponse "Security violation or invalid input"
// @Failure 401 {object} ErrorResponse "Unauthorized"
// @Failure 403 {object} ErrorResponse "API is in read-only mode"
// @Failure 409 {object} ErrorResponse "SKU already exists"
// @Failure 429 {object} ErrorResponse "Source rate limited"
// @Failure 500 {object} ErrorResponse "Internal server error"
// @Security BearerAuth
// @Router /products [post]
func (s *APIServer) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var input types.ProductInput
	if !s.decodeBody(w, r, &input) {
		return
	}

	product, err := s.products.CreateProduct(r.Context(), input)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, product)
}

// handleUpdateProduct applies a partial update
// @Summary Update product
// @Description Set mutable fields of a product. sku and _id cannot be changed.
// @Tags Products
// @Accept json
// @Produce json
// @Param sku path string true "Product SKU"
// @Param updates body object true "Fields to set, e.g. {\"price\": 129.0}"
// @Success 200 {object} types.Product
// @Failure 400 {object} ErrorResponse "Security violation or invalid input"
// @Failure 401 {object} ErrorResponse "Unauthorized"
// @Failure 403 {object} ErrorResponse "API is in read-only mode"
// @Failure 404 {object} ErrorResponse "Product not found"
// @Failure 429 {object} ErrorResponse "Source rate limited"
// @Failure 500 {object} ErrorResponse "Internal server error"
// @Security BearerAuth
// @Router /products/{sku} [patch]
func (s *APIServer) handleUpdateProduct(w http.ResponseWriter, r *http.Request) {
	var updates any
	if !s.decodeBody(w, r, &updates) {
		return
	}

	product, err := s.products.UpdateProduct(r.Context(), chi.URLParam(r, "sku"), updates)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, product)
}

// handleDeleteProduct removes a product
// @Summary Delete product
// @Description Delete the product with the given SKU
// @Tags Products
// @Param sku path string true "Product SKU"
// @Success 204 "Deleted"
// @Failure 400 {object} ErrorResponse "Security violation or invalid input"
// @Failure 401 {object} ErrorResponse "Unauthorized"
// @Failure 403 {object} ErrorResponse "API is in read-only mode"
// @Failure 404 {object} ErrorResponse "Product not found"
// @Failure 429 {object} ErrorResponse "Source rate limited"
// @Failure 500 {object} ErrorResponse "Internal server error"
// @Security BearerAuth
// @Router /products/{sku} [delete]
func (s *APIServer) handleDeleteProduct(w http.ResponseWriter, r *http.Request) {
	if err := s.products.DeleteProduct(r.Context(), chi.URLParam(r, "sku")); err != nil {
		s.respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSecurityMetrics returns the security metrics snapshot
// @Summary Security metrics
// @Description Current security score, threat and operation counters, rate-limited sources and the posture decision
// @Tags Security
// @Produce json
// @Success 200 {object} SecurityMetricsResponse
// @Failure 401 {object} ErrorResponse "Unauthorized"
// @Security BearerAuth
// @Router /security/metrics [get]
func (s *APIServer) handleSecurityMetrics(w http.ResponseWriter, r *http.Request) {
	resp := SecurityMetricsResponse{Metrics: s.auditor.GetMetrics()}
	if s.posture != nil {
		decision, err := s.posture.Evaluate(r.Context(), resp.Metrics)
		if err != nil {
			s.logger.Error("posture evaluation failed", "error", err.Error())
		} else {
			resp.Posture = decision
		}
	}
	s.respondJSON(w, http.StatusOK, resp)
}

// handleSecurityEvents lists recent security events
// @Summary Recent security events
// @Description List the newest audited operations, blocked and allowed
// @Tags Security
// @Produce json
// @Param limit query int false "Maximum number of events" default(50)
// @Success 200 {object} SecurityEventsResponse
// @Failure 401 {object} ErrorResponse "Unauthorized"
// @Security BearerAuth
// @Router /security/events [get]
func (s *APIServer) handleSecurityEvents(w http.ResponseWriter, r *http.Request) {
	events := s.auditor.RecentEvents(parseQueryParamInt(r, "limit", 50))
	s.respondJSON(w, http.StatusOK, SecurityEventsResponse{Events: events, Count: len(events)})
}

// handleHealth returns API liveness
// @Summary Health check
// @Description Returns ok while the API server is running
// @Tags Health
// @Produce json
// @Success 200 {object} map[string]string
// @Router /health [get]
func (s *APIServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// decodeBody decodes a JSON request body into v, responding 400 on failure
func (s *APIServer) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.respondJSON(w, http.StatusBadRequest, ErrorResponse{
			Error: fmt.Sprintf("invalid JSON body: %v", err),
			Kind:  string(apperrors.KindInvalidInput),
		})
		return false
	}
	return true
}

// respondServiceError writes a catalog error
func (s *APIServer) respondServiceError(w http.ResponseWriter, err error) {
	status, resp := errorResponse(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err.Error())
	}
	s.respondJSON(w, status, resp)
}
