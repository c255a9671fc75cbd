package api

import (
	"errors"
	"net/http"

	"github.com/daimoniac/docshield/internal/audit"
	apperrors "github.com/daimoniac/docshield/internal/errors"
	"github.com/daimoniac/docshield/internal/posture"
	"github.com/daimoniac/docshield/internal/security"
	"github.com/daimoniac/docshield/internal/types"
)

// ErrorResponse is the body of every error response. Violation fields are
// set only for SECURITY_VIOLATION errors.
type ErrorResponse struct {
	Error         string `json:"error"`
	Kind          string `json:"kind,omitempty"`
	ViolationType string `json:"violation_type,omitempty"`
	ThreatLevel   string `json:"threat_level,omitempty"`
}

// ProductListResponse wraps a page of products
type ProductListResponse struct {
	Products []*types.Product `json:"products"`
	Count    int              `json:"count"`
}

// SecurityMetricsResponse is the security metrics snapshot plus the current
// posture decision when a posture policy is configured
type SecurityMetricsResponse struct {
	audit.Metrics
	Posture *posture.Decision `json:"posture,omitempty"`
}

// SecurityEventsResponse lists recent security events, newest first
type SecurityEventsResponse struct {
	Events []audit.Event `json:"events"`
	Count  int           `json:"count"`
}

func newProductList(products []*types.Product) ProductListResponse {
	if products == nil {
		products = []*types.Product{}
	}
	return ProductListResponse{Products: products, Count: len(products)}
}

// errorResponse maps a catalog error to an HTTP status and body. Rate
// limited sources get 429; every other violation is a 400.
func errorResponse(err error) (int, ErrorResponse) {
	kind := apperrors.KindOf(err)
	resp := ErrorResponse{Error: err.Error(), Kind: string(kind)}

	switch kind {
	case apperrors.KindSecurityViolation:
		status := http.StatusBadRequest
		var v *security.Violation
		if errors.As(err, &v) {
			resp.ViolationType = string(v.Type)
			resp.ThreatLevel = v.Level.String()
			if v.Type == security.RateLimited {
				status = http.StatusTooManyRequests
			}
		}
		return status, resp
	case apperrors.KindNotFound:
		return http.StatusNotFound, resp
	case apperrors.KindAlreadyExists:
		return http.StatusConflict, resp
	case apperrors.KindInvalidInput:
		return http.StatusBadRequest, resp
	default:
		// internal details stay in the logs
		resp.Error = "internal error"
		return http.StatusInternalServerError, resp
	}
}
