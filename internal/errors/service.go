package errors

import (
	"errors"
	"fmt"
)

// Kind classifies a ServiceError for callers at the business boundary
type Kind string

const (
	KindSecurityViolation Kind = "SECURITY_VIOLATION"
	KindNotFound          Kind = "NOT_FOUND"
	KindAlreadyExists     Kind = "ALREADY_EXISTS"
	KindInvalidInput      Kind = "INVALID_INPUT"
	KindInternal          Kind = "INTERNAL"
)

// ServiceError is the error returned by collection managers. Cause keeps the
// original error so errors.As can still reach a security violation.
type ServiceError struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *ServiceError) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *ServiceError) Unwrap() error {
	return e.Cause
}

// NewServiceError creates a service error of the given kind
func NewServiceError(kind Kind, cause error, format string, args ...interface{}) *ServiceError {
	return &ServiceError{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

// NewSecurityViolation re-signals a security violation as a service error,
// carrying the violation's message unchanged
func NewSecurityViolation(violation error) *ServiceError {
	msg := "security violation"
	if violation != nil {
		msg = violation.Error()
	}
	return &ServiceError{
		Kind:    KindSecurityViolation,
		Message: msg,
		Cause:   violation,
	}
}

// KindOf returns the kind of the first ServiceError in the chain, or KindInternal
func KindOf(err error) Kind {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr.Kind
	}
	return KindInternal
}

// IsSecurityViolation reports whether err is a SECURITY_VIOLATION service error
func IsSecurityViolation(err error) bool {
	var serviceErr *ServiceError
	return errors.As(err, &serviceErr) && serviceErr.Kind == KindSecurityViolation
}
