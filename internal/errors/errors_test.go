package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestTransientError(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantMsg string
	}{
		{
			name:    "with cause",
			err:     NewTransient(errors.New("database is locked")),
			wantMsg: "transient error: database is locked",
		},
		{
			name:    "with nil cause",
			err:     NewTransient(nil),
			wantMsg: "",
		},
		{
			name:    "with formatted error",
			err:     NewTransientf("query failed: %s", "busy"),
			wantMsg: "transient error: query failed: busy",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err == nil {
				return
			}
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("Error() = %v, want %v", got, tt.wantMsg)
			}
		})
	}
}

func TestPermanentError(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantMsg string
	}{
		{
			name:    "with cause",
			err:     NewPermanent(errors.New("not found")),
			wantMsg: "permanent error: not found",
		},
		{
			name:    "with nil cause",
			err:     NewPermanent(nil),
			wantMsg: "",
		},
		{
			name:    "with formatted error",
			err:     NewPermanentf("invalid input: %s", "malformed"),
			wantMsg: "permanent error: invalid input: malformed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err == nil {
				return
			}
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("Error() = %v, want %v", got, tt.wantMsg)
			}
		})
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil error", err: nil, want: false},
		{name: "explicit transient error", err: NewTransient(errors.New("timeout")), want: true},
		{name: "explicit permanent error", err: NewPermanent(errors.New("not found")), want: false},
		{name: "wrapped transient error", err: fmt.Errorf("failed: %w", NewTransient(errors.New("timeout"))), want: true},
		{name: "wrapped permanent error", err: fmt.Errorf("failed: %w", NewPermanent(errors.New("invalid"))), want: false},
		{name: "timeout sentinel", err: ErrTimeout, want: true},
		{name: "not found sentinel", err: ErrNotFound, want: false},
		{name: "already exists sentinel", err: ErrAlreadyExists, want: false},
		{name: "unauthorized sentinel", err: ErrUnauthorized, want: false},
		{name: "invalid input sentinel", err: ErrInvalidInput, want: false},
		{name: "wrapped timeout sentinel", err: fmt.Errorf("operation failed: %w", ErrTimeout), want: true},
		{name: "service error is never retried", err: NewSecurityViolation(errors.New("nosql")), want: false},
		{name: "unknown error defaults to non-transient", err: errors.New("unknown error"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsPermanent(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil error", err: nil, want: false},
		{name: "explicit permanent error", err: NewPermanent(errors.New("not found")), want: true},
		{name: "explicit transient error", err: NewTransient(errors.New("timeout")), want: false},
		{name: "wrapped permanent error", err: fmt.Errorf("failed: %w", NewPermanent(errors.New("invalid"))), want: true},
		{name: "unknown error", err: errors.New("unknown error"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsPermanent(tt.err); got != tt.want {
				t.Errorf("IsPermanent() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestErrorUnwrap(t *testing.T) {
	t.Run("transient error unwrap", func(t *testing.T) {
		cause := errors.New("original error")
		err := NewTransient(cause)

		if unwrapped := errors.Unwrap(err); unwrapped != cause {
			t.Errorf("Unwrap() = %v, want %v", unwrapped, cause)
		}
	})

	t.Run("permanent error unwrap", func(t *testing.T) {
		cause := errors.New("original error")
		err := NewPermanent(cause)

		if unwrapped := errors.Unwrap(err); unwrapped != cause {
			t.Errorf("Unwrap() = %v, want %v", unwrapped, cause)
		}
	})

	t.Run("service error unwrap", func(t *testing.T) {
		cause := errors.New("operator key $ne")
		err := NewSecurityViolation(cause)

		if unwrapped := errors.Unwrap(err); unwrapped != cause {
			t.Errorf("Unwrap() = %v, want %v", unwrapped, cause)
		}
	})
}

type violationStub struct{ msg string }

func (v *violationStub) Error() string { return v.msg }

func TestServiceError(t *testing.T) {
	t.Run("security violation keeps message", func(t *testing.T) {
		cause := &violationStub{msg: "NOSQL_INJECTION: operator key \"$ne\" is not allowed"}
		err := NewSecurityViolation(cause)

		if err.Kind != KindSecurityViolation {
			t.Errorf("Kind = %v, want %v", err.Kind, KindSecurityViolation)
		}
		if err.Message != cause.msg {
			t.Errorf("Message = %q, want %q", err.Message, cause.msg)
		}

		var stub *violationStub
		if !errors.As(fmt.Errorf("wrapped: %w", err), &stub) {
			t.Error("expected errors.As to reach the original violation")
		}
	})

	t.Run("kind of", func(t *testing.T) {
		tests := []struct {
			name string
			err  error
			want Kind
		}{
			{name: "security", err: NewSecurityViolation(errors.New("x")), want: KindSecurityViolation},
			{name: "not found", err: NewServiceError(KindNotFound, ErrNotFound, "product %s", "ABC"), want: KindNotFound},
			{name: "wrapped", err: fmt.Errorf("api: %w", NewServiceError(KindAlreadyExists, nil, "dup")), want: KindAlreadyExists},
			{name: "plain error", err: errors.New("boom"), want: KindInternal},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				if got := KindOf(tt.err); got != tt.want {
					t.Errorf("KindOf() = %v, want %v", got, tt.want)
				}
			})
		}
	})

	t.Run("is security violation", func(t *testing.T) {
		if !IsSecurityViolation(NewSecurityViolation(errors.New("x"))) {
			t.Error("expected security violation")
		}
		if IsSecurityViolation(NewServiceError(KindNotFound, nil, "missing")) {
			t.Error("not found must not be a security violation")
		}
		if IsSecurityViolation(nil) {
			t.Error("nil must not be a security violation")
		}
	})

	t.Run("error string", func(t *testing.T) {
		err := NewServiceError(KindNotFound, ErrNotFound, "product %s", "ABC-123")
		if got, want := err.Error(), "NOT_FOUND: product ABC-123"; got != want {
			t.Errorf("Error() = %q, want %q", got, want)
		}
	})
}

func TestSentinelHelpers(t *testing.T) {
	notFound := NewPermanent(fmt.Errorf("product %w", ErrNotFound))
	if !IsNotFound(notFound) {
		t.Error("IsNotFound() = false for wrapped ErrNotFound")
	}
	if IsAlreadyExists(notFound) {
		t.Error("IsAlreadyExists() = true for ErrNotFound")
	}
	if !IsAlreadyExists(fmt.Errorf("sku taken: %w", ErrAlreadyExists)) {
		t.Error("IsAlreadyExists() = false for wrapped ErrAlreadyExists")
	}
	if !IsInvalidInput(NewPermanent(fmt.Errorf("%w: bad field", ErrInvalidInput))) {
		t.Error("IsInvalidInput() = false for wrapped ErrInvalidInput")
	}
	if IsNotFound(nil) || IsAlreadyExists(nil) || IsInvalidInput(nil) {
		t.Error("helpers should report false for nil")
	}
}
