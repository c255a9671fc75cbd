package posture

import (
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/daimoniac/docshield/internal/audit"
	"github.com/daimoniac/docshield/internal/observability"
)

func TestEngine_DefaultExpression(t *testing.T) {
	engine, err := NewEngine(slog.Default(), Config{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if engine.Expression() != DefaultExpression {
		t.Errorf("expected default expression, got %q", engine.Expression())
	}

	tests := []struct {
		name   string
		score  float64
		passed bool
	}{
		{"perfect score", 1.0, true},
		{"at threshold", 0.9, true},
		{"below threshold", 0.89, false},
		{"zero", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision, err := engine.Evaluate(context.Background(), audit.Metrics{SecurityScore: tt.score})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if decision.Passed != tt.passed {
				t.Errorf("score %v: expected passed=%v, got %v", tt.score, tt.passed, decision.Passed)
			}
			if !tt.passed && decision.Reason != "security score below 0.9" {
				t.Errorf("unexpected reason: %q", decision.Reason)
			}
		})
	}
}

func TestEngine_CustomExpression(t *testing.T) {
	engine, err := NewEngine(slog.Default(), Config{
		Expression: `blockedInWindow < 5 && rateLimitedSources == 0`,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	decision, err := engine.Evaluate(context.Background(), audit.Metrics{BlockedInWindow: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !decision.Passed {
		t.Errorf("expected pass, got %q", decision.Reason)
	}

	decision, err = engine.Evaluate(context.Background(), audit.Metrics{BlockedInWindow: 2, RateLimitedIPs: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Passed {
		t.Error("expected failure with a rate-limited source")
	}
	if !strings.HasPrefix(decision.Reason, "posture failed:") {
		t.Errorf("expected generated reason, got %q", decision.Reason)
	}
}

func TestEngine_InvalidExpressions(t *testing.T) {
	tests := []struct {
		name       string
		expression string
	}{
		{"syntax error", `securityScore >=`},
		{"unknown variable", `criticalCount == 0`},
		{"non-boolean", `securityScore * 2.0`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewEngine(slog.Default(), Config{Expression: tt.expression}); err == nil {
				t.Errorf("expected error for %q", tt.expression)
			}
		})
	}
}

func TestEngine_ReloadKeepsPreviousOnError(t *testing.T) {
	engine, err := NewEngine(slog.Default(), Config{Expression: `totalThreats == 0`})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := engine.Reload(Config{Expression: `nonsense(`}); err == nil {
		t.Fatal("expected reload error")
	}
	if engine.Expression() != `totalThreats == 0` {
		t.Errorf("expression changed after failed reload: %q", engine.Expression())
	}

	if err := engine.Reload(Config{Expression: `totalOperations > 10`}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	decision, err := engine.Evaluate(context.Background(), audit.Metrics{TotalOperationsValidated: 11})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !decision.Passed {
		t.Error("expected reloaded expression to pass")
	}
}

func TestEngine_HealthCheck(t *testing.T) {
	engine, err := NewEngine(slog.Default(), Config{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	score := 1.0
	check := engine.HealthCheck(func() audit.Metrics { return audit.Metrics{SecurityScore: score} })

	hc := observability.NewHealthChecker(slog.Default())
	hc.CheckComponent(context.Background(), "security_posture", check)
	if got := hc.GetHealth().Components["security_posture"].Status; got != observability.StatusHealthy {
		t.Errorf("expected healthy posture, got %v", got)
	}

	score = 0.5
	hc.CheckComponent(context.Background(), "security_posture", check)
	component := hc.GetHealth().Components["security_posture"]
	if component.Status != observability.StatusDegraded {
		t.Errorf("expected degraded posture, got %v", component.Status)
	}
	if component.Message != "security score below 0.9" {
		t.Errorf("unexpected message: %q", component.Message)
	}
}
