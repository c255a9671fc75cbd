package posture

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/daimoniac/docshield/internal/audit"
	"github.com/daimoniac/docshield/internal/observability"
	"github.com/google/cel-go/cel"
)

// DefaultExpression passes while the security score stays at or above 0.9
const DefaultExpression = `securityScore >= 0.9`

// Evaluator decides whether the current security posture is acceptable
type Evaluator interface {
	Evaluate(ctx context.Context, m audit.Metrics) (*Decision, error)
}

// Config defines a CEL-based posture policy
type Config struct {
	// Expression is the CEL expression that must evaluate to true for the posture to pass
	// Available variables:
	//   - securityScore: double in [0, 1]
	//   - totalThreats: threats detected since startup
	//   - totalOperations: operations validated since startup
	//   - rateLimitedSources: sources currently rate limited
	//   - recentEvents: events in the audit window
	//   - blockedInWindow: blocked events in the audit window
	Expression string `yaml:"expression" json:"expression"`

	// FailureMessage is the message to return when the posture fails (optional)
	FailureMessage string `yaml:"failureMessage" json:"failureMessage"`
}

// Decision represents the result of a posture evaluation
type Decision struct {
	Passed     bool          `json:"passed"`
	Reason     string        `json:"reason"`
	Expression string        `json:"expression"`
	Metrics    audit.Metrics `json:"metrics"`
}

// Engine evaluates a compiled CEL posture expression. The expression can be
// replaced at runtime with Reload.
type Engine struct {
	logger  *slog.Logger
	metrics *observability.Metrics

	mu      sync.RWMutex
	config  Config
	program cel.Program
}

// NewEngine creates a posture engine. An empty expression uses
// DefaultExpression.
func NewEngine(logger *slog.Logger, config Config) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{logger: logger, metrics: observability.GetMetrics()}
	if err := e.Reload(config); err != nil {
		return nil, err
	}
	return e, nil
}

// Compile checks that expression is a valid boolean posture expression
func Compile(expression string) (cel.Program, error) {
	env, err := cel.NewEnv(
		cel.Variable("securityScore", cel.DoubleType),
		cel.Variable("totalThreats", cel.IntType),
		cel.Variable("totalOperations", cel.IntType),
		cel.Variable("rateLimitedSources", cel.IntType),
		cel.Variable("recentEvents", cel.IntType),
		cel.Variable("blockedInWindow", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile posture expression: %w", issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("posture expression must return a boolean, got %v", ast.OutputType())
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}
	return program, nil
}

// Reload compiles config and swaps it in. On error the current expression
// stays active.
func (e *Engine) Reload(config Config) error {
	if config.Expression == "" {
		config.Expression = DefaultExpression
		if config.FailureMessage == "" {
			config.FailureMessage = "security score below 0.9"
		}
	}

	program, err := Compile(config.Expression)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.config = config
	e.program = program
	e.mu.Unlock()

	e.logger.Info("posture policy loaded", "expression", config.Expression)
	return nil
}

// Expression returns the active expression
func (e *Engine) Expression() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.config.Expression
}

// Evaluate runs the posture expression against a metrics snapshot
func (e *Engine) Evaluate(ctx context.Context, m audit.Metrics) (*Decision, error) {
	e.mu.RLock()
	config, program := e.config, e.program
	e.mu.RUnlock()

	out, _, err := program.ContextEval(ctx, map[string]any{
		"securityScore":      m.SecurityScore,
		"totalThreats":       int64(m.TotalThreatsDetected),
		"totalOperations":    int64(m.TotalOperationsValidated),
		"rateLimitedSources": int64(m.RateLimitedIPs),
		"recentEvents":       int64(m.RecentEventsCount),
		"blockedInWindow":    int64(m.BlockedInWindow),
	})
	if err != nil {
		e.metrics.PostureEvaluations.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to evaluate posture: %w", err)
	}

	passed, ok := out.Value().(bool)
	if !ok {
		e.metrics.PostureEvaluations.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("posture expression did not return a boolean: %v", out.Value())
	}

	decision := &Decision{Passed: passed, Expression: config.Expression, Metrics: m}
	summary := fmt.Sprintf("score=%.3f, threats=%d, blocked_in_window=%d, rate_limited=%d",
		m.SecurityScore, m.TotalThreatsDetected, m.BlockedInWindow, m.RateLimitedIPs)

	if passed {
		decision.Reason = "posture passed: " + summary
		e.metrics.PostureEvaluations.WithLabelValues("passed").Inc()
		e.logger.Debug("posture evaluation passed", "score", m.SecurityScore)
		return decision, nil
	}

	if config.FailureMessage != "" {
		decision.Reason = config.FailureMessage
	} else {
		decision.Reason = "posture failed: " + summary
	}
	e.metrics.PostureEvaluations.WithLabelValues("failed").Inc()
	e.logger.Warn("posture evaluation failed",
		"score", m.SecurityScore,
		"threats", m.TotalThreatsDetected,
		"blocked_in_window", m.BlockedInWindow,
		"rate_limited_sources", m.RateLimitedIPs,
		"expression", config.Expression)
	return decision, nil
}

// HealthCheck evaluates the posture against the snapshot returned by
// metrics. A failing posture marks the component degraded, not unhealthy.
func (e *Engine) HealthCheck(metrics func() audit.Metrics) observability.HealthCheckFunc {
	return func(ctx context.Context) error {
		decision, err := e.Evaluate(ctx, metrics())
		if err != nil {
			return err
		}
		if !decision.Passed {
			return observability.Degraded("%s", decision.Reason)
		}
		return nil
	}
}
