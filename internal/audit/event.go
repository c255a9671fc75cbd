package audit

import (
	"context"
	"strings"
	"time"

	"github.com/daimoniac/docshield/internal/security"
)

// Operation is the logical operation being audited. The CRUD constants cover
// collection managers; callers may define their own.
type Operation string

const (
	OpCreate Operation = "CREATE"
	OpRead   Operation = "READ"
	OpUpdate Operation = "UPDATE"
	OpDelete Operation = "DELETE"
)

// ParseOperation normalizes an operation name to upper case
func ParseOperation(s string) Operation {
	op := strings.ToUpper(strings.TrimSpace(s))
	if op == "" {
		return OpRead
	}
	return Operation(op)
}

// Outcome is the result of an audited operation
type Outcome string

const (
	OutcomeAllowed Outcome = "ALLOWED"
	OutcomeBlocked Outcome = "BLOCKED"
)

// Event is one audited operation. Violation is set only for blocked events.
type Event struct {
	EventID          string              `json:"event_id"`
	Sequence         uint64              `json:"sequence"`
	Operation        Operation           `json:"operation"`
	ActorID          string              `json:"actor_id,omitempty"`
	SourceIdentifier string              `json:"source_identifier"`
	Outcome          Outcome             `json:"outcome"`
	Violation        *security.Violation `json:"violation,omitempty"`
	Details          map[string]any      `json:"details,omitempty"`
	Timestamp        time.Time           `json:"timestamp"`
}

// Blocked reports whether the event records a blocked operation
func (e Event) Blocked() bool {
	return e.Outcome == OutcomeBlocked
}

// RequestInfo identifies who issued a request and from where
type RequestInfo struct {
	ActorID string
	Source  string
}

type requestInfoKey struct{}

// WithRequestInfo attaches the actor and source identifiers to ctx
func WithRequestInfo(ctx context.Context, info RequestInfo) context.Context {
	return context.WithValue(ctx, requestInfoKey{}, info)
}

// RequestInfoFrom returns the request info attached to ctx. The source
// defaults to security.UnknownSource.
func RequestInfoFrom(ctx context.Context) RequestInfo {
	info, _ := ctx.Value(requestInfoKey{}).(RequestInfo)
	info.Source = security.NormalizeSource(info.Source)
	return info
}
