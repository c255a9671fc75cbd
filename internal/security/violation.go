package security

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"
)

// ViolationType names the class of a detected security problem
type ViolationType string

const (
	NoSQLInjection   ViolationType = "NOSQL_INJECTION"
	SQLInjection     ViolationType = "SQL_INJECTION"
	CommandInjection ViolationType = "COMMAND_INJECTION"
	LDAPInjection    ViolationType = "LDAP_INJECTION"
	XPathInjection   ViolationType = "XPATH_INJECTION"
	XXEInjection     ViolationType = "XXE_INJECTION"
	XSS              ViolationType = "XSS"
	PathTraversal    ViolationType = "PATH_TRAVERSAL"
	InvalidFormat    ViolationType = "INVALID_FORMAT"
	FieldTooLong     ViolationType = "FIELD_TOO_LONG"
	RateLimited      ViolationType = "RATE_LIMITED"
)

// typePriority resolves ties between matches of equal threat level.
// Lower index wins.
var typePriority = []ViolationType{
	NoSQLInjection,
	CommandInjection,
	XXEInjection,
	SQLInjection,
	LDAPInjection,
	XPathInjection,
	XSS,
	PathTraversal,
	InvalidFormat,
	FieldTooLong,
	RateLimited,
}

func priorityOf(t ViolationType) int {
	for i, p := range typePriority {
		if p == t {
			return i
		}
	}
	return len(typePriority)
}

// ParseViolationType parses a violation type name (case-insensitive)
func ParseViolationType(s string) (ViolationType, error) {
	upper := ViolationType(strings.ToUpper(strings.TrimSpace(s)))
	for _, t := range typePriority {
		if t == upper {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown violation type: %q", s)
}

// ThreatLevel is an ordered severity classification
type ThreatLevel int

const (
	LevelLow ThreatLevel = iota + 1
	LevelMedium
	LevelHigh
	LevelCritical
)

func (l ThreatLevel) String() string {
	switch l {
	case LevelLow:
		return "LOW"
	case LevelMedium:
		return "MEDIUM"
	case LevelHigh:
		return "HIGH"
	case LevelCritical:
		return "CRITICAL"
	default:
		return fmt.Sprintf("ThreatLevel(%d)", int(l))
	}
}

// MarshalText encodes the level by name
func (l ThreatLevel) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText decodes a level name
func (l *ThreatLevel) UnmarshalText(text []byte) error {
	parsed, err := ParseThreatLevel(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// ParseThreatLevel parses LOW, MEDIUM, HIGH or CRITICAL (case-insensitive)
func ParseThreatLevel(s string) (ThreatLevel, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "LOW":
		return LevelLow, nil
	case "MEDIUM":
		return LevelMedium, nil
	case "HIGH":
		return LevelHigh, nil
	case "CRITICAL":
		return LevelCritical, nil
	default:
		return 0, fmt.Errorf("unknown threat level: %q", s)
	}
}

// Levels returns all threat levels from lowest to highest
func Levels() []ThreatLevel {
	return []ThreatLevel{LevelLow, LevelMedium, LevelHigh, LevelCritical}
}

var violationSeq atomic.Uint64

// Violation is a detected or raised security problem. It is created at the
// point of detection and must not be modified afterwards.
type Violation struct {
	Type      ViolationType  `json:"violation_type"`
	Level     ThreatLevel    `json:"threat_level"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	// Sequence orders violations created by this process
	Sequence uint64 `json:"sequence"`
}

// NewViolation creates a violation stamped with the current time
func NewViolation(vtype ViolationType, level ThreatLevel, details map[string]any, format string, args ...any) *Violation {
	return newViolationAt(time.Now(), vtype, level, details, format, args...)
}

func newViolationAt(now time.Time, vtype ViolationType, level ThreatLevel, details map[string]any, format string, args ...any) *Violation {
	if details == nil {
		details = map[string]any{}
	}
	return &Violation{
		Type:      vtype,
		Level:     level,
		Message:   fmt.Sprintf(format, args...),
		Details:   details,
		Timestamp: now,
		Sequence:  violationSeq.Add(1),
	}
}

func (v *Violation) Error() string {
	return fmt.Sprintf("%s (%s): %s", v.Type, v.Level, v.Message)
}
