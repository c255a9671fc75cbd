package audit

import (
	"fmt"

	"github.com/daimoniac/docshield/internal/security"
)

// ScorePolicy tunes how blocked events lower the security score.
//
//	score = clamp(1 - sum(weight(level of each blocked event)) / max(1, events) * PenaltyWeight)
//
// With every weight at 1.0 this is 1 - blocked/total.
type ScorePolicy struct {
	PenaltyWeight float64
	// SeverityWeights weights a blocked event by its threat level. Missing
	// levels weigh 1.0.
	SeverityWeights map[security.ThreatLevel]float64
}

// DefaultScorePolicy weighs every blocked event equally
func DefaultScorePolicy() ScorePolicy {
	weights := make(map[security.ThreatLevel]float64, 4)
	for _, level := range security.Levels() {
		weights[level] = 1.0
	}
	return ScorePolicy{PenaltyWeight: 1.0, SeverityWeights: weights}
}

// Validate requires every weight within (0, 1]. Within that range each
// additional blocked event strictly lowers the score and the score only
// reaches 0 when every event is blocked at full weight.
func (p ScorePolicy) Validate() error {
	if p.PenaltyWeight <= 0 || p.PenaltyWeight > 1 {
		return fmt.Errorf("penalty weight must be within (0, 1], got %v", p.PenaltyWeight)
	}
	for level, w := range p.SeverityWeights {
		if w <= 0 || w > 1 {
			return fmt.Errorf("severity weight for %s must be within (0, 1], got %v", level, w)
		}
	}
	return nil
}

func (p ScorePolicy) weight(level security.ThreatLevel) float64 {
	if w, ok := p.SeverityWeights[level]; ok {
		return w
	}
	return 1.0
}

// Score computes the security score of an event window
func (p ScorePolicy) Score(events []Event) float64 {
	if len(events) == 0 {
		return 1.0
	}
	var penalty float64
	for i := range events {
		if !events[i].Blocked() {
			continue
		}
		level := security.LevelCritical
		if events[i].Violation != nil {
			level = events[i].Violation.Level
		}
		penalty += p.weight(level)
	}
	return clamp(1.0 - penalty/float64(len(events))*p.PenaltyWeight)
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
