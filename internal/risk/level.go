package risk

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// RiskLevel is an ordered severity category: low < medium < high < critical.
type RiskLevel string

const (
	LevelLow      RiskLevel = "low"
	LevelMedium   RiskLevel = "medium"
	LevelHigh     RiskLevel = "high"
	LevelCritical RiskLevel = "critical"
)

// Levels lists every known level in ascending order.
var Levels = []RiskLevel{LevelLow, LevelMedium, LevelHigh, LevelCritical}

// Score thresholds. A score at or above a threshold belongs to that level.
const (
	mediumThreshold   = 30
	highThreshold     = 60
	criticalThreshold = 85
)

// Rank orders levels from 0 (low) to 3 (critical). Unknown levels rank -1.
func (l RiskLevel) Rank() int {
	switch l {
	case LevelLow:
		return 0
	case LevelMedium:
		return 1
	case LevelHigh:
		return 2
	case LevelCritical:
		return 3
	default:
		return -1
	}
}

func (l RiskLevel) Valid() bool { return l.Rank() >= 0 }

// Max returns the more severe of two levels.
func (l RiskLevel) Max(other RiskLevel) RiskLevel {
	if other.Rank() > l.Rank() {
		return other
	}
	return l
}

func ParseRiskLevel(s string) (RiskLevel, error) {
	lvl := RiskLevel(strings.ToLower(strings.TrimSpace(s)))
	if !lvl.Valid() {
		return "", fmt.Errorf("invalid risk level %q", s)
	}
	return lvl, nil
}

func (l *RiskLevel) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	lvl, err := ParseRiskLevel(s)
	if err != nil {
		return err
	}
	*l = lvl
	return nil
}

// LevelForScore maps a 0..100 score onto its level. The thresholds are fixed:
// [0,30) low, [30,60) medium, [60,85) high, [85,100] critical.
func LevelForScore(score int) RiskLevel {
	switch {
	case score >= criticalThreshold:
		return LevelCritical
	case score >= highThreshold:
		return LevelHigh
	case score >= mediumThreshold:
		return LevelMedium
	default:
		return LevelLow
	}
}

// MinScore is the lowest score that maps to l, or -1 for an unknown level.
func MinScore(l RiskLevel) int {
	switch l {
	case LevelLow:
		return 0
	case LevelMedium:
		return mediumThreshold
	case LevelHigh:
		return highThreshold
	case LevelCritical:
		return criticalThreshold
	}
	return -1
}
