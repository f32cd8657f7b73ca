package autonomy

import (
	"fmt"
	"strings"
)

// Risk classifies how much harm a tool can do. It is attached to the tool
// definition, not to an individual call, and levels are ordered so they can
// be compared directly.
type Risk int

const (
	RiskSafe Risk = iota
	RiskModerate
	RiskDangerous
)

func (r Risk) String() string {
	switch r {
	case RiskSafe:
		return "safe"
	case RiskModerate:
		return "moderate"
	case RiskDangerous:
		return "dangerous"
	}
	return fmt.Sprintf("risk(%d)", int(r))
}

// ParseRisk converts a string to a Risk, case-insensitively.
func ParseRisk(s string) (Risk, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "safe":
		return RiskSafe, nil
	case "moderate":
		return RiskModerate, nil
	case "dangerous":
		return RiskDangerous, nil
	}
	return RiskSafe, fmt.Errorf("unknown risk level %q", s)
}

// Level is the process-wide autonomy setting. Higher levels auto-approve
// more risk.
type Level int

const (
	Paranoid Level = iota
	Careful
	Balanced
	Autonomous
)

func (l Level) String() string {
	switch l {
	case Paranoid:
		return "paranoid"
	case Careful:
		return "careful"
	case Balanced:
		return "balanced"
	case Autonomous:
		return "autonomous"
	}
	return fmt.Sprintf("level(%d)", int(l))
}

// ParseLevel converts a string to a Level, case-insensitively.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "paranoid":
		return Paranoid, nil
	case "careful":
		return Careful, nil
	case "balanced":
		return Balanced, nil
	case "autonomous":
		return Autonomous, nil
	}
	return Paranoid, fmt.Errorf("unknown autonomy level %q", s)
}

// Levels lists all valid levels, most restrictive first.
func Levels() []Level {
	return []Level{Paranoid, Careful, Balanced, Autonomous}
}

// NeedsApproval reports whether a tool at the given risk requires human
// confirmation at this level.
//
//	             SAFE      MODERATE  DANGEROUS
//	PARANOID     require   require   require
//	CAREFUL      approve   require   require
//	BALANCED     approve   approve   require
//	AUTONOMOUS   approve   approve   approve
func (l Level) NeedsApproval(r Risk) bool {
	switch l {
	case Paranoid:
		return true
	case Careful:
		return r >= RiskModerate
	case Balanced:
		return r >= RiskDangerous
	case Autonomous:
		return false
	}
	return true
}
