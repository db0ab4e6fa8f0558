package contentscan

import (
	"fmt"
	"strings"
)

// RiskLevel orders the severity of scanned content.
type RiskLevel int

const (
	RiskSafe RiskLevel = iota
	RiskLow
	RiskMedium
	RiskHigh
	RiskCritical
)

// Valid reports whether r is a defined level.
func (r RiskLevel) Valid() bool {
	return r >= RiskSafe && r <= RiskCritical
}

func (r RiskLevel) String() string {
	switch r {
	case RiskSafe:
		return "safe"
	case RiskLow:
		return "low"
	case RiskMedium:
		return "medium"
	case RiskHigh:
		return "high"
	case RiskCritical:
		return "critical"
	default:
		return fmt.Sprintf("risk(%d)", int(r))
	}
}

// MarshalText encodes the level by name.
func (r RiskLevel) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText decodes a level name.
func (r *RiskLevel) UnmarshalText(text []byte) error {
	lvl, err := ParseRiskLevel(string(text))
	if err != nil {
		return err
	}
	*r = lvl
	return nil
}

// ParseRiskLevel resolves a level by name.
func ParseRiskLevel(name string) (RiskLevel, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "safe":
		return RiskSafe, nil
	case "low":
		return RiskLow, nil
	case "medium":
		return RiskMedium, nil
	case "high":
		return RiskHigh, nil
	case "critical":
		return RiskCritical, nil
	default:
		return RiskSafe, fmt.Errorf("invalid risk level: %q", name)
	}
}

// Finding is one matched catalogue category.
type Finding struct {
	Category    string    `json:"category"`
	Description string    `json:"description"`
	Severity    RiskLevel `json:"severity"`
}

// Result is the outcome of scanning one payload.
// Allowed is false exactly when RiskLevel is RiskCritical.
type Result struct {
	PluginID  string    `json:"plugin_id"`
	RiskLevel RiskLevel `json:"risk_level"`
	Findings  []Finding `json:"findings"`
	Allowed   bool      `json:"allowed"`
}

// Categories returns the category names of the findings in match order.
func (r Result) Categories() []string {
	out := make([]string, 0, len(r.Findings))
	for _, f := range r.Findings {
		out = append(out, f.Category)
	}
	return out
}

// HasCategory reports whether any finding is of the given category.
func (r Result) HasCategory(category string) bool {
	for _, f := range r.Findings {
		if f.Category == category {
			return true
		}
	}
	return false
}
