package danger

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidTier is returned when a tier value or name is outside the ordered set.
var ErrInvalidTier = errors.New("invalid danger tier")

// Tier is a coarse identity-based risk classification. Tiers are ordered:
// a higher value is more restrictive.
type Tier int

const (
	Safe Tier = iota
	ApprovalRequired
	OwnerOnly
	Blocked
)

// AllTiers returns every tier from least to most restrictive.
func AllTiers() []Tier {
	return []Tier{Safe, ApprovalRequired, OwnerOnly, Blocked}
}

// Valid reports whether t is one of the defined tiers.
func (t Tier) Valid() bool {
	return t >= Safe && t <= Blocked
}

func (t Tier) String() string {
	switch t {
	case Safe:
		return "safe"
	case ApprovalRequired:
		return "approval_required"
	case OwnerOnly:
		return "owner_only"
	case Blocked:
		return "blocked"
	default:
		return fmt.Sprintf("tier(%d)", int(t))
	}
}

// MarshalText encodes the tier by name.
func (t Tier) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidTier, int(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText decodes a tier name.
func (t *Tier) UnmarshalText(text []byte) error {
	tier, err := ParseTier(string(text))
	if err != nil {
		return err
	}
	*t = tier
	return nil
}

// ParseTier resolves a tier by name. Hyphens and case are tolerated.
func ParseTier(name string) (Tier, error) {
	normalized := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "-", "_")
	for _, t := range AllTiers() {
		if t.String() == normalized {
			return t, nil
		}
	}
	return Safe, fmt.Errorf("%w: %q", ErrInvalidTier, name)
}

// reason is the human-readable rationale attached to every classification.
func (t Tier) reason() string {
	switch t {
	case Safe:
		return "computational or informational tool without external side effects"
	case ApprovalRequired:
		return "tool communicates outbound or automates actions and needs user approval"
	case OwnerOnly:
		return "tool reaches external messaging, raw storage or code execution and is restricted to the device owner"
	case Blocked:
		return "tool is blocked and may not be invoked"
	default:
		return "unrecognized tier"
	}
}
