package gate

import (
	"fmt"
	"strings"
	"time"

	"github.com/harun/warden/pkg/capability"
	"github.com/harun/warden/pkg/contentscan"
	"github.com/harun/warden/pkg/danger"
	"github.com/harun/warden/pkg/policy"
)

// AuthLevel is the acting principal's authorization level.
type AuthLevel int

const (
	// AuthUser satisfies Safe tools only.
	AuthUser AuthLevel = iota
	// AuthApproved carries an explicit approval and satisfies ApprovalRequired.
	AuthApproved
	// AuthOwner is the device owner and satisfies OwnerOnly.
	AuthOwner
)

func (a AuthLevel) String() string {
	switch a {
	case AuthUser:
		return "user"
	case AuthApproved:
		return "approved"
	case AuthOwner:
		return "owner"
	default:
		return fmt.Sprintf("auth(%d)", int(a))
	}
}

// ParseAuthLevel resolves an authorization level by name.
func ParseAuthLevel(name string) (AuthLevel, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "user", "":
		return AuthUser, nil
	case "approved":
		return AuthApproved, nil
	case "owner":
		return AuthOwner, nil
	default:
		return AuthUser, fmt.Errorf("invalid auth level: %q", name)
	}
}

// Satisfies reports whether the level is enough for the tier. Nothing satisfies Blocked.
func (a AuthLevel) Satisfies(tier danger.Tier) bool {
	switch tier {
	case danger.Safe:
		return true
	case danger.ApprovalRequired:
		return a >= AuthApproved
	case danger.OwnerOnly:
		return a >= AuthOwner
	default:
		return false
	}
}

// Caller describes who is invoking and from where.
type Caller struct {
	PrincipalID string    `json:"principal_id"`
	IsSubAgent  bool      `json:"is_sub_agent"`
	IsSandboxed bool      `json:"is_sandboxed"`
	Auth        AuthLevel `json:"auth"`
}

// Invocation is one attempt to run a plugin.
type Invocation struct {
	ID       string `json:"id,omitempty"`
	PluginID string `json:"plugin_id"`
	Payload  string `json:"payload"`
	// Required is unioned with whatever the PluginRegistry declares.
	Required capability.Set `json:"-"`
}

// Stage names the check that produced a verdict.
type Stage string

const (
	StageTier       Stage = "tier"
	StageContent    Stage = "content"
	StagePolicy     Stage = "policy"
	StageCapability Stage = "capability"
	StageNone       Stage = "none"
)

// Stages lists the checks in the order Authorize runs them.
func Stages() []Stage {
	return []Stage{StageTier, StageContent, StagePolicy, StageCapability}
}

// Result is the gate verdict. Stage is the vetoing check, or StageNone when
// allowed. Findings are carried forward even when allowed.
type Result struct {
	Allowed        bool                       `json:"allowed"`
	Stage          Stage                      `json:"stage"`
	Reason         string                     `json:"reason"`
	Classification danger.Classification      `json:"classification"`
	Scan           *contentscan.Result        `json:"scan,omitempty"`
	Policy         *policy.Decision           `json:"policy,omitempty"`
	Capabilities   *policy.CapabilityDecision `json:"capabilities,omitempty"`
	Findings       []contentscan.Finding      `json:"findings"`
}

// NeedsApproval reports whether the call was vetoed only because the caller
// lacked approval for an ApprovalRequired tool.
func (r Result) NeedsApproval() bool {
	return !r.Allowed && r.Stage == StageTier && r.Classification.Tier == danger.ApprovalRequired
}

// AuditRecord is emitted once per Authorize call.
type AuditRecord struct {
	ID           string                `json:"id"`
	InvocationID string                `json:"invocation_id,omitempty"`
	PluginID     string                `json:"plugin_id"`
	PrincipalID  string                `json:"principal_id,omitempty"`
	IsSubAgent   bool                  `json:"is_sub_agent"`
	IsSandboxed  bool                  `json:"is_sandboxed"`
	Allowed      bool                  `json:"allowed"`
	Stage        Stage                 `json:"stage"`
	Reason       string                `json:"reason"`
	Tier         danger.Tier           `json:"tier"`
	RiskLevel    contentscan.RiskLevel `json:"risk_level"`
	Findings     []contentscan.Finding `json:"findings"`
	Timestamp    time.Time             `json:"timestamp"`
}

// AuditSink receives every AuditRecord. It is fire-and-forget: it cannot
// report failure and its behaviour never changes a decision.
type AuditSink interface {
	Record(rec AuditRecord)
}

// AuditSinkFunc adapts a function to AuditSink.
type AuditSinkFunc func(rec AuditRecord)

// Record implements AuditSink.
func (f AuditSinkFunc) Record(rec AuditRecord) {
	f(rec)
}

// MultiSink fans a record out to several sinks.
type MultiSink []AuditSink

// Record implements AuditSink.
func (m MultiSink) Record(rec AuditRecord) {
	for _, s := range m {
		if s != nil {
			s.Record(rec)
		}
	}
}

// PluginRegistry supplies the capabilities each known plugin declares.
type PluginRegistry interface {
	RequiredCapabilities(pluginID string) (capability.Set, bool)
}

// StaticRegistry is a PluginRegistry backed by a fixed map.
type StaticRegistry map[string]capability.Set

// RequiredCapabilities implements PluginRegistry.
func (s StaticRegistry) RequiredCapabilities(pluginID string) (capability.Set, bool) {
	caps, ok := s[pluginID]
	return caps, ok
}

// ChainRegistry unions the declarations of several registries. A plugin is
// known if any member knows it.
type ChainRegistry []PluginRegistry

// RequiredCapabilities implements PluginRegistry.
func (c ChainRegistry) RequiredCapabilities(pluginID string) (capability.Set, bool) {
	var caps capability.Set
	found := false
	for _, r := range c {
		if r == nil {
			continue
		}
		if s, ok := r.RequiredCapabilities(pluginID); ok {
			caps = caps.Union(s)
			found = true
		}
	}
	return caps, found
}
