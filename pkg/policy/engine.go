// Package policy evaluates ordered policy layers into a single allow/deny
// decision and checks required capabilities against granted ones.
//
// Invariants:
//   - Layers are evaluated in the fixed order Global, PluginProfile, Session,
//     Group, then SubAgent and Sandbox when they apply to the call.
//   - Decisions are monotonic toward denial: an Allow at a later layer never
//     reverts an earlier Deny.
//   - A plugin no layer speaks about is allowed.
package policy

import (
	"fmt"

	"github.com/harun/warden/pkg/capability"
	"github.com/rs/zerolog/log"
)

const noPolicyReason = "no policy configured"

// CapabilityDecision is the verdict of a required-capability check.
type CapabilityDecision struct {
	Allowed             bool           `json:"allowed"`
	MissingCapabilities capability.Set `json:"-"`
}

// MissingNames returns the missing capability names, sorted.
func (d CapabilityDecision) MissingNames() []string {
	return d.MissingCapabilities.Strings()
}

// Engine evaluates a RuleStore and a capability Registry.
type Engine struct {
	store *RuleStore
	caps  *capability.Registry
}

// NewEngine creates an engine. Nil collaborators are replaced by empty ones.
func NewEngine(store *RuleStore, caps *capability.Registry) *Engine {
	if store == nil {
		store = NewRuleStore()
	}
	if caps == nil {
		caps = capability.NewRegistry()
	}
	return &Engine{
		store: store,
		caps:  caps,
	}
}

// Store returns the rule store the engine reads.
func (e *Engine) Store() *RuleStore {
	return e.store
}

// Capabilities returns the grant registry the engine reads.
func (e *Engine) Capabilities() *capability.Registry {
	return e.caps
}

// Evaluate is the legacy entry point. It used to stop at the first layer
// with a matching rule, which let a lower layer's Allow hide a higher
// layer's Deny. That variant was removed on purpose and Evaluate now
// delegates to the cumulative EvaluatePipeline, so both return the same
// decision for every input.
//
// Deprecated: use EvaluatePipeline.
func (e *Engine) Evaluate(pluginID string, isSubAgent, isSandboxed bool) Decision {
	return e.EvaluatePipeline(pluginID, isSubAgent, isSandboxed)
}

// EvaluatePipeline folds every applicable layer into one decision. A Deny
// sets allowed=false and takes over the deciding layer, so the last Deny is
// reported; an Allow only moves the deciding layer while nothing has denied.
func (e *Engine) EvaluatePipeline(pluginID string, isSubAgent, isSandboxed bool) Decision {
	layers := applicableLayers(isSubAgent, isSandboxed)
	matches := e.store.resolve(layers, pluginID)

	decision := Decision{
		Allowed:             true,
		DecidingLayer:       NoLayer,
		EvaluatedLayerCount: len(layers),
	}

	var deciding Rule
	for _, m := range matches {
		if !m.found {
			continue
		}
		switch m.rule.Action {
		case Deny:
			decision.Allowed = false
			decision.DecidingLayer = m.layer
			deciding = m.rule
		case Allow:
			if decision.Allowed {
				decision.DecidingLayer = m.layer
				deciding = m.rule
			}
		}
	}

	if decision.DecidingLayer == NoLayer {
		decision.Reason = noPolicyReason
		return decision
	}

	decision.Reason = deciding.Reason
	if decision.Reason == "" {
		decision.Reason = fmt.Sprintf("%s by %s rule for %s", deciding.Action, decision.DecidingLayer, deciding.SubjectID)
	}

	if !decision.Allowed {
		log.Warn().
			Str("plugin_id", pluginID).
			Str("layer", decision.DecidingLayer.String()).
			Bool("sub_agent", isSubAgent).
			Bool("sandboxed", isSandboxed).
			Str("reason", decision.Reason).
			Msg("Policy violation: plugin invocation denied")
	}

	return decision
}

// EvaluateCapabilities allows the call iff every required capability has been
// granted to the plugin. An empty requirement is always allowed.
func (e *Engine) EvaluateCapabilities(pluginID string, required capability.Set) CapabilityDecision {
	if required.IsEmpty() {
		return CapabilityDecision{Allowed: true}
	}

	missing := e.caps.Granted(pluginID).Missing(required)
	if !missing.IsEmpty() {
		log.Warn().
			Str("plugin_id", pluginID).
			Strs("missing", missing.Strings()).
			Msg("Capability check failed")
	}

	return CapabilityDecision{
		Allowed:             missing.IsEmpty(),
		MissingCapabilities: missing,
	}
}

// FilterAllowed returns the ids the pipeline currently allows, preserving order.
func (e *Engine) FilterAllowed(pluginIDs []string, isSubAgent, isSandboxed bool) []string {
	allowed := []string{}
	for _, id := range pluginIDs {
		if e.EvaluatePipeline(id, isSubAgent, isSandboxed).Allowed {
			allowed = append(allowed, id)
		}
	}
	return allowed
}
