package policy

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidRule is returned by administrative calls given a malformed rule.
var ErrInvalidRule = errors.New("invalid policy rule")

// Wildcard matches any plugin at a layer that has no exact rule for it.
const Wildcard = "*"

// Layer is one authority level of the precedence chain. The order is fixed.
type Layer int

const (
	LayerGlobal Layer = iota
	LayerPluginProfile
	LayerSession
	LayerGroup
	LayerSubAgent
	LayerSandbox

	layerCount
)

// NoLayer marks a decision no layer contributed to.
const NoLayer Layer = -1

// AllLayers returns every layer in evaluation order.
func AllLayers() []Layer {
	return []Layer{LayerGlobal, LayerPluginProfile, LayerSession, LayerGroup, LayerSubAgent, LayerSandbox}
}

// Valid reports whether l is a defined layer.
func (l Layer) Valid() bool {
	return l >= LayerGlobal && l < layerCount
}

func (l Layer) String() string {
	switch l {
	case LayerGlobal:
		return "global"
	case LayerPluginProfile:
		return "plugin_profile"
	case LayerSession:
		return "session"
	case LayerGroup:
		return "group"
	case LayerSubAgent:
		return "sub_agent"
	case LayerSandbox:
		return "sandbox"
	case NoLayer:
		return "none"
	default:
		return fmt.Sprintf("layer(%d)", int(l))
	}
}

// MarshalText encodes the layer by name; NoLayer encodes as "none".
func (l Layer) MarshalText() ([]byte, error) {
	if !l.Valid() && l != NoLayer {
		return nil, fmt.Errorf("invalid layer: %d", int(l))
	}
	return []byte(l.String()), nil
}

// UnmarshalText decodes a layer name, accepting "none" for NoLayer.
func (l *Layer) UnmarshalText(text []byte) error {
	if strings.EqualFold(strings.TrimSpace(string(text)), "none") {
		*l = NoLayer
		return nil
	}
	layer, err := ParseLayer(string(text))
	if err != nil {
		return err
	}
	*l = layer
	return nil
}

// ParseLayer resolves a layer by name.
func ParseLayer(name string) (Layer, error) {
	normalized := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "-", "_")
	switch normalized {
	case "subagent":
		normalized = "sub_agent"
	case "pluginprofile", "profile":
		normalized = "plugin_profile"
	}
	for _, l := range AllLayers() {
		if l.String() == normalized {
			return l, nil
		}
	}
	return NoLayer, fmt.Errorf("%w: unknown layer %q", ErrInvalidRule, name)
}

// applicableLayers returns the layers evaluated for a call, in order.
func applicableLayers(isSubAgent, isSandboxed bool) []Layer {
	layers := []Layer{LayerGlobal, LayerPluginProfile, LayerSession, LayerGroup}
	if isSubAgent {
		layers = append(layers, LayerSubAgent)
	}
	if isSandboxed {
		layers = append(layers, LayerSandbox)
	}
	return layers
}

// Action is the effect of a matching rule.
type Action int

const (
	Allow Action = iota
	Deny
)

func (a Action) String() string {
	switch a {
	case Allow:
		return "allow"
	case Deny:
		return "deny"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// ParseAction resolves an action by name.
func ParseAction(name string) (Action, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "allow":
		return Allow, nil
	case "deny":
		return Deny, nil
	default:
		return Allow, fmt.Errorf("%w: unknown action %q", ErrInvalidRule, name)
	}
}

// Rule allows or denies one subject (plugin id or Wildcard) at one layer.
type Rule struct {
	Layer     Layer  `json:"layer"`
	SubjectID string `json:"subject_id"`
	Action    Action `json:"action"`
	Reason    string `json:"reason"`
}

// Validate checks the rule is well-formed.
func (r Rule) Validate() error {
	if !r.Layer.Valid() {
		return fmt.Errorf("%w: unknown layer %d", ErrInvalidRule, int(r.Layer))
	}
	if strings.TrimSpace(r.SubjectID) == "" {
		return fmt.Errorf("%w: subject id is required", ErrInvalidRule)
	}
	if r.Action != Allow && r.Action != Deny {
		return fmt.Errorf("%w: unknown action %d", ErrInvalidRule, int(r.Action))
	}
	return nil
}

// Decision is the structural verdict for one evaluation. It is built fresh on
// every call and never cached.
type Decision struct {
	Allowed             bool   `json:"allowed"`
	DecidingLayer       Layer  `json:"deciding_layer"`
	Reason              string `json:"reason"`
	EvaluatedLayerCount int    `json:"evaluated_layer_count"`
}
