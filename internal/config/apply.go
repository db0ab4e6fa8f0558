package config

import (
	"fmt"

	"github.com/harun/warden/pkg/capability"
	"github.com/harun/warden/pkg/contentscan"
	"github.com/harun/warden/pkg/danger"
	"github.com/harun/warden/pkg/policy"
	"github.com/rs/zerolog/log"
)

// PolicyState is the administrative state derived from a PolicyConfig.
type PolicyState struct {
	Rules     []policy.Rule
	Overrides map[string]danger.Tier
	Grants    map[string]capability.Set
}

// BuildPolicyState parses p without touching any live component.
func BuildPolicyState(p PolicyConfig) (*PolicyState, error) {
	state := &PolicyState{
		Rules:     make([]policy.Rule, 0, len(p.Rules)+len(p.DeniedPlugins)),
		Overrides: make(map[string]danger.Tier, len(p.Overrides)),
		Grants:    make(map[string]capability.Set, len(p.Grants)),
	}

	for i, rc := range p.Rules {
		layer, err := policy.ParseLayer(rc.Layer)
		if err != nil {
			return nil, fmt.Errorf("policy.rules[%d]: %w", i, err)
		}
		action, err := policy.ParseAction(rc.Action)
		if err != nil {
			return nil, fmt.Errorf("policy.rules[%d]: %w", i, err)
		}
		rule := policy.Rule{Layer: layer, SubjectID: rc.Subject, Action: action, Reason: rc.Reason}
		if err := rule.Validate(); err != nil {
			return nil, fmt.Errorf("policy.rules[%d]: %w", i, err)
		}
		state.Rules = append(state.Rules, rule)
	}

	for _, id := range p.DeniedPlugins {
		rule := policy.Rule{
			Layer:     policy.LayerGlobal,
			SubjectID: id,
			Action:    policy.Deny,
			Reason:    fmt.Sprintf("plugin %s is on the deny list", id),
		}
		if err := rule.Validate(); err != nil {
			return nil, fmt.Errorf("policy.denied_plugins: %w", err)
		}
		state.Rules = append(state.Rules, rule)
	}

	for id, name := range p.Overrides {
		tier, err := danger.ParseTier(name)
		if err != nil {
			return nil, fmt.Errorf("policy.overrides[%s]: %w", id, err)
		}
		state.Overrides[id] = tier
	}

	for id, names := range p.Grants {
		set, err := capability.ParseAll(names)
		if err != nil {
			return nil, fmt.Errorf("policy.grants[%s]: %w", id, err)
		}
		state.Grants[id] = set
	}

	return state, nil
}

// Apply loads the policy section into the engine and classifier. Nothing is
// changed unless the whole section parses; each store is then swapped
// atomically.
func Apply(cfg *Config, engine *policy.Engine, classifier *danger.Classifier) error {
	state, err := BuildPolicyState(cfg.Policy)
	if err != nil {
		return fmt.Errorf("failed to apply policy: %w", err)
	}

	if err := engine.Store().Replace(state.Rules); err != nil {
		return fmt.Errorf("failed to apply policy rules: %w", err)
	}
	if err := classifier.ReplaceOverrides(state.Overrides); err != nil {
		return fmt.Errorf("failed to apply tier overrides: %w", err)
	}
	engine.Capabilities().Replace(state.Grants)

	log.Info().
		Int("rules", len(state.Rules)).
		Int("overrides", len(state.Overrides)).
		Int("grants", len(state.Grants)).
		Msg("Policy configuration applied")

	return nil
}

// ScannerOptions converts the scanner section into contentscan options.
func ScannerOptions(s ScannerConfig) ([]contentscan.Option, error) {
	if s.BlockedPhrases == nil && s.BlockedPhraseSeverity == "" {
		return nil, nil
	}

	severity := contentscan.RiskHigh
	if s.BlockedPhraseSeverity != "" {
		lvl, err := contentscan.ParseRiskLevel(s.BlockedPhraseSeverity)
		if err != nil {
			return nil, fmt.Errorf("scanner.blocked_phrase_severity: %w", err)
		}
		severity = lvl
	}

	phrases := s.BlockedPhrases
	if phrases == nil {
		phrases = contentscan.DefaultBlockedPhrases
	}

	return []contentscan.Option{contentscan.WithBlockedPhrases(phrases, severity)}, nil
}
