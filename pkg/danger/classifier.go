// Package danger maps plugin identities to a static risk tier that may be
// overridden at runtime in either direction.
package danger

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
)

// BuiltinTiers is the default classification table keyed by plugin id.
var BuiltinTiers = map[string]Tier{
	// external messaging, raw filesystem and code execution
	"telegram_bridge":   OwnerOnly,
	"communication_hub": OwnerOnly,
	"file_manager":      OwnerOnly,
	"sandbox_exec":      OwnerOnly,
	"policy_guardrail":  OwnerOnly,

	// outbound communication and automation
	"web_search":      ApprovalRequired,
	"task_automation": ApprovalRequired,
	"guidance_router": ApprovalRequired,

	// computational and informational
	"calculator":      Safe,
	"datetime":        Safe,
	"device_info":     Safe,
	"notes":           Safe,
	"text_analysis":   Safe,
	"personalization": Safe,
	"on_device_llm":   Safe,
}

// Classification is the effective tier of a plugin and why.
type Classification struct {
	PluginID   string `json:"plugin_id"`
	Tier       Tier   `json:"tier"`
	Reason     string `json:"reason"`
	Overridden bool   `json:"overridden"`
}

// Summary counts effective tiers over every known plugin id.
type Summary struct {
	Counts    map[Tier]int `json:"counts"`
	Overrides int          `json:"overrides"`
}

// Classifier resolves effective tiers: override first, then the built-in
// table, then Safe.
type Classifier struct {
	builtin   map[string]Tier
	overrides map[string]Tier
	mu        sync.RWMutex
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithBuiltins replaces the built-in table. The map is copied.
func WithBuiltins(table map[string]Tier) Option {
	return func(c *Classifier) {
		c.builtin = make(map[string]Tier, len(table))
		for id, t := range table {
			c.builtin[id] = t
		}
	}
}

// NewClassifier creates a classifier over BuiltinTiers unless overridden by opts.
func NewClassifier(opts ...Option) *Classifier {
	c := &Classifier{
		overrides: make(map[string]Tier),
	}
	WithBuiltins(BuiltinTiers)(c)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classify returns the effective tier for pluginID. It never fails: unknown ids
// classify as Safe.
func (c *Classifier) Classify(pluginID string) Classification {
	c.mu.RLock()
	override, overridden := c.overrides[pluginID]
	builtin, known := c.builtin[pluginID]
	c.mu.RUnlock()

	switch {
	case overridden:
		return Classification{
			PluginID:   pluginID,
			Tier:       override,
			Reason:     "runtime override: " + override.reason(),
			Overridden: true,
		}
	case known:
		return Classification{PluginID: pluginID, Tier: builtin, Reason: builtin.reason()}
	default:
		return Classification{
			PluginID: pluginID,
			Tier:     Safe,
			Reason:   "unclassified tool, defaulting to safe: " + Safe.reason(),
		}
	}
}

// IsDangerous reports whether the effective tier is anything but Safe.
func (c *Classifier) IsDangerous(pluginID string) bool {
	return c.Classify(pluginID).Tier != Safe
}

// SetOverride pins the effective tier of pluginID. The tier may be less
// restrictive than the built-in one.
func (c *Classifier) SetOverride(pluginID string, tier Tier) error {
	if pluginID == "" {
		return fmt.Errorf("plugin id is required")
	}
	if !tier.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidTier, int(tier))
	}

	c.mu.Lock()
	c.overrides[pluginID] = tier
	c.mu.Unlock()

	log.Info().
		Str("plugin_id", pluginID).
		Str("tier", tier.String()).
		Msg("Danger tier override set")

	return nil
}

// RemoveOverride drops the override so the built-in tier applies again.
// It returns false when no override existed.
func (c *Classifier) RemoveOverride(pluginID string) bool {
	c.mu.Lock()
	_, ok := c.overrides[pluginID]
	delete(c.overrides, pluginID)
	c.mu.Unlock()

	if ok {
		log.Info().Str("plugin_id", pluginID).Msg("Danger tier override removed")
	}
	return ok
}

// ReplaceOverrides swaps the whole override table in one step.
func (c *Classifier) ReplaceOverrides(overrides map[string]Tier) error {
	next := make(map[string]Tier, len(overrides))
	for id, t := range overrides {
		if id == "" {
			return fmt.Errorf("plugin id is required")
		}
		if !t.Valid() {
			return fmt.Errorf("%w: %s=%d", ErrInvalidTier, id, int(t))
		}
		next[id] = t
	}

	c.mu.Lock()
	c.overrides = next
	c.mu.Unlock()

	log.Info().Int("overrides", len(next)).Msg("Danger tier overrides replaced")
	return nil
}

// ListByTier returns the sorted plugin ids whose effective tier is tier.
// Only ids present in the built-in table or the overrides are considered.
func (c *Classifier) ListByTier(tier Tier) []string {
	ids := []string{}
	for _, id := range c.knownIDs() {
		if c.Classify(id).Tier == tier {
			ids = append(ids, id)
		}
	}
	return ids
}

// Summary counts effective tiers per known plugin id plus the override count.
func (c *Classifier) Summary() Summary {
	s := Summary{Counts: make(map[Tier]int, len(AllTiers()))}
	for _, t := range AllTiers() {
		s.Counts[t] = 0
	}
	for _, id := range c.knownIDs() {
		s.Counts[c.Classify(id).Tier]++
	}

	c.mu.RLock()
	s.Overrides = len(c.overrides)
	c.mu.RUnlock()

	return s
}

func (c *Classifier) knownIDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	seen := make(map[string]struct{}, len(c.builtin)+len(c.overrides))
	for id := range c.builtin {
		seen[id] = struct{}{}
	}
	for id := range c.overrides {
		seen[id] = struct{}{}
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
