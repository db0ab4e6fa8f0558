package policy

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
)

// RuleStore holds at most one rule per (layer, subject) pair. Readers and
// writers are mutually exclusive, so an evaluation never observes a partially
// applied change.
type RuleStore struct {
	layers [layerCount]map[string]Rule
	mu     sync.RWMutex
}

// NewRuleStore creates an empty store.
func NewRuleStore() *RuleStore {
	s := &RuleStore{}
	for i := range s.layers {
		s.layers[i] = make(map[string]Rule)
	}
	return s
}

// Add stores rule, replacing any rule with the same layer and subject.
func (s *RuleStore) Add(rule Rule) error {
	if err := rule.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	_, replaced := s.layers[rule.Layer][rule.SubjectID]
	s.layers[rule.Layer][rule.SubjectID] = rule
	s.mu.Unlock()

	log.Info().
		Str("layer", rule.Layer.String()).
		Str("subject", rule.SubjectID).
		Str("action", rule.Action.String()).
		Bool("replaced", replaced).
		Msg("Policy rule added")

	return nil
}

// Remove deletes the rule for (layer, subjectID). It returns false when no
// such rule exists.
func (s *RuleStore) Remove(layer Layer, subjectID string) bool {
	if !layer.Valid() {
		return false
	}

	s.mu.Lock()
	_, ok := s.layers[layer][subjectID]
	delete(s.layers[layer], subjectID)
	s.mu.Unlock()

	if ok {
		log.Info().
			Str("layer", layer.String()).
			Str("subject", subjectID).
			Msg("Policy rule removed")
	}
	return ok
}

// Replace swaps the whole rule set in one step. Nothing changes when any rule
// is invalid. Later duplicates of a (layer, subject) pair win.
func (s *RuleStore) Replace(rules []Rule) error {
	var next [layerCount]map[string]Rule
	for i := range next {
		next[i] = make(map[string]Rule)
	}
	for i, r := range rules {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("rule %d: %w", i, err)
		}
		next[r.Layer][r.SubjectID] = r
	}

	s.mu.Lock()
	s.layers = next
	s.mu.Unlock()

	log.Info().Int("rules", len(rules)).Msg("Policy rules replaced")
	return nil
}

// Get returns the rule stored for exactly (layer, subjectID).
func (s *RuleStore) Get(layer Layer, subjectID string) (Rule, bool) {
	if !layer.Valid() {
		return Rule{}, false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.layers[layer][subjectID]
	return r, ok
}

// Rules returns every stored rule ordered by layer then subject.
func (s *RuleStore) Rules() []Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []Rule{}
	for _, byID := range s.layers {
		start := len(out)
		for _, r := range byID {
			out = append(out, r)
		}
		layerRules := out[start:]
		sort.Slice(layerRules, func(i, j int) bool {
			return layerRules[i].SubjectID < layerRules[j].SubjectID
		})
	}
	return out
}

// Len returns the number of stored rules.
func (s *RuleStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, byID := range s.layers {
		n += len(byID)
	}
	return n
}

// match is the rule a layer contributes for one plugin, if any.
type match struct {
	layer Layer
	rule  Rule
	found bool
}

// resolve looks up every layer under a single read lock: exact subject first,
// then Wildcard.
func (s *RuleStore) resolve(layers []Layer, pluginID string) []match {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]match, 0, len(layers))
	for _, l := range layers {
		byID := s.layers[l]
		if r, ok := byID[pluginID]; ok {
			out = append(out, match{layer: l, rule: r, found: true})
			continue
		}
		if r, ok := byID[Wildcard]; ok {
			out = append(out, match{layer: l, rule: r, found: true})
			continue
		}
		out = append(out, match{layer: l})
	}
	return out
}
