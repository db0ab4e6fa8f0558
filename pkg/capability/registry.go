package capability

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
)

// Registry tracks the capabilities explicitly granted to each plugin.
// Plugins without grants hold the empty set.
type Registry struct {
	grants map[string]Set
	mu     sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		grants: make(map[string]Set),
	}
}

// Grant adds caps to the plugin's granted set.
func (r *Registry) Grant(pluginID string, caps ...Capability) error {
	if pluginID == "" {
		return fmt.Errorf("plugin id is required")
	}
	for _, c := range caps {
		if !c.Valid() {
			return fmt.Errorf("%w: %s", ErrUnknownCapability, c)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	granted := r.grants[pluginID].Union(NewSet(caps...))
	r.grants[pluginID] = granted

	log.Info().
		Str("plugin_id", pluginID).
		Strs("granted", granted.Strings()).
		Msg("Capabilities granted")

	return nil
}

// GrantNames is Grant with capability names, as read from configuration.
func (r *Registry) GrantNames(pluginID string, names ...string) error {
	set, err := ParseAll(names)
	if err != nil {
		return fmt.Errorf("failed to grant capabilities to %s: %w", pluginID, err)
	}
	return r.Grant(pluginID, set.List()...)
}

// Revoke removes caps from the plugin's granted set. It returns false when the
// plugin had none of them.
func (r *Registry) Revoke(pluginID string, caps ...Capability) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.grants[pluginID]
	if !ok {
		return false
	}

	revoke := NewSet(caps...)
	if current&revoke == 0 {
		return false
	}

	remaining := current &^ revoke
	if remaining.IsEmpty() {
		delete(r.grants, pluginID)
	} else {
		r.grants[pluginID] = remaining
	}

	log.Info().
		Str("plugin_id", pluginID).
		Strs("revoked", (current & revoke).Strings()).
		Msg("Capabilities revoked")

	return true
}

// RevokeAll drops every grant for the plugin.
func (r *Registry) RevokeAll(pluginID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.grants[pluginID]; !ok {
		return false
	}
	delete(r.grants, pluginID)

	log.Info().Str("plugin_id", pluginID).Msg("All capabilities revoked")
	return true
}

// Replace swaps the entire grant table in one step.
func (r *Registry) Replace(grants map[string]Set) {
	next := make(map[string]Set, len(grants))
	for id, set := range grants {
		if !set.IsEmpty() {
			next[id] = set
		}
	}

	r.mu.Lock()
	r.grants = next
	r.mu.Unlock()

	log.Info().Int("plugins", len(next)).Msg("Capability grants replaced")
}

// Granted returns the plugin's granted set (empty when unknown).
func (r *Registry) Granted(pluginID string) Set {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.grants[pluginID]
}

// Plugins returns the ids holding at least one grant, sorted.
func (r *Registry) Plugins() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.grants))
	for id := range r.grants {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
