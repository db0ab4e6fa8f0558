package plugin

import (
	"fmt"
	"sort"
	"sync"

	"github.com/harun/warden/pkg/capability"
	"github.com/rs/zerolog"
)

// Catalog holds the manifests loaded from the plugin directories.
type Catalog struct {
	mu        sync.RWMutex
	manifests map[string]*Manifest
	required  map[string]capability.Set
	order     []string

	logger    zerolog.Logger
	loader    *ManifestLoader
	discovery *Discovery
	resolver  *DependencyResolver
}

// NewCatalog creates an empty catalog.
func NewCatalog(logger zerolog.Logger) (*Catalog, error) {
	loader, err := NewManifestLoader(logger)
	if err != nil {
		return nil, err
	}
	return &Catalog{
		manifests: make(map[string]*Manifest),
		required:  make(map[string]capability.Set),
		logger:    logger.With().Str("component", "plugin-catalog").Logger(),
		loader:    loader,
		discovery: NewDiscovery(logger),
		resolver:  NewDependencyResolver(logger),
	}, nil
}

// Load discovers manifests under dirs and replaces the catalog contents.
// Plugins with invalid manifests, unmet dependencies or dependency cycles
// are left out and reported in the result.
func (c *Catalog) Load(dirs []string) (*LoadResult, error) {
	result := &LoadResult{Errors: make(map[string]error)}

	manifests := make(map[string]*Manifest)
	for _, d := range c.discovery.Discover(dirs) {
		m, err := c.loader.LoadManifest(d.ManifestPath)
		if err == nil && m.ID != d.ID {
			err = fmt.Errorf("manifest id %q does not match directory %q", m.ID, d.ID)
		}
		if err != nil {
			result.Failed = append(result.Failed, d.ID)
			result.Errors[d.ID] = err
			c.logger.Error().Err(err).Str("plugin", d.ID).Msg("Failed to load manifest")
			continue
		}
		manifests[m.ID] = m
	}

	// Dropping a plugin can break its dependents, so repeat until stable.
	for {
		graph := c.resolver.BuildGraph(manifests)
		bad := c.resolver.Validate(graph)
		for _, cycle := range c.resolver.DetectCycles(graph) {
			for _, id := range cycle {
				if _, ok := bad[id]; !ok {
					bad[id] = fmt.Errorf("dependency cycle: %v", cycle)
				}
			}
		}
		if len(bad) == 0 {
			break
		}
		for id, err := range bad {
			delete(manifests, id)
			result.Skipped = append(result.Skipped, id)
			result.Errors[id] = err
		}
	}
	sort.Strings(result.Skipped)
	sort.Strings(result.Failed)

	order, err := c.resolver.LoadOrder(c.resolver.BuildGraph(manifests))
	if err != nil {
		return nil, fmt.Errorf("failed to order plugins: %w", err)
	}

	required := make(map[string]capability.Set, len(manifests))
	for _, id := range order {
		caps, err := manifests[id].RequiredCapabilities()
		if err != nil {
			return nil, err
		}
		required[id] = caps
	}
	result.Loaded = order

	c.mu.Lock()
	c.manifests = manifests
	c.required = required
	c.order = order
	c.mu.Unlock()

	c.logger.Info().
		Int("loaded", len(result.Loaded)).
		Int("skipped", len(result.Skipped)).
		Int("failed", len(result.Failed)).
		Msg("Plugin catalog loaded")

	return result, nil
}

// Add registers a single manifest. Its dependencies must already be present.
func (c *Catalog) Add(m *Manifest) error {
	if err := validateManifest(m); err != nil {
		return err
	}
	caps, err := m.RequiredCapabilities()
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.manifests[m.ID]; exists {
		return fmt.Errorf("plugin %s already registered", m.ID)
	}
	for _, dep := range m.Dependencies {
		target, ok := c.manifests[dep.PluginID]
		if !ok {
			return fmt.Errorf("plugin %s: missing dependency: %s", m.ID, dep.PluginID)
		}
		if dep.Version != "" {
			if err := checkVersion(target.Version, dep.Version); err != nil {
				return fmt.Errorf("plugin %s: %w", m.ID, err)
			}
		}
	}

	c.manifests[m.ID] = m
	c.required[m.ID] = caps
	c.order = append(c.order, m.ID)
	return nil
}

// Get returns the manifest for id.
func (c *Catalog) Get(id string) (*Manifest, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.manifests[id]
	return m, ok
}

// List returns all manifests in load order.
func (c *Catalog) List() []*Manifest {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Manifest, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.manifests[id])
	}
	return out
}

// Len returns the number of loaded plugins.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.manifests)
}

// RequiredCapabilities implements gate.PluginRegistry.
func (c *Catalog) RequiredCapabilities(pluginID string) (capability.Set, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	caps, ok := c.required[pluginID]
	return caps, ok
}
