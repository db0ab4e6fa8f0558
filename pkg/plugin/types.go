// Package plugin reads plugin manifests from disk. A manifest declares the
// capabilities a plugin needs; the Catalog serves those declarations to the
// authorization gate, which checks them against the operator's grants.
package plugin

// ManifestFile is the manifest name expected in every plugin directory.
const ManifestFile = "plugin.json"

// Manifest is the plugin.json file structure.
type Manifest struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Version      string       `json:"version"`
	Description  string       `json:"description,omitempty"`
	Author       string       `json:"author,omitempty"`
	Capabilities []string     `json:"capabilities,omitempty"`
	Tools        []string     `json:"tools,omitempty"`
	Dependencies []Dependency `json:"dependencies,omitempty"`
}

// Dependency is a requirement on another plugin, optionally constrained
// by a semver range such as "^1.2.0".
type Dependency struct {
	PluginID string `json:"pluginId"`
	Version  string `json:"version,omitempty"`
}

// Discovered is a plugin directory holding a manifest.
type Discovered struct {
	ID           string
	Path         string
	ManifestPath string
}

// LoadResult reports what a Catalog load did with each discovered plugin.
type LoadResult struct {
	Loaded  []string         // in dependency order
	Skipped []string         // unmet or cyclic dependencies
	Failed  []string         // unreadable or invalid manifests
	Errors  map[string]error // by plugin id
}

// DependencyGraph maps every plugin to the plugins it depends on.
type DependencyGraph struct {
	Nodes map[string]*Manifest
	Edges map[string][]string
}
