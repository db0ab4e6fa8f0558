package plugin

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// Discovery scans directories for plugin manifests.
type Discovery struct {
	logger zerolog.Logger
}

// NewDiscovery creates a new discovery instance
func NewDiscovery(logger zerolog.Logger) *Discovery {
	return &Discovery{
		logger: logger.With().Str("component", "plugin-discovery").Logger(),
	}
}

// Discover scans dirs in order. Missing directories are skipped; a plugin
// id seen in an earlier directory shadows later ones.
func (d *Discovery) Discover(dirs []string) []Discovered {
	var discovered []Discovered
	seen := make(map[string]string)

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		plugins, err := d.scanDirectory(dir)
		if err != nil {
			d.logger.Warn().Err(err).Str("dir", dir).Msg("Failed to scan plugin directory")
			continue
		}
		for _, p := range plugins {
			if first, ok := seen[p.ID]; ok {
				d.logger.Warn().
					Str("id", p.ID).
					Str("path", p.Path).
					Str("shadowed_by", first).
					Msg("Duplicate plugin id, skipping")
				continue
			}
			seen[p.ID] = p.Path
			discovered = append(discovered, p)
		}
	}

	d.logger.Info().Int("count", len(discovered)).Msg("Plugin discovery completed")
	return discovered
}

// scanDirectory lists the subdirectories of dir that hold a manifest.
func (d *Discovery) scanDirectory(dir string) ([]Discovered, error) {
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			d.logger.Debug().Str("dir", dir).Msg("Directory does not exist, skipping")
			return nil, nil
		}
		return nil, fmt.Errorf("failed to stat directory %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", dir, err)
	}

	var discovered []Discovered
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		pluginDir := filepath.Join(dir, entry.Name())
		manifestPath := filepath.Join(pluginDir, ManifestFile)

		if _, err := os.Stat(manifestPath); err != nil {
			if !os.IsNotExist(err) {
				d.logger.Warn().Err(err).Str("dir", pluginDir).Msg("Failed to check for manifest")
			}
			continue
		}

		discovered = append(discovered, Discovered{
			ID:           entry.Name(),
			Path:         pluginDir,
			ManifestPath: manifestPath,
		})
	}

	return discovered, nil
}
