package plugin

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/harun/warden/pkg/capability"
	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"
)

// ManifestLoader loads and validates plugin manifests
type ManifestLoader struct {
	logger zerolog.Logger
	schema *gojsonschema.Schema
}

// NewManifestLoader creates a new manifest loader
func NewManifestLoader(logger zerolog.Logger) (*ManifestLoader, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(manifestSchema()))
	if err != nil {
		return nil, fmt.Errorf("failed to compile manifest schema: %w", err)
	}
	return &ManifestLoader{
		logger: logger.With().Str("component", "manifest-loader").Logger(),
		schema: schema,
	}, nil
}

// LoadManifest loads and validates a plugin manifest from a file
func (m *ManifestLoader) LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest file: %w", err)
	}

	manifest, err := m.ParseManifest(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	m.logger.Debug().
		Str("id", manifest.ID).
		Str("version", manifest.Version).
		Strs("capabilities", manifest.Capabilities).
		Msg("Loaded manifest")

	return manifest, nil
}

// ParseManifest decodes and validates manifest JSON.
func (m *ManifestLoader) ParseManifest(data []byte) (*Manifest, error) {
	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse manifest JSON: %w", err)
	}

	if err := m.validateSchema(data); err != nil {
		return nil, fmt.Errorf("manifest schema validation failed: %w", err)
	}

	if err := validateManifest(&manifest); err != nil {
		return nil, fmt.Errorf("manifest validation failed: %w", err)
	}

	return &manifest, nil
}

func (m *ManifestLoader) validateSchema(data []byte) error {
	result, err := m.schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}

	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("schema validation errors: %s", strings.Join(msgs, "; "))
	}

	return nil
}

// validateManifest checks what the schema cannot express.
func validateManifest(manifest *Manifest) error {
	if _, err := semver.StrictNewVersion(manifest.Version); err != nil {
		return fmt.Errorf("invalid version %q (must be semver X.Y.Z): %w", manifest.Version, err)
	}

	if _, err := manifest.RequiredCapabilities(); err != nil {
		return err
	}

	for i, dep := range manifest.Dependencies {
		if dep.PluginID == manifest.ID {
			return fmt.Errorf("dependency %d: plugin cannot depend on itself", i)
		}
		if dep.Version != "" {
			if _, err := semver.NewConstraint(dep.Version); err != nil {
				return fmt.Errorf("dependency %d: invalid version constraint %q: %w", i, dep.Version, err)
			}
		}
	}

	return nil
}

// RequiredCapabilities parses the declared capability names.
func (m *Manifest) RequiredCapabilities() (capability.Set, error) {
	set, err := capability.ParseAll(m.Capabilities)
	if err != nil {
		return 0, fmt.Errorf("plugin %s: %w", m.ID, err)
	}
	return set, nil
}
