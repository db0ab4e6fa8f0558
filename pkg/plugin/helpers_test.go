package plugin

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

// writePlugin creates dir/<id>/plugin.json from m.
func writePlugin(t *testing.T, dir string, m Manifest) {
	t.Helper()
	data, err := json.Marshal(m)
	require.NoError(t, err)
	writeRawPlugin(t, dir, m.ID, string(data))
}

func writeRawPlugin(t *testing.T, dir, name, content string) {
	t.Helper()
	pluginDir := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(pluginDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(pluginDir, ManifestFile), []byte(content), 0644))
}

func manifest(id, version string, caps []string, deps ...Dependency) Manifest {
	return Manifest{ID: id, Name: id, Version: version, Capabilities: caps, Dependencies: deps}
}
