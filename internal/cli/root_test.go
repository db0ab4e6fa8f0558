package cli

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	t.Run("version flag", func(t *testing.T) {
		out, _, err := runCLI(t, "", "--version")
		require.NoError(t, err)

		assert.Contains(t, out, "warden version")
		assert.Contains(t, out, GetVersion())
	})

	t.Run("help flag", func(t *testing.T) {
		out, _, err := runCLI(t, "", "--help")
		require.NoError(t, err)

		assert.Contains(t, out, "Warden")
		assert.Contains(t, out, "danger tier check")
	})

	t.Run("global flags", func(t *testing.T) {
		cmd := GetRootCmd()

		configFlag := cmd.PersistentFlags().Lookup("config")
		require.NotNil(t, configFlag)
		assert.Equal(t, "", configFlag.DefValue)

		logLevelFlag := cmd.PersistentFlags().Lookup("log-level")
		require.NotNil(t, logLevelFlag)
		assert.Equal(t, "", logLevelFlag.DefValue)

		require.NotNil(t, cmd.PersistentFlags().Lookup("json"))
	})

	t.Run("subcommands", func(t *testing.T) {
		names := map[string]bool{}
		for _, c := range GetRootCmd().Commands() {
			names[c.Name()] = true
		}
		for _, want := range []string{"check", "scan", "classify", "plugins", "audit", "config", "serve", "status", "stop"} {
			assert.True(t, names[want], "missing command %s", want)
		}
	})
}

func TestGetVersion(t *testing.T) {
	version := GetVersion()
	assert.NotEmpty(t, version)
	assert.True(t, strings.HasPrefix(version, "0."))
}

func TestIsDenied(t *testing.T) {
	assert.True(t, IsDenied(errDenied))
	assert.True(t, IsDenied(fmt.Errorf("check: %w", errDenied)))
	assert.False(t, IsDenied(errNoAuditStore))
	assert.False(t, IsDenied(nil))
}
