package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyCommand(t *testing.T) {
	cfg := writeConfig(t, `"policy": {"overrides": {"notes": "owner_only", "my_plugin": "blocked"}}`)

	t.Run("named plugins", func(t *testing.T) {
		out, _, err := runCLI(t, "", "classify", "--config", cfg, "calculator", "notes", "unknown_tool")
		require.NoError(t, err)
		assert.Regexp(t, `calculator\s+safe\n`, out)
		assert.Regexp(t, `notes\s+owner_only \(override\)`, out)
		assert.Regexp(t, `unknown_tool\s+safe\n`, out)
	})

	t.Run("summary", func(t *testing.T) {
		out, _, err := runCLI(t, "", "classify", "--config", cfg)
		require.NoError(t, err)
		assert.Contains(t, out, "blocked (1)\n  my_plugin")
		assert.Contains(t, out, "Overrides: 2")
	})

	t.Run("single tier as JSON", func(t *testing.T) {
		out, _, err := runCLI(t, "", "classify", "--config", cfg, "--json", "--tier", "approval-required")
		require.NoError(t, err)

		var listing struct {
			Summary struct {
				Counts    map[string]int `json:"counts"`
				Overrides int            `json:"overrides"`
			} `json:"summary"`
			Tiers map[string][]string `json:"tiers"`
		}
		require.NoError(t, json.Unmarshal([]byte(out), &listing))
		assert.Equal(t, []string{"guidance_router", "task_automation", "web_search"}, listing.Tiers["approval_required"])
		assert.Len(t, listing.Tiers, 1)
		assert.Equal(t, 1, listing.Summary.Counts["blocked"])
	})

	t.Run("unknown tier", func(t *testing.T) {
		_, _, err := runCLI(t, "", "classify", "--config", cfg, "--tier", "sometimes")
		assert.Error(t, err)
	})
}
