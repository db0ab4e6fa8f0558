package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/harun/warden/internal/config"
	"github.com/harun/warden/pkg/danger"
	"github.com/harun/warden/pkg/plugin"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newPluginsCmd(global *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "plugins",
		Short: "List plugin manifests",
		Long: `Load plugin manifests from the configured directories and show each
plugin's tier, the capabilities it declares and which of them are not granted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlugins(cmd, global)
		},
	}
}

type pluginEntry struct {
	ID       string      `json:"id"`
	Version  string      `json:"version"`
	Tier     danger.Tier `json:"tier"`
	Required []string    `json:"required"`
	Granted  []string    `json:"granted"`
	Missing  []string    `json:"missing"`
}

type pluginListing struct {
	Plugins []pluginEntry     `json:"plugins"`
	Skipped map[string]string `json:"skipped,omitempty"`
}

func runPlugins(cmd *cobra.Command, global *globalOptions) error {
	cfg, err := loadConfig(global.cfgFile)
	if err != nil {
		return err
	}
	lg, err := newLogger(cfg, global.logLevel, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer lg.Close()

	state, err := config.BuildPolicyState(cfg.Policy)
	if err != nil {
		return err
	}
	classifier := danger.NewClassifier()
	if err := classifier.ReplaceOverrides(state.Overrides); err != nil {
		return err
	}

	catalog, err := plugin.NewCatalog(log.Logger)
	if err != nil {
		return err
	}
	res, err := catalog.Load(cfg.Plugins.Dirs)
	if err != nil {
		return err
	}

	listing := pluginListing{Plugins: make([]pluginEntry, 0, catalog.Len())}
	for _, m := range catalog.List() {
		required, _ := catalog.RequiredCapabilities(m.ID)
		granted := state.Grants[m.ID]
		listing.Plugins = append(listing.Plugins, pluginEntry{
			ID:       m.ID,
			Version:  m.Version,
			Tier:     classifier.Classify(m.ID).Tier,
			Required: required.Strings(),
			Granted:  granted.Strings(),
			Missing:  granted.Missing(required).Strings(),
		})
	}
	if len(res.Errors) > 0 {
		listing.Skipped = make(map[string]string, len(res.Errors))
		for id, e := range res.Errors {
			listing.Skipped[id] = e.Error()
		}
	}

	out := cmd.OutOrStdout()
	if global.jsonOut {
		return printJSON(out, listing)
	}

	if len(listing.Plugins) == 0 {
		fmt.Fprintf(out, "No plugins found in %s\n", strings.Join(cfg.Plugins.Dirs, ", "))
	}
	for _, p := range listing.Plugins {
		fmt.Fprintf(out, "%-24s %-8s %s\n", p.ID, p.Version, p.Tier)
		fmt.Fprintf(out, "  requires: %s\n", joinOrNone(p.Required))
		if len(p.Missing) > 0 {
			fmt.Fprintf(out, "  missing:  %s\n", strings.Join(p.Missing, ", "))
		}
	}

	if len(listing.Skipped) > 0 {
		ids := make([]string, 0, len(listing.Skipped))
		for id := range listing.Skipped {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		fmt.Fprintln(out, "Skipped:")
		for _, id := range ids {
			fmt.Fprintf(out, "  %s: %s\n", id, listing.Skipped[id])
		}
	}
	return nil
}

func joinOrNone(names []string) string {
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, ", ")
}
