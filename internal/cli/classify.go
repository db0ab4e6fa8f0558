package cli

import (
	"fmt"
	"strings"

	"github.com/harun/warden/internal/config"
	"github.com/harun/warden/pkg/danger"
	"github.com/spf13/cobra"
)

func newClassifyCmd(global *globalOptions) *cobra.Command {
	var tierName string

	cmd := &cobra.Command{
		Use:   "classify [plugin...]",
		Short: "Show danger tiers",
		Long: `Show the effective danger tier of the given plugins. Without arguments,
print a summary of every known plugin grouped by tier. Configured overrides
are applied.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClassify(cmd, global, tierName, args)
		},
	}

	cmd.Flags().StringVar(&tierName, "tier", "", "only list plugins of this tier")

	return cmd
}

type tierListing struct {
	Summary danger.Summary           `json:"summary"`
	Tiers   map[danger.Tier][]string `json:"tiers"`
}

func runClassify(cmd *cobra.Command, global *globalOptions, tierName string, plugins []string) error {
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

	out := cmd.OutOrStdout()

	if len(plugins) > 0 {
		results := make([]danger.Classification, 0, len(plugins))
		for _, id := range plugins {
			results = append(results, classifier.Classify(id))
		}
		if global.jsonOut {
			return printJSON(out, results)
		}
		for i, c := range results {
			suffix := ""
			if c.Overridden {
				suffix = " (override)"
			}
			fmt.Fprintf(out, "%-24s %s%s\n", plugins[i], c.Tier, suffix)
		}
		return nil
	}

	tiers := danger.AllTiers()
	if tierName != "" {
		t, err := danger.ParseTier(tierName)
		if err != nil {
			return err
		}
		tiers = []danger.Tier{t}
	}

	listing := tierListing{Summary: classifier.Summary(), Tiers: make(map[danger.Tier][]string, len(tiers))}
	for _, t := range tiers {
		listing.Tiers[t] = classifier.ListByTier(t)
	}

	if global.jsonOut {
		return printJSON(out, listing)
	}

	for _, t := range tiers {
		ids := listing.Tiers[t]
		fmt.Fprintf(out, "%s (%d)\n", t, len(ids))
		if len(ids) > 0 {
			fmt.Fprintf(out, "  %s\n", strings.Join(ids, ", "))
		}
	}
	fmt.Fprintf(out, "Overrides: %d\n", listing.Summary.Overrides)
	return nil
}
