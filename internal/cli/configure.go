package cli

import (
	"fmt"

	"github.com/harun/warden/internal/config"
	"github.com/spf13/cobra"
)

func newConfigCmd(global *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			loader := config.NewLoader(global.cfgFile)
			path := loader.GetConfigPath()

			if !force && fileExists(path) {
				return fmt.Errorf("config file already exists: %s (use --force to overwrite)", path)
			}

			if err := loader.Save(config.DefaultConfig()); err != nil {
				return fmt.Errorf("failed to save configuration: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Configuration saved to: %s\n", path)
			fmt.Fprintln(cmd.OutOrStdout(), "You can now start Warden with: warden serve")
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(global.cfgFile)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Configuration is valid (%d rules, %d overrides, %d grants)\n",
				len(cfg.Policy.Rules), len(cfg.Policy.Overrides), len(cfg.Policy.Grants))
			return nil
		},
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(global.cfgFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), cfg.String())
			return nil
		},
	}

	cmd.AddCommand(initCmd, validateCmd, showCmd)
	return cmd
}
