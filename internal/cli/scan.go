package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/harun/warden/internal/config"
	"github.com/harun/warden/pkg/contentscan"
	"github.com/spf13/cobra"
)

func newScanCmd(global *globalOptions) *cobra.Command {
	var plugin string

	cmd := &cobra.Command{
		Use:   "scan [payload...]",
		Short: "Scan a payload for content risk",
		Long: `Scan a raw payload with the content risk scanner and list every finding.
The payload is taken from the arguments, or from stdin when none are given.
Exits non-zero when the payload is critical.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			payload := strings.Join(args, " ")
			if len(args) == 0 {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("failed to read payload: %w", err)
				}
				payload = string(data)
			}
			return runScan(cmd, global, plugin, payload)
		},
	}

	cmd.Flags().StringVarP(&plugin, "plugin", "p", "", "plugin id the payload is addressed to")

	return cmd
}

func runScan(cmd *cobra.Command, global *globalOptions, plugin, payload string) error {
	cfg, err := loadConfig(global.cfgFile)
	if err != nil {
		return err
	}
	lg, err := newLogger(cfg, global.logLevel, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer lg.Close()

	opts, err := config.ScannerOptions(cfg.Scanner)
	if err != nil {
		return err
	}
	res := contentscan.New(opts...).Scan(plugin, payload)

	out := cmd.OutOrStdout()
	if global.jsonOut {
		if err := printJSON(out, res); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(out, "Risk level: %s\n", res.RiskLevel)
		fmt.Fprintf(out, "Allowed:    %t\n", res.Allowed)
		printFindings(out, res.Findings)
	}

	if !res.Allowed {
		return errDenied
	}
	return nil
}
