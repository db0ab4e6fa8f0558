package cli

import (
	"errors"

	"github.com/spf13/cobra"
)

const version = "0.1.0"

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	cfgFile  string
	logLevel string
	jsonOut  bool
}

var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	cmd := &cobra.Command{
		Use:   "warden",
		Short: "Warden - tool authorization and risk governance",
		Long: `Warden decides whether an agent may invoke a plugin tool.
Every invocation passes a danger tier check, a content risk scan of its
payload, a layered policy pipeline and a capability check.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags
	cmd.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "config file (default is $HOME/.warden/warden.json)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level override (debug, info, warn, error)")
	cmd.PersistentFlags().BoolVar(&opts.jsonOut, "json", false, "print results as JSON")

	// Version template
	cmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s" .Version}}
`)

	cmd.AddCommand(
		newCheckCmd(opts),
		newScanCmd(opts),
		newClassifyCmd(opts),
		newPluginsCmd(opts),
		newAuditCmd(opts),
		newConfigCmd(opts),
		newServeCmd(opts),
		newStatusCmd(opts),
		newStopCmd(opts),
	)

	return cmd
}

// Execute runs the root command. It is called by main.main().
func Execute() error {
	return rootCmd.Execute()
}

// GetRootCmd returns the root command for testing
func GetRootCmd() *cobra.Command {
	return rootCmd
}

// GetVersion returns the current version
func GetVersion() string {
	return version
}

// IsDenied reports whether err is the result of a denied check or scan.
func IsDenied(err error) bool {
	return errors.Is(err, errDenied)
}
