package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/harun/warden/internal/config"
	"github.com/spf13/cobra"
)

func newStatusCmd(global *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show service status",
		Long:  `Show whether "warden serve" is running and for how long.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(global.cfgFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			return runStatus(cmd, getPIDFilePath(cfg.DataDir))
		},
	}
}

func runStatus(cmd *cobra.Command, pidFile string) error {
	out := cmd.OutOrStdout()

	if !isRunning(pidFile) {
		fmt.Fprintln(out, "Status: stopped")
		return nil
	}

	pid, err := readPID(pidFile)
	if err != nil {
		return err
	}

	fmt.Fprintln(out, "Status: running")
	fmt.Fprintf(out, "PID: %d\n", pid)

	// PID file modification time is the start time
	if info, err := os.Stat(pidFile); err == nil {
		fmt.Fprintf(out, "Uptime: %s\n", formatDuration(time.Since(info.ModTime())))
	}

	return nil
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%dm%ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
