package cli

import (
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/harun/warden/internal/config"
	"github.com/spf13/cobra"
)

func newStopCmd(global *globalOptions) *cobra.Command {
	var timeout int

	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the Warden service",
		Long: `Stop "warden serve" gracefully.
Sends SIGTERM and waits for the process to exit, then SIGKILL on timeout.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(global.cfgFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			return runStop(cmd, getPIDFilePath(cfg.DataDir), time.Duration(timeout)*time.Second)
		},
	}

	cmd.Flags().IntVar(&timeout, "timeout", 30, "timeout in seconds to wait for the service to stop")

	return cmd
}

func runStop(cmd *cobra.Command, pidFile string, timeout time.Duration) error {
	out := cmd.OutOrStdout()

	if !isRunning(pidFile) {
		os.Remove(pidFile)
		return fmt.Errorf("warden is not running")
	}

	pid, err := readPID(pidFile)
	if err != nil {
		return err
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("failed to find process: %w", err)
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to send SIGTERM: %w", err)
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !isRunning(pidFile) {
			fmt.Fprintln(out, "Warden stopped")
			os.Remove(pidFile)
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	fmt.Fprintln(out, "Timeout reached, sending SIGKILL...")
	if err := process.Signal(syscall.SIGKILL); err != nil {
		return fmt.Errorf("failed to send SIGKILL: %w", err)
	}

	os.Remove(pidFile)
	fmt.Fprintln(out, "Warden killed")
	return nil
}
