package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/harun/warden/internal/config"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 5 * time.Second

type serveOptions struct {
	metricsAddr string
	watch       bool
}

func newServeCmd(global *globalOptions) *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the Warden service",
		Long: `Run Warden in the foreground. The service exposes Prometheus metrics,
reloads policy when the config file changes and prunes the audit store on
its retention schedule. Stop it with Ctrl+C or "warden stop".`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cmd, global, opts)
		},
	}

	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "serve metrics on this address (enables metrics)")
	cmd.Flags().BoolVar(&opts.watch, "watch", false, "reload policy when the config file changes")

	return cmd
}

func runServe(ctx context.Context, cmd *cobra.Command, global *globalOptions, opts *serveOptions) error {
	cfg, err := loadConfig(global.cfgFile)
	if err != nil {
		return err
	}
	if opts.metricsAddr != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Addr = opts.metricsAddr
	}
	if opts.watch {
		cfg.Watch = true
	}

	pidFile := getPIDFilePath(cfg.DataDir)
	if isRunning(pidFile) {
		return fmt.Errorf("warden is already running (PID file: %s)", pidFile)
	}

	rt, err := newRuntime(cfg, global.logLevel, streams{in: cmd.InOrStdin(), errOut: cmd.ErrOrStderr()})
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := writePIDFile(pidFile); err != nil {
		return err
	}
	defer os.Remove(pidFile)

	if rt.store != nil && cfg.Audit.RetentionDays > 0 {
		if err := rt.store.StartRetention(cfg.Audit.PruneSchedule, cfg.Audit.RetentionDays); err != nil {
			return err
		}
	}

	if cfg.Watch {
		path := config.NewLoader(global.cfgFile).GetConfigPath()
		watcher, err := config.NewWatcher(path, 0, rt.Reload)
		if err != nil {
			return err
		}
		if err := watcher.Start(); err != nil {
			return err
		}
		defer watcher.Stop()
		log.Info().Str("path", path).Msg("Watching config for policy changes")
	}

	errCh := make(chan error, 1)
	var srv *http.Server
	if cfg.Metrics.Enabled {
		srv, err = startMetricsServer(cfg.Metrics.Addr, cfg.Metrics.Path, rt, errCh)
		if err != nil {
			return err
		}
	}

	log.Info().
		Int("pid", os.Getpid()).
		Bool("metrics", cfg.Metrics.Enabled).
		Bool("watch", cfg.Watch).
		Msg("Warden started")

	select {
	case <-ctx.Done():
	case err = <-errCh:
		log.Error().Err(err).Msg("Metrics server failed")
	}

	log.Info().Msg("Shutting down")
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if serr := srv.Shutdown(shutdownCtx); serr != nil {
			log.Warn().Err(serr).Msg("Metrics server shutdown failed")
		}
	}

	return err
}

func startMetricsServer(addr, path string, rt *runtime, errCh chan<- error) (*http.Server, error) {
	if path == "" {
		path = "/metrics"
	}

	mux := http.NewServeMux()
	mux.Handle(path, rt.metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	srv := &http.Server{
		Addr:              ln.Addr().String(),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	log.Info().Str("addr", srv.Addr).Str("path", path).Msg("Metrics endpoint listening")
	return srv, nil
}
