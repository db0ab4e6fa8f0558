package cli

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/harun/warden/internal/config"
	"github.com/harun/warden/internal/logger"
	"github.com/harun/warden/internal/metrics"
	"github.com/harun/warden/internal/observability"
	"github.com/harun/warden/pkg/contentscan"
	"github.com/harun/warden/pkg/danger"
	"github.com/harun/warden/pkg/gate"
	"github.com/harun/warden/pkg/plugin"
	"github.com/harun/warden/pkg/policy"
	"github.com/harun/warden/pkg/toolexecutor"
	"github.com/rs/zerolog/log"
)

// streams are the terminal endpoints a runtime talks to.
type streams struct {
	in     io.Reader
	errOut io.Writer
}

// runtime is the fully wired engine behind every command.
type runtime struct {
	cfg        *config.Config
	log        *logger.Logger
	classifier *danger.Classifier
	scanner    *contentscan.Scanner
	engine     *policy.Engine
	gate       *gate.Gate
	executor   *toolexecutor.ToolExecutor
	plugins    *plugin.Catalog
	metrics    *metrics.Metrics
	store      *observability.SQLiteStore

	closers []io.Closer
}

// newLogger installs the global logger from the logging section.
// logLevel overrides cfg.Logging.Level when set.
func newLogger(cfg *config.Config, logLevel string, errOut io.Writer) (*logger.Logger, error) {
	level := cfg.Logging.Level
	if logLevel != "" {
		level = logLevel
	}

	lg, err := logger.New(logger.Config{
		Level:     level,
		File:      cfg.Logging.File,
		Console:   true,
		Pretty:    cfg.Logging.Pretty,
		Redaction: cfg.Logging.Redaction,
		MaxSize:   cfg.Logging.MaxSize,
		MaxAge:    cfg.Logging.MaxAge,
		Compress:  cfg.Logging.Compress,
		Out:       errOut,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return lg, nil
}

// newRuntime builds logging, the three evaluators, audit sinks, the gate and
// the tool executor from cfg.
func newRuntime(cfg *config.Config, logLevel string, s streams) (*runtime, error) {
	lg, err := newLogger(cfg, logLevel, s.errOut)
	if err != nil {
		return nil, err
	}

	rt := &runtime{cfg: cfg, log: lg}
	rt.closers = append(rt.closers, lg)

	if err := rt.build(s); err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

func (rt *runtime) build(s streams) error {
	cfg := rt.cfg

	scanOpts, err := config.ScannerOptions(cfg.Scanner)
	if err != nil {
		return fmt.Errorf("invalid scanner configuration: %w", err)
	}

	rt.classifier = danger.NewClassifier()
	rt.scanner = contentscan.New(scanOpts...)
	rt.engine = policy.NewEngine(nil, nil)
	rt.metrics = metrics.NewMetrics()
	if rt.plugins, err = plugin.NewCatalog(log.Logger); err != nil {
		return err
	}

	if err := rt.Reload(cfg); err != nil {
		return err
	}

	// file and database writes run off the decision path
	var persistent gate.MultiSink
	if cfg.Audit.Enabled {
		if cfg.Audit.Path != "" {
			audit, err := observability.OpenAuditLog(cfg.Audit.Path, cfg.Logging.MaxSize, cfg.Audit.RetentionDays)
			if err != nil {
				return err
			}
			rt.closers = append(rt.closers, audit)
			persistent = append(persistent, audit)
		}
		if cfg.Audit.SQLitePath != "" {
			store, err := observability.OpenSQLiteStore(cfg.Audit.SQLitePath)
			if err != nil {
				return err
			}
			rt.store = store
			rt.closers = append(rt.closers, store)
			persistent = append(persistent, store)
		}
	}

	sinks := gate.MultiSink{rt.metrics}
	if len(persistent) > 0 {
		async := observability.NewAsyncSink(persistent, cfg.Audit.QueueSize)
		// closed before the sinks it feeds
		rt.closers = append(rt.closers, async)
		sinks = append(sinks, async)
		if err := rt.metrics.TrackAuditDrops(async.Dropped); err != nil {
			return err
		}
	}

	rt.executor = toolexecutor.New()
	rt.gate = gate.New(rt.classifier, rt.scanner, rt.engine,
		gate.WithPluginRegistry(gate.ChainRegistry{rt.executor, rt.plugins}),
		gate.WithAuditSink(sinks),
	)
	rt.executor.SetGate(rt.gate)
	rt.executor.SetObserver(rt.metrics)

	handler, err := approvalHandler(cfg.Approval.Mode, s)
	if err != nil {
		return err
	}
	approvals := toolexecutor.NewApprovalManager(handler)
	if cfg.Approval.TimeoutSeconds > 0 {
		approvals.SetDefaultTimeout(time.Duration(cfg.Approval.TimeoutSeconds) * time.Second)
	}
	rt.executor.SetApprovalManager(approvals)

	return nil
}

// Reload applies the policy section of cfg and rereads plugin manifests.
// Scanner settings are fixed at startup.
func (rt *runtime) Reload(cfg *config.Config) error {
	err := config.Apply(cfg, rt.engine, rt.classifier)
	rt.metrics.ObserveReload(rt.engine.Store().Len(), err)
	if err != nil {
		return err
	}

	if _, err := rt.plugins.Load(cfg.Plugins.Dirs); err != nil {
		return fmt.Errorf("failed to load plugins: %w", err)
	}
	return nil
}

// Close releases sinks and log files in reverse order of creation.
func (rt *runtime) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}

func approvalHandler(mode string, s streams) (toolexecutor.ApprovalHandler, error) {
	switch mode {
	case "", "deny":
		return toolexecutor.DenyAllHandler{}, nil
	case "auto":
		log.Warn().Msg("Auto-approval enabled, approval_required tools run without confirmation")
		return toolexecutor.AutoApproveHandler{}, nil
	case "prompt":
		return toolexecutor.NewCLIApprovalHandler(s.in, s.errOut), nil
	default:
		return nil, fmt.Errorf("invalid approval mode: %q", mode)
	}
}

// loadConfig reads the config file and fails on any validation problem.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
