package config

import (
	"fmt"
	"net"
	"strings"

	"github.com/harun/warden/pkg/capability"
	"github.com/harun/warden/pkg/contentscan"
	"github.com/harun/warden/pkg/danger"
	"github.com/harun/warden/pkg/policy"
	"github.com/robfig/cron/v3"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	switch level {
	case "", "trace", "debug", "info", "warn", "error":
		return nil
	}
	return fmt.Errorf("invalid log level: %s (must be one of: trace, debug, info, warn, error)", level)
}

// ValidateRule validates one policy rule entry.
func (v *Validator) ValidateRule(r RuleConfig) error {
	if _, err := policy.ParseLayer(r.Layer); err != nil {
		return err
	}
	if _, err := policy.ParseAction(r.Action); err != nil {
		return err
	}
	if strings.TrimSpace(r.Subject) == "" {
		return fmt.Errorf("rule subject cannot be empty")
	}
	return nil
}

// ValidateSchedule validates a cron expression or descriptor.
func (v *Validator) ValidateSchedule(spec string) error {
	if _, err := cronParser.Parse(spec); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return nil
}

// ValidateApprovalMode validates the escalation mode.
func (v *Validator) ValidateApprovalMode(mode string) error {
	switch mode {
	case "", "deny", "prompt", "auto":
		return nil
	}
	return fmt.Errorf("invalid approval mode: %s (must be one of: deny, prompt, auto)", mode)
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errs []error

	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errs = append(errs, err)
	}

	for i, r := range cfg.Policy.Rules {
		if err := v.ValidateRule(r); err != nil {
			errs = append(errs, fmt.Errorf("policy.rules[%d]: %w", i, err))
		}
	}
	for _, id := range cfg.Policy.DeniedPlugins {
		if strings.TrimSpace(id) == "" {
			errs = append(errs, fmt.Errorf("policy.denied_plugins: plugin id cannot be empty"))
		}
	}
	for id, tier := range cfg.Policy.Overrides {
		if _, err := danger.ParseTier(tier); err != nil {
			errs = append(errs, fmt.Errorf("policy.overrides[%s]: %w", id, err))
		}
	}
	for id, names := range cfg.Policy.Grants {
		if _, err := capability.ParseAll(names); err != nil {
			errs = append(errs, fmt.Errorf("policy.grants[%s]: %w", id, err))
		}
	}

	if cfg.Scanner.BlockedPhraseSeverity != "" {
		if _, err := contentscan.ParseRiskLevel(cfg.Scanner.BlockedPhraseSeverity); err != nil {
			errs = append(errs, fmt.Errorf("scanner.blocked_phrase_severity: %w", err))
		}
	}

	if cfg.Audit.RetentionDays < 0 {
		errs = append(errs, fmt.Errorf("audit.retention_days must be >= 0"))
	}
	if cfg.Audit.QueueSize < 0 {
		errs = append(errs, fmt.Errorf("audit.queue_size must be >= 0"))
	}
	if cfg.Audit.SQLitePath != "" && cfg.Audit.RetentionDays > 0 {
		if err := v.ValidateSchedule(cfg.Audit.PruneSchedule); err != nil {
			errs = append(errs, fmt.Errorf("audit.prune_schedule: %w", err))
		}
	}

	if cfg.Metrics.Enabled {
		if _, _, err := net.SplitHostPort(cfg.Metrics.Addr); err != nil {
			errs = append(errs, fmt.Errorf("metrics.addr: %w", err))
		}
	}

	if err := v.ValidateApprovalMode(cfg.Approval.Mode); err != nil {
		errs = append(errs, err)
	}
	if cfg.Approval.TimeoutSeconds < 0 {
		errs = append(errs, fmt.Errorf("approval.timeout_seconds must be >= 0"))
	}

	for i, dir := range cfg.Plugins.Dirs {
		if strings.TrimSpace(dir) == "" {
			errs = append(errs, fmt.Errorf("plugins.dirs[%d]: directory cannot be empty", i))
		}
	}

	return errs
}
