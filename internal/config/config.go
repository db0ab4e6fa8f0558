package config

import (
	"encoding/json"
	"errors"
)

// Config is the warden configuration file.
type Config struct {
	DataDir  string         `json:"data_dir" mapstructure:"data_dir"`
	Logging  LoggingConfig  `json:"logging" mapstructure:"logging"`
	Audit    AuditConfig    `json:"audit" mapstructure:"audit"`
	Metrics  MetricsConfig  `json:"metrics" mapstructure:"metrics"`
	Policy   PolicyConfig   `json:"policy" mapstructure:"policy"`
	Scanner  ScannerConfig  `json:"scanner" mapstructure:"scanner"`
	Approval ApprovalConfig `json:"approval" mapstructure:"approval"`
	Plugins  PluginsConfig  `json:"plugins" mapstructure:"plugins"`

	// Watch reloads policy, overrides and grants when the file changes.
	Watch bool `json:"watch" mapstructure:"watch"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// AuditConfig controls where authorization decisions are recorded.
type AuditConfig struct {
	Enabled       bool   `json:"enabled" mapstructure:"enabled"`
	Path          string `json:"path" mapstructure:"path"`               // JSON lines
	SQLitePath    string `json:"sqlite_path" mapstructure:"sqlite_path"` // queryable store
	RetentionDays int    `json:"retention_days" mapstructure:"retention_days"`
	PruneSchedule string `json:"prune_schedule" mapstructure:"prune_schedule"` // cron spec
	// QueueSize bounds records waiting to be written; 0 uses the default.
	QueueSize int `json:"queue_size" mapstructure:"queue_size"`
}

// MetricsConfig holds the Prometheus endpoint settings
type MetricsConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Addr    string `json:"addr" mapstructure:"addr"`
	Path    string `json:"path" mapstructure:"path"`
}

// PolicyConfig is the administrative state loaded into the engine.
type PolicyConfig struct {
	Rules []RuleConfig `json:"rules" mapstructure:"rules"`
	// Overrides maps plugin id to tier name.
	Overrides map[string]string `json:"overrides" mapstructure:"overrides"`
	// Grants maps plugin id to capability names.
	Grants map[string][]string `json:"grants" mapstructure:"grants"`
	// DeniedPlugins become Global deny rules.
	DeniedPlugins []string `json:"denied_plugins" mapstructure:"denied_plugins"`
}

// RuleConfig is one policy rule as written in the file.
type RuleConfig struct {
	Layer   string `json:"layer" mapstructure:"layer"`
	Subject string `json:"subject" mapstructure:"subject"`
	Action  string `json:"action" mapstructure:"action"`
	Reason  string `json:"reason" mapstructure:"reason"`
}

// ScannerConfig tunes the content scanner.
type ScannerConfig struct {
	// BlockedPhrases replaces the default phrase list when non-nil. An
	// explicit empty list disables the blocked_phrase category.
	BlockedPhrases        []string `json:"blocked_phrases" mapstructure:"blocked_phrases"`
	BlockedPhraseSeverity string   `json:"blocked_phrase_severity" mapstructure:"blocked_phrase_severity"`
}

// ApprovalConfig selects how ApprovalRequired tools are escalated.
type ApprovalConfig struct {
	Mode           string `json:"mode" mapstructure:"mode"` // deny, prompt, auto
	TimeoutSeconds int    `json:"timeout_seconds" mapstructure:"timeout_seconds"`
}

// PluginsConfig lists the directories scanned for plugin manifests.
// Earlier directories win when two hold the same plugin id.
type PluginsConfig struct {
	Dirs []string `json:"dirs" mapstructure:"dirs"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:     "info",
			Pretty:    true,
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
		},
		Audit: AuditConfig{
			Enabled:       true,
			RetentionDays: 30,
			PruneSchedule: "@daily",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9464",
			Path:    "/metrics",
		},
		Policy: PolicyConfig{
			Rules:     []RuleConfig{},
			Overrides: map[string]string{},
			Grants:    map[string][]string{},
		},
		Scanner: ScannerConfig{
			BlockedPhraseSeverity: "high",
		},
		Approval: ApprovalConfig{
			Mode:           "deny",
			TimeoutSeconds: 60,
		},
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate runs the Validator and joins every problem into one error.
func (c *Config) Validate() error {
	return errors.Join(NewValidator().ValidateConfig(c)...)
}
