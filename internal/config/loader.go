package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	envPrefix      = "WARDEN"
	dataDirName    = ".warden"
	configFileName = "warden.json"
)

// Loader handles configuration loading
type Loader struct {
	configPath string
}

// NewLoader creates a loader; an empty path means ~/.warden/warden.json.
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
	}
}

// Load reads the config file, overlays WARDEN_* environment variables and
// fills in derived paths. A missing file yields the defaults.
func (l *Loader) Load() (*Config, error) {
	configPath, err := l.path()
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); err == nil {
		v := l.viper(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := v.Unmarshal(cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}

	if err := fillPaths(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save writes cfg to the loader's path, creating the directory.
func (l *Loader) Save(cfg *Config) error {
	configPath, err := l.path()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// round-trip through the json tags so YAML output uses the same keys
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	var sections map[string]any
	if err := json.Unmarshal(data, &sections); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	v := l.viper(configPath)
	for key, value := range sections {
		v.Set(key, value)
	}

	if err := v.WriteConfigAs(configPath); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// GetConfigPath returns the config file path
func (l *Loader) GetConfigPath() string {
	p, err := l.path()
	if err != nil {
		return ""
	}
	return p
}

func (l *Loader) path() (string, error) {
	if l.configPath != "" {
		return l.configPath, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, dataDirName, configFileName), nil
}

func (l *Loader) viper(configPath string) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(configPath)
	switch strings.ToLower(filepath.Ext(configPath)) {
	case ".yaml", ".yml":
		v.SetConfigType("yaml")
	default:
		v.SetConfigType("json")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func fillPaths(cfg *Config) error {
	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		cfg.DataDir = filepath.Join(home, dataDirName)
	}

	if cfg.Plugins.Dirs == nil {
		cfg.Plugins.Dirs = []string{filepath.Join(cfg.DataDir, "plugins")}
	}

	if cfg.Audit.Enabled {
		if cfg.Audit.Path == "" {
			cfg.Audit.Path = filepath.Join(cfg.DataDir, "audit.log")
		}
		if cfg.Audit.SQLitePath == "" {
			cfg.Audit.SQLitePath = filepath.Join(cfg.DataDir, "audit.db")
		}
	}

	return nil
}

// Load is a convenience function that creates a loader and loads the config
func Load(configPath string) (*Config, error) {
	return NewLoader(configPath).Load()
}
