// Package config loads embersync settings from config file, environment,
// and defaults, in that order of increasing precedence for env overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds every setting the embersync binary reads. Fields map to
// config file keys via mapstructure tags and to environment variables with
// the EMBER_ prefix (EMBER_REMOTE_URL, EMBER_SYNC_INTERVAL, ...).
type Config struct {
	// DBPath is the SQLite database location.
	DBPath string `mapstructure:"db_path"`

	// RemoteURL is the sync service base URL. Empty disables sync.
	RemoteURL string `mapstructure:"remote_url"`

	// Token authenticates against the sync service.
	Token string `mapstructure:"token"`

	// DeviceName labels exports from this machine.
	DeviceName string `mapstructure:"device_name"`

	// SyncInterval is the daemon's reconciliation period.
	SyncInterval time.Duration `mapstructure:"sync_interval"`

	// InboxDir is watched for dropped backup documents. Empty disables
	// the watcher.
	InboxDir string `mapstructure:"inbox_dir"`

	// BreakerThreshold is the consecutive failure count that opens a
	// circuit.
	BreakerThreshold int `mapstructure:"breaker_threshold"`

	// BreakerReset is how long an open circuit waits before probing.
	BreakerReset time.Duration `mapstructure:"breaker_reset"`

	// DashboardPort serves the monitoring WebSocket. 0 disables it.
	DashboardPort int `mapstructure:"dashboard_port"`

	// LogFile receives daemon logs, rotated. Empty logs to stderr.
	LogFile string `mapstructure:"log_file"`

	// CharacterPacks lists TOML pack files seeded at startup.
	CharacterPacks []string `mapstructure:"character_packs"`
}

// Dir returns the per-user ember config directory.
func Dir() string {
	if dir := os.Getenv("EMBER_CONFIG_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".ember"
	}
	return filepath.Join(home, ".ember")
}

// Load reads configuration from path if given, otherwise from
// ember.yaml in the config directory. A missing config file is not an
// error; defaults and environment still apply.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("db_path", filepath.Join(Dir(), "ember.db"))
	v.SetDefault("device_name", hostname())
	v.SetDefault("sync_interval", 30*time.Second)
	v.SetDefault("breaker_threshold", 5)
	v.SetDefault("breaker_reset", 30*time.Second)
	v.SetDefault("dashboard_port", 0)

	v.SetEnvPrefix("EMBER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("ember")
		v.SetConfigType("yaml")
		v.AddConfigPath(Dir())
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("db_path cannot be empty")
	}
	if c.SyncInterval < time.Second {
		return fmt.Errorf("sync_interval must be at least 1s, got %s", c.SyncInterval)
	}
	if c.BreakerThreshold < 1 {
		return fmt.Errorf("breaker_threshold must be positive, got %d", c.BreakerThreshold)
	}
	return nil
}

func hostname() string {
	name, err := os.Hostname()
	if err != nil {
		return "unknown-device"
	}
	return name
}
