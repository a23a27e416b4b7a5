// Package config handles configuration loading and validation for tasksync.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/colonyops/tasksync/internal/core/styles"
)

// TokenEnv is consulted when the config file carries no token.
const TokenEnv = "TASKSYNC_TOKEN"

// Config holds the application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Sync     SyncConfig     `yaml:"sync"`
	Database DatabaseConfig `yaml:"database"`
	UI       UIConfig       `yaml:"ui"`
	DataDir  string         `yaml:"-"` // set by caller, not from config file
}

// ServerConfig locates the remote task API.
type ServerConfig struct {
	URL        string        `yaml:"url"`
	Token      string        `yaml:"token"`
	Timeout    time.Duration `yaml:"timeout"`     // per request
	HealthPath string        `yaml:"health_path"` // probed by the network monitor
	// LegacyStatus sends Pendiente/En Progreso/Completada instead of the
	// canonical status names.
	LegacyStatus bool `yaml:"legacy_status"`
}

// SyncConfig tunes reconciliation.
type SyncConfig struct {
	ProbeInterval  time.Duration `yaml:"probe_interval"`
	Debounce       time.Duration `yaml:"debounce"`
	RetryInterval  time.Duration `yaml:"retry_interval"`
	TombstoneGrace time.Duration `yaml:"tombstone_grace"`
	SweepInterval  time.Duration `yaml:"sweep_interval"`
}

// DatabaseConfig holds SQLite connection pool settings.
type DatabaseConfig struct {
	MaxOpenConns int `yaml:"max_open_conns"`
	MaxIdleConns int `yaml:"max_idle_conns"`
	BusyTimeout  int `yaml:"busy_timeout"` // milliseconds
}

// UIConfig controls terminal output.
type UIConfig struct {
	Theme string `yaml:"theme"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			URL:        "http://localhost:4000/api",
			Timeout:    10 * time.Second,
			HealthPath: "/tasks",
		},
		Sync: SyncConfig{
			ProbeInterval:  15 * time.Second,
			Debounce:       2 * time.Second,
			RetryInterval:  30 * time.Second,
			TombstoneGrace: 7 * 24 * time.Hour,
			SweepInterval:  time.Hour,
		},
		Database: DatabaseConfig{
			MaxOpenConns: 4,
			MaxIdleConns: 2,
			BusyTimeout:  5000,
		},
		UI: UIConfig{
			Theme: styles.DefaultTheme,
		},
	}
}

// Load reads configuration from the given path and sets the data directory.
// If configPath is empty or doesn't exist, returns defaults with the provided dataDir.
func Load(configPath, dataDir string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			data, err := os.ReadFile(configPath)
			if err != nil {
				return nil, fmt.Errorf("read config file: %w", err)
			}

			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	cfg.DataDir = dataDir
	if cfg.Server.Token == "" {
		cfg.Server.Token = os.Getenv(TokenEnv)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// applyDefaults sets default values for any unset configuration options.
func (c *Config) applyDefaults() {
	defaults := DefaultConfig()

	c.Server.URL = strings.TrimRight(strings.TrimSpace(c.Server.URL), "/")
	if c.Server.URL == "" {
		c.Server.URL = defaults.Server.URL
	}
	if c.Server.Timeout == 0 {
		c.Server.Timeout = defaults.Server.Timeout
	}
	if c.Server.HealthPath == "" {
		c.Server.HealthPath = defaults.Server.HealthPath
	}
	if !strings.HasPrefix(c.Server.HealthPath, "/") {
		c.Server.HealthPath = "/" + c.Server.HealthPath
	}

	if c.Sync.ProbeInterval == 0 {
		c.Sync.ProbeInterval = defaults.Sync.ProbeInterval
	}
	if c.Sync.RetryInterval == 0 {
		c.Sync.RetryInterval = defaults.Sync.RetryInterval
	}
	if c.Sync.TombstoneGrace == 0 {
		c.Sync.TombstoneGrace = defaults.Sync.TombstoneGrace
	}
	if c.Sync.SweepInterval == 0 {
		c.Sync.SweepInterval = defaults.Sync.SweepInterval
	}

	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = defaults.Database.MaxOpenConns
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = defaults.Database.MaxIdleConns
	}
	if c.Database.BusyTimeout == 0 {
		c.Database.BusyTimeout = defaults.Database.BusyTimeout
	}
	if c.UI.Theme == "" {
		c.UI.Theme = defaults.UI.Theme
	}
}

// Validate checks that the configuration is structurally valid.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data directory cannot be empty")
	}

	u, err := url.Parse(c.Server.URL)
	if err != nil {
		return fmt.Errorf("server.url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("server.url must be http or https, got %q", c.Server.URL)
	}
	if u.Host == "" {
		return fmt.Errorf("server.url has no host: %q", c.Server.URL)
	}

	if c.Server.Timeout < 0 {
		return fmt.Errorf("server.timeout cannot be negative")
	}
	if c.Sync.Debounce < 0 {
		return fmt.Errorf("sync.debounce cannot be negative")
	}
	if c.Sync.ProbeInterval < 0 || c.Sync.RetryInterval < 0 {
		return fmt.Errorf("sync intervals cannot be negative")
	}
	if c.Sync.TombstoneGrace < 0 {
		return fmt.Errorf("sync.tombstone_grace cannot be negative")
	}

	if c.Database.MaxOpenConns < 1 {
		return fmt.Errorf("database.max_open_conns must be at least 1")
	}
	if c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("database.max_idle_conns cannot be negative")
	}

	if _, ok := styles.GetPalette(c.UI.Theme); !ok {
		return fmt.Errorf("ui.theme %q is unknown (available: %s)", c.UI.Theme, strings.Join(styles.ThemeNames(), ", "))
	}

	return nil
}

// DatabaseDir returns the directory holding the SQLite file.
func (c *Config) DatabaseDir() string {
	return c.DataDir
}

// LogFile returns the default log file path.
func (c *Config) LogFile() string {
	return filepath.Join(c.DataDir, "tasksync.log")
}
