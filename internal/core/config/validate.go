package config

import (
	"fmt"
	"os"
	"time"

	"github.com/hay-kot/criterio"
)

// ValidationWarning represents a non-fatal configuration issue.
type ValidationWarning struct {
	Category string `json:"category"`
	Item     string `json:"item,omitempty"`
	Message  string `json:"message"`
}

// ValidateDeep performs comprehensive validation of the configuration
// including file accessibility and timing relationships. The configPath
// argument specifies the config file location to validate (empty string
// skips the config file check). Validate() runs first for basic structural
// validation.
func (c *Config) ValidateDeep(configPath string) error {
	if err := c.Validate(); err != nil {
		return err
	}

	return criterio.ValidateStruct(
		c.validateFileAccess(configPath),
		c.validateTimings(),
		c.validateDatabase(),
	)
}

// Warnings returns non-fatal configuration issues.
func (c *Config) Warnings() []ValidationWarning {
	var warnings []ValidationWarning

	if c.Server.Token == "" {
		warnings = append(warnings, ValidationWarning{
			Category: "Server",
			Item:     "token",
			Message:  fmt.Sprintf("no token configured; set server.token or %s", TokenEnv),
		})
	}

	if c.Sync.Debounce == 0 {
		warnings = append(warnings, ValidationWarning{
			Category: "Sync",
			Item:     "debounce",
			Message:  "debounce is disabled; connectivity flaps will trigger drains",
		})
	}

	return warnings
}

func (c *Config) validateFileAccess(configPath string) error {
	return criterio.ValidateStruct(
		validateConfigFile(configPath),
		criterio.Run("data_dir", c.DataDir, isDirectoryOrNotExist),
	)
}

func validateConfigFile(configPath string) error {
	if configPath == "" {
		return nil
	}

	info, err := os.Stat(configPath)
	if os.IsNotExist(err) {
		return nil // not found is fine, using defaults
	}
	if err != nil {
		return criterio.NewFieldErrors("config_file", fmt.Errorf("cannot access: %w", err))
	}
	if info.IsDir() {
		return criterio.NewFieldErrors("config_file", fmt.Errorf("%s is a directory, not a file", configPath))
	}
	return nil
}

// isDirectoryOrNotExist validates that a path is a directory or doesn't exist.
func isDirectoryOrNotExist(path string) error {
	if path == "" {
		return nil
	}
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil // will be created
	}
	if err != nil {
		return fmt.Errorf("cannot access: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("exists but is not a directory")
	}
	return nil
}

func (c *Config) validateTimings() error {
	var errs criterio.FieldErrorsBuilder

	if c.Server.Timeout > 0 && c.Server.Timeout < 100*time.Millisecond {
		errs = errs.Append("server.timeout", fmt.Errorf("%s is too short to complete a request", c.Server.Timeout))
	}
	if c.Sync.ProbeInterval > 0 && c.Sync.ProbeInterval < time.Second {
		errs = errs.Append("sync.probe_interval", fmt.Errorf("must be at least 1s, got %s", c.Sync.ProbeInterval))
	}
	if c.Sync.Debounce >= c.Sync.ProbeInterval*4 && c.Sync.ProbeInterval > 0 {
		errs = errs.Append("sync.debounce", fmt.Errorf("%s spans four or more probes of %s; reconnects would be delayed", c.Sync.Debounce, c.Sync.ProbeInterval))
	}
	if c.Sync.RetryInterval > 0 && c.Sync.RetryInterval < time.Second {
		errs = errs.Append("sync.retry_interval", fmt.Errorf("must be at least 1s, got %s", c.Sync.RetryInterval))
	}

	return errs.ToError()
}

func (c *Config) validateDatabase() error {
	var errs criterio.FieldErrorsBuilder

	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		errs = errs.Append("database.max_idle_conns", fmt.Errorf("%d exceeds max_open_conns %d", c.Database.MaxIdleConns, c.Database.MaxOpenConns))
	}
	if c.Database.BusyTimeout < 0 {
		errs = errs.Append("database.busy_timeout", fmt.Errorf("cannot be negative"))
	}

	return errs.ToError()
}
