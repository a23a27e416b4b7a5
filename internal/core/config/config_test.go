package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hay-kot/criterio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv(TokenEnv, "")
	dataDir := t.TempDir()

	cfg, err := Load("", dataDir)
	require.NoError(t, err)

	defaults := DefaultConfig()
	assert.Equal(t, dataDir, cfg.DataDir)
	assert.Equal(t, defaults.Server, cfg.Server)
	assert.Equal(t, defaults.Sync, cfg.Sync)
	assert.Equal(t, defaults.Database, cfg.Database)
	assert.Equal(t, "tokyo-night", cfg.UI.Theme)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Server.URL, cfg.Server.URL)
}

func TestLoad_FromFile(t *testing.T) {
	path := writeConfig(t, `
server:
  url: https://tasks.example.com/api/
  token: abc123
  timeout: 3s
  health_path: health
sync:
  probe_interval: 5s
  debounce: 0s
  tombstone_grace: 48h
database:
  max_open_conns: 8
`)

	cfg, err := Load(path, t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "https://tasks.example.com/api", cfg.Server.URL)
	assert.Equal(t, "abc123", cfg.Server.Token)
	assert.Equal(t, 3*time.Second, cfg.Server.Timeout)
	assert.Equal(t, "/health", cfg.Server.HealthPath)
	assert.Equal(t, 5*time.Second, cfg.Sync.ProbeInterval)
	assert.Zero(t, cfg.Sync.Debounce)
	assert.Equal(t, 48*time.Hour, cfg.Sync.TombstoneGrace)
	assert.Equal(t, DefaultConfig().Sync.RetryInterval, cfg.Sync.RetryInterval)
	assert.Equal(t, 8, cfg.Database.MaxOpenConns)
	assert.Equal(t, 2, cfg.Database.MaxIdleConns)
}

func TestLoad_TokenFromEnv(t *testing.T) {
	t.Setenv(TokenEnv, "from-env")

	cfg, err := Load("", t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Server.Token)

	path := writeConfig(t, "server:\n  token: from-file\n")
	cfg, err = Load(path, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.Server.Token)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"bad yaml", "server: [", "parse config file"},
		{"bad scheme", "server:\n  url: ftp://example.com\n", "must be http or https"},
		{"no host", "server:\n  url: http://\n", "has no host"},
		{"negative debounce", "sync:\n  debounce: -1s\n", "sync.debounce"},
		{"negative idle conns", "database:\n  max_idle_conns: -1\n", "max_idle_conns"},
		{"unknown theme", "ui:\n  theme: neon\n", "ui.theme"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body), t.TempDir())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_RequiresDataDir(t *testing.T) {
	cfg := DefaultConfig()
	assert.ErrorContains(t, cfg.Validate(), "data directory")
}

func validConfig(t *testing.T) *Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Server.Token = "secret"
	return &cfg
}

func TestValidateDeep_ValidConfig(t *testing.T) {
	assert.NoError(t, validConfig(t).ValidateDeep(""))
}

func TestValidateDeep_Timings(t *testing.T) {
	cfg := validConfig(t)
	cfg.Server.Timeout = 10 * time.Millisecond
	cfg.Sync.ProbeInterval = 2 * time.Second
	cfg.Sync.Debounce = 10 * time.Second

	err := cfg.ValidateDeep("")

	var fieldErrs criterio.FieldErrors
	require.ErrorAs(t, err, &fieldErrs)
	assert.Len(t, fieldErrs, 2)

	var fields []string
	for _, fe := range fieldErrs {
		fields = append(fields, fe.Field)
	}
	assert.ElementsMatch(t, []string{"server.timeout", "sync.debounce"}, fields)
}

func TestValidateDeep_Database(t *testing.T) {
	cfg := validConfig(t)
	cfg.Database.MaxOpenConns = 1
	cfg.Database.MaxIdleConns = 3

	err := cfg.ValidateDeep("")

	var fieldErrs criterio.FieldErrors
	require.ErrorAs(t, err, &fieldErrs)
	require.Len(t, fieldErrs, 1)
	assert.Equal(t, "database.max_idle_conns", fieldErrs[0].Field)
}

func TestValidateDeep_DataDirIsFile(t *testing.T) {
	cfg := validConfig(t)
	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	cfg.DataDir = file

	err := cfg.ValidateDeep("")

	var fieldErrs criterio.FieldErrors
	require.ErrorAs(t, err, &fieldErrs)
	assert.Equal(t, "data_dir", fieldErrs[0].Field)
}

func TestValidateDeep_ConfigPathIsDirectory(t *testing.T) {
	cfg := validConfig(t)

	err := cfg.ValidateDeep(t.TempDir())

	var fieldErrs criterio.FieldErrors
	require.ErrorAs(t, err, &fieldErrs)
	assert.Equal(t, "config_file", fieldErrs[0].Field)
}

func TestWarnings(t *testing.T) {
	cfg := validConfig(t)
	assert.Empty(t, cfg.Warnings())

	cfg.Server.Token = ""
	cfg.Sync.Debounce = 0
	warnings := cfg.Warnings()
	require.Len(t, warnings, 2)
	assert.Equal(t, "token", warnings[0].Item)
	assert.Equal(t, "debounce", warnings[1].Item)
}
