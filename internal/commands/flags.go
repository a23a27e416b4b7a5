package commands

import (
	"context"
	"os"
	"path/filepath"
	"runtime"

	"github.com/rs/zerolog/log"

	"github.com/colonyops/tasksync/internal/core/config"
	"github.com/colonyops/tasksync/internal/tasksvc"
)

type Flags struct {
	LogLevel   string
	LogFile    string
	ConfigPath string
	DataDir    string

	// Offline skips the reachability probe and treats the server as down.
	Offline bool

	// Config is loaded in the Before hook and available to all commands
	Config *config.Config
}

// DefaultConfigPath returns the default config file path using XDG_CONFIG_HOME.
func DefaultConfigPath() string {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		home, _ := os.UserHomeDir()
		configHome = filepath.Join(home, ".config")
	}
	return filepath.Join(configHome, "tasksync", "config.yaml")
}

// DefaultDataDir returns the default data directory using XDG_DATA_HOME.
func DefaultDataDir() string {
	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		home, _ := os.UserHomeDir()
		dataHome = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataHome, "tasksync")
}

// DefaultLogFile returns the default log file path using the system's state directory.
// On macOS: ~/Library/Logs/tasksync/tasksync.log
// On Linux: $XDG_STATE_HOME/tasksync/tasksync.log (defaults to ~/.local/state/tasksync/tasksync.log)
func DefaultLogFile() string {
	stateHome := os.Getenv("XDG_STATE_HOME")
	if stateHome != "" {
		return filepath.Join(stateHome, "tasksync", "tasksync.log")
	}

	home, _ := os.UserHomeDir()

	if runtime.GOOS == "darwin" {
		return filepath.Join(home, "Library", "Logs", "tasksync", "tasksync.log")
	}

	return filepath.Join(home, ".local", "state", "tasksync", "tasksync.log")
}

// connect decides reachability for a one-shot command. When the server is
// up, operations queued by earlier offline runs are replayed first so new
// mutations for the same tasks are not held behind them.
func connect(ctx context.Context, flags *Flags, app *tasksvc.App) bool {
	if !app.Connect(ctx, flags.Offline) {
		return false
	}

	rep, err := app.Driver.Drain(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("replay pending operations")
		return app.Monitor.Reachable()
	}
	if rep.Applied > 0 || len(rep.Dropped) > 0 {
		log.Info().
			Int("applied", rep.Applied).
			Int("rejected", len(rep.Dropped)).
			Int64("remaining", rep.Remaining).
			Msg("replayed pending operations")
	}
	return app.Monitor.Reachable()
}
