package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/colonyops/tasksync/internal/commands"
	"github.com/colonyops/tasksync/internal/core/config"
	"github.com/colonyops/tasksync/internal/core/logging"
	"github.com/colonyops/tasksync/internal/core/styles"
	"github.com/colonyops/tasksync/internal/data/db"
	"github.com/colonyops/tasksync/internal/tasksvc"
	"github.com/colonyops/tasksync/pkg/logutils"
)

var (
	// Build information. Populated at build-time via -ldflags flag.
	// When installed via `go install module@version`, build() reads
	// runtime/debug.BuildInfo instead.
	version = "dev"
	commit  = "HEAD"
	date    = "now"
)

func build() string {
	v, c, d := version, commit, date

	if v == "dev" {
		if info, ok := debug.ReadBuildInfo(); ok {
			if mv := info.Main.Version; mv != "" && mv != "(devel)" {
				v = mv
			}
			for _, s := range info.Settings {
				switch s.Key {
				case "vcs.revision":
					c = s.Value
				case "vcs.time":
					d = s.Value
				}
			}
		}
	}

	short := c
	if len(c) > 7 {
		short = c[:7]
	}

	return fmt.Sprintf("%s (%s) %s", v, short, d)
}

func main() {
	ctx := context.Background()

	var (
		logCloser func()
		tasksApp  = &tasksvc.App{}
		database  *db.DB
	)

	flags := &commands.Flags{}

	app := &cli.Command{
		Name:      "tasksync",
		Usage:     "Manage tasks that keep working offline",
		UsageText: "tasksync [global options] command [command options]",
		Description: `tasksync keeps a local copy of your tasks and syncs it with a task server.

Every change is saved locally first. When the server is reachable it is sent
right away; otherwise it is queued and replayed in order once the server is
back. Run 'tasksync watch' to keep syncing in the background, or
'tasksync sync' to push and pull once.`,
		Version:               build(),
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "log level (debug, info, warn, error, fatal, panic)",
				Sources:     cli.EnvVars("TASKSYNC_LOG_LEVEL"),
				Value:       "info",
				Destination: &flags.LogLevel,
			},
			&cli.StringFlag{
				Name:        "log-file",
				Usage:       "path to log file (defaults to <data-dir>/tasksync.log)",
				Sources:     cli.EnvVars("TASKSYNC_LOG_FILE"),
				Destination: &flags.LogFile,
			},
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "path to config file",
				Sources:     cli.EnvVars("TASKSYNC_CONFIG"),
				Value:       commands.DefaultConfigPath(),
				Destination: &flags.ConfigPath,
			},
			&cli.StringFlag{
				Name:        "data-dir",
				Usage:       "path to data directory",
				Sources:     cli.EnvVars("TASKSYNC_DATA_DIR"),
				Value:       commands.DefaultDataDir(),
				Destination: &flags.DataDir,
			},
			&cli.BoolFlag{
				Name:        "offline",
				Usage:       "do not contact the server; queue every change",
				Sources:     cli.EnvVars("TASKSYNC_OFFLINE"),
				Destination: &flags.Offline,
			},
		},
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			logFile := flags.LogFile
			if logFile == "" {
				logFile = filepath.Join(flags.DataDir, "tasksync.log")
			}

			logger, closer, err := logutils.New(flags.LogLevel, logFile)
			if err != nil {
				return ctx, fmt.Errorf("setup logger: %w", err)
			}
			log.Logger = logger.Hook(logging.ContextHook{})
			logCloser = closer

			cfg, err := config.Load(flags.ConfigPath, flags.DataDir)
			if err != nil {
				return ctx, fmt.Errorf("load config: %w", err)
			}
			flags.Config = cfg

			// Validation ensures the name is known.
			palette, _ := styles.GetPalette(cfg.UI.Theme)
			styles.SetTheme(palette)

			var backup string
			database, backup, err = db.OpenOrRecover(cfg.DatabaseDir(), db.OpenOptions{
				MaxOpenConns: cfg.Database.MaxOpenConns,
				MaxIdleConns: cfg.Database.MaxIdleConns,
				BusyTimeout:  cfg.Database.BusyTimeout,
			})
			if backup != "" {
				log.Warn().Str("backup", backup).Msg("database was corrupted, moved aside and recreated")
				_, _ = fmt.Fprintf(c.Root().ErrWriter, "warning: corrupted database moved to %s; unsynced local changes are in the backup\n", backup)
			}
			if err != nil {
				return ctx, fmt.Errorf("open database: %w", err)
			}

			svc, err := tasksvc.NewApp(cfg, database)
			if err != nil {
				return ctx, err
			}

			// Populate the pre-allocated App struct (commands already hold a pointer to it)
			*tasksApp = *svc

			return ctx, nil
		},
		After: func(ctx context.Context, c *cli.Command) error {
			if database != nil {
				if err := database.Close(); err != nil {
					log.Error().Err(err).Msg("failed to close database")
					return err
				}
			}

			if logCloser != nil {
				logCloser()
			}
			return nil
		},
	}

	app = commands.NewAddCmd(flags, tasksApp).Register(app)
	app = commands.NewEditCmd(flags, tasksApp).Register(app)
	app = commands.NewRmCmd(flags, tasksApp).Register(app)
	app = commands.NewLsCmd(flags, tasksApp).Register(app)
	app = commands.NewStatsCmd(flags, tasksApp).Register(app)
	app = commands.NewImportCmd(flags, tasksApp).Register(app)
	app = commands.NewSyncCmd(flags, tasksApp).Register(app)
	app = commands.NewQueueCmd(flags, tasksApp).Register(app)
	app = commands.NewStatusCmd(flags, tasksApp).Register(app)
	app = commands.NewWatchCmd(flags, tasksApp).Register(app)
	app = commands.NewConfigValidateCmd(flags).Register(app)

	exitCode := 0
	if err := app.Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		exitCode = 1
	}

	os.Exit(exitCode)
}
