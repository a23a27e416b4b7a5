package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/colonyops/tasksync/internal/core/eventbus"
	"github.com/colonyops/tasksync/internal/core/logging"
	"github.com/colonyops/tasksync/internal/profiler"
	"github.com/colonyops/tasksync/internal/tasksvc"
	"github.com/colonyops/tasksync/internal/tasksvc/sweep"
)

type WatchCmd struct {
	flags *Flags
	app   *tasksvc.App

	noRefresh bool
	pprofAddr string
}

// NewWatchCmd creates a new watch command
func NewWatchCmd(flags *Flags, app *tasksvc.App) *WatchCmd {
	return &WatchCmd{flags: flags, app: app}
}

// Register adds the watch command to the application
func (cmd *WatchCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "watch",
		Usage:     "Keep the local replica in sync until interrupted",
		UsageText: "tasksync watch [--no-refresh] [--pprof addr]",
		Description: `Runs the network monitor and the reconciliation worker in the foreground.

Queued operations are replayed whenever the server becomes reachable and on
a retry interval while any remain. After each drain that empties the queue
the task list is refetched. Old tombstones and expired cache entries are
swept periodically. Sync events are printed as they happen.`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:        "no-refresh",
				Usage:       "do not refetch the task list after a drain",
				Destination: &cmd.noRefresh,
			},
			&cli.StringFlag{
				Name:        "pprof",
				Usage:       "serve net/http/pprof on this address (e.g. localhost:6060)",
				Destination: &cmd.pprofAddr,
			},
		},
		Action: cmd.run,
	})

	return app
}

func (cmd *WatchCmd) run(ctx context.Context, c *cli.Command) error {
	if cmd.flags.Offline {
		return fmt.Errorf("watch cannot run with --offline")
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		app = cmd.app
		cfg = app.Config
		r   = newRenderer(c.Root().Writer)
		out = &lockedWriter{w: c.Root().Writer}
	)

	g, ctx := errgroup.WithContext(ctx)

	eventbus.RegisterDebugLogger(app.Bus, logging.Component("eventbus"))
	eventbus.NewNotificationRouter(app.Bus).Register()

	app.Bus.SubscribeNotificationPublished(func(p eventbus.NotificationPublishedPayload) {
		level := r.info(string(p.Level))
		switch p.Level {
		case eventbus.LevelWarning:
			level = r.warning(string(p.Level))
		case eventbus.LevelError:
			level = r.failure(string(p.Level))
		}
		_, _ = fmt.Fprintf(out, "%s %s %s\n", r.muted(time.Now().Format(time.TimeOnly)), level, p.Message)
	})

	if !cmd.noRefresh {
		app.Bus.SubscribeSyncCompleted(func(eventbus.SyncCompletedPayload) {
			res, err := app.Tasks.Refresh(ctx)
			if err != nil {
				log.Warn().Err(err).Msg("refresh after sync")
				return
			}
			if res.Added+res.Updated+res.Removed > 0 {
				_, _ = fmt.Fprintf(out, "%s %s refreshed: %d added, %d updated, %d removed\n",
					r.muted(time.Now().Format(time.TimeOnly)), r.info("info"), res.Added, res.Updated, res.Removed)
			}
		})
	}

	if cmd.pprofAddr != "" {
		prof, err := profiler.Listen(cmd.pprofAddr, logging.Component("profiler"))
		if err != nil {
			return err
		}
		g.Go(func() error {
			return prof.Serve(ctx)
		})
	}

	// Subscribe before the monitor starts so the first edge is not missed.
	reconnect := app.Monitor.Subscribe()

	g.Go(func() error {
		app.Bus.Start(ctx)
		return nil
	})
	g.Go(func() error {
		return app.Monitor.Run(ctx)
	})
	g.Go(func() error {
		return app.Driver.Run(ctx, reconnect)
	})
	g.Go(func() error {
		sweep.Start(ctx, app.Records, app.KV, cfg.Sync.TombstoneGrace, cfg.Sync.SweepInterval)
		return nil
	})

	_, _ = fmt.Fprintf(out, "watching %s (ctrl-c to stop)\n", r.header(cfg.Server.URL))

	if err := g.Wait(); err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	return nil
}

// lockedWriter serializes writes from the event bus and the command.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
