package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/colonyops/tasksync/internal/tasksvc"
	"github.com/colonyops/tasksync/pkg/iojson"
)

type StatusCmd struct {
	flags *Flags
	app   *tasksvc.App

	jsonOutput bool
}

// NewStatusCmd creates a new status command
func NewStatusCmd(flags *Flags, app *tasksvc.App) *StatusCmd {
	return &StatusCmd{flags: flags, app: app}
}

// Register adds the status command to the application
func (cmd *StatusCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "status",
		Usage:     "Show server reachability and sync state",
		UsageText: "tasksync status [--json]",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:        "json",
				Usage:       "output as JSON",
				Destination: &cmd.jsonOutput,
			},
		},
		Action: cmd.run,
	})

	return app
}

type statusView struct {
	Server    string     `json:"server"`
	Reachable bool       `json:"reachable"`
	Pending   int        `json:"pending_operations"`
	Unsynced  int        `json:"unsynced_tasks"`
	LastSync  *time.Time `json:"last_sync,omitempty"`
}

func (cmd *StatusCmd) run(ctx context.Context, c *cli.Command) error {
	view := statusView{
		Server:    cmd.app.Config.Server.URL,
		Reachable: cmd.app.Connect(ctx, cmd.flags.Offline),
	}

	entries, err := cmd.app.Tasks.Queue(ctx)
	if err != nil {
		return fmt.Errorf("list pending operations: %w", err)
	}
	view.Pending = len(entries)

	stats, err := cmd.app.Tasks.Stats(ctx)
	if err != nil {
		return fmt.Errorf("compute stats: %w", err)
	}
	view.Unsynced = stats.Unsynced

	at, ok, err := cmd.app.Tasks.LastSync(ctx)
	if err != nil {
		return fmt.Errorf("read last sync: %w", err)
	}
	if ok {
		view.LastSync = &at
	}

	if cmd.jsonOutput {
		return iojson.WriteWith(c.Root().Writer, c.Root().ErrWriter, view)
	}

	w := c.Root().Writer
	r := newRenderer(w)

	reach := r.success("reachable")
	if !view.Reachable {
		reach = r.warning("unreachable")
	}
	last := r.muted("never")
	if view.LastSync != nil {
		last = ago(time.Now(), *view.LastSync)
	}

	_, _ = fmt.Fprintf(w, "Server:     %s (%s)\n", view.Server, reach)
	_, _ = fmt.Fprintf(w, "Queued ops: %d\n", view.Pending)
	_, _ = fmt.Fprintf(w, "Unsynced:   %d\n", view.Unsynced)
	_, _ = fmt.Fprintf(w, "Last sync:  %s\n", last)
	return nil
}
