package commands

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/colonyops/tasksync/internal/core/oplog"
	"github.com/colonyops/tasksync/internal/tasksvc"
	"github.com/colonyops/tasksync/pkg/iojson"
)

type SyncCmd struct {
	flags *Flags
	app   *tasksvc.App

	jsonOutput bool
}

// NewSyncCmd creates a new sync command
func NewSyncCmd(flags *Flags, app *tasksvc.App) *SyncCmd {
	return &SyncCmd{flags: flags, app: app}
}

// Register adds the sync command to the application
func (cmd *SyncCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "sync",
		Usage:     "Send queued changes and pull the server's task list",
		UsageText: "tasksync sync [--json]",
		Description: `Replays the pending operation log in order. When every queued operation
has been confirmed, the task list is refetched from the server; tasks with
unconfirmed local changes keep their local state.

Exits non-zero when the server is unreachable, another tasksync process is
replaying the log, or operations remain queued.`,
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

type failureView struct {
	Op       oplog.Op `json:"op"`
	ClientID string   `json:"client_id"`
	Outcome  string   `json:"outcome"`
	Error    string   `json:"error,omitempty"`
}

type syncView struct {
	Offline   bool                   `json:"offline"`
	Busy      bool                   `json:"busy"`
	Applied   int                    `json:"applied"`
	Rejected  []failureView          `json:"rejected,omitempty"`
	Stopped   *failureView           `json:"stopped,omitempty"`
	Remaining int64                  `json:"remaining"`
	Refresh   *tasksvc.RefreshResult `json:"refresh,omitempty"`
}

func newFailureView(f oplog.Failure) failureView {
	v := failureView{Op: f.Entry.Op, ClientID: f.Entry.ClientID, Outcome: f.Outcome.String()}
	if f.Err != nil {
		v.Error = f.Err.Error()
	}
	return v
}

func (cmd *SyncCmd) run(ctx context.Context, c *cli.Command) error {
	cmd.app.Connect(ctx, cmd.flags.Offline)

	res, err := cmd.app.Tasks.Sync(ctx)
	if err != nil {
		return err
	}

	view := syncView{
		Offline:   res.Drain.Offline,
		Busy:      res.Drain.Coalesced,
		Applied:   res.Drain.Applied,
		Remaining: res.Drain.Remaining,
		Refresh:   res.Refresh,
	}
	for _, f := range res.Drain.Dropped {
		view.Rejected = append(view.Rejected, newFailureView(f))
	}
	if res.Drain.Stopped != nil {
		s := newFailureView(*res.Drain.Stopped)
		view.Stopped = &s
	}
	if view.Offline {
		entries, err := cmd.app.Tasks.Queue(ctx)
		if err != nil {
			return fmt.Errorf("list pending operations: %w", err)
		}
		view.Remaining = int64(len(entries))
	}

	if cmd.jsonOutput {
		if err := iojson.WriteWith(c.Root().Writer, c.Root().ErrWriter, view); err != nil {
			return err
		}
	} else {
		cmd.print(c, view)
	}

	if view.Offline || view.Busy || view.Remaining > 0 {
		return cli.Exit("", 1)
	}
	return nil
}

func (cmd *SyncCmd) print(c *cli.Command, v syncView) {
	w := c.Root().Writer
	r := newRenderer(w)

	if v.Offline {
		_, _ = fmt.Fprintf(w, "%s, %d operation(s) still queued\n", r.warning("server unreachable"), v.Remaining)
		return
	}

	if v.Busy {
		_, _ = fmt.Fprintf(w, "%s, %d operation(s) queued\n", r.warning("another tasksync process is syncing"), v.Remaining)
		return
	}

	_, _ = fmt.Fprintf(w, "sent %d queued operation(s)\n", v.Applied)
	for _, f := range v.Rejected {
		_, _ = fmt.Fprintf(w, "  %s %s %s: %s\n", r.failure("rejected"), f.Op, f.ClientID, f.Error)
	}
	if v.Stopped != nil {
		_, _ = fmt.Fprintf(w, "  %s at %s %s: %s\n", r.warning("stopped"), v.Stopped.Op, v.Stopped.ClientID, v.Stopped.Error)
	}
	if v.Remaining > 0 {
		_, _ = fmt.Fprintf(w, "%d operation(s) still queued\n", v.Remaining)
		return
	}
	if v.Refresh != nil {
		_, _ = fmt.Fprintf(w, "refreshed: %d added, %d updated, %d removed, %d kept local\n",
			v.Refresh.Added, v.Refresh.Updated, v.Refresh.Removed, v.Refresh.Kept)
	}
	_, _ = fmt.Fprintln(w, r.success("up to date"))
}
