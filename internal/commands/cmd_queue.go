package commands

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/colonyops/tasksync/internal/core/oplog"
	"github.com/colonyops/tasksync/internal/tasksvc"
	"github.com/colonyops/tasksync/pkg/iojson"
)

type QueueCmd struct {
	flags *Flags
	app   *tasksvc.App

	jsonOutput bool
}

// NewQueueCmd creates a new queue command
func NewQueueCmd(flags *Flags, app *tasksvc.App) *QueueCmd {
	return &QueueCmd{flags: flags, app: app}
}

// Register adds the queue command to the application
func (cmd *QueueCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "queue",
		Usage:     "Show operations waiting for the server",
		UsageText: "tasksync queue [--json]",
		Description: `Lists the pending operation log in replay order, with the number of
attempts made and the last error seen for each entry.`,
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

func (cmd *QueueCmd) run(ctx context.Context, c *cli.Command) error {
	entries, err := cmd.app.Tasks.Queue(ctx)
	if err != nil {
		return fmt.Errorf("list pending operations: %w", err)
	}

	if cmd.jsonOutput {
		if entries == nil {
			entries = []oplog.Entry{}
		}
		return iojson.WriteWith(c.Root().Writer, c.Root().ErrWriter, entries)
	}

	if len(entries) == 0 {
		_, _ = fmt.Fprintln(os.Stderr, "No pending operations")
		return nil
	}

	var (
		out = c.Root().Writer
		r   = newRenderer(out)
		now = time.Now()
	)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, r.header("SEQ")+"\t"+r.header("OP")+"\t"+r.header("TASK")+"\t"+r.header("QUEUED")+"\t"+r.header("ATTEMPTS")+"\t"+r.header("LAST ERROR"))
	for _, e := range entries {
		title := e.ClientID
		if e.Payload != nil {
			title = displayID(*e.Payload) + " " + e.Payload.Title
		}
		lastErr := r.failure(e.LastError)
		if e.LastError == "" {
			lastErr = r.muted("-")
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
			e.Seq, e.Op, title, ago(now, e.EnqueuedAt), strconv.Itoa(e.Attempts), lastErr)
	}
	return w.Flush()
}
