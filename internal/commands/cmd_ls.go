package commands

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"github.com/colonyops/tasksync/internal/core/task"
	"github.com/colonyops/tasksync/internal/tasksvc"
	"github.com/colonyops/tasksync/pkg/iojson"
)

type LsCmd struct {
	flags *Flags
	app   *tasksvc.App

	// flags
	search     string
	view       string
	match      string
	jsonOutput bool
}

// NewLsCmd creates a new ls command
func NewLsCmd(flags *Flags, app *tasksvc.App) *LsCmd {
	return &LsCmd{flags: flags, app: app}
}

// Register adds the ls command to the application
func (cmd *LsCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "ls",
		Usage:     "List tasks",
		UsageText: "tasksync ls [--search text] [--view all|active|completed] [--match glob] [--json]",
		Description: `Displays the local task list, including changes not yet confirmed by the server.

The SYNC column shows "pending" for tasks with queued changes and "rejected"
for tasks the server refused to create. Listing never contacts the server;
run 'tasksync sync' to pull remote changes.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "search",
				Aliases:     []string{"q"},
				Usage:       "case-insensitive text to find in title or description",
				Destination: &cmd.search,
			},
			&cli.StringFlag{
				Name:        "view",
				Usage:       "all, active or completed",
				Value:       string(task.ViewAll),
				Destination: &cmd.view,
			},
			&cli.StringFlag{
				Name:        "match",
				Usage:       "glob the title must match (e.g. 'Buy *')",
				Destination: &cmd.match,
			},
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

func (cmd *LsCmd) run(ctx context.Context, c *cli.Command) error {
	tasks, err := cmd.app.Tasks.List(ctx, task.Filter{
		Search: cmd.search,
		View:   task.View(cmd.view),
		Match:  cmd.match,
	})
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}

	if cmd.jsonOutput {
		if tasks == nil {
			tasks = []task.Task{}
		}
		return iojson.WriteWith(c.Root().Writer, c.Root().ErrWriter, tasks)
	}

	if len(tasks) == 0 {
		_, _ = fmt.Fprintln(os.Stderr, "No tasks found")
		return nil
	}

	out := c.Root().Writer
	r := newRenderer(out)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, r.header("ID")+"\t"+r.header("STATUS")+"\t"+r.header("SYNC")+"\t"+r.header("TITLE"))
	for _, t := range tasks {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", displayID(t), r.status(t.Status), r.syncState(t.SyncState), t.Title)
	}
	return w.Flush()
}
