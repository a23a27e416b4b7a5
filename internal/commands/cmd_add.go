package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/colonyops/tasksync/internal/core/task"
	"github.com/colonyops/tasksync/internal/tasksvc"
	"github.com/colonyops/tasksync/pkg/iojson"
)

type AddCmd struct {
	flags *Flags
	app   *tasksvc.App

	// flags
	description string
	status      string
	jsonOutput  bool
}

// NewAddCmd creates a new add command
func NewAddCmd(flags *Flags, app *tasksvc.App) *AddCmd {
	return &AddCmd{flags: flags, app: app}
}

// Register adds the add command to the application
func (cmd *AddCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "add",
		Usage:     "Create a task",
		UsageText: "tasksync add [options] <title>",
		Description: `Creates a task locally and sends it to the server.

When the server is unreachable the task is kept locally and queued; it is
sent on the next sync. Status accepts Pending, InProgress or Completed.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "description",
				Aliases:     []string{"d"},
				Usage:       "task description",
				Destination: &cmd.description,
			},
			&cli.StringFlag{
				Name:        "status",
				Aliases:     []string{"s"},
				Usage:       "initial status",
				Value:       string(task.StatusPending),
				Destination: &cmd.status,
			},
			&cli.BoolFlag{
				Name:        "json",
				Usage:       "output the created task as JSON",
				Destination: &cmd.jsonOutput,
			},
		},
		Action: cmd.run,
	})

	return app
}

func (cmd *AddCmd) run(ctx context.Context, c *cli.Command) error {
	title := strings.Join(c.Args().Slice(), " ")
	if strings.TrimSpace(title) == "" {
		return fmt.Errorf("title is required")
	}

	status, err := task.ParseStatus(cmd.status)
	if err != nil {
		return err
	}

	connect(ctx, cmd.flags, cmd.app)

	created, err := cmd.app.Tasks.Create(ctx, task.Input{
		Title:       title,
		Description: cmd.description,
		Status:      status,
	})
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}

	if cmd.jsonOutput {
		return iojson.WriteWith(c.Root().Writer, c.Root().ErrWriter, created)
	}

	printMutation(c, "created", created)
	return nil
}

// printMutation reports a local change and whether the server has it yet.
func printMutation(c *cli.Command, verb string, t task.Task) {
	w := c.Root().Writer
	r := newRenderer(w)

	note := r.muted("(synced)")
	switch t.SyncState {
	case task.SyncPending:
		note = r.warning("(queued)")
	case task.SyncRejected:
		note = r.failure("(rejected by server)")
	}

	_, _ = fmt.Fprintf(w, "%s %s %s %s\n", verb, r.header(displayID(t)), t.Title, note)
}
