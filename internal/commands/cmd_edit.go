package commands

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/colonyops/tasksync/internal/core/task"
	"github.com/colonyops/tasksync/internal/tasksvc"
	"github.com/colonyops/tasksync/pkg/iojson"
)

type EditCmd struct {
	flags *Flags
	app   *tasksvc.App

	// flags
	title       string
	description string
	status      string
	jsonOutput  bool
}

// NewEditCmd creates a new edit command
func NewEditCmd(flags *Flags, app *tasksvc.App) *EditCmd {
	return &EditCmd{flags: flags, app: app}
}

// Register adds the edit and done commands to the application
func (cmd *EditCmd) Register(app *cli.Command) *cli.Command {
	jsonFlag := func() cli.Flag {
		return &cli.BoolFlag{
			Name:        "json",
			Usage:       "output the updated task as JSON",
			Destination: &cmd.jsonOutput,
		}
	}

	app.Commands = append(app.Commands,
		&cli.Command{
			Name:      "edit",
			Usage:     "Change a task's title, description or status",
			UsageText: "tasksync edit [options] <id>",
			Description: `Applies the given fields to a task. Fields that are not passed are left as they are.

<id> is a server id, a client id, or a unique prefix of either (at least 4 characters).`,
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:        "title",
					Aliases:     []string{"t"},
					Usage:       "new title",
					Destination: &cmd.title,
				},
				&cli.StringFlag{
					Name:        "description",
					Aliases:     []string{"d"},
					Usage:       "new description (empty clears it)",
					Destination: &cmd.description,
				},
				&cli.StringFlag{
					Name:        "status",
					Aliases:     []string{"s"},
					Usage:       "new status",
					Destination: &cmd.status,
				},
				jsonFlag(),
			},
			ShellComplete: TaskRefCompleter(cmd.app, task.ViewAll),
			Action:        cmd.runEdit,
		},
		&cli.Command{
			Name:          "done",
			Usage:         "Mark a task completed",
			UsageText:     "tasksync done <id>",
			Flags:         []cli.Flag{jsonFlag()},
			ShellComplete: TaskRefCompleter(cmd.app, task.ViewActive),
			Action:        cmd.runDone,
		},
	)

	return app
}

func (cmd *EditCmd) runEdit(ctx context.Context, c *cli.Command) error {
	ref := c.Args().First()
	if ref == "" {
		return fmt.Errorf("task id is required")
	}

	var p task.Patch
	if c.IsSet("title") {
		p.Title = &cmd.title
	}
	if c.IsSet("description") {
		p.Description = &cmd.description
	}
	if c.IsSet("status") {
		status, err := task.ParseStatus(cmd.status)
		if err != nil {
			return err
		}
		p.Status = &status
	}
	if p.IsEmpty() {
		return fmt.Errorf("nothing to change: pass --title, --description or --status")
	}

	return cmd.update(ctx, c, ref, p, "updated")
}

func (cmd *EditCmd) runDone(ctx context.Context, c *cli.Command) error {
	ref := c.Args().First()
	if ref == "" {
		return fmt.Errorf("task id is required")
	}

	done := task.StatusCompleted
	return cmd.update(ctx, c, ref, task.Patch{Status: &done}, "completed")
}

func (cmd *EditCmd) update(ctx context.Context, c *cli.Command, ref string, p task.Patch, verb string) error {
	connect(ctx, cmd.flags, cmd.app)

	updated, err := cmd.app.Tasks.Update(ctx, ref, p)
	if err != nil {
		return fmt.Errorf("update task %s: %w", ref, err)
	}

	if cmd.jsonOutput {
		return iojson.WriteWith(c.Root().Writer, c.Root().ErrWriter, updated)
	}

	printMutation(c, verb, updated)
	return nil
}
