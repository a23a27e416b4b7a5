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

type importItem struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Status      string `json:"status"`
}

type ImportCmd struct {
	flags *Flags
	app   *tasksvc.App

	reader iojson.FileReader[[]importItem]
}

// NewImportCmd creates a new import command
func NewImportCmd(flags *Flags, app *tasksvc.App) *ImportCmd {
	return &ImportCmd{flags: flags, app: app}
}

// Register adds the import command to the application
func (cmd *ImportCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "import",
		Usage:     "Create tasks from a JSON array",
		UsageText: "tasksync import [-f tasks.json]",
		Description: `Reads a JSON array of objects with "title", "description" and "status"
fields and creates one task per element, in order.

Example:
  echo '[{"title":"Buy milk"},{"title":"Call bank","status":"InProgress"}]' | tasksync import

All elements are validated before any task is created.`,
		Flags:  []cli.Flag{cmd.reader.Flag()},
		Action: cmd.run,
	})

	return app
}

func (cmd *ImportCmd) run(ctx context.Context, c *cli.Command) error {
	items, err := cmd.reader.Read()
	if err != nil {
		return err
	}

	inputs := make([]task.Input, 0, len(items))
	for i, it := range items {
		in := task.Input{Title: it.Title, Description: it.Description, Status: task.StatusPending}
		if it.Status != "" {
			status, err := task.ParseStatus(it.Status)
			if err != nil {
				return fmt.Errorf("item %d: %w", i, err)
			}
			in.Status = status
		}
		if strings.TrimSpace(in.Title) == "" {
			return fmt.Errorf("item %d: %w: title cannot be empty", i, task.ErrInvalid)
		}
		inputs = append(inputs, in)
	}

	connect(ctx, cmd.flags, cmd.app)

	for _, in := range inputs {
		created, err := cmd.app.Tasks.Create(ctx, in)
		if err != nil {
			return fmt.Errorf("create %q: %w", in.Title, err)
		}
		printMutation(c, "created", created)
	}
	return nil
}
