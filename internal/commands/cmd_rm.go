package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/colonyops/tasksync/internal/core/task"
	"github.com/colonyops/tasksync/internal/tasksvc"
)

type RmCmd struct {
	flags *Flags
	app   *tasksvc.App
}

// NewRmCmd creates a new rm command
func NewRmCmd(flags *Flags, app *tasksvc.App) *RmCmd {
	return &RmCmd{flags: flags, app: app}
}

// Register adds the rm command to the application
func (cmd *RmCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "rm",
		Usage:     "Delete tasks",
		UsageText: "tasksync rm <id> [id...]",
		Description: `Deletes tasks. They disappear from listings immediately; the server
deletion is sent now or queued until the next sync.`,
		ShellComplete: TaskRefCompleter(cmd.app, task.ViewAll),
		Action:        cmd.run,
	})

	return app
}

func (cmd *RmCmd) run(ctx context.Context, c *cli.Command) error {
	refs := c.Args().Slice()
	if len(refs) == 0 {
		return fmt.Errorf("at least one task id is required")
	}

	connect(ctx, cmd.flags, cmd.app)

	var (
		w    = c.Root().Writer
		r    = newRenderer(w)
		errs []error
	)
	for _, ref := range refs {
		if err := cmd.app.Tasks.Remove(ctx, ref); err != nil {
			log.Debug().Err(err).Str("ref", ref).Msg("remove task")
			errs = append(errs, fmt.Errorf("remove %s: %w", ref, err))
			continue
		}
		_, _ = fmt.Fprintf(w, "removed %s\n", r.header(ref))
	}

	return errors.Join(errs...)
}
