package commands

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/colonyops/tasksync/internal/core/task"
	"github.com/colonyops/tasksync/internal/tasksvc"
)

// TaskRefCompleter returns a ShellCompleteFunc that suggests task ids,
// described by their titles, as positional completions. Completion reads the
// local replica only.
//
// When the user's last typed argument starts with "-", it falls back to the
// default flag completion behavior.
func TaskRefCompleter(app *tasksvc.App, view task.View) cli.ShellCompleteFunc {
	return func(ctx context.Context, cmd *cli.Command) {
		if args := cmd.Args(); args.Present() {
			last := args.Slice()[args.Len()-1]
			if len(last) > 0 && last[0] == '-' {
				cli.DefaultCompleteWithFlags(ctx, cmd)
				return
			}
		}

		tasks, err := app.Tasks.List(ctx, task.Filter{View: view})
		if err != nil {
			return
		}

		w := cmd.Root().Writer
		for _, t := range tasks {
			_, _ = fmt.Fprintf(w, "%s:%s\n", displayID(t), t.Title)
		}
	}
}
