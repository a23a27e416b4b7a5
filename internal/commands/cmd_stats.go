package commands

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"github.com/colonyops/tasksync/internal/tasksvc"
	"github.com/colonyops/tasksync/pkg/iojson"
)

type StatsCmd struct {
	flags *Flags
	app   *tasksvc.App

	jsonOutput bool
}

// NewStatsCmd creates a new stats command
func NewStatsCmd(flags *Flags, app *tasksvc.App) *StatsCmd {
	return &StatsCmd{flags: flags, app: app}
}

// Register adds the stats command to the application
func (cmd *StatsCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "stats",
		Usage:     "Count tasks by status",
		UsageText: "tasksync stats [--json]",
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

func (cmd *StatsCmd) run(ctx context.Context, c *cli.Command) error {
	stats, err := cmd.app.Tasks.Stats(ctx)
	if err != nil {
		return fmt.Errorf("compute stats: %w", err)
	}

	if cmd.jsonOutput {
		return iojson.WriteWith(c.Root().Writer, c.Root().ErrWriter, stats)
	}

	r := newRenderer(c.Root().Writer)
	w := tabwriter.NewWriter(c.Root().Writer, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Total\t%d\n", stats.Total)
	_, _ = fmt.Fprintf(w, "Pending\t%d\n", stats.Pending)
	_, _ = fmt.Fprintf(w, "%s\t%d\n", r.info("InProgress"), stats.InProgress)
	_, _ = fmt.Fprintf(w, "%s\t%d\n", r.success("Completed"), stats.Completed)
	if stats.Unsynced > 0 {
		_, _ = fmt.Fprintf(w, "%s\t%d\n", r.warning("Unsynced"), stats.Unsynced)
	}
	return w.Flush()
}
