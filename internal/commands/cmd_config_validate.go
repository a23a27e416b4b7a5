package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/colonyops/tasksync/internal/core/config"
	"github.com/colonyops/tasksync/pkg/iojson"
)

type ConfigValidateCmd struct {
	flags  *Flags
	format string
}

// NewConfigValidateCmd creates a new config validate command.
func NewConfigValidateCmd(flags *Flags) *ConfigValidateCmd {
	return &ConfigValidateCmd{flags: flags}
}

// Register adds the config validate command to the application.
func (cmd *ConfigValidateCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:  "config",
		Usage: "Configuration management commands",
		Commands: []*cli.Command{
			{
				Name:        "validate",
				Usage:       "Validate configuration file",
				UsageText:   "tasksync config validate [options]",
				Description: "Validates the configuration file, checking the server URL, timing relationships, database settings and file paths.",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:        "format",
						Usage:       "output format (text, json)",
						Value:       "text",
						Destination: &cmd.format,
					},
				},
				Action: cmd.run,
			},
		},
	})

	return app
}

type validateView struct {
	Valid    bool                       `json:"valid"`
	Errors   []string                   `json:"errors,omitempty"`
	Warnings []config.ValidationWarning `json:"warnings,omitempty"`
}

func (cmd *ConfigValidateCmd) run(ctx context.Context, c *cli.Command) error {
	view := validateView{Valid: true, Warnings: cmd.flags.Config.Warnings()}
	if err := cmd.flags.Config.ValidateDeep(cmd.flags.ConfigPath); err != nil {
		view.Valid = false
		for _, line := range strings.Split(err.Error(), "\n") {
			if line = strings.TrimSpace(line); line != "" {
				view.Errors = append(view.Errors, line)
			}
		}
	}

	switch cmd.format {
	case "json":
		if err := iojson.WriteWith(c.Root().Writer, c.Root().ErrWriter, view); err != nil {
			return err
		}
	case "text":
		cmd.outputText(c, view)
	default:
		return fmt.Errorf("unknown format %q (text, json)", cmd.format)
	}

	if !view.Valid {
		return cli.Exit("", 1)
	}
	return nil
}

func (cmd *ConfigValidateCmd) outputText(c *cli.Command, v validateView) {
	w := c.Root().Writer
	r := newRenderer(w)

	for _, warn := range v.Warnings {
		_, _ = fmt.Fprintf(w, "%s %s: %s\n", r.warning("warn"), warn.Category, warn.Message)
		if warn.Item != "" {
			_, _ = fmt.Fprintf(w, "  Item: %s\n", warn.Item)
		}
	}

	for _, e := range v.Errors {
		_, _ = fmt.Fprintf(w, "%s %s\n", r.failure("error"), e)
	}

	_, _ = fmt.Fprintln(w)
	if v.Valid {
		_, _ = fmt.Fprintln(w, r.success("Configuration is valid"))
		return
	}
	_, _ = fmt.Fprintf(w, "%s\n", r.failure(fmt.Sprintf("%d error(s) found", len(v.Errors))))
}
