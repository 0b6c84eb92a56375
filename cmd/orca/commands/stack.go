package commands

import (
	"context"
	"fmt"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/orca/internal/engine"
	"github.com/slok/orca/internal/model"
)

type StackShowCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	stack  string
	format string
}

// NewStackShowCommand returns the stack show command.
func NewStackShowCommand(rootCmd *RootCommand, stackCmd *kingpin.CmdClause) *StackShowCommand {
	c := &StackShowCommand{rootCmd: rootCmd}

	c.Cmd = stackCmd.Command("show", "Validate and show the phases, modules and weights of a stack.")
	c.Cmd.Arg("stack", "Stack definition file or name of a stack in the data dir, by default the embedded stack.").StringVar(&c.stack)
	c.Cmd.Flag("format", "Output format (table, json).").Default("table").EnumVar(&c.format, "table", "json")

	return c
}

func (c StackShowCommand) Name() string { return c.Cmd.FullCommand() }

func (c StackShowCommand) Run(ctx context.Context) error {
	path := ""
	if c.stack != "" {
		path = resolveStack(c.rootCmd.DataDir, c.stack)
	}

	s, baseDir, err := engine.LoadStack(ctx, path)
	if err != nil {
		return fmt.Errorf("could not load stack: %w", err)
	}

	// Values are expanded when the steps run, building checks the structure.
	if _, err := engine.DefinitionFor(s, baseDir, c.rootCmd.Logger)(model.TaskConfig{}); err != nil {
		return fmt.Errorf("invalid stack: %w", err)
	}

	if err := c.rootCmd.printer(c.format).PrintStack(s); err != nil {
		return fmt.Errorf("could not print stack: %w", err)
	}

	return nil
}
