package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/orca/internal/app/input"
	"github.com/slok/orca/internal/app/start"
	"github.com/slok/orca/internal/channel"
	"github.com/slok/orca/internal/console"
	"github.com/slok/orca/internal/conventions"
	"github.com/slok/orca/internal/engine"
	enginefake "github.com/slok/orca/internal/engine/fake"
	"github.com/slok/orca/internal/model"
	"github.com/slok/orca/internal/remote"
	"github.com/slok/orca/internal/utils/env"
)

type RunCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	flags runFlags

	host    string
	modules []string
	mode    string
	values  []string
	fake    bool
	noInput bool
	format  string
}

// NewRunCommand returns the run command.
func NewRunCommand(rootCmd *RootCommand, app *kingpin.Application) *RunCommand {
	c := &RunCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("run", "Run an installation on a host following its progress and answering its prompts.")
	c.Cmd.Arg("host", "Target host address, overrides the run config host.").StringVar(&c.host)
	c.Cmd.Flag("module", "Optional module to install (repeatable).").Short('m').StringsVar(&c.modules)
	c.Cmd.Flag("mode", "Installation mode (fresh, addon).").EnumVar(&c.mode, string(model.ModeFresh), string(model.ModeAddon))
	c.Cmd.Flag("value", "Stack value in `key=value` format, a bare key reads the env var (repeatable).").Short('v').StringsVar(&c.values)
	c.Cmd.Flag("fake", "Use an in-memory scripted host instead of SSH.").BoolVar(&c.fake)
	c.Cmd.Flag("no-input", "Don't read answers from the terminal, only auto answers are used.").BoolVar(&c.noInput)
	c.Cmd.Flag("format", "Summary output format (table, json).").Default("table").EnumVar(&c.format, "table", "json")
	c.flags.register(c.Cmd)

	return c
}

func (c RunCommand) Name() string { return c.Cmd.FullCommand() }

func (c RunCommand) Run(ctx context.Context) error {
	logger := c.rootCmd.Logger

	rc, err := c.flags.load(ctx, c.rootCmd.DataDir)
	if err != nil {
		return err
	}

	values, err := env.ParseValues(c.values)
	if err != nil {
		return fmt.Errorf("invalid values: %w", err)
	}
	setIf(&rc.Task.Host, c.host)
	setIf(&rc.Task.Mode, model.Mode(c.mode))
	if len(c.modules) > 0 {
		rc.Task.Modules = c.modules
	}
	rc.Task.Values = env.MergeMaps(rc.Task.Values, values)

	if err := rc.Validate(); err != nil {
		return fmt.Errorf("invalid run configuration: %w", err)
	}

	var provider remote.Provider
	if c.fake {
		provider = enginefake.NewHost(enginefake.HostConfig{}).Provider()
	}

	e, err := engine.New(engine.Config{
		Settings: rc,
		Provider: provider,
		LocksDir: conventions.LocksPath(c.rootCmd.DataDir),
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("could not create engine: %w", err)
	}

	s, baseDir, err := engine.LoadStack(ctx, rc.StackPath)
	if err != nil {
		return fmt.Errorf("could not load stack: %w", err)
	}
	def, err := engine.DefinitionFor(s, baseDir, logger)(rc.Task)
	if err != nil {
		return fmt.Errorf("invalid stack: %w", err)
	}

	creds, err := engine.Credentials(rc)
	if err != nil {
		return err
	}

	// Answers are read from the terminal only.
	var in *os.File
	if f, ok := c.rootCmd.Stdin.(*os.File); ok && !c.noInput && console.IsTerminal(f) {
		in = f
	}
	// JSON summaries keep stdout parseable, the live stream goes to stderr.
	out := c.rootCmd.Stdout
	if c.format == "json" {
		out = c.rootCmd.Stderr
	}
	outTTY := false
	if f, ok := out.(*os.File); ok {
		outTTY = console.IsTerminal(f)
	}

	var taskID string
	obsCfg := console.ObserverConfig{
		Out:     out,
		Color:   !c.rootCmd.NoColor && outTTY,
		Answers: rc.Answers,
		Submit: func(text string) error {
			return e.Input.Run(ctx, input.Request{TaskID: taskID, Input: text})
		},
		Logger: logger,
	}
	if in != nil {
		obsCfg.In = in
	}
	obs, err := console.NewObserver(obsCfg)
	if err != nil {
		return fmt.Errorf("could not create console observer: %w", err)
	}
	defer obs.Stop()

	task, err := e.Starter.Run(ctx, start.Request{
		Config:      rc.Task,
		Definition:  def,
		Credentials: creds,
		Observers: []start.ObserverFactory{func(id string) channel.Sink {
			taskID = id
			return obs
		}},
	})
	if err != nil {
		return fmt.Errorf("could not run task: %w", err)
	}

	if err := c.rootCmd.printer(c.format).PrintTask(*task); err != nil {
		return fmt.Errorf("could not print task: %w", err)
	}

	if task.Status != model.TaskStatusCompleted {
		return fmt.Errorf("installation failed (%s): %s", task.ErrorKind, task.LastError)
	}

	return nil
}
