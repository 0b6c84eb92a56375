package commands

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/orca/internal/prompt"
)

type PromptCheckCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	gracePeriod time.Duration
	settleDelay time.Duration
	silence     time.Duration
	patterns    []string
	format      string
}

// NewPromptCheckCommand returns the prompt check command.
func NewPromptCheckCommand(rootCmd *RootCommand, promptCmd *kingpin.CmdClause) *PromptCheckCommand {
	c := &PromptCheckCommand{rootCmd: rootCmd}

	c.Cmd = promptCmd.Command("check", "Classify the output read from stdin as a remote program would produce it.")
	c.Cmd.Flag("grace-period", "Silence after which unterminated output is a prompt.").DurationVar(&c.gracePeriod)
	c.Cmd.Flag("settle-delay", "Silence required after a prompt-shaped line.").DurationVar(&c.settleDelay)
	c.Cmd.Flag("silence", "Silence since the last output to simulate, by default the settle delay.").DurationVar(&c.silence)
	c.Cmd.Flag("prompt-pattern", "Extra regex that identifies prompts (repeatable).").StringsVar(&c.patterns)
	c.Cmd.Flag("format", "Output format (table, json).").Default("table").EnumVar(&c.format, "table", "json")

	return c
}

func (c PromptCheckCommand) Name() string { return c.Cmd.FullCommand() }

func (c PromptCheckCommand) Run(ctx context.Context) error {
	cfg := prompt.ClassifierConfig{
		GracePeriod:   c.gracePeriod,
		SettleDelay:   c.settleDelay,
		ExtraPatterns: c.patterns,
	}
	cls, err := prompt.NewClassifier(cfg)
	if err != nil {
		return fmt.Errorf("could not create classifier: %w", err)
	}

	silence := c.silence
	if silence == 0 {
		silence = c.settleDelay
		if silence == 0 {
			silence = prompt.DefaultSettleDelay
		}
	}

	data, err := io.ReadAll(c.rootCmd.Stdin)
	if err != nil {
		return fmt.Errorf("could not read stdin: %w", err)
	}
	text := string(data)

	res := cls.Classify(prompt.Input{Recent: text, SilentFor: silence})
	if err := c.rootCmd.printer(c.format).PrintPromptCheck(text, res); err != nil {
		return fmt.Errorf("could not print result: %w", err)
	}

	return nil
}
