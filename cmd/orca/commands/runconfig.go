package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/orca/internal/conventions"
	"github.com/slok/orca/internal/model"
	storageio "github.com/slok/orca/internal/storage/io"
	"github.com/slok/orca/internal/utils/env"
)

// runFlags are the flags shared by the commands that run tasks. Flags override the run
// config file.
type runFlags struct {
	configPath string

	user           string
	port           int
	privateKeyPath string
	password       string
	knownHosts     string
	stack          string

	connectTimeout     time.Duration
	commandTimeout     time.Duration
	interactiveTimeout time.Duration
	promptTimeout      time.Duration
	gracePeriod        time.Duration
	settleDelay        time.Duration
	connectRetries     int
	checkpointDir      string
	promptPatterns     []string
	answers            []string
}

func (f *runFlags) register(cmd *kingpin.CmdClause) {
	cmd.Flag("config", "Run config YAML file, by default `run.yaml` in the data dir if present.").Short('c').StringVar(&f.configPath)
	cmd.Flag("user", "SSH user.").Short('u').StringVar(&f.user)
	cmd.Flag("port", "SSH port.").IntVar(&f.port)
	cmd.Flag("private-key", "SSH private key file.").Short('i').StringVar(&f.privateKeyPath)
	cmd.Flag("password", "SSH password, used without private key.").StringVar(&f.password)
	cmd.Flag("known-hosts", "Known hosts file, host keys are not verified without it.").StringVar(&f.knownHosts)
	cmd.Flag("stack", "Stack definition file or name of a stack in the data dir, by default the embedded stack.").StringVar(&f.stack)
	cmd.Flag("connect-timeout", "SSH connection timeout.").DurationVar(&f.connectTimeout)
	cmd.Flag("command-timeout", "Default timeout of non interactive commands.").DurationVar(&f.commandTimeout)
	cmd.Flag("interactive-timeout", "Default timeout of interactive commands.").DurationVar(&f.interactiveTimeout)
	cmd.Flag("prompt-timeout", "Max wait for an answer, 0 waits forever.").DurationVar(&f.promptTimeout)
	cmd.Flag("grace-period", "Silence after which unterminated output is a prompt.").DurationVar(&f.gracePeriod)
	cmd.Flag("settle-delay", "Silence required after a prompt-shaped line.").DurationVar(&f.settleDelay)
	cmd.Flag("connect-retries", "Connection retries.").IntVar(&f.connectRetries)
	cmd.Flag("checkpoint-dir", "Remote dir of the phase checkpoint markers.").StringVar(&f.checkpointDir)
	cmd.Flag("prompt-pattern", "Extra regex that identifies prompts (repeatable).").StringsVar(&f.promptPatterns)
	cmd.Flag("answer", "Auto answer in `regex=value` format (repeatable).").Short('a').StringsVar(&f.answers)
}

// load returns the run config from the config file with the flags applied on top.
func (f runFlags) load(ctx context.Context, dataDir string) (model.RunConfig, error) {
	var rc model.RunConfig

	path := f.configPath
	if path == "" {
		def := filepath.Join(dataDir, conventions.RunConfigFile)
		if _, err := os.Stat(def); err == nil {
			path = def
		}
	}
	if path != "" {
		abs, err := filepath.Abs(path)
		if err != nil {
			return rc, fmt.Errorf("could not resolve config path: %w", err)
		}
		repo := storageio.NewRunConfigYAMLRepository(os.DirFS(filepath.Dir(abs)))
		rc, err = repo.GetRunConfig(ctx, filepath.Base(abs))
		if err != nil {
			return rc, fmt.Errorf("could not load run config: %w", err)
		}
	}

	setIf(&rc.User, f.user)
	setIf(&rc.PrivateKeyPath, f.privateKeyPath)
	setIf(&rc.Password, f.password)
	setIf(&rc.KnownHostsFile, f.knownHosts)
	setIf(&rc.CheckpointDir, f.checkpointDir)
	setIf(&rc.Port, f.port)
	setIf(&rc.ConnectRetries, f.connectRetries)
	setIf(&rc.ConnectTimeout, f.connectTimeout)
	setIf(&rc.CommandTimeout, f.commandTimeout)
	setIf(&rc.InteractiveTimeout, f.interactiveTimeout)
	setIf(&rc.PromptTimeout, f.promptTimeout)
	setIf(&rc.GracePeriod, f.gracePeriod)
	setIf(&rc.SettleDelay, f.settleDelay)
	rc.PromptPatterns = append(rc.PromptPatterns, f.promptPatterns...)

	if f.stack != "" {
		rc.StackPath = resolveStack(dataDir, f.stack)
	}

	answers, err := env.ParseAnswers(f.answers)
	if err != nil {
		return rc, fmt.Errorf("invalid answers: %w", err)
	}
	// Flag answers are checked first.
	rc.Answers = append(answers, rc.Answers...)

	return rc, nil
}

// resolveStack returns the stack file, names without extension are looked up in the
// data dir.
func resolveStack(dataDir, stack string) string {
	if filepath.Ext(stack) == "" && filepath.Base(stack) == stack {
		return conventions.StackPath(dataDir, stack)
	}
	return stack
}

func setIf[T comparable](dst *T, v T) {
	var zero T
	if v != zero {
		*dst = v
	}
}
