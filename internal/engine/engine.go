// Package engine wires the orchestration components from a run configuration.
package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/slok/orca/internal/app/input"
	"github.com/slok/orca/internal/app/start"
	"github.com/slok/orca/internal/app/status"
	"github.com/slok/orca/internal/channel"
	"github.com/slok/orca/internal/checkpoint"
	"github.com/slok/orca/internal/executor"
	"github.com/slok/orca/internal/hostlock"
	"github.com/slok/orca/internal/log"
	"github.com/slok/orca/internal/model"
	"github.com/slok/orca/internal/pipeline"
	"github.com/slok/orca/internal/prompt"
	"github.com/slok/orca/internal/recovery"
	"github.com/slok/orca/internal/remote"
	"github.com/slok/orca/internal/ssh"
	"github.com/slok/orca/internal/stack"
	"github.com/slok/orca/internal/task"
	"github.com/slok/orca/internal/task/memory"
)

// Config is the engine configuration.
type Config struct {
	// Settings has the tuning of the engine, the task fields are ignored.
	Settings model.RunConfig
	// Provider defaults to SSH.
	Provider remote.Provider
	// LocksDir enables the per host lock when set.
	LocksDir string
	Logger   log.Logger
}

func (c *Config) defaults() error {
	if c.Logger == nil {
		c.Logger = log.Noop
	}

	if c.Provider == nil {
		p, err := ssh.NewProvider(ssh.ProviderConfig{
			ConnectTimeout: c.Settings.ConnectTimeout,
			KnownHostsFile: c.Settings.KnownHostsFile,
			Logger:         c.Logger,
		})
		if err != nil {
			return fmt.Errorf("could not create SSH provider: %w", err)
		}
		c.Provider = p
	}

	return nil
}

// Engine has the wired services of the orchestrator.
type Engine struct {
	Repository task.Repository
	Channels   *channel.Manager
	Classifier *prompt.Classifier
	Starter    *start.Service
	Status     *status.Service
	Input      *input.Service
}

// New wires a new engine.
func New(cfg Config) (*Engine, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	s := cfg.Settings

	repo, err := memory.NewRepository(memory.RepositoryConfig{Logger: cfg.Logger})
	if err != nil {
		return nil, fmt.Errorf("could not create task repository: %w", err)
	}

	channels, err := channel.NewManager(channel.ManagerConfig{Logger: cfg.Logger})
	if err != nil {
		return nil, fmt.Errorf("could not create channel manager: %w", err)
	}

	cls, err := prompt.NewClassifier(prompt.ClassifierConfig{
		GracePeriod:   s.GracePeriod,
		SettleDelay:   s.SettleDelay,
		ExtraPatterns: s.PromptPatterns,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create prompt classifier: %w", err)
	}

	exec, err := executor.NewExecutor(executor.ExecutorConfig{Classifier: cls, Logger: cfg.Logger})
	if err != nil {
		return nil, fmt.Errorf("could not create executor: %w", err)
	}

	checkpoints, err := checkpoint.NewChecker(checkpoint.CheckerConfig{Dir: s.CheckpointDir, Logger: cfg.Logger})
	if err != nil {
		return nil, fmt.Errorf("could not create checkpoint checker: %w", err)
	}

	rec, err := recovery.NewManager(recovery.ManagerConfig{
		ResourcePatterns: s.ResourcePatterns,
		ConnectRetries:   s.ConnectRetries,
		ConnectBackoff:   s.ConnectBackoff,
		Checkpoints:      checkpoints,
		Logger:           cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create recovery manager: %w", err)
	}

	orch, err := pipeline.NewOrchestrator(pipeline.OrchestratorConfig{
		Provider:           cfg.Provider,
		Executor:           exec,
		Recovery:           rec,
		Checkpoints:        checkpoints,
		Repository:         repo,
		CommandTimeout:     s.CommandTimeout,
		InteractiveTimeout: s.InteractiveTimeout,
		PromptTimeout:      s.PromptTimeout,
		Logger:             cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create orchestrator: %w", err)
	}

	var locker *hostlock.Locker
	if cfg.LocksDir != "" {
		locker, err = hostlock.NewLocker(cfg.LocksDir)
		if err != nil {
			return nil, fmt.Errorf("could not create host locker: %w", err)
		}
	}

	starter, err := start.NewService(start.ServiceConfig{
		Runner:     orch,
		Repository: repo,
		Channels:   channels,
		Locker:     locker,
		Logger:     cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create start service: %w", err)
	}

	st, err := status.NewService(status.ServiceConfig{Repository: repo, Logger: cfg.Logger})
	if err != nil {
		return nil, fmt.Errorf("could not create status service: %w", err)
	}

	in, err := input.NewService(input.ServiceConfig{Channels: channels, Repository: repo, Logger: cfg.Logger})
	if err != nil {
		return nil, fmt.Errorf("could not create input service: %w", err)
	}

	return &Engine{
		Repository: repo,
		Channels:   channels,
		Classifier: cls,
		Starter:    starter,
		Status:     st,
		Input:      in,
	}, nil
}

// Shutdown cancels the running tasks and waits for them.
func (e *Engine) Shutdown(ctx context.Context) error {
	return e.Starter.Shutdown(ctx)
}

// LoadStack loads the stack definition file, an empty path returns the embedded default
// stack. The returned base dir is where the stack local files are resolved from.
func LoadStack(ctx context.Context, path string) (s *stack.Stack, baseDir string, err error) {
	if path == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, "", fmt.Errorf("could not get working dir: %w", err)
		}
		return stack.Default(), wd, nil
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, "", fmt.Errorf("could not resolve stack path: %w", err)
	}
	dir := filepath.Dir(abs)

	repo := stack.NewYAMLRepository(os.DirFS(dir))
	s, err = repo.GetStack(ctx, filepath.Base(abs))
	if err != nil {
		return nil, "", err
	}

	return s, dir, nil
}

// DefinitionFor builds the installation definition of a task from a stack.
func DefinitionFor(s *stack.Stack, baseDir string, logger log.Logger) func(cfg model.TaskConfig) (pipeline.Definition, error) {
	return func(cfg model.TaskConfig) (pipeline.Definition, error) {
		return stack.Build(s, stack.BuildConfig{
			Values:  cfg.Values,
			BaseDir: baseDir,
			Logger:  logger,
		})
	}
}

// Credentials returns the host credentials of a run, the private key is read from disk.
func Credentials(rc model.RunConfig) (remote.Credentials, error) {
	creds := remote.Credentials{
		User:     rc.User,
		Password: rc.Password,
		Port:     rc.Port,
	}

	if rc.PrivateKeyPath != "" {
		key, err := os.ReadFile(rc.PrivateKeyPath)
		if err != nil {
			return remote.Credentials{}, fmt.Errorf("could not read private key: %w", err)
		}
		creds.PrivateKey = key
	}

	return creds, nil
}
