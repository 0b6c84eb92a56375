package lib

import (
	"context"
	"fmt"
	"time"

	"github.com/slok/orca/internal/engine"
	enginefake "github.com/slok/orca/internal/engine/fake"
	"github.com/slok/orca/internal/log"
	"github.com/slok/orca/internal/model"
	"github.com/slok/orca/internal/remote"
)

// Config configures the SDK client.
//
// All fields are optional and have sensible defaults. An empty Config{} connects to the
// hosts with SSH and uses the default timings.
type Config struct {
	// Logger receives structured log output from the SDK.
	// Default: noop (silent). See the log sub-package for the interface.
	Logger log.Logger

	// Fake replaces SSH with an in-memory scripted host that behaves like a fresh machine
	// for the default stack. Use it for testing without real infrastructure.
	Fake bool

	// FakeDelay is the pause between the output chunks of the fake host programs.
	// Only used when Fake is set.
	FakeDelay time.Duration

	// LocksDir enables the per host lock so only one task runs on a host at a time,
	// across processes.
	LocksDir string

	// Tuning has the engine timings and retries.
	Tuning Tuning
}

// Tuning has the engine timings and retries. Zero values mean defaults.
type Tuning struct {
	ConnectTimeout     time.Duration
	CommandTimeout     time.Duration
	InteractiveTimeout time.Duration
	// PromptTimeout is the max wait for an answer, 0 waits forever.
	PromptTimeout time.Duration
	// GracePeriod of silence after which an unterminated line is a prompt.
	GracePeriod time.Duration
	// SettleDelay of silence required for a prompt-shaped line.
	SettleDelay time.Duration
	// PromptPatterns are extra regexes that identify prompts.
	PromptPatterns []string
	ConnectRetries int
	ConnectBackoff time.Duration
	// ResourcePatterns are the regexes that identify recoverable resource exhaustion.
	ResourcePatterns []string
	// CheckpointDir is the remote dir of the phase sentinel files.
	CheckpointDir  string
	KnownHostsFile string
}

func (c *Config) defaults() error {
	if c.Logger == nil {
		c.Logger = log.Noop
	}

	return nil
}

// Client is the main SDK entry point for running installation tasks programmatically.
//
// Create a Client with [New] and release its resources with [Client.Close].
// A Client is safe for concurrent use.
type Client struct {
	engine *engine.Engine
	logger log.Logger
}

// New creates a new SDK client.
//
// The caller must call [Client.Close] when done, it cancels the running tasks:
//
//	client, err := lib.New(lib.Config{})
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
func New(cfg Config) (*Client, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	var provider remote.Provider
	if cfg.Fake {
		provider = enginefake.NewHost(enginefake.HostConfig{Delay: cfg.FakeDelay}).Provider()
	}

	t := cfg.Tuning
	e, err := engine.New(engine.Config{
		Settings: model.RunConfig{
			KnownHostsFile:     t.KnownHostsFile,
			ConnectTimeout:     t.ConnectTimeout,
			CommandTimeout:     t.CommandTimeout,
			InteractiveTimeout: t.InteractiveTimeout,
			PromptTimeout:      t.PromptTimeout,
			GracePeriod:        t.GracePeriod,
			SettleDelay:        t.SettleDelay,
			PromptPatterns:     t.PromptPatterns,
			ConnectRetries:     t.ConnectRetries,
			ConnectBackoff:     t.ConnectBackoff,
			ResourcePatterns:   t.ResourcePatterns,
			CheckpointDir:      t.CheckpointDir,
		},
		Provider: provider,
		LocksDir: cfg.LocksDir,
		Logger:   cfg.Logger,
	})
	if err != nil {
		return nil, mapError(fmt.Errorf("could not create engine: %w", err))
	}

	return &Client{
		engine: e,
		logger: cfg.Logger,
	}, nil
}

// Close cancels the running tasks and waits for them to end.
// After Close returns, the client must not be used.
func (c *Client) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return c.engine.Shutdown(ctx)
}
