package model

import (
	"fmt"
	"regexp"
	"time"
)

// AutoAnswer answers the prompts that match the pattern without asking the operator.
type AutoAnswer struct {
	Pattern string
	Value   string
}

// RunConfig is the configuration of an installation run: the task, how to reach the
// host and the tuning of the engine. Zero values mean defaults.
type RunConfig struct {
	Task TaskConfig

	User           string
	Port           int
	PrivateKeyPath string
	Password       string
	KnownHostsFile string

	// StackPath is the stack definition, empty means the embedded default stack.
	StackPath string

	ConnectTimeout     time.Duration
	CommandTimeout     time.Duration
	InteractiveTimeout time.Duration
	PromptTimeout      time.Duration

	GracePeriod    time.Duration
	SettleDelay    time.Duration
	PromptPatterns []string

	ConnectRetries   int
	ConnectBackoff   time.Duration
	ResourcePatterns []string

	CheckpointDir string
	Answers       []AutoAnswer
}

// Validate validates the run configuration.
func (c *RunConfig) Validate() error {
	if err := c.Task.Validate(); err != nil {
		return err
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d: %w", c.Port, ErrNotValid)
	}
	for _, d := range []time.Duration{c.ConnectTimeout, c.CommandTimeout, c.InteractiveTimeout, c.PromptTimeout, c.GracePeriod, c.SettleDelay, c.ConnectBackoff} {
		if d < 0 {
			return fmt.Errorf("durations can't be negative: %w", ErrNotValid)
		}
	}
	if c.ConnectRetries < 0 {
		return fmt.Errorf("connect retries can't be negative: %w", ErrNotValid)
	}
	for _, a := range c.Answers {
		if _, err := regexp.Compile(a.Pattern); err != nil {
			return fmt.Errorf("invalid answer pattern %q: %w", a.Pattern, ErrNotValid)
		}
	}
	return nil
}
