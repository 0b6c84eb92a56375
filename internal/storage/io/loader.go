package io

import (
	"context"
	"fmt"
	"io/fs"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/slok/orca/internal/model"
)

// RunConfigYAMLRepository loads run configuration from YAML files.
type RunConfigYAMLRepository struct {
	fs fs.FS
}

// NewRunConfigYAMLRepository creates a new YAML run config repository.
func NewRunConfigYAMLRepository(filesystem fs.FS) *RunConfigYAMLRepository {
	return &RunConfigYAMLRepository{fs: filesystem}
}

// GetRunConfig loads a run configuration from a YAML file and returns a validated domain model.
func (r *RunConfigYAMLRepository) GetRunConfig(ctx context.Context, path string) (model.RunConfig, error) {
	data, err := fs.ReadFile(r.fs, path)
	if err != nil {
		return model.RunConfig{}, fmt.Errorf("reading config file: %w", err)
	}

	if ctx.Err() != nil {
		return model.RunConfig{}, ctx.Err()
	}

	var cfg RunConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return model.RunConfig{}, fmt.Errorf("parsing YAML: %w", err)
	}

	m := cfg.toModel()
	if err := m.Validate(); err != nil {
		return model.RunConfig{}, fmt.Errorf("invalid configuration: %w", err)
	}

	return m, nil
}

// RunConfig represents the YAML structure for run configuration.
type RunConfig struct {
	Host          string            `yaml:"host"`
	Port          int               `yaml:"port"`
	User          string            `yaml:"user"`
	PrivateKey    string            `yaml:"private_key"`
	Password      string            `yaml:"password"`
	KnownHosts    string            `yaml:"known_hosts"`
	Stack         string            `yaml:"stack"`
	Modules       []string          `yaml:"modules"`
	Mode          string            `yaml:"mode"`
	Values        map[string]string `yaml:"values"`
	Timeouts      TimeoutsConfig    `yaml:"timeouts"`
	Prompt        PromptConfig      `yaml:"prompt"`
	Recovery      RecoveryConfig    `yaml:"recovery"`
	CheckpointDir string            `yaml:"checkpoint_dir"`
	Answers       []AnswerConfig    `yaml:"answers"`
}

// TimeoutsConfig represents the YAML structure for timeouts configuration.
type TimeoutsConfig struct {
	Connect     time.Duration `yaml:"connect"`
	Command     time.Duration `yaml:"command"`
	Interactive time.Duration `yaml:"interactive"`
	Prompt      time.Duration `yaml:"prompt"`
}

// PromptConfig represents the YAML structure for prompt detection configuration.
type PromptConfig struct {
	GracePeriod time.Duration `yaml:"grace_period"`
	SettleDelay time.Duration `yaml:"settle_delay"`
	Patterns    []string      `yaml:"patterns"`
}

// RecoveryConfig represents the YAML structure for recovery configuration.
type RecoveryConfig struct {
	ConnectRetries   int           `yaml:"connect_retries"`
	ConnectBackoff   time.Duration `yaml:"connect_backoff"`
	ResourcePatterns []string      `yaml:"resource_patterns"`
}

// AnswerConfig represents the YAML structure for an automatic answer.
type AnswerConfig struct {
	Pattern string `yaml:"pattern"`
	Value   string `yaml:"value"`
}

func (c RunConfig) toModel() model.RunConfig {
	cfg := model.RunConfig{
		Task: model.TaskConfig{
			Host:    c.Host,
			Modules: c.Modules,
			Mode:    model.Mode(c.Mode),
			Values:  c.Values,
		},
		User:               c.User,
		Port:               c.Port,
		PrivateKeyPath:     c.PrivateKey,
		Password:           c.Password,
		KnownHostsFile:     c.KnownHosts,
		StackPath:          c.Stack,
		ConnectTimeout:     c.Timeouts.Connect,
		CommandTimeout:     c.Timeouts.Command,
		InteractiveTimeout: c.Timeouts.Interactive,
		PromptTimeout:      c.Timeouts.Prompt,
		GracePeriod:        c.Prompt.GracePeriod,
		SettleDelay:        c.Prompt.SettleDelay,
		PromptPatterns:     c.Prompt.Patterns,
		ConnectRetries:     c.Recovery.ConnectRetries,
		ConnectBackoff:     c.Recovery.ConnectBackoff,
		ResourcePatterns:   c.Recovery.ResourcePatterns,
		CheckpointDir:      c.CheckpointDir,
	}

	for _, a := range c.Answers {
		cfg.Answers = append(cfg.Answers, model.AutoAnswer{Pattern: a.Pattern, Value: a.Value})
	}

	return cfg
}
