package input

import (
	"context"
	"errors"
	"fmt"

	"github.com/slok/orca/internal/channel"
	"github.com/slok/orca/internal/log"
	"github.com/slok/orca/internal/model"
	"github.com/slok/orca/internal/task"
)

// ServiceConfig is the configuration for the input service.
type ServiceConfig struct {
	Channels   *channel.Manager
	Repository task.Repository
	Logger     log.Logger
}

func (c *ServiceConfig) defaults() error {
	if c.Channels == nil {
		return fmt.Errorf("channels is required")
	}

	if c.Repository == nil {
		return fmt.Errorf("repository is required")
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "app.Input"})

	return nil
}

// Service answers the prompts of the running tasks.
type Service struct {
	channels *channel.Manager
	repo     task.Repository
	logger   log.Logger
}

// NewService creates a new input service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		channels: cfg.Channels,
		repo:     cfg.Repository,
		logger:   cfg.Logger,
	}, nil
}

// Request represents the input request parameters.
type Request struct {
	TaskID string
	Input  string
}

// Run delivers the input to the outstanding prompt of the task.
func (s *Service) Run(ctx context.Context, req Request) error {
	err := s.channels.SubmitInput(req.TaskID, req.Input)
	if err == nil {
		s.logger.Debugf("input delivered to task %s", req.TaskID)
		return nil
	}

	if !errors.Is(err, model.ErrNotFound) {
		return err
	}

	// Without channel the task is unknown or already ended.
	t, gerr := s.repo.GetTask(ctx, req.TaskID)
	if gerr != nil {
		return fmt.Errorf("could not get task: %w", gerr)
	}

	return fmt.Errorf("task %s is %s: %w", t.ID, t.Status, model.ErrNoPendingPrompt)
}
