package status

import (
	"context"
	"errors"
	"fmt"

	"github.com/oklog/ulid/v2"

	"github.com/slok/orca/internal/log"
	"github.com/slok/orca/internal/model"
	"github.com/slok/orca/internal/task"
)

// ServiceConfig is the configuration for the status service.
type ServiceConfig struct {
	Repository task.Repository
	Logger     log.Logger
}

func (c *ServiceConfig) defaults() error {
	if c.Repository == nil {
		return fmt.Errorf("repository is required")
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "app.Status"})

	return nil
}

// Service retrieves the task status snapshots.
type Service struct {
	repo   task.Repository
	logger log.Logger
}

// NewService creates a new status service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		repo:   cfg.Repository,
		logger: cfg.Logger,
	}, nil
}

// Request represents the status request parameters.
type Request struct {
	TaskID string
}

// Run returns the snapshot of a task.
func (s *Service) Run(ctx context.Context, req Request) (*model.Task, error) {
	// Task IDs are ULIDs, anything else is not a task.
	if _, err := ulid.ParseStrict(req.TaskID); err != nil {
		return nil, fmt.Errorf("task not found: %s: %w", req.TaskID, model.ErrNotFound)
	}

	t, err := s.repo.GetTask(ctx, req.TaskID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, fmt.Errorf("task not found: %s: %w", req.TaskID, model.ErrNotFound)
		}
		return nil, fmt.Errorf("could not get task status: %w", err)
	}

	return t, nil
}

// List returns all the known tasks, oldest first.
func (s *Service) List(ctx context.Context) ([]model.Task, error) {
	ts, err := s.repo.ListTasks(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not list tasks: %w", err)
	}

	s.logger.Debugf("listed %d tasks", len(ts))
	return ts, nil
}
