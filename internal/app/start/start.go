package start

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/slok/orca/internal/channel"
	"github.com/slok/orca/internal/hostlock"
	"github.com/slok/orca/internal/log"
	"github.com/slok/orca/internal/model"
	"github.com/slok/orca/internal/pipeline"
	"github.com/slok/orca/internal/remote"
	"github.com/slok/orca/internal/task"
)

// TaskRunner runs a task until it ends.
type TaskRunner interface {
	Run(ctx context.Context, req pipeline.RunRequest) model.Task
}

var _ TaskRunner = &pipeline.Orchestrator{}

// ServiceConfig is the configuration for the start service.
type ServiceConfig struct {
	Runner     TaskRunner
	Repository task.Repository
	Channels   *channel.Manager
	// Locker is optional, when set only one task per host runs at a time.
	Locker *hostlock.Locker
	// NewID defaults to ULIDs.
	NewID   func() string
	TimeNow func() time.Time
	Logger  log.Logger
}

func (c *ServiceConfig) defaults() error {
	if c.Runner == nil {
		return fmt.Errorf("runner is required")
	}

	if c.Repository == nil {
		return fmt.Errorf("repository is required")
	}

	if c.Channels == nil {
		return fmt.Errorf("channels is required")
	}

	if c.TimeNow == nil {
		c.TimeNow = time.Now
	}

	if c.NewID == nil {
		c.NewID = func() string {
			return ulid.MustNew(ulid.Timestamp(c.TimeNow().UTC()), rand.Reader).String()
		}
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "app.Start"})

	return nil
}

type running struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Service starts installation tasks and tracks the running ones. It's the process-wide
// registry of running tasks.
type Service struct {
	runner   TaskRunner
	repo     task.Repository
	channels *channel.Manager
	locker   *hostlock.Locker
	newID    func() string
	timeNow  func() time.Time
	logger   log.Logger

	mu      sync.Mutex
	running map[string]*running
	wg      sync.WaitGroup
}

// NewService creates a new start service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		runner:   cfg.Runner,
		repo:     cfg.Repository,
		channels: cfg.Channels,
		locker:   cfg.Locker,
		newID:    cfg.NewID,
		timeNow:  cfg.TimeNow,
		logger:   cfg.Logger,
		running:  map[string]*running{},
	}, nil
}

// ObserverFactory returns an observer for the task.
type ObserverFactory func(taskID string) channel.Sink

// Request represents the start request parameters.
type Request struct {
	Config      model.TaskConfig
	Definition  pipeline.Definition
	Credentials remote.Credentials
	// Observers are attached to the task channel before the task starts so they don't
	// miss any message.
	Observers []ObserverFactory
}

// Start creates the task and runs it in the background, it returns the task ID. The
// task outlives ctx, use Cancel to stop it.
func (s *Service) Start(ctx context.Context, req Request) (string, error) {
	cfg := req.Config
	if err := cfg.Validate(); err != nil {
		return "", fmt.Errorf("invalid task config: %w", err)
	}

	var lock *hostlock.Lock
	if s.locker != nil {
		l, err := s.locker.TryLock(cfg.Host)
		if err != nil {
			return "", err
		}
		lock = l
	}
	unlock := func() {
		if lock == nil {
			return
		}
		if err := lock.Unlock(); err != nil {
			s.logger.Warningf("could not unlock host: %v", err)
		}
	}

	t := model.Task{
		ID:        s.newID(),
		Config:    cfg,
		Status:    model.TaskStatusConnecting,
		Step:      "Queued",
		CreatedAt: s.timeNow().UTC(),
	}
	if err := s.repo.CreateTask(ctx, t); err != nil {
		unlock()
		return "", fmt.Errorf("could not create task: %w", err)
	}

	h, err := s.channels.Register(t.ID)
	if err != nil {
		unlock()
		return "", fmt.Errorf("could not register task channel: %w", err)
	}
	h.Status(channel.Status{Status: t.Status, Step: t.Step})
	for _, newObserver := range req.Observers {
		if _, err := s.channels.Attach(t.ID, newObserver(t.ID)); err != nil {
			h.Close()
			unlock()
			return "", fmt.Errorf("could not attach observer: %w", err)
		}
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r := &running{cancel: cancel, done: make(chan struct{})}
	s.mu.Lock()
	s.running[t.ID] = r
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			cancel()
			h.Close()
			unlock()

			s.mu.Lock()
			delete(s.running, t.ID)
			s.mu.Unlock()
			close(r.done)
		}()

		res := s.runner.Run(runCtx, pipeline.RunRequest{
			Task:        t,
			Definition:  req.Definition,
			Credentials: req.Credentials,
			Channel:     h,
		})
		s.logger.Infof("task %s on %s finished: %s", res.ID, res.Config.Host, res.Status)
	}()

	s.logger.Infof("task %s started on %s", t.ID, cfg.Host)
	return t.ID, nil
}

// Run starts a task and waits until it ends. Cancelling ctx cancels the task.
func (s *Service) Run(ctx context.Context, req Request) (*model.Task, error) {
	id, err := s.Start(ctx, req)
	if err != nil {
		return nil, err
	}

	stop := context.AfterFunc(ctx, func() {
		if err := s.Cancel(id); err != nil && !errors.Is(err, model.ErrNotFound) && !errors.Is(err, model.ErrNotValid) {
			s.logger.Warningf("could not cancel task %s: %v", id, err)
		}
	})
	defer stop()

	return s.Wait(context.WithoutCancel(ctx), id)
}

// Wait waits until the task ends and returns it.
func (s *Service) Wait(ctx context.Context, taskID string) (*model.Task, error) {
	s.mu.Lock()
	r, ok := s.running[taskID]
	s.mu.Unlock()

	if ok {
		select {
		case <-r.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	t, err := s.repo.GetTask(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("could not get task: %w", err)
	}

	return t, nil
}

// Cancel cancels a running task. The task ends as failed and cancelled.
func (s *Service) Cancel(taskID string) error {
	s.mu.Lock()
	r, ok := s.running[taskID]
	s.mu.Unlock()

	if ok {
		s.logger.Infof("cancelling task %s", taskID)
		r.cancel()
		return nil
	}

	t, err := s.repo.GetTask(context.Background(), taskID)
	if err != nil {
		return fmt.Errorf("could not get task: %w", err)
	}

	return fmt.Errorf("task %s already ended (%s): %w", taskID, t.Status, model.ErrNotValid)
}

// Shutdown cancels all the running tasks and waits for them to end.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	for _, r := range s.running {
		r.cancel()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
