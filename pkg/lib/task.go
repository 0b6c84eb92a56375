package lib

import (
	"context"
	"fmt"

	"github.com/slok/orca/internal/app/input"
	"github.com/slok/orca/internal/app/start"
	"github.com/slok/orca/internal/app/status"
	"github.com/slok/orca/internal/channel"
	"github.com/slok/orca/internal/engine"
	"github.com/slok/orca/internal/model"
	"github.com/slok/orca/internal/remote"
)

// StartTaskOpts are the options to start a task.
type StartTaskOpts struct {
	// Host is the target host address, required.
	Host string
	// Modules are the optional modules to install on top of the base phases.
	Modules []string
	// Mode defaults to [ModeFresh].
	Mode Mode
	// Values fill the `${key}` placeholders of the stack.
	Values map[string]string

	// StackPath is the stack definition file. Empty uses the embedded default stack.
	StackPath string

	User string
	// Password is used when no private key is set.
	Password string
	// PrivateKey is the PEM-encoded private key.
	PrivateKey []byte
	Port       int
}

// StartTask starts an installation task in the background and returns its ID.
//
// The task keeps running after ctx ends, use [Client.CancelTask] to stop it.
//
// Returns [ErrNotValid] if the options are not valid, or [ErrAlreadyExists] if the host
// lock is enabled and the host has a running task.
func (c *Client) StartTask(ctx context.Context, opts StartTaskOpts) (string, error) {
	cfg := model.TaskConfig{
		Host:    opts.Host,
		Modules: opts.Modules,
		Mode:    model.Mode(opts.Mode),
		Values:  opts.Values,
	}
	if err := cfg.Validate(); err != nil {
		return "", mapError(err)
	}

	s, baseDir, err := engine.LoadStack(ctx, opts.StackPath)
	if err != nil {
		return "", mapError(fmt.Errorf("could not load stack: %w", err))
	}

	def, err := engine.DefinitionFor(s, baseDir, c.logger)(cfg)
	if err != nil {
		return "", joinErrors(err, ErrNotValid)
	}

	id, err := c.engine.Starter.Start(ctx, start.Request{
		Config:     cfg,
		Definition: def,
		Credentials: remote.Credentials{
			User:       opts.User,
			Password:   opts.Password,
			PrivateKey: opts.PrivateKey,
			Port:       opts.Port,
		},
	})
	if err != nil {
		return "", mapError(err)
	}

	return id, nil
}

// GetTaskStatus returns the current snapshot of a task.
//
// Returns [ErrNotFound] if the task does not exist.
func (c *Client) GetTaskStatus(ctx context.Context, taskID string) (*Task, error) {
	t, err := c.engine.Status.Run(ctx, status.Request{TaskID: taskID})
	if err != nil {
		return nil, mapError(err)
	}

	result := fromInternalTask(*t)
	return &result, nil
}

// ListTasks returns all the tasks of the client, oldest first.
func (c *Client) ListTasks(ctx context.Context) ([]Task, error) {
	ts, err := c.engine.Status.List(ctx)
	if err != nil {
		return nil, mapError(err)
	}

	result := make([]Task, 0, len(ts))
	for _, t := range ts {
		result = append(result, fromInternalTask(t))
	}
	return result, nil
}

// WaitTask blocks until the task ends and returns its final snapshot.
func (c *Client) WaitTask(ctx context.Context, taskID string) (*Task, error) {
	t, err := c.engine.Starter.Wait(ctx, taskID)
	if err != nil {
		return nil, mapError(err)
	}

	result := fromInternalTask(*t)
	return &result, nil
}

// SubmitInput answers the outstanding prompt of a task.
//
// Returns [ErrNoPendingPrompt] if the task is not waiting for input, or [ErrNotFound]
// if the task does not exist.
func (c *Client) SubmitInput(ctx context.Context, taskID, text string) error {
	return mapError(c.engine.Input.Run(ctx, input.Request{TaskID: taskID, Input: text}))
}

// CancelTask cancels a running task, it ends as failed and cancelled.
//
// Returns [ErrNotValid] if the task already ended, or [ErrNotFound] if the task does
// not exist.
func (c *Client) CancelTask(ctx context.Context, taskID string) error {
	return mapError(c.engine.Starter.Cancel(taskID))
}

// Subscribe calls fn with every message of a running task, in order. The first messages
// are the current status and the outstanding prompt, if any. fn must not block for long,
// a subscriber that falls behind is dropped.
//
// The returned function unsubscribes, it's also done when the task ends.
// Returns [ErrNotFound] if the task is not running.
func (c *Client) Subscribe(taskID string, fn func(Message)) (unsubscribe func(), err error) {
	sink := channel.SinkFunc(func(msg channel.Message) error {
		if m, ok := fromInternalMessage(msg); ok {
			fn(m)
		}
		return nil
	})

	detach, err := c.engine.Channels.Attach(taskID, sink)
	if err != nil {
		return nil, mapError(err)
	}

	return detach, nil
}
