// Package task holds the process wide registry of tasks.
package task

import (
	"context"

	"github.com/slok/orca/internal/model"
)

// Repository stores the tasks. Implementations return copies, the stored task is only
// changed with UpdateTask.
type Repository interface {
	CreateTask(ctx context.Context, t model.Task) error
	GetTask(ctx context.Context, id string) (*model.Task, error)
	ListTasks(ctx context.Context) ([]model.Task, error)
	// UpdateTask replaces a task, a task in a terminal status can't be updated anymore.
	UpdateTask(ctx context.Context, t model.Task) error
}
