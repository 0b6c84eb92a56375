// Package provision has the building blocks of the installation steps: the actions
// that change a host and the guards that tell if a change is already there.
package provision

import (
	"context"
	"fmt"
	"time"

	"github.com/slok/orca/internal/executor"
	"github.com/slok/orca/internal/log"
	"github.com/slok/orca/internal/model"
)

// Target is the host a step acts on. It hides the session, the interactive executor
// and the task reporting from the steps.
type Target interface {
	// Run runs a non interactive command, a timeout of 0 uses the target default.
	Run(ctx context.Context, cmd string, timeout time.Duration) (*model.CommandResult, error)
	// RunInteractive runs a command that may ask the operator for input.
	RunInteractive(ctx context.Context, cmd string, timeout time.Duration) (*executor.Result, error)
	CopyTo(ctx context.Context, srcLocal, dstRemote string) error
	// Logf adds a line to the task log.
	Logf(format string, args ...any)
}

// Action changes the host. Actions used as steps are guarded, running them again on an
// already changed host is not expected.
type Action interface {
	Apply(ctx context.Context, t Target) error
}

// ActionFunc is a convenience adapter to allow the use of ordinary functions as Actions.
type ActionFunc func(ctx context.Context, t Target) error

func (f ActionFunc) Apply(ctx context.Context, t Target) error { return f(ctx, t) }

// Guard tells if the change of a step is already on the host.
type Guard interface {
	Satisfied(ctx context.Context, t Target) (bool, error)
}

// GuardFunc is a convenience adapter to allow the use of ordinary functions as Guards.
type GuardFunc func(ctx context.Context, t Target) (bool, error)

func (f GuardFunc) Satisfied(ctx context.Context, t Target) (bool, error) { return f(ctx, t) }

// NewChain returns an Action that applies all actions sequentially.
// If any action fails, the chain stops and returns the error.
// An empty chain succeeds immediately.
func NewChain(actions ...Action) Action {
	return ActionFunc(func(ctx context.Context, t Target) error {
		for i, a := range actions {
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("action chain cancelled at action %d: %w", i, err)
			}

			if err := a.Apply(ctx, t); err != nil {
				return fmt.Errorf("action chain failed at action %d: %w", i, err)
			}
		}
		return nil
	})
}

// NewNoop returns an action that does nothing.
func NewNoop() Action {
	return ActionFunc(func(_ context.Context, _ Target) error { return nil })
}

// NewLogAction wraps an action with debug logging before and after execution.
func NewLogAction(name string, logger log.Logger, a Action) Action {
	return ActionFunc(func(ctx context.Context, t Target) error {
		logger.Debugf("Applying %q...", name)

		if err := a.Apply(ctx, t); err != nil {
			return err
		}

		logger.Debugf("Applied %q", name)
		return nil
	})
}

// Never is a guard that is never satisfied, the step always runs.
var Never Guard = GuardFunc(func(context.Context, Target) (bool, error) { return false, nil })

// AllGuards returns a guard satisfied when all the guards are satisfied.
func AllGuards(guards ...Guard) Guard {
	return GuardFunc(func(ctx context.Context, t Target) (bool, error) {
		for _, g := range guards {
			ok, err := g.Satisfied(ctx, t)
			if err != nil || !ok {
				return false, err
			}
		}
		return len(guards) > 0, nil
	})
}
