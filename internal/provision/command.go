package provision

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/slok/orca/internal/executor"
	"github.com/slok/orca/internal/model"
)

const maxErrorOutput = 2048

// NewCommand returns an action that runs a non interactive command, a non zero exit code
// is a failure that carries the command output.
func NewCommand(cmd string, timeout time.Duration) (Action, error) {
	if strings.TrimSpace(cmd) == "" {
		return nil, fmt.Errorf("command is required")
	}

	return ActionFunc(func(ctx context.Context, t Target) error {
		res, err := t.Run(ctx, cmd, timeout)
		if err != nil {
			return fmt.Errorf("could not run %q: %w", cmd, err)
		}

		if !res.Success() {
			return model.Errorf(model.ErrorKindCommandFailed, "%q exited with %d: %s", cmd, res.ExitCode, tail(res.Stderr+res.Stdout))
		}

		return nil
	}), nil
}

// NewInteractive returns an action that runs a command that may ask for operator input.
func NewInteractive(cmd string, timeout time.Duration) (Action, error) {
	if strings.TrimSpace(cmd) == "" {
		return nil, fmt.Errorf("command is required")
	}

	return ActionFunc(func(ctx context.Context, t Target) error {
		res, err := t.RunInteractive(ctx, cmd, timeout)
		if err != nil {
			return fmt.Errorf("could not run %q: %w", cmd, err)
		}

		if !res.Success {
			return model.Errorf(model.ErrorKindCommandFailed, "%q exited with %d: %s", cmd, res.ExitCode, tail(outputOf(res)))
		}

		return nil
	}), nil
}

// NewCommandGuard returns a guard satisfied when the command exits with 0.
func NewCommandGuard(cmd string) (Guard, error) {
	if strings.TrimSpace(cmd) == "" {
		return nil, fmt.Errorf("command is required")
	}

	return GuardFunc(func(ctx context.Context, t Target) (bool, error) {
		res, err := t.Run(ctx, cmd, 0)
		if err != nil {
			return false, fmt.Errorf("could not run guard %q: %w", cmd, err)
		}
		return res.Success(), nil
	}), nil
}

// NewFileGuard returns a guard satisfied when the host path exists.
func NewFileGuard(path string) (Guard, error) {
	if path == "" {
		return nil, fmt.Errorf("path is required")
	}
	return NewCommandGuard(fmt.Sprintf("test -e '%s'", path))
}

func outputOf(res *executor.Result) string {
	var b strings.Builder
	for _, e := range res.Log {
		if e.Kind == executor.EntryKindOutput {
			b.WriteString(e.Text)
		}
	}
	return b.String()
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxErrorOutput {
		s = s[len(s)-maxErrorOutput:]
	}
	return s
}
