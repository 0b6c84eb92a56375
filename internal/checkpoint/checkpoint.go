// Package checkpoint manages the sentinel files that record on the host which phases are
// already installed.
package checkpoint

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"time"

	"github.com/slok/orca/internal/conventions"
	"github.com/slok/orca/internal/log"
	"github.com/slok/orca/internal/model"
)

const (
	// DefaultDir is the default host directory of the sentinel files.
	DefaultDir = conventions.HostCheckpointDir

	defaultTimeout = 30 * time.Second
	doneSuffix     = ".done"
	resumeSuffix   = ".resumable"
)

var validPhase = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]*$`)

// Runner runs non interactive commands on the host.
type Runner interface {
	Run(ctx context.Context, cmd string, timeout time.Duration) (*model.CommandResult, error)
}

// CheckerConfig is the checker configuration.
type CheckerConfig struct {
	Dir     string
	Timeout time.Duration
	Logger  log.Logger
}

func (c *CheckerConfig) defaults() error {
	if c.Dir == "" {
		c.Dir = DefaultDir
	}
	if !path.IsAbs(c.Dir) {
		return fmt.Errorf("checkpoint dir must be absolute")
	}
	if c.Timeout == 0 {
		c.Timeout = defaultTimeout
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "checkpoint.Checker"})
	return nil
}

// Checker reads and writes the phase sentinel files.
type Checker struct {
	dir     string
	timeout time.Duration
	logger  log.Logger
}

// NewChecker returns a new checker.
func NewChecker(cfg CheckerConfig) (*Checker, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Checker{
		dir:     cfg.Dir,
		timeout: cfg.Timeout,
		logger:  cfg.Logger,
	}, nil
}

// Path returns the sentinel file of a finished phase.
func (c *Checker) Path(phase string) string { return path.Join(c.dir, phase+doneSuffix) }

func (c *Checker) resumablePath(phase string) string { return path.Join(c.dir, phase+resumeSuffix) }

// Exists returns true if the phase finished on the host.
func (c *Checker) Exists(ctx context.Context, r Runner, phase string) (bool, error) {
	if err := checkPhase(phase); err != nil {
		return false, err
	}
	return c.test(ctx, r, c.Path(phase))
}

// Mark records the phase as finished and clears its resumable mark.
func (c *Checker) Mark(ctx context.Context, r Runner, phase string) error {
	if err := checkPhase(phase); err != nil {
		return err
	}

	cmd := fmt.Sprintf("mkdir -p '%s' && touch '%s' && rm -f '%s'", c.dir, c.Path(phase), c.resumablePath(phase))
	if err := c.run(ctx, r, cmd); err != nil {
		return fmt.Errorf("could not mark phase %q: %w", phase, err)
	}
	c.logger.Debugf("Phase %q marked as finished", phase)

	return nil
}

// Clear removes all the marks of the phase.
func (c *Checker) Clear(ctx context.Context, r Runner, phase string) error {
	if err := checkPhase(phase); err != nil {
		return err
	}

	cmd := fmt.Sprintf("rm -f '%s' '%s'", c.Path(phase), c.resumablePath(phase))
	if err := c.run(ctx, r, cmd); err != nil {
		return fmt.Errorf("could not clear phase %q: %w", phase, err)
	}

	return nil
}

// MarkResumable records that the phase was interrupted and restored, a later run can resume it.
func (c *Checker) MarkResumable(ctx context.Context, r Runner, phase string) error {
	if err := checkPhase(phase); err != nil {
		return err
	}

	cmd := fmt.Sprintf("mkdir -p '%s' && touch '%s'", c.dir, c.resumablePath(phase))
	if err := c.run(ctx, r, cmd); err != nil {
		return fmt.Errorf("could not mark phase %q as resumable: %w", phase, err)
	}

	return nil
}

// Resumable returns true if the phase has a resumable mark.
func (c *Checker) Resumable(ctx context.Context, r Runner, phase string) (bool, error) {
	if err := checkPhase(phase); err != nil {
		return false, err
	}
	return c.test(ctx, r, c.resumablePath(phase))
}

func (c *Checker) test(ctx context.Context, r Runner, file string) (bool, error) {
	res, err := r.Run(ctx, fmt.Sprintf("test -f '%s'", file), c.timeout)
	if err != nil {
		return false, fmt.Errorf("could not check %q: %w", file, err)
	}

	switch res.ExitCode {
	case 0:
		return true, nil
	case 1:
		return false, nil
	default:
		return false, model.Errorf(model.ErrorKindCommandFailed, "checking %q exited with %d: %s", file, res.ExitCode, res.Stderr)
	}
}

func (c *Checker) run(ctx context.Context, r Runner, cmd string) error {
	res, err := r.Run(ctx, cmd, c.timeout)
	if err != nil {
		return err
	}
	if !res.Success() {
		return model.Errorf(model.ErrorKindCommandFailed, "%q exited with %d: %s", cmd, res.ExitCode, res.Stderr)
	}
	return nil
}

func checkPhase(phase string) error {
	if !validPhase.MatchString(phase) {
		return fmt.Errorf("invalid phase name %q: %w", phase, model.ErrNotValid)
	}
	return nil
}
