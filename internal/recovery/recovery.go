// Package recovery decides what to do when an installation step fails: retry it once after
// a remediation, roll it back or stop.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/slok/orca/internal/checkpoint"
	"github.com/slok/orca/internal/log"
	"github.com/slok/orca/internal/model"
	"github.com/slok/orca/internal/provision"
)

const (
	DefaultConnectRetries = 3
	DefaultConnectBackoff = 2 * time.Second
)

// DefaultResourcePatterns are the error signatures of a resource exhaustion on the host.
var DefaultResourcePatterns = []string{
	`(?i)no space left on device`,
	`(?i)cannot allocate memory`,
	`(?i)out of memory`,
	`(?i)too many open files`,
	`(?i)resource temporarily unavailable`,
	`(?i)unable to extend`,
	`(?i)disk quota exceeded`,
}

// Decision is the recovery decision for a failure.
type Decision int

const (
	DecisionStop Decision = iota
	DecisionRetryOnce
	DecisionRollbackAndStop
)

func (d Decision) String() string {
	switch d {
	case DecisionRetryOnce:
		return "retry-once"
	case DecisionRollbackAndStop:
		return "rollback-and-stop"
	default:
		return "stop"
	}
}

// PhaseRecovery is how a failed phase recovers.
type PhaseRecovery string

const (
	// PhaseRecoveryRollback runs the rollback of the failed step or phase.
	PhaseRecoveryRollback PhaseRecovery = "rollback"
	// PhaseRecoveryResume restores the phase state and leaves it resumable, its
	// prerequisite phase is not touched.
	PhaseRecoveryResume PhaseRecovery = "resume"
)

// Failure is a failed step attempt.
type Failure struct {
	Kind model.ErrorKind
	// Attempt starts at 1.
	Attempt     int
	HasRollback bool
}

// Unit is a step invocation wrapped by the manager.
type Unit struct {
	Phase         string
	Step          string
	Action        provision.Action
	Remediation   provision.Action
	Rollback      provision.Action
	PhaseRollback provision.Action
	PhaseRecovery PhaseRecovery
	Restore       provision.Action
}

func (u Unit) hasRollback() bool {
	if u.PhaseRecovery == PhaseRecoveryResume && u.Restore != nil {
		return true
	}
	return u.Rollback != nil || u.PhaseRollback != nil
}

// ManagerConfig is the recovery manager configuration.
type ManagerConfig struct {
	// ResourcePatterns are the regexes that identify a recoverable resource exhaustion.
	ResourcePatterns []string
	ConnectRetries   int
	ConnectBackoff   time.Duration
	Checkpoints      *checkpoint.Checker
	// Sleep is used to wait between connection attempts, defaults to a context aware sleep.
	Sleep  func(ctx context.Context, d time.Duration) error
	Logger log.Logger
}

func (c *ManagerConfig) defaults() error {
	if c.ResourcePatterns == nil {
		c.ResourcePatterns = DefaultResourcePatterns
	}
	if c.ConnectRetries == 0 {
		c.ConnectRetries = DefaultConnectRetries
	}
	if c.ConnectRetries < 0 {
		return fmt.Errorf("connect retries can't be negative")
	}
	if c.ConnectBackoff == 0 {
		c.ConnectBackoff = DefaultConnectBackoff
	}
	if c.Checkpoints == nil {
		cp, err := checkpoint.NewChecker(checkpoint.CheckerConfig{Logger: c.Logger})
		if err != nil {
			return fmt.Errorf("could not create checkpoint checker: %w", err)
		}
		c.Checkpoints = cp
	}
	if c.Sleep == nil {
		c.Sleep = sleep
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "recovery.Manager"})

	return nil
}

// Manager is the failure and recovery manager, the only place where the failure
// policy is decided.
type Manager struct {
	patterns       []*regexp.Regexp
	connectRetries int
	connectBackoff time.Duration
	checkpoints    *checkpoint.Checker
	sleep          func(ctx context.Context, d time.Duration) error
	logger         log.Logger
}

// NewManager returns a new recovery manager.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	patterns := make([]*regexp.Regexp, 0, len(cfg.ResourcePatterns))
	for _, p := range cfg.ResourcePatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid resource pattern %q: %w", p, err)
		}
		patterns = append(patterns, re)
	}

	return &Manager{
		patterns:       patterns,
		connectRetries: cfg.ConnectRetries,
		connectBackoff: cfg.ConnectBackoff,
		checkpoints:    cfg.Checkpoints,
		sleep:          cfg.Sleep,
		logger:         cfg.Logger,
	}, nil
}

// Classify returns the kind of a step error. Resource exhaustion is detected from the
// error text.
func (m *Manager) Classify(err error) model.ErrorKind {
	if err == nil {
		return model.ErrorKindUnknown
	}

	kind := model.KindOf(err)
	switch kind {
	case model.ErrorKindUnknown, model.ErrorKindCommandFailed:
	default:
		return kind
	}

	if errors.Is(err, context.Canceled) {
		return model.ErrorKindCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return model.ErrorKindCommandTimeout
	}

	msg := err.Error()
	for _, re := range m.patterns {
		if re.MatchString(msg) {
			return model.ErrorKindRecoverableResource
		}
	}

	return kind
}

// Decide returns the decision for a failure.
func (m *Manager) Decide(f Failure) Decision {
	switch {
	case f.Kind == model.ErrorKindCancelled, f.Kind == model.ErrorKindInvariantViolation:
		return DecisionStop
	case f.Kind == model.ErrorKindRecoverableResource && f.Attempt <= 1:
		return DecisionRetryOnce
	case f.HasRollback:
		return DecisionRollbackAndStop
	default:
		return DecisionStop
	}
}

// Execute applies the unit action on the target handling its failures. The returned error
// is a *model.Error with the failure kind.
func (m *Manager) Execute(ctx context.Context, t provision.Target, u Unit) error {
	if u.Action == nil {
		return model.Errorf(model.ErrorKindInvariantViolation, "step %q of phase %q has no action", u.Step, u.Phase)
	}
	logger := m.logger.WithCtxValues(ctx).WithValues(log.Kv{"phase": u.Phase, "step": u.Step})

	err := u.Action.Apply(ctx, t)
	attempt := 1
	for err != nil {
		kind := m.Classify(err)
		d := m.Decide(Failure{Kind: kind, Attempt: attempt, HasRollback: u.hasRollback()})
		logger.Warningf("step failed (attempt %d, %s): %v, decision: %s", attempt, kind, err, d)
		t.Logf("step %q failed (%s): %s", u.Step, kind, d)

		switch d {
		case DecisionRetryOnce:
			attempt++
			if u.Remediation != nil {
				t.Logf("running remediation of step %q", u.Step)
				if rerr := u.Remediation.Apply(ctx, t); rerr != nil {
					err = fmt.Errorf("remediation failed: %w", rerr)
					continue
				}
			}
			t.Logf("retrying step %q", u.Step)
			err = u.Action.Apply(ctx, t)

		case DecisionRollbackAndStop:
			m.rollback(ctx, t, u, logger)
			return m.finalError(u, kind, err)

		default:
			return m.finalError(u, kind, err)
		}
	}

	return nil
}

func (m *Manager) rollback(ctx context.Context, t provision.Target, u Unit, logger log.Logger) {
	if u.PhaseRecovery == PhaseRecoveryResume && u.Restore != nil {
		t.Logf("restoring phase %q", u.Phase)
		if err := u.Restore.Apply(ctx, t); err != nil {
			logger.Errorf("could not restore phase: %v", err)
			t.Logf("restore of phase %q failed: %v", u.Phase, err)
			return
		}
		if err := m.checkpoints.MarkResumable(ctx, t, u.Phase); err != nil {
			logger.Errorf("could not mark phase as resumable: %v", err)
			t.Logf("could not mark phase %q as resumable: %v", u.Phase, err)
			return
		}
		t.Logf("phase %q restored and resumable", u.Phase)
		return
	}

	rb, what := u.Rollback, fmt.Sprintf("step %q", u.Step)
	if rb == nil {
		rb, what = u.PhaseRollback, fmt.Sprintf("phase %q", u.Phase)
	}

	t.Logf("rolling back %s", what)
	if err := rb.Apply(ctx, t); err != nil {
		logger.Errorf("could not roll back %s: %v", what, err)
		t.Logf("rollback of %s failed: %v", what, err)
		return
	}
	t.Logf("rolled back %s", what)

	// A rolled back phase is back to not installed, nothing of it is left to resume.
	if u.Rollback == nil {
		if err := m.checkpoints.Clear(ctx, t, u.Phase); err != nil {
			logger.Errorf("could not clear phase marks: %v", err)
			t.Logf("could not clear the marks of phase %q: %v", u.Phase, err)
		}
	}
}

func (m *Manager) finalError(u Unit, kind model.ErrorKind, err error) error {
	if kind == model.ErrorKindUnknown {
		kind = model.ErrorKindCommandFailed
	}
	return model.NewError(kind, fmt.Sprintf("step %q of phase %q failed", u.Step, u.Phase), err)
}

// Connect runs the pre-flight connection with a fixed number of retries and backoff.
func (m *Manager) Connect(ctx context.Context, connect func(ctx context.Context) error) error {
	var err error
	for attempt := 0; attempt <= m.connectRetries; attempt++ {
		if attempt > 0 {
			m.logger.Warningf("connection attempt %d failed: %v, retrying in %s", attempt, err, m.connectBackoff)
			if serr := m.sleep(ctx, m.connectBackoff); serr != nil {
				return model.NewError(model.ErrorKindCancelled, "connection cancelled", serr)
			}
		}

		err = connect(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return model.NewError(model.ErrorKindCancelled, "connection cancelled", ctx.Err())
		}
	}

	return model.NewError(model.ErrorKindConnection, fmt.Sprintf("could not connect after %d attempts", m.connectRetries+1), err)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
