package recovery_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/orca/internal/checkpoint"
	"github.com/slok/orca/internal/executor"
	"github.com/slok/orca/internal/log"
	"github.com/slok/orca/internal/model"
	"github.com/slok/orca/internal/provision"
	"github.com/slok/orca/internal/recovery"
	"github.com/slok/orca/internal/remote"
	"github.com/slok/orca/internal/remote/fake"
)

type testTarget struct {
	sess remote.Session
	logs []string
}

func (t *testTarget) Run(ctx context.Context, cmd string, timeout time.Duration) (*model.CommandResult, error) {
	return t.sess.Run(ctx, cmd, timeout)
}

func (t *testTarget) RunInteractive(ctx context.Context, cmd string, timeout time.Duration) (*executor.Result, error) {
	return nil, errors.New("not supported")
}

func (t *testTarget) CopyTo(ctx context.Context, src, dst string) error {
	return t.sess.CopyTo(ctx, src, dst)
}

func (t *testTarget) Logf(format string, args ...any) {
	t.logs = append(t.logs, fmt.Sprintf(format, args...))
}

type counter struct {
	calls int
	errs  []error
}

// action returns the configured errors in order, nil once they are consumed.
func (c *counter) action() provision.Action {
	return provision.ActionFunc(func(context.Context, provision.Target) error {
		c.calls++
		if len(c.errs) == 0 {
			return nil
		}
		err := c.errs[0]
		c.errs = c.errs[1:]
		return err
	})
}

func newManager(t *testing.T, cfg recovery.ManagerConfig) *recovery.Manager {
	t.Helper()
	cfg.Logger = log.Noop
	m, err := recovery.NewManager(cfg)
	require.NoError(t, err)
	return m
}

var errNoSpace = model.Errorf(model.ErrorKindCommandFailed, "\"apt-get install\" exited with 100: E: No space left on device")

func TestNewManager(t *testing.T) {
	_, err := recovery.NewManager(recovery.ManagerConfig{ResourcePatterns: []string{"[x-"}})
	assert.Error(t, err)

	_, err = recovery.NewManager(recovery.ManagerConfig{ConnectRetries: -1})
	assert.Error(t, err)
}

func TestManagerClassify(t *testing.T) {
	tests := map[string]struct {
		patterns []string
		err      error
		exp      model.ErrorKind
	}{
		"No error should be unknown.": {
			exp: model.ErrorKindUnknown,
		},

		"A resource exhaustion failure should be recoverable.": {
			err: errNoSpace,
			exp: model.ErrorKindRecoverableResource,
		},

		"A wrapped resource exhaustion failure should be recoverable.": {
			err: fmt.Errorf("installing: %w", errors.New("fork: Cannot allocate memory")),
			exp: model.ErrorKindRecoverableResource,
		},

		"A command failure without signature should be a command failure.": {
			err: model.Errorf(model.ErrorKindCommandFailed, "exited with 1: package not found"),
			exp: model.ErrorKindCommandFailed,
		},

		"A transport failure should keep its kind regardless of the text.": {
			err: model.Errorf(model.ErrorKindIO, "No space left on device"),
			exp: model.ErrorKindIO,
		},

		"A context cancellation should be cancelled.": {
			err: fmt.Errorf("chain: %w", context.Canceled),
			exp: model.ErrorKindCancelled,
		},

		"A context deadline should be a command timeout.": {
			err: fmt.Errorf("chain: %w", context.DeadlineExceeded),
			exp: model.ErrorKindCommandTimeout,
		},

		"An unknown error should be unknown.": {
			err: errors.New("something"),
			exp: model.ErrorKindUnknown,
		},

		"Custom patterns should replace the defaults.": {
			patterns: []string{`lock held by`},
			err:      errors.New("dpkg: lock held by process 42"),
			exp:      model.ErrorKindRecoverableResource,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			m := newManager(t, recovery.ManagerConfig{ResourcePatterns: test.patterns})
			assert.Equal(t, test.exp, m.Classify(test.err))
		})
	}
}

func TestManagerDecide(t *testing.T) {
	tests := map[string]struct {
		failure recovery.Failure
		exp     recovery.Decision
	}{
		"A resource failure on the first attempt should be retried.": {
			failure: recovery.Failure{Kind: model.ErrorKindRecoverableResource, Attempt: 1, HasRollback: true},
			exp:     recovery.DecisionRetryOnce,
		},

		"A recurring resource failure with rollback should roll back.": {
			failure: recovery.Failure{Kind: model.ErrorKindRecoverableResource, Attempt: 2, HasRollback: true},
			exp:     recovery.DecisionRollbackAndStop,
		},

		"A recurring resource failure without rollback should stop.": {
			failure: recovery.Failure{Kind: model.ErrorKindRecoverableResource, Attempt: 2},
			exp:     recovery.DecisionStop,
		},

		"A command failure with rollback should roll back.": {
			failure: recovery.Failure{Kind: model.ErrorKindCommandFailed, Attempt: 1, HasRollback: true},
			exp:     recovery.DecisionRollbackAndStop,
		},

		"A prompt timeout with rollback should roll back.": {
			failure: recovery.Failure{Kind: model.ErrorKindPromptTimeout, Attempt: 1, HasRollback: true},
			exp:     recovery.DecisionRollbackAndStop,
		},

		"A command failure without rollback should stop.": {
			failure: recovery.Failure{Kind: model.ErrorKindCommandFailed, Attempt: 1},
			exp:     recovery.DecisionStop,
		},

		"A cancellation should stop.": {
			failure: recovery.Failure{Kind: model.ErrorKindCancelled, Attempt: 1, HasRollback: true},
			exp:     recovery.DecisionStop,
		},

		"An invariant violation should stop.": {
			failure: recovery.Failure{Kind: model.ErrorKindInvariantViolation, Attempt: 1, HasRollback: true},
			exp:     recovery.DecisionStop,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			m := newManager(t, recovery.ManagerConfig{})
			assert.Equal(t, test.exp, m.Decide(test.failure))
		})
	}
}

func TestManagerExecute(t *testing.T) {
	tests := map[string]struct {
		actionErrs      []error
		remediation     bool
		stepRollback    bool
		phaseRollback   bool
		resume          bool
		staleResumable  bool
		expActionCalls  int
		expRemediations int
		expStepRB       int
		expPhaseRB      int
		expRestores     int
		expResumable    bool
		expErr          bool
		expKind         model.ErrorKind
	}{
		"A successful step should run once.": {
			expActionCalls: 1,
		},

		"A resource failure should run the remediation and retry once.": {
			actionErrs:      []error{errNoSpace},
			remediation:     true,
			stepRollback:    true,
			expActionCalls:  2,
			expRemediations: 1,
		},

		"A recurring resource failure should roll back and fail.": {
			actionErrs:      []error{errNoSpace, errNoSpace},
			remediation:     true,
			stepRollback:    true,
			expActionCalls:  2,
			expRemediations: 1,
			expStepRB:       1,
			expErr:          true,
			expKind:         model.ErrorKindRecoverableResource,
		},

		"A failure should run the phase rollback when the step has none.": {
			actionErrs:     []error{errors.New("bad config")},
			phaseRollback:  true,
			expActionCalls: 1,
			expPhaseRB:     1,
			expErr:         true,
			expKind:        model.ErrorKindCommandFailed,
		},

		"A phase rollback should clear the marks left by a previous run.": {
			actionErrs:     []error{errors.New("bad config")},
			phaseRollback:  true,
			staleResumable: true,
			expActionCalls: 1,
			expPhaseRB:     1,
			expResumable:   false,
			expErr:         true,
			expKind:        model.ErrorKindCommandFailed,
		},

		"A step rollback should keep the phase marks.": {
			actionErrs:     []error{errors.New("bad config")},
			stepRollback:   true,
			staleResumable: true,
			expActionCalls: 1,
			expStepRB:      1,
			expResumable:   true,
			expErr:         true,
			expKind:        model.ErrorKindCommandFailed,
		},

		"The step rollback should win over the phase rollback.": {
			actionErrs:     []error{errors.New("bad config")},
			stepRollback:   true,
			phaseRollback:  true,
			expActionCalls: 1,
			expStepRB:      1,
			expErr:         true,
			expKind:        model.ErrorKindCommandFailed,
		},

		"A failure without rollback should stop.": {
			actionErrs:     []error{model.Errorf(model.ErrorKindPromptTimeout, "no answer")},
			expActionCalls: 1,
			expErr:         true,
			expKind:        model.ErrorKindPromptTimeout,
		},

		"A cancelled step should not roll back.": {
			actionErrs:     []error{model.Errorf(model.ErrorKindCancelled, "cancelled")},
			stepRollback:   true,
			expActionCalls: 1,
			expErr:         true,
			expKind:        model.ErrorKindCancelled,
		},

		"A resumable phase failure should restore and leave the phase resumable.": {
			actionErrs:     []error{errors.New("replica setup failed")},
			phaseRollback:  true,
			resume:         true,
			expActionCalls: 1,
			expRestores:    1,
			expResumable:   true,
			expErr:         true,
			expKind:        model.ErrorKindCommandFailed,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			host := fake.NewHost()
			sess, err := host.Provider().Connect(context.Background(), "h", remote.Credentials{})
			require.NoError(err)
			target := &testTarget{sess: sess}

			cp, err := checkpoint.NewChecker(checkpoint.CheckerConfig{})
			require.NoError(err)
			m := newManager(t, recovery.ManagerConfig{Checkpoints: cp})

			action := &counter{errs: test.actionErrs}
			remediation, stepRB, phaseRB, restore := &counter{}, &counter{}, &counter{}, &counter{}
			u := recovery.Unit{Phase: "replica", Step: "setup", Action: action.action()}
			if test.remediation {
				u.Remediation = remediation.action()
			}
			if test.stepRollback {
				u.Rollback = stepRB.action()
			}
			if test.phaseRollback {
				u.PhaseRollback = phaseRB.action()
			}
			if test.resume {
				u.PhaseRecovery = recovery.PhaseRecoveryResume
				u.Restore = restore.action()
			}

			if test.staleResumable {
				require.NoError(cp.MarkResumable(context.Background(), sess, "replica"))
			}

			err = m.Execute(context.Background(), target, u)
			if test.expErr {
				require.Error(err)
				var merr *model.Error
				assert.ErrorAs(err, &merr)
				assert.Equal(test.expKind, model.KindOf(err))
			} else {
				assert.NoError(err)
			}

			assert.Equal(test.expActionCalls, action.calls)
			assert.Equal(test.expRemediations, remediation.calls)
			assert.Equal(test.expStepRB, stepRB.calls)
			assert.Equal(test.expPhaseRB, phaseRB.calls)
			assert.Equal(test.expRestores, restore.calls)

			resumable, err := cp.Resumable(context.Background(), sess, "replica")
			require.NoError(err)
			assert.Equal(test.expResumable, resumable)
		})
	}
}

func TestManagerConnect(t *testing.T) {
	tests := map[string]struct {
		failures  int
		cancelled bool
		expCalls  int
		expSleeps int
		expErr    bool
		expKind   model.ErrorKind
	}{
		"A connection that works should connect once.": {
			expCalls: 1,
		},

		"A connection that fails a few times should be retried.": {
			failures:  2,
			expCalls:  3,
			expSleeps: 2,
		},

		"A connection that always fails should be a connection error.": {
			failures:  10,
			expCalls:  4,
			expSleeps: 3,
			expErr:    true,
			expKind:   model.ErrorKindConnection,
		},

		"A cancelled connection should be cancelled.": {
			failures:  10,
			cancelled: true,
			expCalls:  1,
			expErr:    true,
			expKind:   model.ErrorKindCancelled,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			sleeps := 0
			m := newManager(t, recovery.ManagerConfig{
				ConnectRetries: 3,
				ConnectBackoff: time.Second,
				Sleep: func(ctx context.Context, d time.Duration) error {
					sleeps++
					return ctx.Err()
				},
			})

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			calls := 0
			err := m.Connect(ctx, func(ctx context.Context) error {
				calls++
				if test.cancelled {
					cancel()
				}
				if calls <= test.failures {
					return model.Errorf(model.ErrorKindConnection, "connection refused")
				}
				return nil
			})

			if test.expErr {
				assert.Equal(test.expKind, model.KindOf(err))
			} else {
				assert.NoError(err)
			}
			assert.Equal(test.expCalls, calls)
			assert.Equal(test.expSleeps, sleeps)
		})
	}
}
