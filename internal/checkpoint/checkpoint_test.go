package checkpoint_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/slok/orca/internal/checkpoint"
	"github.com/slok/orca/internal/model"
	"github.com/slok/orca/internal/remote"
	"github.com/slok/orca/internal/remote/fake"
	"github.com/slok/orca/internal/remote/remotemock"
)

func TestNewChecker(t *testing.T) {
	_, err := checkpoint.NewChecker(checkpoint.CheckerConfig{Dir: "relative/dir"})
	assert.Error(t, err)

	c, err := checkpoint.NewChecker(checkpoint.CheckerConfig{})
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/orca/checkpoints/base.done", c.Path("base"))
}

func TestCheckerLifecycle(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	host := fake.NewHost()
	sess, err := host.Provider().Connect(ctx, "h", remote.Credentials{})
	require.NoError(err)

	c, err := checkpoint.NewChecker(checkpoint.CheckerConfig{Dir: "/opt/state"})
	require.NoError(err)

	ok, err := c.Exists(ctx, sess, "base")
	require.NoError(err)
	assert.False(ok)

	require.NoError(c.MarkResumable(ctx, sess, "base"))
	ok, err = c.Resumable(ctx, sess, "base")
	require.NoError(err)
	assert.True(ok)

	// Marking the phase as finished clears the resumable mark.
	require.NoError(c.Mark(ctx, sess, "base"))
	ok, err = c.Exists(ctx, sess, "base")
	require.NoError(err)
	assert.True(ok)
	assert.True(host.HasFile("/opt/state/base.done"))
	ok, err = c.Resumable(ctx, sess, "base")
	require.NoError(err)
	assert.False(ok)

	require.NoError(c.Clear(ctx, sess, "base"))
	ok, err = c.Exists(ctx, sess, "base")
	require.NoError(err)
	assert.False(ok)
}

func TestCheckerErrors(t *testing.T) {
	tests := map[string]struct {
		phase  string
		mock   func(m *remotemock.MockSession)
		expErr string
	}{
		"An invalid phase name should fail without running anything.": {
			phase:  "base; rm -rf /",
			mock:   func(m *remotemock.MockSession) {},
			expErr: "invalid phase name",
		},

		"A transport error should fail.": {
			phase: "base",
			mock: func(m *remotemock.MockSession) {
				m.On("Run", mock.Anything, "test -f '/var/lib/orca/checkpoints/base.done'", 30*time.Second).Once().Return(nil, fmt.Errorf("broken"))
			},
			expErr: "broken",
		},

		"An unexpected exit code should fail.": {
			phase: "base",
			mock: func(m *remotemock.MockSession) {
				m.On("Run", mock.Anything, mock.Anything, mock.Anything).Once().Return(&model.CommandResult{ExitCode: 2, Stderr: "permission denied"}, nil)
			},
			expErr: "exited with 2",
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			m := remotemock.NewMockSession(t)
			test.mock(m)

			c, err := checkpoint.NewChecker(checkpoint.CheckerConfig{})
			require.NoError(t, err)

			_, err = c.Exists(context.Background(), m, test.phase)
			assert.ErrorContains(t, err, test.expErr)
		})
	}
}
