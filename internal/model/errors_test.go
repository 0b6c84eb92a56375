package model_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/slok/orca/internal/model"
)

func TestKindOf(t *testing.T) {
	tests := map[string]struct {
		err     error
		expKind model.ErrorKind
		expMsg  string
	}{
		"A nil error should be unknown.": {
			err:     nil,
			expKind: model.ErrorKindUnknown,
		},

		"A plain error should be unknown.": {
			err:     fmt.Errorf("something"),
			expKind: model.ErrorKindUnknown,
			expMsg:  "something",
		},

		"A kinded error should return its kind.": {
			err:     model.NewError(model.ErrorKindIO, "read failed", errors.New("broken pipe")),
			expKind: model.ErrorKindIO,
			expMsg:  "read failed: broken pipe",
		},

		"A wrapped kinded error should return its kind.": {
			err:     fmt.Errorf("step x: %w", model.NewError(model.ErrorKindPromptTimeout, "no answer", nil)),
			expKind: model.ErrorKindPromptTimeout,
			expMsg:  "step x: no answer",
		},

		"A formatted kinded error should keep the wrapped error.": {
			err:     model.Errorf(model.ErrorKindCancelled, "waiting prompt: %w", context.Canceled),
			expKind: model.ErrorKindCancelled,
			expMsg:  "waiting prompt: context canceled",
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			assert.Equal(test.expKind, model.KindOf(test.err))
			if test.err != nil {
				assert.Equal(test.expMsg, test.err.Error())
			}
		})
	}
}

func TestErrorUnwrap(t *testing.T) {
	err := model.Errorf(model.ErrorKindCancelled, "waiting prompt: %w", context.Canceled)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.True(t, model.IsKind(fmt.Errorf("wrap: %w", err), model.ErrorKindCancelled))
}
