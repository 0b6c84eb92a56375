package model_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/slok/orca/internal/model"
)

func TestTaskSetProgress(t *testing.T) {
	tests := map[string]struct {
		steps       []int
		expProgress int
	}{
		"Progress should move forward.": {
			steps:       []int{10, 20, 55},
			expProgress: 55,
		},

		"Progress should never go backwards.": {
			steps:       []int{40, 10, 30},
			expProgress: 40,
		},

		"Progress should be capped at 100.": {
			steps:       []int{90, 150},
			expProgress: 100,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			task := model.Task{}
			for _, s := range test.steps {
				task.SetProgress(s)
			}
			assert.Equal(t, test.expProgress, task.Progress)
		})
	}
}

func TestTaskConfigValidate(t *testing.T) {
	tests := map[string]struct {
		cfg     model.TaskConfig
		expMode model.Mode
		expErr  bool
	}{
		"Missing host should fail.": {
			cfg:    model.TaskConfig{},
			expErr: true,
		},

		"Missing mode should default to fresh.": {
			cfg:     model.TaskConfig{Host: "db1"},
			expMode: model.ModeFresh,
		},

		"Addon mode should be valid.": {
			cfg:     model.TaskConfig{Host: "db1", Mode: model.ModeAddon},
			expMode: model.ModeAddon,
		},

		"Unknown mode should fail.": {
			cfg:    model.TaskConfig{Host: "db1", Mode: "upgrade"},
			expErr: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			err := test.cfg.Validate()
			if test.expErr {
				assert.ErrorIs(err, model.ErrNotValid)
				return
			}
			assert.NoError(err)
			assert.Equal(test.expMode, test.cfg.Mode)
		})
	}
}

func TestTaskCopy(t *testing.T) {
	task := model.Task{
		ID:     "t1",
		Config: model.TaskConfig{Host: "h", Modules: []string{"a"}, Values: map[string]string{"k": "v"}},
	}
	task.AddLog(time.Now(), "hello")
	task.SetStepResult("base", "s1", model.StepResultSkipped)

	c := task.Copy()
	c.Config.Modules[0] = "b"
	c.Config.Values["k"] = "other"
	c.Log[0].Text = "changed"
	c.SetStepResult("base", "s1", model.StepResultFailed)

	assert.Equal(t, "a", task.Config.Modules[0])
	assert.Equal(t, "v", task.Config.Values["k"])
	assert.Equal(t, "hello", task.Log[0].Text)
	assert.Equal(t, model.StepResultSkipped, task.Steps[0].Result)
}
