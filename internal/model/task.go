package model

import (
	"fmt"
	"slices"
	"time"
)

// TaskStatus represents the state of a task.
type TaskStatus string

const (
	TaskStatusConnecting   TaskStatus = "connecting"
	TaskStatusRunning      TaskStatus = "running"
	TaskStatusWaitingInput TaskStatus = "waiting_input"
	TaskStatusCompleted    TaskStatus = "completed"
	TaskStatusFailed       TaskStatus = "failed"
)

// Terminal returns true if the status is final.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// Mode is the installation mode of a task.
type Mode string

const (
	// ModeFresh installs on a host from scratch, dependent phases pull their prerequisites in.
	ModeFresh Mode = "fresh"
	// ModeAddon adds modules to an existing installation.
	ModeAddon Mode = "addon"
)

// StepResult is the resolution of a single step in a task.
type StepResult string

const (
	StepResultPending   StepResult = "pending"
	StepResultSkipped   StepResult = "skipped"
	StepResultCompleted StepResult = "completed"
	StepResultFailed    StepResult = "failed"
)

// StepRecord tracks the result of a step inside a task.
type StepRecord struct {
	Phase  string
	Step   string
	Result StepResult
}

// LogLine is a timestamped task log entry.
type LogLine struct {
	Time time.Time
	Text string
}

// TaskConfig is the static configuration of a task, set on creation.
type TaskConfig struct {
	Host    string
	Modules []string
	Mode    Mode
	Values  map[string]string
}

// Validate validates the task configuration.
func (c *TaskConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required: %w", ErrNotValid)
	}
	switch c.Mode {
	case ModeFresh, ModeAddon:
	case "":
		c.Mode = ModeFresh
	default:
		return fmt.Errorf("unknown mode %q: %w", c.Mode, ErrNotValid)
	}
	return nil
}

// HasModule returns true if the module flag is set on the task.
func (c TaskConfig) HasModule(module string) bool {
	return slices.Contains(c.Modules, module)
}

// Task is one end-to-end orchestrated run against a target host.
type Task struct {
	ID        string
	Config    TaskConfig
	Status    TaskStatus
	Phase     string
	Step      string
	Progress  int
	Steps     []StepRecord
	Log       []LogLine
	LastError string
	ErrorKind ErrorKind
	Cancelled bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SetProgress sets the progress never letting it go backwards or above 100.
func (t *Task) SetProgress(p int) {
	if p > 100 {
		p = 100
	}
	if p > t.Progress {
		t.Progress = p
	}
}

// AddLog appends a timestamped log line.
func (t *Task) AddLog(now time.Time, text string) {
	t.Log = append(t.Log, LogLine{Time: now, Text: text})
}

// SetStepResult sets the result of a step, registering it if missing.
func (t *Task) SetStepResult(phase, step string, res StepResult) {
	for i, s := range t.Steps {
		if s.Phase == phase && s.Step == step {
			t.Steps[i].Result = res
			return
		}
	}
	t.Steps = append(t.Steps, StepRecord{Phase: phase, Step: step, Result: res})
}

// Copy returns a deep copy of the task.
func (t Task) Copy() Task {
	c := t
	c.Config.Modules = slices.Clone(t.Config.Modules)
	if t.Config.Values != nil {
		c.Config.Values = make(map[string]string, len(t.Config.Values))
		for k, v := range t.Config.Values {
			c.Config.Values[k] = v
		}
	}
	c.Steps = slices.Clone(t.Steps)
	c.Log = slices.Clone(t.Log)
	return c
}
