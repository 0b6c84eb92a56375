package lib

import (
	"errors"
	"time"

	"github.com/slok/orca/internal/channel"
	"github.com/slok/orca/internal/model"
)

// TaskStatus represents the state of a task.
//
// The lifecycle is:
//
//	connecting -> running <-> waiting_input -> completed | failed
type TaskStatus string

const (
	// TaskStatusConnecting indicates the task is opening the session to the host.
	TaskStatusConnecting TaskStatus = "connecting"
	// TaskStatusRunning indicates the task is executing steps.
	TaskStatusRunning TaskStatus = "running"
	// TaskStatusWaitingInput indicates the task is blocked on an operator answer.
	TaskStatusWaitingInput TaskStatus = "waiting_input"
	// TaskStatusCompleted indicates all the steps were completed or skipped.
	TaskStatusCompleted TaskStatus = "completed"
	// TaskStatusFailed indicates the task ended with an error, see [Task].LastError.
	TaskStatusFailed TaskStatus = "failed"
)

// Mode is the installation mode.
type Mode string

const (
	// ModeFresh installs the missing prerequisites of the selected modules.
	ModeFresh Mode = "fresh"
	// ModeAddon requires the prerequisites to be already installed.
	ModeAddon Mode = "addon"
)

// StepResult is the result of a step.
type StepResult string

const (
	StepResultPending   StepResult = "pending"
	StepResultSkipped   StepResult = "skipped"
	StepResultCompleted StepResult = "completed"
	StepResultFailed    StepResult = "failed"
)

// Step is the result of a task step.
type Step struct {
	Phase  string
	Name   string
	Result StepResult
}

// LogLine is a task log line.
type LogLine struct {
	Time time.Time
	Text string
}

// Task is a snapshot of an installation task.
type Task struct {
	ID      string
	Host    string
	Modules []string
	Mode    Mode
	Status  TaskStatus
	// Phase and Step are the current phase and the current step label.
	Phase    string
	Step     string
	Progress int
	Steps    []Step
	Log      []LogLine
	// LastError and ErrorKind are set when the task failed.
	LastError string
	ErrorKind string
	Cancelled bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// MessageType is the type of a task channel message.
type MessageType string

const (
	// MessageTypeOutput carries raw output of the remote commands.
	MessageTypeOutput MessageType = "output"
	// MessageTypePrompt carries a question that needs an answer, see [Client.SubmitInput].
	MessageTypePrompt MessageType = "prompt"
	// MessageTypeStatus carries a task status change.
	MessageTypeStatus MessageType = "status"
)

// Message is a task channel message. Text is set on output and prompt messages,
// Status, Step and Progress on status messages.
type Message struct {
	Type     MessageType
	Text     string
	Status   TaskStatus
	Step     string
	Progress int
}

var (
	// ErrNotFound is returned when the task does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when the host has a running task.
	ErrAlreadyExists = errors.New("already exists")
	// ErrNotValid is returned on invalid input or operations.
	ErrNotValid = errors.New("not valid")
	// ErrNoPendingPrompt is returned when an input is submitted to a task that is not
	// waiting for one.
	ErrNoPendingPrompt = errors.New("no pending prompt")
)

// --- Internal conversion helpers ---

func fromInternalTask(t model.Task) Task {
	out := Task{
		ID:        t.ID,
		Host:      t.Config.Host,
		Modules:   append([]string{}, t.Config.Modules...),
		Mode:      Mode(t.Config.Mode),
		Status:    TaskStatus(t.Status),
		Phase:     t.Phase,
		Step:      t.Step,
		Progress:  t.Progress,
		Steps:     make([]Step, 0, len(t.Steps)),
		Log:       make([]LogLine, 0, len(t.Log)),
		LastError: t.LastError,
		Cancelled: t.Cancelled,
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}
	if t.Status == model.TaskStatusFailed {
		out.ErrorKind = t.ErrorKind.String()
	}
	for _, s := range t.Steps {
		out.Steps = append(out.Steps, Step{Phase: s.Phase, Name: s.Step, Result: StepResult(s.Result)})
	}
	for _, l := range t.Log {
		out.Log = append(out.Log, LogLine{Time: l.Time, Text: l.Text})
	}

	return out
}

func fromInternalMessage(msg channel.Message) (Message, bool) {
	switch msg.Type {
	case channel.MessageTypeOutput, channel.MessageTypePrompt:
		text, _ := msg.Data.(string)
		return Message{Type: MessageType(msg.Type), Text: text}, true
	case channel.MessageTypeStatus:
		s, _ := msg.Data.(channel.Status)
		return Message{Type: MessageTypeStatus, Status: TaskStatus(s.Status), Step: s.Step, Progress: s.Progress}, true
	}

	return Message{}, false
}

func mapError(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case isInternalError(err, model.ErrNotFound):
		return joinErrors(err, ErrNotFound)
	case isInternalError(err, model.ErrAlreadyExists):
		return joinErrors(err, ErrAlreadyExists)
	case isInternalError(err, model.ErrNotValid):
		return joinErrors(err, ErrNotValid)
	case isInternalError(err, model.ErrNoPendingPrompt):
		return joinErrors(err, ErrNoPendingPrompt)
	default:
		return err
	}
}

func isInternalError(err, target error) bool {
	for {
		if err == target {
			return true
		}
		unwrapped := unwrapSingle(err)
		if unwrapped == nil {
			return false
		}
		err = unwrapped
	}
}

func unwrapSingle(err error) error {
	u, ok := err.(interface{ Unwrap() error })
	if !ok {
		return nil
	}
	return u.Unwrap()
}

func joinErrors(original, sentinel error) error {
	return &mappedError{original: original, sentinel: sentinel}
}

type mappedError struct {
	original error
	sentinel error
}

func (e *mappedError) Error() string { return e.original.Error() }

func (e *mappedError) Is(target error) bool {
	return target == e.sentinel
}

func (e *mappedError) Unwrap() error { return e.original }
