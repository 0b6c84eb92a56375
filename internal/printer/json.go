package printer

import (
	"encoding/json"
	"io"
	"time"

	"github.com/slok/orca/internal/model"
	"github.com/slok/orca/internal/prompt"
	"github.com/slok/orca/internal/stack"
)

// JSONPrinter prints orca information in JSON format.
type JSONPrinter struct {
	writer io.Writer
}

// NewJSONPrinter creates a new JSON printer.
func NewJSONPrinter(w io.Writer) *JSONPrinter {
	return &JSONPrinter{writer: w}
}

var _ Printer = &JSONPrinter{}

// TaskOutput is the JSON representation of a task, it's also the status API payload.
type TaskOutput struct {
	ID          string       `json:"id"`
	Host        string       `json:"host"`
	Mode        string       `json:"mode"`
	Modules     []string     `json:"modules"`
	Status      string       `json:"status"`
	CurrentStep string       `json:"current_step"`
	Progress    int          `json:"progress"`
	Steps       []StepOutput `json:"steps"`
	Log         []LogOutput  `json:"log"`
	Error       *ErrorOutput `json:"error,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// StepOutput is the JSON representation of a task step.
type StepOutput struct {
	Phase  string `json:"phase"`
	Step   string `json:"step"`
	Result string `json:"result"`
}

// LogOutput is the JSON representation of a task log line.
type LogOutput struct {
	Time time.Time `json:"time"`
	Text string    `json:"text"`
}

// ErrorOutput is the JSON representation of a task failure.
type ErrorOutput struct {
	Message   string `json:"message"`
	Kind      string `json:"kind"`
	Cancelled bool   `json:"cancelled"`
}

// NewTaskOutput maps a task to its JSON representation.
func NewTaskOutput(t model.Task) TaskOutput {
	out := TaskOutput{
		ID:          t.ID,
		Host:        t.Config.Host,
		Mode:        string(t.Config.Mode),
		Modules:     t.Config.Modules,
		Status:      string(t.Status),
		CurrentStep: t.Step,
		Progress:    t.Progress,
		Steps:       make([]StepOutput, 0, len(t.Steps)),
		Log:         make([]LogOutput, 0, len(t.Log)),
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
	if out.Modules == nil {
		out.Modules = []string{}
	}
	for _, s := range t.Steps {
		out.Steps = append(out.Steps, StepOutput{Phase: s.Phase, Step: s.Step, Result: string(s.Result)})
	}
	for _, l := range t.Log {
		out.Log = append(out.Log, LogOutput{Time: l.Time, Text: l.Text})
	}
	if t.Status == model.TaskStatusFailed {
		out.Error = &ErrorOutput{Message: t.LastError, Kind: t.ErrorKind.String(), Cancelled: t.Cancelled}
	}

	return out
}

type taskListItem struct {
	ID        string    `json:"id"`
	Host      string    `json:"host"`
	Status    string    `json:"status"`
	Progress  int       `json:"progress"`
	CreatedAt time.Time `json:"created_at"`
}

type promptCheckOutput struct {
	Text     string   `json:"text"`
	IsPrompt bool     `json:"is_prompt"`
	Question string   `json:"question,omitempty"`
	Context  []string `json:"context"`
	Secret   bool     `json:"secret"`
}

// messageOutput represents a simple message output.
type messageOutput struct {
	Message string `json:"message"`
}

// PrintTask prints the task in JSON format.
func (j *JSONPrinter) PrintTask(t model.Task) error {
	return j.encode(NewTaskOutput(t))
}

// PrintTaskList prints tasks in JSON format with a subset of fields.
func (j *JSONPrinter) PrintTaskList(tasks []model.Task) error {
	items := make([]taskListItem, len(tasks))
	for i, t := range tasks {
		items[i] = taskListItem{
			ID:        t.ID,
			Host:      t.Config.Host,
			Status:    string(t.Status),
			Progress:  t.Progress,
			CreatedAt: t.CreatedAt,
		}
	}

	return j.encode(items)
}

// PrintStack prints the stack in JSON format.
func (j *JSONPrinter) PrintStack(s *stack.Stack) error {
	return j.encode(s)
}

// PrintPromptCheck prints the prompt classification in JSON format.
func (j *JSONPrinter) PrintPromptCheck(text string, res prompt.Result) error {
	out := promptCheckOutput{
		Text:     text,
		IsPrompt: res.IsPrompt,
		Context:  []string{},
	}
	if res.IsPrompt {
		out.Question = res.PromptText
		out.Context = append(out.Context, res.Context...)
		out.Secret = prompt.IsSecret(res.PromptText)
	}

	return j.encode(out)
}

// PrintMessage prints a simple message in JSON format.
func (j *JSONPrinter) PrintMessage(msg string) error {
	return j.encode(messageOutput{Message: msg})
}

func (j *JSONPrinter) encode(v any) error {
	enc := json.NewEncoder(j.writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
