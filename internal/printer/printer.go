package printer

import (
	"github.com/slok/orca/internal/model"
	"github.com/slok/orca/internal/prompt"
	"github.com/slok/orca/internal/stack"
)

// Printer knows how to print orca information in different formats.
type Printer interface {
	PrintTask(t model.Task) error
	PrintTaskList(tasks []model.Task) error
	PrintStack(s *stack.Stack) error
	PrintPromptCheck(text string, res prompt.Result) error
	PrintMessage(msg string) error
}
