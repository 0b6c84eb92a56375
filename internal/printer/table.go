package printer

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/slok/orca/internal/model"
	"github.com/slok/orca/internal/prompt"
	"github.com/slok/orca/internal/stack"
)

// maxTableLogLines is the number of task log lines shown by the table printer.
const maxTableLogLines = 15

// TablePrinter prints orca information in a table format.
type TablePrinter struct {
	writer io.Writer
}

// NewTablePrinter creates a new table printer.
func NewTablePrinter(w io.Writer) *TablePrinter {
	return &TablePrinter{writer: w}
}

var _ Printer = &TablePrinter{}

// PrintTask prints the task summary with its steps and the tail of its log.
func (t *TablePrinter) PrintTask(task model.Task) error {
	fmt.Fprintf(t.writer, "ID:         %s\n", task.ID)
	fmt.Fprintf(t.writer, "Host:       %s\n", task.Config.Host)
	fmt.Fprintf(t.writer, "Mode:       %s\n", task.Config.Mode)
	if len(task.Config.Modules) > 0 {
		fmt.Fprintf(t.writer, "Modules:    %s\n", strings.Join(task.Config.Modules, ", "))
	}
	fmt.Fprintf(t.writer, "Status:     %s\n", task.Status)
	fmt.Fprintf(t.writer, "Step:       %s\n", task.Step)
	fmt.Fprintf(t.writer, "Progress:   %d%%\n", task.Progress)
	fmt.Fprintf(t.writer, "Created:    %s\n", FormatTimestamp(task.CreatedAt))
	if !task.UpdatedAt.IsZero() {
		fmt.Fprintf(t.writer, "Duration:   %s\n", FormatDuration(task.UpdatedAt.Sub(task.CreatedAt)))
	}
	if task.LastError != "" {
		fmt.Fprintf(t.writer, "Error:      %s (%s)\n", task.LastError, task.ErrorKind)
	}
	if task.Cancelled {
		fmt.Fprintf(t.writer, "Cancelled:  yes\n")
	}

	if len(task.Steps) > 0 {
		fmt.Fprintln(t.writer)
		tw := tabwriter.NewWriter(t.writer, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "PHASE\tSTEP\tRESULT")
		for _, s := range task.Steps {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", s.Phase, s.Step, s.Result)
		}
		tw.Flush()
	}

	if len(task.Log) > 0 {
		logs := task.Log
		if len(logs) > maxTableLogLines {
			logs = logs[len(logs)-maxTableLogLines:]
		}
		fmt.Fprintln(t.writer)
		for _, l := range logs {
			fmt.Fprintf(t.writer, "%s  %s\n", l.Time.UTC().Format("15:04:05"), l.Text)
		}
	}

	return nil
}

// PrintTaskList prints tasks in a table format.
func (t *TablePrinter) PrintTaskList(tasks []model.Task) error {
	if len(tasks) == 0 {
		return nil
	}

	tw := tabwriter.NewWriter(t.writer, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	fmt.Fprintln(tw, "ID\tHOST\tSTATUS\tPROGRESS\tCREATED")
	for _, task := range tasks {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d%%\t%s\n", task.ID, task.Config.Host, task.Status, task.Progress, TimeAgo(task.CreatedAt))
	}

	return nil
}

// PrintStack prints the phases and steps of a stack.
func (t *TablePrinter) PrintStack(s *stack.Stack) error {
	fmt.Fprintf(t.writer, "Name:       %s\n", s.Name)
	if s.Description != "" {
		fmt.Fprintf(t.writer, "About:      %s\n", s.Description)
	}
	fmt.Fprintln(t.writer)

	tw := tabwriter.NewWriter(t.writer, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	fmt.Fprintln(tw, "PHASE\tMODULE\tREQUIRES\tRECOVERY\tSTEP\tWEIGHT\tKIND")
	for _, p := range s.Phases {
		recovery := p.Recovery
		if recovery == "" && p.Rollback != nil {
			recovery = "rollback"
		}
		for i, st := range p.Steps {
			phase, module, requires, rec := "", "", "", ""
			if i == 0 {
				phase, module, requires, rec = p.ID, orDash(p.Module), orDash(p.Requires), orDash(recovery)
			}
			weight := st.Weight
			if weight == 0 {
				weight = 1
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n", phase, module, requires, rec, st.Name, weight, actionKind(st.Run))
		}
	}

	return nil
}

// PrintPromptCheck prints the prompt classification of a text.
func (t *TablePrinter) PrintPromptCheck(text string, res prompt.Result) error {
	if !res.IsPrompt {
		fmt.Fprintln(t.writer, "Prompt:     no")
		return nil
	}

	fmt.Fprintln(t.writer, "Prompt:     yes")
	for _, c := range res.Context {
		fmt.Fprintf(t.writer, "Context:    %q\n", c)
	}
	fmt.Fprintf(t.writer, "Question:   %q\n", res.PromptText)
	if prompt.IsSecret(res.PromptText) {
		fmt.Fprintln(t.writer, "Secret:     yes")
	}

	return nil
}

// PrintMessage prints a simple text message.
func (t *TablePrinter) PrintMessage(msg string) error {
	fmt.Fprintln(t.writer, msg)
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func actionKind(a stack.Action) string {
	switch {
	case a.Command != "":
		return "command"
	case a.Interactive != "":
		return "interactive"
	case a.Upload != nil:
		return "upload"
	case len(a.Config) > 0:
		return "config"
	}
	return "unknown"
}
