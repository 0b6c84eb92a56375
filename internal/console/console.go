// Package console has the terminal observer of a task: it prints the task channel and
// answers its prompts from the operator terminal or from preset answers.
package console

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
	"sync"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"github.com/slok/orca/internal/channel"
	"github.com/slok/orca/internal/log"
	"github.com/slok/orca/internal/model"
	"github.com/slok/orca/internal/prompt"
)

// IsTerminal returns true if the file is a terminal.
func IsTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// SubmitFunc answers the outstanding prompt of the observed task.
type SubmitFunc func(text string) error

// ObserverConfig is the console observer configuration.
type ObserverConfig struct {
	Out io.Writer
	// In is where the operator answers are read from, nil disables interactive answers.
	In      io.Reader
	Color   bool
	Answers []model.AutoAnswer
	Submit  SubmitFunc
	Logger  log.Logger
}

func (c *ObserverConfig) defaults() error {
	if c.Out == nil {
		c.Out = os.Stdout
	}
	if c.Submit == nil {
		return fmt.Errorf("submit is required")
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "console.Observer"})

	return nil
}

type autoAnswer struct {
	re    *regexp.Regexp
	value string
}

// Observer is a channel sink that prints to the console.
type Observer struct {
	out     io.Writer
	submit  SubmitFunc
	answers []autoAnswer
	logger  log.Logger

	lines    chan string
	stop     chan struct{}
	stopOnce sync.Once
	last     channel.Status

	promptColor *color.Color
	statusColor *color.Color
	failColor   *color.Color
	okColor     *color.Color
	inputColor  *color.Color
}

// NewObserver returns a new console observer.
func NewObserver(cfg ObserverConfig) (*Observer, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	o := &Observer{
		out:         cfg.Out,
		submit:      cfg.Submit,
		logger:      cfg.Logger,
		stop:        make(chan struct{}),
		promptColor: color.New(color.FgYellow, color.Bold),
		statusColor: color.New(color.FgCyan),
		failColor:   color.New(color.FgRed, color.Bold),
		okColor:     color.New(color.FgGreen, color.Bold),
		inputColor:  color.New(color.Faint),
	}
	for _, c := range []*color.Color{o.promptColor, o.statusColor, o.failColor, o.okColor, o.inputColor} {
		if cfg.Color {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}

	for _, a := range cfg.Answers {
		re, err := regexp.Compile(a.Pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid answer pattern %q: %w", a.Pattern, err)
		}
		o.answers = append(o.answers, autoAnswer{re: re, value: a.Value})
	}

	if cfg.In != nil {
		o.lines = make(chan string)
		go o.readLines(cfg.In)
	}

	return o, nil
}

func (o *Observer) readLines(in io.Reader) {
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		select {
		case o.lines <- sc.Text():
		case <-o.stop:
			return
		}
	}
}

var _ channel.Sink = &Observer{}

// Send prints the message, prompts are answered before returning.
func (o *Observer) Send(msg channel.Message) error {
	switch msg.Type {
	case channel.MessageTypeOutput:
		text, _ := msg.Data.(string)
		_, err := io.WriteString(o.out, text)
		return err

	case channel.MessageTypeStatus:
		s, _ := msg.Data.(channel.Status)
		return o.printStatus(s)

	case channel.MessageTypePrompt:
		text, _ := msg.Data.(string)
		return o.answer(text)
	}

	return nil
}

func (o *Observer) printStatus(s channel.Status) error {
	if s.Status == o.last.Status && s.Step == o.last.Step {
		o.last = s
		return nil
	}
	o.last = s

	var err error
	switch s.Status {
	case model.TaskStatusCompleted:
		_, err = o.okColor.Fprintf(o.out, "==> %s (%d%%)\n", s.Status, s.Progress)
	case model.TaskStatusFailed:
		_, err = o.failColor.Fprintf(o.out, "==> %s: %s (%d%%)\n", s.Status, s.Step, s.Progress)
	case model.TaskStatusWaitingInput:
		// The prompt itself is printed.
	default:
		_, err = o.statusColor.Fprintf(o.out, "==> [%3d%%] %s\n", s.Progress, s.Step)
	}
	return err
}

func (o *Observer) answer(question string) error {
	if _, err := o.promptColor.Fprintf(o.out, "\n? %s ", question); err != nil {
		return err
	}

	for _, a := range o.answers {
		if !a.re.MatchString(question) {
			continue
		}
		shown := a.value
		if prompt.IsSecret(question) {
			shown = "********"
		}
		_, _ = o.inputColor.Fprintf(o.out, "%s (preset)\n", shown)
		return o.submitAnswer(a.value)
	}

	if o.lines == nil {
		_, err := fmt.Fprintln(o.out)
		o.logger.Warningf("Prompt %q can't be answered from the console", question)
		return err
	}

	select {
	case line := <-o.lines:
		return o.submitAnswer(line)
	case <-o.stop:
		return nil
	}
}

func (o *Observer) submitAnswer(text string) error {
	if err := o.submit(text); err != nil {
		// A withdrawn prompt is not a console failure.
		o.logger.Warningf("Answer not accepted: %v", err)
	}
	return nil
}

// Stop stops waiting for operator answers.
func (o *Observer) Stop() {
	o.stopOnce.Do(func() { close(o.stop) })
}

// Close implements io.Closer so the observer is stopped once detached.
func (o *Observer) Close() error {
	o.Stop()
	return nil
}
