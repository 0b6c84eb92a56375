// Package executor runs interactive commands on a remote session, streaming their output
// and answering the questions they ask.
package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/slok/orca/internal/log"
	"github.com/slok/orca/internal/model"
	"github.com/slok/orca/internal/prompt"
	"github.com/slok/orca/internal/remote"
)

const (
	// DefaultPollInterval is the default interval between output classifications.
	DefaultPollInterval = 200 * time.Millisecond

	readBufferSize = 4096
	maxTailSize    = 8192
	maskedInput    = "********"
)

// State is the state of an interactive command execution.
type State string

const (
	StateReading       State = "reading"
	StateAwaitingInput State = "awaiting_input"
	StateComplete      State = "complete"
	StateTimedOut      State = "timed_out"
	StateIOError       State = "io_error"
	StateCancelled     State = "cancelled"
)

// EntryKind is the kind of a log entry.
type EntryKind string

const (
	EntryKindOutput EntryKind = "output"
	EntryKindPrompt EntryKind = "prompt"
	EntryKindInput  EntryKind = "input"
)

// Entry is a command log entry.
type Entry struct {
	Kind EntryKind
	Text string
}

// OutputFunc receives every output chunk in order.
type OutputFunc func(chunk string)

// PromptFunc answers a question asked by the remote command, it may block.
type PromptFunc func(ctx context.Context, question string) (string, error)

// Request is an interactive command execution request.
type Request struct {
	Command  string
	OnOutput OutputFunc
	OnPrompt PromptFunc
	// Timeout is the overall command timeout, 0 means no timeout.
	Timeout time.Duration
	// PromptTimeout is the max time waiting for an answer, 0 means no timeout.
	PromptTimeout time.Duration
}

// Result is an interactive command execution result.
type Result struct {
	Success  bool
	ExitCode int
	State    State
	Log      []Entry
}

// ExecutorConfig is the executor configuration.
type ExecutorConfig struct {
	Classifier   *prompt.Classifier
	PollInterval time.Duration
	Logger       log.Logger
}

func (c *ExecutorConfig) defaults() error {
	if c.Classifier == nil {
		cls, err := prompt.NewClassifier(prompt.ClassifierConfig{})
		if err != nil {
			return fmt.Errorf("could not create default classifier: %w", err)
		}
		c.Classifier = cls
	}

	if c.PollInterval == 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.PollInterval < 0 {
		return fmt.Errorf("poll interval can't be negative")
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "executor.Executor"})

	return nil
}

// Executor runs interactive remote commands. It's safe for concurrent use, each
// execution owns its own stream.
type Executor struct {
	classifier *prompt.Classifier
	poll       time.Duration
	logger     log.Logger
}

// NewExecutor returns a new executor.
func NewExecutor(cfg ExecutorConfig) (*Executor, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Executor{
		classifier: cfg.Classifier,
		poll:       cfg.PollInterval,
		logger:     cfg.Logger,
	}, nil
}

// Run executes an interactive command until it exits, times out, fails or the context is cancelled.
// The result is always returned, also with the error.
func (e *Executor) Run(ctx context.Context, sess remote.Session, req Request) (*Result, error) {
	res := &Result{State: StateReading, ExitCode: -1}
	logger := e.logger.WithCtxValues(ctx)

	execCtx := ctx
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	stream, err := sess.OpenInteractive(execCtx, req.Command)
	if err != nil {
		return e.fail(ctx, execCtx, res, model.NewError(model.ErrorKindIO, "could not open interactive command", err))
	}

	chunks := make(chan string)
	readErr := make(chan error, 1)
	pumpStop := make(chan struct{})
	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		buf := make([]byte, readBufferSize)
		for {
			n, err := stream.Read(buf)
			if n > 0 {
				select {
				case chunks <- string(buf[:n]):
				case <-pumpStop:
					return
				}
			}
			if err != nil {
				readErr <- err
				return
			}
		}
	}()
	defer func() {
		close(pumpStop)
		_ = stream.Close()
		<-pumpDone
	}()

	ticker := time.NewTicker(e.poll)
	defer ticker.Stop()

	var tail strings.Builder
	lastOutput := time.Now()

	for {
		select {
		case <-execCtx.Done():
			return e.fail(ctx, execCtx, res, nil)

		case chunk := <-chunks:
			res.Log = append(res.Log, Entry{Kind: EntryKindOutput, Text: chunk})
			if req.OnOutput != nil {
				req.OnOutput(chunk)
			}
			tail.WriteString(chunk)
			if tail.Len() > maxTailSize {
				t := tail.String()
				tail.Reset()
				tail.WriteString(t[len(t)-maxTailSize:])
			}
			lastOutput = time.Now()

		case err := <-readErr:
			if !errors.Is(err, io.EOF) {
				res.State = StateIOError
				return e.fail(ctx, execCtx, res, model.NewError(model.ErrorKindIO, "could not read command output", err))
			}

			select {
			case <-stream.Done():
			case <-execCtx.Done():
				return e.fail(ctx, execCtx, res, nil)
			}

			res.ExitCode = stream.ExitCode()
			res.Success = res.ExitCode == 0
			res.State = StateComplete
			logger.Debugf("Command %q finished with exit code %d", req.Command, res.ExitCode)
			return res, nil

		case <-ticker.C:
			cls := e.classifier.Classify(prompt.Input{
				Recent:    tail.String(),
				SilentFor: time.Since(lastOutput),
				Exited:    isDone(stream),
			})
			if !cls.IsPrompt {
				continue
			}

			// Not receiving from the pump while waiting holds the remote output back.
			res.State = StateAwaitingInput
			q := cls.PromptText
			logger.Debugf("Command %q is waiting for input: %q", req.Command, q)
			res.Log = append(res.Log, Entry{Kind: EntryKindPrompt, Text: q})

			answer, err := e.ask(execCtx, req, q)
			if err != nil {
				return e.fail(ctx, execCtx, res, err)
			}

			if !strings.HasSuffix(answer, "\n") {
				answer += "\n"
			}
			res.Log = append(res.Log, Entry{Kind: EntryKindInput, Text: LoggedAnswer(q, answer)})

			if _, err := io.WriteString(stream, answer); err != nil {
				res.State = StateIOError
				return e.fail(ctx, execCtx, res, model.NewError(model.ErrorKindIO, "could not write command input", err))
			}

			tail.Reset()
			lastOutput = time.Now()
			res.State = StateReading
		}
	}
}

// LoggedAnswer returns the answer to a question as it can be logged, secret answers
// are masked.
func LoggedAnswer(question, answer string) string {
	if prompt.IsSecret(question) {
		return maskedInput
	}
	return strings.TrimSuffix(answer, "\n")
}

func (e *Executor) ask(ctx context.Context, req Request, question string) (string, error) {
	if req.OnPrompt == nil {
		return "", model.Errorf(model.ErrorKindInvariantViolation, "command asked %q and there is no prompt handler", question)
	}

	promptCtx := ctx
	if req.PromptTimeout > 0 {
		var cancel context.CancelFunc
		promptCtx, cancel = context.WithTimeout(ctx, req.PromptTimeout)
		defer cancel()
	}

	answer, err := req.OnPrompt(promptCtx, question)
	if err != nil {
		if ctx.Err() == nil && errors.Is(promptCtx.Err(), context.DeadlineExceeded) {
			return "", model.Errorf(model.ErrorKindPromptTimeout, "no answer for %q after %s", question, req.PromptTimeout)
		}
		return "", err
	}

	return answer, nil
}

// fail sets the final state based on what ended the execution. A nil err means the
// execution context ended.
func (e *Executor) fail(parent, execCtx context.Context, res *Result, err error) (*Result, error) {
	switch {
	case parent.Err() != nil:
		res.State = StateCancelled
		return res, model.NewError(model.ErrorKindCancelled, "command cancelled", parent.Err())
	case execCtx.Err() != nil:
		res.State = StateTimedOut
		return res, model.NewError(model.ErrorKindCommandTimeout, "command timed out", execCtx.Err())
	}

	switch model.KindOf(err) {
	case model.ErrorKindPromptTimeout:
		res.State = StateTimedOut
	case model.ErrorKindCancelled, model.ErrorKindInvariantViolation:
		res.State = StateCancelled
	default:
		res.State = StateIOError
	}

	return res, err
}

func isDone(s remote.Stream) bool {
	select {
	case <-s.Done():
		return true
	default:
		return false
	}
}
