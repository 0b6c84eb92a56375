package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/slok/orca/internal/channel"
	"github.com/slok/orca/internal/executor"
	"github.com/slok/orca/internal/log"
	"github.com/slok/orca/internal/model"
	"github.com/slok/orca/internal/remote"
)

// answerLogPrefix marks the operator answers in the task log.
const answerLogPrefix = "> "

// run is the state of a single task run, it's only used from the goroutine running the task.
type run struct {
	o       *Orchestrator
	task    model.Task
	channel *channel.Handle
	target  *target
	logger  log.Logger
	saveCtx context.Context

	total    int
	done     int
	partial  string
	lastSave time.Time
}

func (r *run) logf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	r.task.AddLog(r.o.timeNow(), msg)
	r.logger.Infof("%s", msg)
}

// output adds the command output to the task log line by line and forwards it untouched.
func (r *run) output(chunk string) {
	if r.channel != nil {
		r.channel.Output(chunk)
	}

	data := r.partial + chunk
	lines := strings.Split(data, "\n")
	r.partial = lines[len(lines)-1]
	added := false
	for _, l := range lines[:len(lines)-1] {
		l = strings.TrimRight(l, "\r")
		if l != "" {
			r.task.AddLog(r.o.timeNow(), l)
			added = true
		}
	}

	// Long commands would leave the stored log behind until the next transition.
	if added && r.o.timeNow().Sub(r.lastSave) >= r.o.outputSaveInterval {
		r.save()
	}
}

func (r *run) flushOutput() {
	if p := strings.TrimSpace(r.partial); p != "" {
		r.task.AddLog(r.o.timeNow(), p)
	}
	r.partial = ""
}

func (r *run) progress() {
	if r.total > 0 {
		r.task.SetProgress(100 * r.done / r.total)
	}
}

func (r *run) setStatus(s model.TaskStatus, step string) {
	r.task.Status = s
	if step != "" {
		r.task.Step = step
	}
	r.publish()
	r.save()
}

func (r *run) publish() {
	if r.channel == nil {
		return
	}
	r.channel.Status(channel.Status{
		Status:   r.task.Status,
		Step:     r.task.Step,
		Progress: r.task.Progress,
	})
}

// save stores the task, the run context may be already cancelled so it doesn't use it.
func (r *run) save() {
	r.task.UpdatedAt = r.o.timeNow()
	r.lastSave = r.task.UpdatedAt
	if err := r.o.repo.UpdateTask(r.saveCtx, r.task); err != nil {
		r.logger.Errorf("could not save task: %v", err)
	}
}

func (r *run) fail(err error) {
	r.flushOutput()
	kind := model.KindOf(err)
	r.task.LastError = err.Error()
	r.task.ErrorKind = kind
	r.task.Cancelled = kind == model.ErrorKindCancelled
	r.logf("installation failed: %s", err)
	r.setStatus(model.TaskStatusFailed, "")
}

// target is the provision target of a task run.
type target struct {
	r    *run
	sess remote.Session
}

func (t *target) Run(ctx context.Context, cmd string, timeout time.Duration) (*model.CommandResult, error) {
	if timeout == 0 {
		timeout = t.r.o.commandTimeout
	}
	return t.sess.Run(ctx, cmd, timeout)
}

func (t *target) RunInteractive(ctx context.Context, cmd string, timeout time.Duration) (*executor.Result, error) {
	if timeout == 0 {
		timeout = t.r.o.interactiveTimeout
	}
	defer t.r.flushOutput()

	req := executor.Request{
		Command:       cmd,
		OnOutput:      t.r.output,
		Timeout:       timeout,
		PromptTimeout: t.r.o.promptTimeout,
	}
	if t.r.channel != nil {
		req.OnPrompt = t.prompt
	}

	return t.r.o.executor.Run(ctx, t.sess, req)
}

func (t *target) prompt(ctx context.Context, question string) (string, error) {
	r := t.r
	// The unterminated output is the question itself.
	r.partial = ""
	r.task.AddLog(r.o.timeNow(), question)
	r.setStatus(model.TaskStatusWaitingInput, "")

	answer, err := r.channel.Prompt(ctx, question)
	if err != nil {
		return "", err
	}

	r.task.AddLog(r.o.timeNow(), answerLogPrefix+executor.LoggedAnswer(question, answer))

	// The channel already told the observers the task is running again.
	r.task.Status = model.TaskStatusRunning
	r.save()

	return answer, nil
}

func (t *target) CopyTo(ctx context.Context, srcLocal, dstRemote string) error {
	return t.sess.CopyTo(ctx, srcLocal, dstRemote)
}

func (t *target) Logf(format string, args ...any) { t.r.logf(format, args...) }
