// Package pipeline orchestrates the installation of a definition on a host: it resolves the
// phases to run, runs their steps in order and keeps the task and its observers up to date.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/slok/orca/internal/channel"
	"github.com/slok/orca/internal/checkpoint"
	"github.com/slok/orca/internal/executor"
	"github.com/slok/orca/internal/log"
	"github.com/slok/orca/internal/model"
	"github.com/slok/orca/internal/provision"
	"github.com/slok/orca/internal/recovery"
	"github.com/slok/orca/internal/remote"
	"github.com/slok/orca/internal/task"
)

const (
	DefaultCommandTimeout     = 10 * time.Minute
	DefaultInteractiveTimeout = time.Hour
	// DefaultOutputSaveInterval is the max time command output stays unsaved in the task log.
	DefaultOutputSaveInterval = time.Second
)

// OrchestratorConfig is the orchestrator configuration.
type OrchestratorConfig struct {
	Provider    remote.Provider
	Executor    *executor.Executor
	Recovery    *recovery.Manager
	Checkpoints *checkpoint.Checker
	Repository  task.Repository
	// CommandTimeout is the default timeout of non interactive commands.
	CommandTimeout time.Duration
	// InteractiveTimeout is the default timeout of interactive commands.
	InteractiveTimeout time.Duration
	// PromptTimeout is the max wait for an operator answer, 0 means no limit.
	PromptTimeout time.Duration
	// OutputSaveInterval is the max time command output stays unsaved in the task log.
	OutputSaveInterval time.Duration
	TimeNow            func() time.Time
	Logger             log.Logger
}

func (c *OrchestratorConfig) defaults() error {
	if c.Provider == nil {
		return fmt.Errorf("provider is required")
	}
	if c.Repository == nil {
		return fmt.Errorf("repository is required")
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "pipeline.Orchestrator"})

	var err error
	if c.Executor == nil {
		c.Executor, err = executor.NewExecutor(executor.ExecutorConfig{Logger: c.Logger})
		if err != nil {
			return fmt.Errorf("could not create executor: %w", err)
		}
	}
	if c.Checkpoints == nil {
		c.Checkpoints, err = checkpoint.NewChecker(checkpoint.CheckerConfig{Logger: c.Logger})
		if err != nil {
			return fmt.Errorf("could not create checkpoint checker: %w", err)
		}
	}
	if c.Recovery == nil {
		c.Recovery, err = recovery.NewManager(recovery.ManagerConfig{Checkpoints: c.Checkpoints, Logger: c.Logger})
		if err != nil {
			return fmt.Errorf("could not create recovery manager: %w", err)
		}
	}
	if c.CommandTimeout == 0 {
		c.CommandTimeout = DefaultCommandTimeout
	}
	if c.InteractiveTimeout == 0 {
		c.InteractiveTimeout = DefaultInteractiveTimeout
	}
	if c.OutputSaveInterval == 0 {
		c.OutputSaveInterval = DefaultOutputSaveInterval
	}
	if c.TimeNow == nil {
		c.TimeNow = time.Now
	}

	return nil
}

// Orchestrator runs installation tasks. It's safe for concurrent use, each task runs
// sequentially on the goroutine that calls Run.
type Orchestrator struct {
	provider           remote.Provider
	executor           *executor.Executor
	recovery           *recovery.Manager
	checkpoints        *checkpoint.Checker
	repo               task.Repository
	commandTimeout     time.Duration
	interactiveTimeout time.Duration
	promptTimeout      time.Duration
	outputSaveInterval time.Duration
	timeNow            func() time.Time
	logger             log.Logger
}

// NewOrchestrator returns a new orchestrator.
func NewOrchestrator(cfg OrchestratorConfig) (*Orchestrator, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Orchestrator{
		provider:           cfg.Provider,
		executor:           cfg.Executor,
		recovery:           cfg.Recovery,
		checkpoints:        cfg.Checkpoints,
		repo:               cfg.Repository,
		commandTimeout:     cfg.CommandTimeout,
		interactiveTimeout: cfg.InteractiveTimeout,
		promptTimeout:      cfg.PromptTimeout,
		outputSaveInterval: cfg.OutputSaveInterval,
		timeNow:            cfg.TimeNow,
		logger:             cfg.Logger,
	}, nil
}

// RunRequest is a task run request.
type RunRequest struct {
	// Task must be already stored in the repository.
	Task        model.Task
	Definition  Definition
	Credentials remote.Credentials
	// Channel is the registered task channel, optional.
	Channel *channel.Handle
}

// Run runs the task until it's completed or failed and returns it. Step failures are not
// returned, they end in the task status.
func (o *Orchestrator) Run(ctx context.Context, req RunRequest) model.Task {
	ctx = o.logger.SetValuesOnCtx(ctx, log.Kv{"task-id": req.Task.ID})
	r := &run{
		o:       o,
		task:    req.Task.Copy(),
		channel: req.Channel,
		logger:  o.logger.WithCtxValues(ctx),
		saveCtx: context.WithoutCancel(ctx),
	}

	def := req.Definition
	if err := def.Validate(); err != nil {
		r.fail(model.NewError(model.ErrorKindInvariantViolation, "invalid definition", err))
		return r.task
	}

	r.setStatus(model.TaskStatusConnecting, "Connecting")
	r.logf("connecting to %s", r.task.Config.Host)

	var sess remote.Session
	err := o.recovery.Connect(ctx, func(ctx context.Context) error {
		s, err := o.provider.Connect(ctx, r.task.Config.Host, req.Credentials)
		if err != nil {
			r.logf("connection failed: %v", err)
			return err
		}
		sess = s
		return nil
	})
	if err != nil {
		r.fail(err)
		return r.task
	}
	defer sess.Close()
	r.target = &target{r: r, sess: sess}
	r.logf("connected to %s", r.task.Config.Host)

	o.reportResumable(ctx, r, def)

	plan, err := o.plan(ctx, r, def)
	if err != nil {
		r.fail(err)
		return r.task
	}

	total := 0
	for _, pp := range plan {
		total += pp.phase.weight()
		for _, s := range pp.phase.Steps {
			r.task.SetStepResult(pp.phase.ID, s.Name, model.StepResultPending)
		}
	}
	r.total = total

	r.setStatus(model.TaskStatusRunning, "Starting")
	for _, pp := range plan {
		if err := o.runPhase(ctx, r, pp); err != nil {
			r.fail(err)
			return r.task
		}
	}

	r.task.Phase = ""
	r.task.SetProgress(100)
	r.logf("installation completed")
	r.setStatus(model.TaskStatusCompleted, "Completed")

	return r.task
}

type plannedPhase struct {
	phase     Phase
	installed bool
}

// plan resolves the phases to run before running any step so the total weight is fixed.
func (o *Orchestrator) plan(ctx context.Context, r *run, def Definition) ([]plannedPhase, error) {
	known := map[string]bool{}
	for _, m := range def.Modules() {
		known[m] = true
	}
	for _, m := range r.task.Config.Modules {
		if !known[m] {
			return nil, model.NewError(model.ErrorKindUnknown, fmt.Sprintf("unknown module %q", m), model.ErrNotValid)
		}
	}

	selected := map[string]bool{}
	for _, p := range def.Phases {
		if p.Module == "" || r.task.Config.HasModule(p.Module) {
			selected[p.ID] = true
		}
	}

	installed := map[string]bool{}
	isInstalled := func(id string) (bool, error) {
		if v, ok := installed[id]; ok {
			return v, nil
		}
		ok, err := o.checkpoints.Exists(ctx, r.target, id)
		if err != nil {
			return false, fmt.Errorf("could not check phase %q: %w", id, err)
		}
		installed[id] = ok
		return ok, nil
	}

	// Walk backwards so pulled in prerequisites are also resolved, they are always defined before.
	for i := len(def.Phases) - 1; i >= 0; i-- {
		p := def.Phases[i]
		if !selected[p.ID] || p.Requires == "" || selected[p.Requires] {
			continue
		}

		ok, err := isInstalled(p.Requires)
		if err != nil {
			return nil, err
		}
		if ok {
			continue
		}

		if r.task.Config.Mode == model.ModeAddon {
			return nil, model.NewError(model.ErrorKindUnknown,
				fmt.Sprintf("phase %q requires %q that is not installed on the host", p.ID, p.Requires), model.ErrNotValid)
		}

		r.logf("phase %q requires %q, adding it", p.ID, p.Requires)
		selected[p.Requires] = true
	}

	plan := []plannedPhase{}
	for _, p := range def.Phases {
		if !selected[p.ID] {
			continue
		}
		ok, err := isInstalled(p.ID)
		if err != nil {
			return nil, err
		}
		plan = append(plan, plannedPhase{phase: p, installed: ok})
	}

	return plan, nil
}

func (o *Orchestrator) reportResumable(ctx context.Context, r *run, def Definition) {
	for _, p := range def.Phases {
		ok, err := o.checkpoints.Resumable(ctx, r.target, p.ID)
		if err != nil {
			r.logger.Warningf("could not check if phase %q is resumable: %v", p.ID, err)
			continue
		}
		if ok {
			r.logf("phase %q was left resumable by a previous run", p.ID)
		}
	}
}

func (o *Orchestrator) runPhase(ctx context.Context, r *run, pp plannedPhase) error {
	p := pp.phase
	r.task.Phase = p.ID

	if pp.installed {
		for _, s := range p.Steps {
			r.task.SetStepResult(p.ID, s.Name, model.StepResultSkipped)
			r.done += s.Weight
		}
		r.logf("phase %q already installed, skipping", p.ID)
		r.progress()
		r.publish()
		r.save()
		return nil
	}

	r.logf("starting phase %q", p.ID)
	for _, s := range p.Steps {
		if err := ctx.Err(); err != nil {
			return model.NewError(model.ErrorKindCancelled, "task cancelled", err)
		}

		r.task.Step = s.Label
		r.publish()

		// The guard runs inside the recovery unit so a failing guard also rolls back.
		skipped := false
		guarded := provision.ActionFunc(func(ctx context.Context, t provision.Target) error {
			ok, err := s.Guard.Satisfied(ctx, t)
			if err != nil {
				return fmt.Errorf("guard of step %q failed: %w", s.Name, err)
			}
			skipped = ok
			if ok {
				return nil
			}

			r.logf("running %q", s.Name)
			r.save()
			return s.Action.Apply(ctx, t)
		})

		err := o.recovery.Execute(ctx, r.target, recovery.Unit{
			Phase:         p.ID,
			Step:          s.Name,
			Action:        guarded,
			Remediation:   s.Remediation,
			Rollback:      s.Rollback,
			PhaseRollback: p.Rollback,
			PhaseRecovery: p.Recovery,
			Restore:       p.Restore,
		})
		switch {
		case err != nil:
			r.task.SetStepResult(p.ID, s.Name, model.StepResultFailed)
			return err
		case skipped:
			r.task.SetStepResult(p.ID, s.Name, model.StepResultSkipped)
			r.logf("skip %q", s.Name)
		default:
			r.task.SetStepResult(p.ID, s.Name, model.StepResultCompleted)
			r.logf("completed %q", s.Name)
		}

		r.done += s.Weight
		r.progress()
		r.publish()
		r.save()
	}

	if err := o.checkpoints.Mark(ctx, r.target, p.ID); err != nil {
		return fmt.Errorf("could not mark phase %q as installed: %w", p.ID, err)
	}
	r.logf("phase %q installed", p.ID)

	return nil
}
