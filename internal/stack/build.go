package stack

import (
	"context"
	"fmt"
	"maps"
	"path/filepath"

	"github.com/slok/orca/internal/log"
	"github.com/slok/orca/internal/model"
	"github.com/slok/orca/internal/pipeline"
	"github.com/slok/orca/internal/provision"
	"github.com/slok/orca/internal/recovery"
)

// BuildConfig is the configuration used to build a stack into a pipeline definition.
type BuildConfig struct {
	// Values replace the `${key}` placeholders of commands, guards and remote paths, they
	// override the stack default values.
	Values map[string]string
	// Applier applies the config actions, defaults to the upload applier.
	Applier provision.ConfigApplier
	// BaseDir is where relative local paths are resolved from.
	BaseDir string
	Logger  log.Logger
}

func (c *BuildConfig) defaults() error {
	if c.Values == nil {
		c.Values = map[string]string{}
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "stack.Builder"})

	if c.Applier == nil {
		a, err := provision.NewUploadConfigApplier(provision.UploadConfigApplierConfig{Logger: c.Logger})
		if err != nil {
			return fmt.Errorf("could not create config applier: %w", err)
		}
		c.Applier = a
	}

	return nil
}

// Build builds the stack into a validated pipeline definition.
func Build(s *Stack, cfg BuildConfig) (pipeline.Definition, error) {
	if err := cfg.defaults(); err != nil {
		return pipeline.Definition{}, fmt.Errorf("invalid config: %w", err)
	}
	values := maps.Clone(s.Values)
	if values == nil {
		values = map[string]string{}
	}
	maps.Copy(values, cfg.Values)
	cfg.Values = values
	b := builder{cfg: cfg}

	def := pipeline.Definition{}
	for _, p := range s.Phases {
		phase, err := b.phase(p)
		if err != nil {
			return pipeline.Definition{}, fmt.Errorf("phase %q: %w", p.ID, err)
		}
		def.Phases = append(def.Phases, phase)
	}

	if err := def.Validate(); err != nil {
		return pipeline.Definition{}, fmt.Errorf("invalid definition: %w", err)
	}

	return def, nil
}

type builder struct {
	cfg BuildConfig
}

func (b builder) phase(p Phase) (pipeline.Phase, error) {
	phase := pipeline.Phase{
		ID:       p.ID,
		Module:   p.Module,
		Requires: p.Requires,
		Recovery: recovery.PhaseRecovery(p.Recovery),
	}

	var err error
	if phase.Rollback, err = b.optionalAction(p.Rollback); err != nil {
		return pipeline.Phase{}, fmt.Errorf("rollback: %w", err)
	}
	if phase.Restore, err = b.optionalAction(p.Restore); err != nil {
		return pipeline.Phase{}, fmt.Errorf("restore: %w", err)
	}

	for _, s := range p.Steps {
		step, err := b.step(s)
		if err != nil {
			return pipeline.Phase{}, fmt.Errorf("step %q: %w", s.Name, err)
		}
		phase.Steps = append(phase.Steps, step)
	}

	return phase, nil
}

func (b builder) step(s Step) (pipeline.Step, error) {
	action, err := b.action(s.Run)
	if err != nil {
		return pipeline.Step{}, fmt.Errorf("run: %w", err)
	}

	step := pipeline.Step{
		Name:   s.Name,
		Label:  s.Label,
		Weight: s.Weight,
		Action: provision.NewLogAction(s.Name, b.cfg.Logger, action),
	}

	if step.Guard, err = b.guard(s.Guard); err != nil {
		return pipeline.Step{}, fmt.Errorf("guard: %w", err)
	}
	if step.Remediation, err = b.optionalAction(s.Remediation); err != nil {
		return pipeline.Step{}, fmt.Errorf("remediation: %w", err)
	}
	if step.Rollback, err = b.optionalAction(s.Rollback); err != nil {
		return pipeline.Step{}, fmt.Errorf("rollback: %w", err)
	}

	return step, nil
}

func (b builder) guard(g *Guard) (provision.Guard, error) {
	if g == nil {
		return nil, nil
	}

	guards := []provision.Guard{}
	if g.Command != "" {
		cg, err := b.lazyGuard(g.Command, provision.NewCommandGuard)
		if err != nil {
			return nil, err
		}
		guards = append(guards, cg)
	}
	if g.File != "" {
		fg, err := b.lazyGuard(g.File, provision.NewFileGuard)
		if err != nil {
			return nil, err
		}
		guards = append(guards, fg)
	}

	if len(guards) == 1 {
		return guards[0], nil
	}
	return provision.AllGuards(guards...), nil
}

func (b builder) optionalAction(a *Action) (provision.Action, error) {
	if a == nil {
		return nil, nil
	}
	return b.action(*a)
}

func (b builder) action(a Action) (provision.Action, error) {
	switch {
	case a.Command != "":
		return b.lazyAction(a.Command, func(cmd string) (provision.Action, error) {
			return provision.NewCommand(cmd, a.Timeout)
		})

	case a.Interactive != "":
		return b.lazyAction(a.Interactive, func(cmd string) (provision.Action, error) {
			return provision.NewInteractive(cmd, a.Timeout)
		})

	case a.Upload != nil:
		src := b.local(a.Upload.Src)
		return b.lazyAction(a.Upload.Dst, func(dst string) (provision.Action, error) {
			return provision.NewUpload(provision.UploadConfig{
				SrcLocal:  src,
				DstRemote: dst,
				Logger:    b.cfg.Logger,
			})
		})

	case len(a.Config) > 0:
		files := make([]provision.ConfigFile, 0, len(a.Config))
		for _, f := range a.Config {
			files = append(files, provision.ConfigFile{Local: b.local(f.Local), Remote: f.Remote})
		}
		return provision.NewApplyConfig(b.cfg.Applier, files, b.cfg.Values)
	}

	return nil, fmt.Errorf("action without kind")
}

// lazyAction checks the action can be created and replaces the placeholders when it's
// applied, so missing values only fail the phases that run.
func (b builder) lazyAction(tmpl string, newAction func(s string) (provision.Action, error)) (provision.Action, error) {
	if _, err := newAction(tmpl); err != nil {
		return nil, err
	}

	return provision.ActionFunc(func(ctx context.Context, t provision.Target) error {
		s, err := provision.ExpandValues(tmpl, b.cfg.Values)
		if err != nil {
			return model.NewError(model.ErrorKindInvariantViolation, "invalid step", err)
		}
		a, err := newAction(s)
		if err != nil {
			return model.NewError(model.ErrorKindInvariantViolation, "invalid step", err)
		}
		return a.Apply(ctx, t)
	}), nil
}

func (b builder) lazyGuard(tmpl string, newGuard func(s string) (provision.Guard, error)) (provision.Guard, error) {
	if _, err := newGuard(tmpl); err != nil {
		return nil, err
	}

	return provision.GuardFunc(func(ctx context.Context, t provision.Target) (bool, error) {
		s, err := provision.ExpandValues(tmpl, b.cfg.Values)
		if err != nil {
			return false, model.NewError(model.ErrorKindInvariantViolation, "invalid guard", err)
		}
		g, err := newGuard(s)
		if err != nil {
			return false, model.NewError(model.ErrorKindInvariantViolation, "invalid guard", err)
		}
		return g.Satisfied(ctx, t)
	}), nil
}

func (b builder) local(path string) string {
	if filepath.IsAbs(path) || b.cfg.BaseDir == "" {
		return path
	}
	return filepath.Join(b.cfg.BaseDir, path)
}
