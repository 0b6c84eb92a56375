package pipeline

import (
	"fmt"

	"github.com/slok/orca/internal/provision"
	"github.com/slok/orca/internal/recovery"
)

// Step is a single installation step.
type Step struct {
	Name string
	// Label is the observer facing text of the step.
	Label  string
	Weight int
	// Guard tells if the step change is already on the host, nil means never.
	Guard       provision.Guard
	Action      provision.Action
	Remediation provision.Action
	Rollback    provision.Action
}

// Phase is a group of steps. A phase without module is a base phase and always runs.
type Phase struct {
	ID     string
	Module string
	// Requires is the ID of the prerequisite phase.
	Requires string
	Rollback provision.Action
	Recovery recovery.PhaseRecovery
	Restore  provision.Action
	Steps    []Step
}

func (p Phase) weight() int {
	w := 0
	for _, s := range p.Steps {
		w += s.Weight
	}
	return w
}

// Definition is an installation definition, the phases run in order.
type Definition struct {
	Phases []Phase
}

// Validate validates and sets the defaults of the definition.
func (d *Definition) Validate() error {
	if len(d.Phases) == 0 {
		return fmt.Errorf("at least one phase is required")
	}

	seen := map[string]bool{}
	for i := range d.Phases {
		p := &d.Phases[i]
		if p.ID == "" {
			return fmt.Errorf("phase %d: id is required", i)
		}
		if seen[p.ID] {
			return fmt.Errorf("phase %q: duplicated id", p.ID)
		}
		if p.Requires != "" && !seen[p.Requires] {
			return fmt.Errorf("phase %q: prerequisite %q must be defined before", p.ID, p.Requires)
		}
		seen[p.ID] = true

		switch p.Recovery {
		case "":
			p.Recovery = recovery.PhaseRecoveryRollback
		case recovery.PhaseRecoveryRollback:
		case recovery.PhaseRecoveryResume:
			if p.Restore == nil {
				return fmt.Errorf("phase %q: resume recovery requires a restore", p.ID)
			}
		default:
			return fmt.Errorf("phase %q: unknown recovery %q", p.ID, p.Recovery)
		}

		if len(p.Steps) == 0 {
			return fmt.Errorf("phase %q: at least one step is required", p.ID)
		}
		steps := map[string]bool{}
		for j := range p.Steps {
			s := &p.Steps[j]
			if s.Name == "" {
				return fmt.Errorf("phase %q step %d: name is required", p.ID, j)
			}
			if steps[s.Name] {
				return fmt.Errorf("phase %q step %q: duplicated name", p.ID, s.Name)
			}
			steps[s.Name] = true

			if s.Action == nil {
				return fmt.Errorf("phase %q step %q: action is required", p.ID, s.Name)
			}
			if s.Label == "" {
				s.Label = s.Name
			}
			if s.Weight == 0 {
				s.Weight = 1
			}
			if s.Weight < 0 {
				return fmt.Errorf("phase %q step %q: weight can't be negative", p.ID, s.Name)
			}
			if s.Guard == nil {
				s.Guard = provision.Never
			}
		}
	}

	return nil
}

// Modules returns the optional modules of the definition in order.
func (d Definition) Modules() []string {
	mods := []string{}
	seen := map[string]bool{}
	for _, p := range d.Phases {
		if p.Module != "" && !seen[p.Module] {
			seen[p.Module] = true
			mods = append(mods, p.Module)
		}
	}
	return mods
}
