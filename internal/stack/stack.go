// Package stack loads installation stacks: YAML documents that describe the phases and
// steps of an installation and that are built into pipeline definitions.
package stack

import (
	"context"
	_ "embed"
	"fmt"
	"io/fs"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultStack []byte

// Stack is the YAML structure of an installation stack.
type Stack struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`
	// Values are the default placeholder values.
	Values map[string]string `yaml:"values,omitempty"`
	Phases []Phase           `yaml:"phases"`
}

// Phase is the YAML structure of a phase.
type Phase struct {
	ID       string  `yaml:"id"`
	Module   string  `yaml:"module,omitempty"`
	Requires string  `yaml:"requires,omitempty"`
	Recovery string  `yaml:"recovery,omitempty"`
	Rollback *Action `yaml:"rollback,omitempty"`
	Restore  *Action `yaml:"restore,omitempty"`
	Steps    []Step  `yaml:"steps"`
}

// Step is the YAML structure of a step.
type Step struct {
	Name        string  `yaml:"name"`
	Label       string  `yaml:"label,omitempty"`
	Weight      int     `yaml:"weight,omitempty"`
	Guard       *Guard  `yaml:"guard,omitempty"`
	Run         Action  `yaml:"run"`
	Remediation *Action `yaml:"remediation,omitempty"`
	Rollback    *Action `yaml:"rollback,omitempty"`
}

// Guard is the YAML structure of a step guard, all the set conditions must hold.
type Guard struct {
	Command string `yaml:"command,omitempty"`
	File    string `yaml:"file,omitempty"`
}

// Action is the YAML structure of an action, exactly one kind must be set.
type Action struct {
	Command     string        `yaml:"command,omitempty"`
	Interactive string        `yaml:"interactive,omitempty"`
	Upload      *Upload       `yaml:"upload,omitempty"`
	Config      []ConfigFile  `yaml:"config,omitempty"`
	Timeout     time.Duration `yaml:"timeout,omitempty"`
}

// Upload is the YAML structure of an upload action.
type Upload struct {
	Src string `yaml:"src"`
	Dst string `yaml:"dst"`
}

// ConfigFile is the YAML structure of a rendered configuration file.
type ConfigFile struct {
	Local  string `yaml:"local"`
	Remote string `yaml:"remote"`
}

func (a Action) validate() error {
	kinds := 0
	if a.Command != "" {
		kinds++
	}
	if a.Interactive != "" {
		kinds++
	}
	if a.Upload != nil {
		kinds++
		if a.Upload.Src == "" || a.Upload.Dst == "" {
			return fmt.Errorf("upload src and dst are required")
		}
	}
	if len(a.Config) > 0 {
		kinds++
		for _, f := range a.Config {
			if f.Local == "" || f.Remote == "" {
				return fmt.Errorf("config local and remote are required")
			}
		}
	}

	switch {
	case kinds == 0:
		return fmt.Errorf("one of command, interactive, upload or config is required")
	case kinds > 1:
		return fmt.Errorf("only one of command, interactive, upload or config can be set")
	case a.Timeout < 0:
		return fmt.Errorf("timeout can't be negative")
	}

	return nil
}

func (s Stack) validate() error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(s.Phases) == 0 {
		return fmt.Errorf("at least one phase is required")
	}

	for _, p := range s.Phases {
		if p.ID == "" {
			return fmt.Errorf("phase id is required")
		}
		for _, a := range []*Action{p.Rollback, p.Restore} {
			if a == nil {
				continue
			}
			if err := a.validate(); err != nil {
				return fmt.Errorf("phase %q: %w", p.ID, err)
			}
		}

		for _, st := range p.Steps {
			if st.Name == "" {
				return fmt.Errorf("phase %q: step name is required", p.ID)
			}
			if err := st.Run.validate(); err != nil {
				return fmt.Errorf("phase %q step %q: run: %w", p.ID, st.Name, err)
			}
			for _, a := range []*Action{st.Remediation, st.Rollback} {
				if a == nil {
					continue
				}
				if err := a.validate(); err != nil {
					return fmt.Errorf("phase %q step %q: %w", p.ID, st.Name, err)
				}
			}
			if st.Guard != nil && st.Guard.Command == "" && st.Guard.File == "" {
				return fmt.Errorf("phase %q step %q: guard needs a command or a file", p.ID, st.Name)
			}
		}
	}

	return nil
}

// Parse parses and validates a YAML stack.
func Parse(data []byte) (*Stack, error) {
	var s Stack
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing YAML: %w", err)
	}

	if err := s.validate(); err != nil {
		return nil, fmt.Errorf("invalid stack: %w", err)
	}

	return &s, nil
}

// Default returns the embedded default stack.
func Default() *Stack {
	s, err := Parse(defaultStack)
	if err != nil {
		panic(fmt.Sprintf("invalid embedded stack: %s", err))
	}
	return s
}

// YAMLRepository loads stacks from YAML files.
type YAMLRepository struct {
	fs fs.FS
}

// NewYAMLRepository returns a new YAML stack repository.
func NewYAMLRepository(filesystem fs.FS) *YAMLRepository {
	return &YAMLRepository{fs: filesystem}
}

// GetStack loads the stack from a YAML file.
func (r *YAMLRepository) GetStack(ctx context.Context, path string) (*Stack, error) {
	data, err := fs.ReadFile(r.fs, path)
	if err != nil {
		return nil, fmt.Errorf("reading stack file: %w", err)
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	return Parse(data)
}
