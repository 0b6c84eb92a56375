package provision

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/slok/orca/internal/log"
)

// ConfigFile is a rendered configuration file that must end on the host.
type ConfigFile struct {
	// Local is the rendered local file.
	Local string
	// Remote is the host destination, `${key}` placeholders are replaced with the task values.
	Remote string
}

// ConfigApplier applies configuration files to a host.
type ConfigApplier interface {
	// ApplyConfig returns the host paths that changed.
	ApplyConfig(ctx context.Context, t Target, files []ConfigFile, values map[string]string) (changedFiles []string, err error)
}

// UploadConfigApplierConfig is the configuration of the upload config applier.
type UploadConfigApplierConfig struct {
	Logger log.Logger
}

func (c *UploadConfigApplierConfig) defaults() error {
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "provision.UploadConfigApplier"})
	return nil
}

// UploadConfigApplier uploads the files whose host content is different.
type UploadConfigApplier struct {
	logger log.Logger
}

// NewUploadConfigApplier returns a new upload config applier.
func NewUploadConfigApplier(cfg UploadConfigApplierConfig) (*UploadConfigApplier, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &UploadConfigApplier{logger: cfg.Logger}, nil
}

var _ ConfigApplier = &UploadConfigApplier{}

func (u *UploadConfigApplier) ApplyConfig(ctx context.Context, t Target, files []ConfigFile, values map[string]string) ([]string, error) {
	changed := []string{}
	for _, f := range files {
		dst, err := ExpandValues(f.Remote, values)
		if err != nil {
			return changed, fmt.Errorf("invalid destination for %q: %w", f.Local, err)
		}

		data, err := os.ReadFile(f.Local)
		if err != nil {
			return changed, fmt.Errorf("could not read %q: %w", f.Local, err)
		}

		res, err := t.Run(ctx, fmt.Sprintf("cat '%s'", dst), 30*time.Second)
		if err != nil {
			return changed, fmt.Errorf("could not read host file %q: %w", dst, err)
		}
		if res.Success() && res.Stdout == string(data) {
			u.logger.Debugf("Config %q up to date", dst)
			continue
		}

		if err := t.CopyTo(ctx, f.Local, dst); err != nil {
			return changed, fmt.Errorf("could not upload %q to %q: %w", f.Local, dst, err)
		}
		changed = append(changed, dst)
	}

	return changed, nil
}

// NewApplyConfig returns an action that applies configuration files with the applier.
func NewApplyConfig(applier ConfigApplier, files []ConfigFile, values map[string]string) (Action, error) {
	if applier == nil {
		return nil, fmt.Errorf("config applier is required")
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("at least one config file is required")
	}

	return ActionFunc(func(ctx context.Context, t Target) error {
		changed, err := applier.ApplyConfig(ctx, t, files, values)
		if err != nil {
			return err
		}
		if len(changed) == 0 {
			t.Logf("configuration up to date")
			return nil
		}

		t.Logf("configuration changed: %s", strings.Join(changed, ", "))
		return nil
	}), nil
}

var placeholder = regexp.MustCompile(`\$\{([a-zA-Z_][a-zA-Z0-9_.-]*)\}`)

// ExpandValues replaces `${key}` placeholders with the values, a missing value is an error.
// Plain `$VAR` shell variables are kept.
func ExpandValues(s string, values map[string]string) (string, error) {
	var missing []string
	res := placeholder.ReplaceAllStringFunc(s, func(m string) string {
		key := placeholder.FindStringSubmatch(m)[1]
		v, ok := values[key]
		if !ok {
			missing = append(missing, key)
		}
		return v
	})

	if len(missing) > 0 {
		return "", fmt.Errorf("missing values: %s", strings.Join(missing, ", "))
	}

	return res, nil
}
