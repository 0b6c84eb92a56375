package provision

import (
	"context"
	"fmt"

	"github.com/slok/orca/internal/log"
)

// UploadConfig is the configuration for creating an Upload action.
type UploadConfig struct {
	// SrcLocal is the local path to copy from. Required.
	SrcLocal string
	// DstRemote is the host path to copy to. Required.
	DstRemote string
	// Logger is optional, defaults to log.Noop.
	Logger log.Logger
}

func (c *UploadConfig) defaults() error {
	if c.SrcLocal == "" {
		return fmt.Errorf("src local path is required")
	}
	if c.DstRemote == "" {
		return fmt.Errorf("dst remote path is required")
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	return nil
}

// NewUpload creates an action that copies a file or directory to the host, existing
// files are overwritten.
func NewUpload(cfg UploadConfig) (Action, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid upload config: %w", err)
	}

	return ActionFunc(func(ctx context.Context, t Target) error {
		cfg.Logger.Debugf("Uploading %q to %q...", cfg.SrcLocal, cfg.DstRemote)

		if err := t.CopyTo(ctx, cfg.SrcLocal, cfg.DstRemote); err != nil {
			return fmt.Errorf("uploading %q to %q: %w", cfg.SrcLocal, cfg.DstRemote, err)
		}
		t.Logf("uploaded %s", cfg.DstRemote)

		cfg.Logger.Debugf("Uploaded %q to %q", cfg.SrcLocal, cfg.DstRemote)
		return nil
	}), nil
}
