package ssh

import (
	"context"
	"time"

	"github.com/slok/orca/internal/log"
	"github.com/slok/orca/internal/remote"
)

// ProviderConfig is the configuration of the SSH session provider.
type ProviderConfig struct {
	ConnectTimeout time.Duration
	KnownHostsFile string
	DisablePTY     bool
	Logger         log.Logger
}

func (c *ProviderConfig) defaults() error {
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	return nil
}

// NewProvider returns a remote.Provider that opens SSH sessions.
func NewProvider(cfg ProviderConfig) (remote.Provider, error) {
	if err := cfg.defaults(); err != nil {
		return nil, err
	}

	return remote.ProviderFunc(func(ctx context.Context, host string, creds remote.Credentials) (remote.Session, error) {
		return NewClient(ctx, ClientConfig{
			Host:           host,
			Port:           creds.Port,
			User:           creds.User,
			PrivateKey:     creds.PrivateKey,
			Password:       creds.Password,
			KnownHostsFile: cfg.KnownHostsFile,
			ConnectTimeout: cfg.ConnectTimeout,
			DisablePTY:     cfg.DisablePTY,
			Logger:         cfg.Logger,
		})
	}), nil
}
