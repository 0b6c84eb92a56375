// Package remote defines the boundary with the remote session provider: the thing that
// authenticates against a host and gives us a way to run commands on it.
package remote

import (
	"context"
	"io"
	"time"

	"github.com/slok/orca/internal/model"
)

// Credentials are the credentials used to open a session on a host.
type Credentials struct {
	User string
	// Password is used when no private key is set.
	Password string
	// PrivateKey is the PEM-encoded private key.
	PrivateKey []byte
	Port       int
}

// Provider connects to hosts.
type Provider interface {
	Connect(ctx context.Context, host string, creds Credentials) (Session, error)
}

// ProviderFunc is a helper to implement Provider with a function.
type ProviderFunc func(ctx context.Context, host string, creds Credentials) (Session, error)

func (f ProviderFunc) Connect(ctx context.Context, host string, creds Credentials) (Session, error) {
	return f(ctx, host, creds)
}

// Session is an authenticated session on a host. Close must be idempotent.
type Session interface {
	// Run runs a non interactive command, a timeout of 0 means no timeout.
	Run(ctx context.Context, cmd string, timeout time.Duration) (*model.CommandResult, error)
	// OpenInteractive starts a command that may ask for input.
	OpenInteractive(ctx context.Context, cmd string) (Stream, error)
	// CopyTo uploads a local file or directory to the host.
	CopyTo(ctx context.Context, srcLocal, dstRemote string) error
	Close() error
}

// Stream is a duplex stream to an interactive remote command.
//
// Read returns the merged command output and io.EOF once the command output ends.
// Write sends data to the command input.
type Stream interface {
	io.Reader
	io.Writer
	// Done is closed when the remote command has exited.
	Done() <-chan struct{}
	// ExitCode returns the command exit code, only valid after Done is closed.
	ExitCode() int
	Close() error
}
