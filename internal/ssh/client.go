package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/slok/orca/internal/log"
	"github.com/slok/orca/internal/model"
	"github.com/slok/orca/internal/remote"
)

const (
	// DefaultConnectTimeout is the default SSH connection timeout.
	DefaultConnectTimeout = 10 * time.Second
	// DefaultSSHPort is the default SSH port.
	DefaultSSHPort = 22
	// DefaultTermType is the terminal type requested for interactive commands.
	DefaultTermType = "xterm"
)

// ClientConfig holds the configuration for creating an SSH connection.
type ClientConfig struct {
	// Host is the IP address or hostname of the target.
	Host string
	// Port is the SSH port (default: 22).
	Port int
	// User is the SSH user (e.g., "root").
	User string
	// PrivateKey is the PEM-encoded private key bytes.
	PrivateKey []byte
	// Password is used when no private key is set.
	Password string
	// KnownHostsFile enables host key verification, when empty host keys are not verified.
	KnownHostsFile string
	// ConnectTimeout is the SSH connection timeout (default: 10s).
	ConnectTimeout time.Duration
	// DisablePTY disables the pseudo terminal on interactive commands.
	DisablePTY bool
	// Logger for logging (optional).
	Logger log.Logger
}

func (c *ClientConfig) defaults() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.User == "" {
		return fmt.Errorf("user is required")
	}
	if len(c.PrivateKey) == 0 && c.Password == "" {
		return fmt.Errorf("private key or password is required")
	}
	if c.Port == 0 {
		c.Port = DefaultSSHPort
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "ssh.Client", "host": c.Host})
	return nil
}

func (c *ClientConfig) authMethods() ([]ssh.AuthMethod, error) {
	if len(c.PrivateKey) > 0 {
		signer, err := ssh.ParsePrivateKey(c.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("could not parse private key: %w", err)
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
	}

	password := c.Password
	return []ssh.AuthMethod{
		ssh.Password(password),
		ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
			answers := make([]string, len(questions))
			for i := range answers {
				answers[i] = password
			}
			return answers, nil
		}),
	}, nil
}

func (c *ClientConfig) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if c.KnownHostsFile == "" {
		return ssh.InsecureIgnoreHostKey(), nil
	}

	cb, err := knownhosts.New(c.KnownHostsFile)
	if err != nil {
		return nil, fmt.Errorf("could not load known hosts file: %w", err)
	}
	return cb, nil
}

// Client wraps an SSH connection with high-level operations.
type Client struct {
	conn      *ssh.Client
	pty       bool
	logger    log.Logger
	closeOnce sync.Once
	closeErr  error
}

var _ remote.Session = &Client{}

// NewClient dials the SSH server and returns a connected client.
func NewClient(ctx context.Context, cfg ClientConfig) (*Client, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid ssh client config: %w", err)
	}

	auth, err := cfg.authMethods()
	if err != nil {
		return nil, err
	}

	hostKeyCallback, err := cfg.hostKeyCallback()
	if err != nil {
		return nil, err
	}

	sshCfg := &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
		Timeout:         cfg.ConnectTimeout,
	}

	addr := net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port))

	// Use a dialer with context for cancellation support.
	d := net.Dialer{Timeout: cfg.ConnectTimeout}
	netConn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("could not connect to %s: %w", addr, err)
	}

	// Perform SSH handshake over the raw connection.
	sshConn, chans, reqs, err := ssh.NewClientConn(netConn, addr, sshCfg)
	if err != nil {
		netConn.Close()
		return nil, fmt.Errorf("ssh handshake failed with %s: %w", addr, err)
	}

	client := ssh.NewClient(sshConn, chans, reqs)
	cfg.Logger.Debugf("Connected to %s as %s", addr, cfg.User)

	return &Client{
		conn:   client,
		pty:    !cfg.DisablePTY,
		logger: cfg.Logger,
	}, nil
}

// Close closes the SSH connection, it is safe to call it multiple times.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		if c.conn != nil {
			c.closeErr = c.conn.Close()
		}
	})
	return c.closeErr
}

// ExecOpts are options for command execution (non-TTY only).
type ExecOpts struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// Exec runs a command on the remote host and returns the exit code.
func (c *Client) Exec(ctx context.Context, command string, opts ExecOpts) (int, error) {
	session, err := c.conn.NewSession()
	if err != nil {
		return -1, model.NewError(model.ErrorKindIO, "could not create ssh session", err)
	}
	defer session.Close()

	if opts.Stdin != nil {
		session.Stdin = opts.Stdin
	}
	if opts.Stdout != nil {
		session.Stdout = opts.Stdout
	}
	if opts.Stderr != nil {
		session.Stderr = opts.Stderr
	}

	// Run with context cancellation support.
	done := make(chan error, 1)
	go func() {
		done <- session.Run(command)
	}()

	select {
	case <-ctx.Done():
		// Send signal to remote process and close session.
		_ = session.Signal(ssh.SIGKILL)
		_ = session.Close()
		return -1, ctx.Err()
	case err := <-done:
		if err != nil {
			var exitErr *ssh.ExitError
			if errors.As(err, &exitErr) {
				return exitErr.ExitStatus(), nil
			}
			return -1, model.NewError(model.ErrorKindIO, "command execution failed", err)
		}
		return 0, nil
	}
}

// Run runs a non interactive command capturing its output.
func (c *Client) Run(ctx context.Context, command string, timeout time.Duration) (*model.CommandResult, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	exitCode, err := c.Exec(ctx, command, ExecOpts{Stdout: &stdout, Stderr: &stderr})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, model.Errorf(model.ErrorKindCommandTimeout, "command timed out after %s: %w", timeout, err)
		}
		if errors.Is(err, context.Canceled) {
			return nil, model.NewError(model.ErrorKindCancelled, "command cancelled", err)
		}
		return nil, err
	}

	c.logger.Debugf("Command %q exited with %d", command, exitCode)

	return &model.CommandResult{
		ExitCode: exitCode,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}, nil
}

// OpenInteractive starts a command with its stdout and stderr merged in a single stream and a
// writable stdin. A pseudo terminal is requested unless disabled, most vendor installers only
// prompt when they see a terminal. Echo is disabled so injected answers are not read back.
func (c *Client) OpenInteractive(ctx context.Context, command string) (remote.Stream, error) {
	session, err := c.conn.NewSession()
	if err != nil {
		return nil, model.NewError(model.ErrorKindIO, "could not create ssh session", err)
	}

	if c.pty {
		modes := ssh.TerminalModes{
			ssh.ECHO:          0,
			ssh.TTY_OP_ISPEED: 14400,
			ssh.TTY_OP_OSPEED: 14400,
		}
		if err := session.RequestPty(DefaultTermType, 40, 200, modes); err != nil {
			session.Close()
			return nil, model.NewError(model.ErrorKindIO, "could not request pty", err)
		}
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		return nil, model.NewError(model.ErrorKindIO, "could not get stdin pipe", err)
	}

	pr, pw := io.Pipe()
	session.Stdout = pw
	session.Stderr = pw

	if err := session.Start(command); err != nil {
		session.Close()
		return nil, model.NewError(model.ErrorKindIO, "could not start interactive command", err)
	}

	s := &interactiveStream{
		session: session,
		stdin:   stdin,
		out:     pr,
		done:    make(chan struct{}),
	}

	go func() {
		err := session.Wait()
		s.exitCode = exitCode(err)
		_ = pw.Close()
		close(s.done)
		c.logger.Debugf("Interactive command %q exited with %d", command, s.exitCode)
	}()

	go func() {
		select {
		case <-ctx.Done():
			_ = s.Close()
		case <-s.done:
		}
	}()

	return s, nil
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitStatus()
	}
	return -1
}

type interactiveStream struct {
	session   *ssh.Session
	stdin     io.WriteCloser
	out       *io.PipeReader
	done      chan struct{}
	exitCode  int
	closeOnce sync.Once
}

func (s *interactiveStream) Read(p []byte) (int, error)  { return s.out.Read(p) }
func (s *interactiveStream) Write(p []byte) (int, error) { return s.stdin.Write(p) }
func (s *interactiveStream) Done() <-chan struct{}       { return s.done }
func (s *interactiveStream) ExitCode() int               { return s.exitCode }

func (s *interactiveStream) Close() error {
	s.closeOnce.Do(func() {
		_ = s.stdin.Close()
		_ = s.session.Close()
		// Unblocks the session output copy if nobody reads anymore.
		_ = s.out.CloseWithError(io.ErrClosedPipe)
	})
	return nil
}

// CopyTo copies a local file or directory to the remote host via SFTP.
func (c *Client) CopyTo(ctx context.Context, srcLocal, dstRemote string) error {
	sftpClient, err := sftp.NewClient(c.conn)
	if err != nil {
		return model.NewError(model.ErrorKindIO, "could not create sftp client", err)
	}
	defer sftpClient.Close()

	srcInfo, err := os.Stat(srcLocal)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("source path '%s' does not exist: %w", srcLocal, os.ErrNotExist)
		}
		return fmt.Errorf("could not stat source: %w", err)
	}

	if srcInfo.IsDir() {
		return c.copyDirTo(ctx, sftpClient, srcLocal, dstRemote)
	}
	return c.copyFileTo(ctx, sftpClient, srcLocal, dstRemote, srcInfo.Mode())
}

// copyFileTo copies a single local file to the remote host.
func (c *Client) copyFileTo(ctx context.Context, sftpClient *sftp.Client, srcLocal, dstRemote string, mode fs.FileMode) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	src, err := os.Open(srcLocal)
	if err != nil {
		return fmt.Errorf("could not open local file %s: %w", srcLocal, err)
	}
	defer src.Close()

	if err := sftpClient.MkdirAll(filepath.Dir(dstRemote)); err != nil {
		return fmt.Errorf("could not create remote directory for %s: %w", dstRemote, err)
	}

	dst, err := sftpClient.Create(dstRemote)
	if err != nil {
		return fmt.Errorf("could not create remote file %s: %w", dstRemote, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("could not copy to remote file %s: %w", dstRemote, err)
	}

	if err := sftpClient.Chmod(dstRemote, mode); err != nil {
		c.logger.Debugf("Could not set permissions on %s: %v", dstRemote, err)
	}

	return nil
}

// copyDirTo recursively copies a local directory to the remote host.
func (c *Client) copyDirTo(ctx context.Context, sftpClient *sftp.Client, srcLocal, dstRemote string) error {
	return filepath.WalkDir(srcLocal, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		relPath, err := filepath.Rel(srcLocal, path)
		if err != nil {
			return err
		}
		remotePath := filepath.Join(dstRemote, relPath)

		// Skip symlinks.
		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}

		if d.IsDir() {
			return sftpClient.MkdirAll(remotePath)
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		return c.copyFileTo(ctx, sftpClient, path, remotePath, info.Mode())
	})
}
