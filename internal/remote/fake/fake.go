// Package fake implements an in-memory scripted remote host.
//
// The host keeps a tiny file table so the usual sentinel commands (`test -f`, `touch`,
// `rm -f`, `mkdir -p`) behave like a real shell, any other command is answered by the
// registered handlers. Interactive commands are driven by scripts.
package fake

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/slok/orca/internal/model"
	"github.com/slok/orca/internal/remote"
)

// RunFunc answers a non interactive command.
type RunFunc func(ctx context.Context, cmd string) (*model.CommandResult, error)

// Exit returns a RunFunc that exits with the code and output.
func Exit(code int, stdout string) RunFunc {
	return func(_ context.Context, _ string) (*model.CommandResult, error) {
		return &model.CommandResult{ExitCode: code, Stdout: stdout}, nil
	}
}

// Fail returns a RunFunc that fails with the code and stderr.
func Fail(code int, stderr string) RunFunc {
	return func(_ context.Context, _ string) (*model.CommandResult, error) {
		return &model.CommandResult{ExitCode: code, Stderr: stderr}, nil
	}
}

type runHandler struct {
	re *regexp.Regexp
	fn RunFunc
}

type scriptHandler struct {
	re     *regexp.Regexp
	script Script
}

// Host is a scripted in-memory remote host. It is safe for concurrent use.
type Host struct {
	mu              sync.Mutex
	files           map[string]string
	runs            []runHandler
	scripts         []scriptHandler
	history         []string
	answers         []string
	uploads         map[string]string
	connectFailures int
	openSessions    int
	openStreams     int
	// Strict makes unknown commands fail with exit code 127.
	Strict bool
}

// NewHost returns a new empty host.
func NewHost() *Host {
	return &Host{
		files:   map[string]string{},
		uploads: map[string]string{},
	}
}

// OnRun registers a handler for the non interactive commands that match the regex.
// The first registered match wins.
func (h *Host) OnRun(pattern string, fn RunFunc) *Host {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.runs = append(h.runs, runHandler{re: regexp.MustCompile(pattern), fn: fn})
	return h
}

// OnInteractive registers a script for the interactive commands that match the regex.
func (h *Host) OnInteractive(pattern string, script Script) *Host {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.scripts = append(h.scripts, scriptHandler{re: regexp.MustCompile(pattern), script: script})
	return h
}

// FailConnects makes the next n connection attempts fail.
func (h *Host) FailConnects(n int) *Host {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connectFailures = n
	return h
}

// SetFile creates a file on the host.
func (h *Host) SetFile(path, content string) *Host {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.files[path] = content
	return h
}

// HasFile returns true if the file exists on the host.
func (h *Host) HasFile(path string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.files[path]
	return ok
}

// History returns the commands executed on the host, interactive ones included, in order.
func (h *Host) History() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string{}, h.history...)
}

// Answers returns the input lines received by interactive commands, in order.
func (h *Host) Answers() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string{}, h.answers...)
}

// Uploads returns the uploaded paths, remote destination to local source.
func (h *Host) Uploads() map[string]string {
	h.mu.Lock()
	defer h.mu.Unlock()
	res := make(map[string]string, len(h.uploads))
	for k, v := range h.uploads {
		res[k] = v
	}
	return res
}

// OpenSessions returns the number of sessions not closed yet.
func (h *Host) OpenSessions() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.openSessions
}

// OpenStreams returns the number of interactive streams not closed yet.
func (h *Host) OpenStreams() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.openStreams
}

// Provider returns a remote.Provider that connects to this host regardless of the address.
func (h *Host) Provider() remote.Provider {
	return remote.ProviderFunc(func(ctx context.Context, host string, creds remote.Credentials) (remote.Session, error) {
		if err := ctx.Err(); err != nil {
			return nil, model.NewError(model.ErrorKindCancelled, "connect cancelled", err)
		}

		h.mu.Lock()
		defer h.mu.Unlock()
		if h.connectFailures > 0 {
			h.connectFailures--
			return nil, model.Errorf(model.ErrorKindConnection, "could not connect to %s: connection refused", host)
		}
		h.openSessions++

		return &session{host: h}, nil
	})
}

func (h *Host) run(ctx context.Context, cmd string) (*model.CommandResult, error) {
	res := &model.CommandResult{}
	for _, part := range strings.Split(cmd, "&&") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		r, err := h.runOne(ctx, part)
		if err != nil {
			return nil, err
		}
		res.Stdout += r.Stdout
		res.Stderr += r.Stderr
		res.ExitCode = r.ExitCode
		if r.ExitCode != 0 {
			break
		}
	}

	return res, nil
}

func (h *Host) runOne(ctx context.Context, cmd string) (*model.CommandResult, error) {
	h.mu.Lock()
	h.history = append(h.history, cmd)
	var fn RunFunc
	for _, rh := range h.runs {
		if rh.re.MatchString(cmd) {
			fn = rh.fn
			break
		}
	}
	h.mu.Unlock()

	if fn != nil {
		return fn(ctx, cmd)
	}

	if res, ok := h.builtin(cmd); ok {
		return res, nil
	}

	if h.Strict {
		return &model.CommandResult{ExitCode: 127, Stderr: fmt.Sprintf("%s: command not found\n", cmd)}, nil
	}

	return &model.CommandResult{}, nil
}

func (h *Host) builtin(cmd string) (*model.CommandResult, bool) {
	fields := strings.Fields(cmd)
	if len(fields) == 0 {
		return &model.CommandResult{}, true
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	switch {
	case fields[0] == "true":
		return &model.CommandResult{}, true
	case fields[0] == "false":
		return &model.CommandResult{ExitCode: 1}, true
	case len(fields) == 3 && fields[0] == "test" && (fields[1] == "-f" || fields[1] == "-e"):
		if _, ok := h.files[unquote(fields[2])]; ok {
			return &model.CommandResult{}, true
		}
		return &model.CommandResult{ExitCode: 1}, true
	case fields[0] == "touch":
		for _, f := range fields[1:] {
			f = unquote(f)
			if _, ok := h.files[f]; !ok {
				h.files[f] = ""
			}
		}
		return &model.CommandResult{}, true
	case fields[0] == "rm" && len(fields) > 1 && fields[1] == "-f":
		for _, f := range fields[2:] {
			delete(h.files, unquote(f))
		}
		return &model.CommandResult{}, true
	case fields[0] == "mkdir":
		return &model.CommandResult{}, true
	case fields[0] == "cat" && len(fields) == 2:
		content, ok := h.files[unquote(fields[1])]
		if !ok {
			return &model.CommandResult{ExitCode: 1, Stderr: fmt.Sprintf("cat: %s: No such file or directory\n", fields[1])}, true
		}
		return &model.CommandResult{Stdout: content}, true
	}

	return nil, false
}

func unquote(s string) string {
	return strings.Trim(s, `'"`)
}

type session struct {
	host   *Host
	mu     sync.Mutex
	closed bool
}

var _ remote.Session = &session{}

func (s *session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *session) Run(ctx context.Context, cmd string, timeout time.Duration) (*model.CommandResult, error) {
	if s.isClosed() {
		return nil, model.Errorf(model.ErrorKindIO, "session closed")
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := ctx.Err(); err != nil {
		return nil, model.NewError(model.ErrorKindCancelled, "run cancelled", err)
	}

	res, err := s.host.run(ctx, cmd)
	if err != nil {
		return nil, err
	}

	return res, nil
}

func (s *session) OpenInteractive(ctx context.Context, cmd string) (remote.Stream, error) {
	if s.isClosed() {
		return nil, model.Errorf(model.ErrorKindIO, "session closed")
	}

	h := s.host
	h.mu.Lock()
	h.history = append(h.history, cmd)
	var script Script
	found := false
	for _, sh := range h.scripts {
		if sh.re.MatchString(cmd) {
			script = sh.script
			found = true
			break
		}
	}
	strict := h.Strict
	h.openStreams++
	h.mu.Unlock()

	if !found {
		if strict {
			script = Script{Say(cmd + ": command not found\n"), ExitWith(127)}
		} else {
			script = Script{}
		}
	}

	return newStream(ctx, h, script), nil
}

func (s *session) CopyTo(ctx context.Context, srcLocal, dstRemote string) error {
	if s.isClosed() {
		return model.Errorf(model.ErrorKindIO, "session closed")
	}

	content := ""
	if info, err := os.Stat(srcLocal); err == nil && !info.IsDir() {
		data, err := os.ReadFile(srcLocal)
		if err != nil {
			return model.NewError(model.ErrorKindIO, "could not read local file", err)
		}
		content = string(data)
	}

	s.host.mu.Lock()
	defer s.host.mu.Unlock()
	s.host.uploads[dstRemote] = srcLocal
	s.host.files[dstRemote] = content

	return nil
}

func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	s.host.mu.Lock()
	s.host.openSessions--
	s.host.mu.Unlock()

	return nil
}
