// Package hostlock makes sure only one installation runs against a host at a time across
// processes sharing the same data dir.
package hostlock

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/gofrs/flock"

	"github.com/slok/orca/internal/model"
)

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9_.-]`)

// Locker hands out per host file locks.
type Locker struct {
	dir string
}

// NewLocker returns a locker that keeps its lock files in dir.
func NewLocker(dir string) (*Locker, error) {
	if dir == "" {
		return nil, fmt.Errorf("lock dir is required")
	}
	return &Locker{dir: dir}, nil
}

// Path returns the lock file of a host.
func (l *Locker) Path(host string) string {
	return filepath.Join(l.dir, unsafeChars.ReplaceAllString(host, "_")+".lock")
}

// Lock is a held host lock.
type Lock struct {
	host  string
	flock *flock.Flock
}

// TryLock takes the host lock without blocking, if another run holds it returns an
// already exists error.
func (l *Locker) TryLock(host string) (*Lock, error) {
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return nil, fmt.Errorf("could not create lock dir: %w", err)
	}

	fl := flock.New(l.Path(host))
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("could not lock host %q: %w", host, err)
	}
	if !ok {
		return nil, fmt.Errorf("host %q has a running installation: %w", host, model.ErrAlreadyExists)
	}

	return &Lock{host: host, flock: fl}, nil
}

// Unlock releases the lock.
func (l *Lock) Unlock() error {
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("could not unlock host %q: %w", l.host, err)
	}
	return nil
}
