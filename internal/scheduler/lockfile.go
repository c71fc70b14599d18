package scheduler

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// ErrLocked is returned when another process already owns the job store.
var ErrLocked = errors.New("job store is locked by a running gateway")

// LockPath is the lock file guarding a job store.
func LockPath(storePath string) string { return storePath + ".lock" }

// StoreLock marks a job store as owned by one process, normally the
// gateway. CLI edits check it so they do not race the running timer.
type StoreLock struct {
	path    string
	once    sync.Once
	release func() error
}

// AcquireStoreLock takes the store lock or fails with ErrLocked. The lock
// file records the holder's pid.
func AcquireStoreLock(storePath string) (*StoreLock, error) {
	path := LockPath(storePath)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, release, err := lockFile(path)
	if err != nil {
		return nil, err
	}
	if err := f.Truncate(0); err == nil {
		fmt.Fprintf(f, "%d\n", os.Getpid())
	}
	return &StoreLock{path: path, release: release}, nil
}

// Path returns the lock file location.
func (l *StoreLock) Path() string { return l.path }

// Unlock releases the lock and removes the lock file. Repeated calls are
// no-ops.
func (l *StoreLock) Unlock() error {
	var err error
	l.once.Do(func() { err = l.release() })
	return err
}

// LockHolder returns the pid recorded in the store's lock file, or 0 when
// there is none.
func LockHolder(storePath string) int {
	data, err := os.ReadFile(LockPath(storePath))
	if err != nil {
		return 0
	}
	pid, _ := strconv.Atoi(strings.TrimSpace(string(data)))
	return pid
}
