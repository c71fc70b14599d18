//go:build !windows

package scheduler

import (
	"errors"
	"os"
	"syscall"
)

// lockFile takes an exclusive flock(2) on path without blocking. The lock
// dies with the process, so a crashed gateway never leaves the store stuck.
func lockFile(path string) (*os.File, func() error, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, nil, err
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) {
			return nil, nil, ErrLocked
		}
		return nil, nil, err
	}
	release := func() error {
		defer f.Close()
		os.Remove(path)
		return syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
	}
	return f, release, nil
}
