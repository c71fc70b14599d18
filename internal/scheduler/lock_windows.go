//go:build windows

package scheduler

import (
	"errors"
	"os"
)

// lockFile creates path exclusively; the file's existence is the lock.
func lockFile(path string) (*os.File, func() error, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o600)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, nil, ErrLocked
		}
		return nil, nil, err
	}
	release := func() error {
		f.Close()
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		return nil
	}
	return f, release, nil
}
