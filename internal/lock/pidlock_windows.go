//go:build windows

package lock

import (
	"errors"
	"fmt"
)

// ErrLocked is returned when another process holds the lock.
var ErrLocked = errors.New("lock is held by another process")

// PIDLock is unavailable on windows; Acquire always fails.
type PIDLock struct{ path string }

func Acquire(lockPath string) (*PIDLock, error) {
	return nil, fmt.Errorf("lock.path is not supported on windows")
}

func (l *PIDLock) Path() string { return l.path }

func (l *PIDLock) Release() error { return nil }
