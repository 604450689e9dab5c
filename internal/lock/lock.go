// Package lock guards the snaptex base directory so only one process at a
// time owns the SQLite index and render store.
package lock

import (
	"errors"
	"os"
)

// ErrHeld is returned by TryAcquire when another process owns the lock.
var ErrHeld = errors.New("base directory is locked by another process")

// FileLock provides an exclusive advisory lock.
type FileLock struct {
	f      *os.File
	remove bool
}

// Acquire blocks until the lock at path is held.
func Acquire(path string) (*FileLock, error) {
	return acquire(path, true)
}

// TryAcquire takes the lock without blocking, or fails with ErrHeld.
func TryAcquire(path string) (*FileLock, error) {
	return acquire(path, false)
}
