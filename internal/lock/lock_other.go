//go:build !unix

package lock

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Without flock the lock file itself is the token: it is created
// exclusively with the owner's pid inside and removed on release. A file
// left behind by a crashed process must be removed by hand.
func acquire(path string, block bool) (*FileLock, error) {
	for {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			_, _ = f.WriteString(strconv.Itoa(os.Getpid()))
			return &FileLock{f: f, remove: true}, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("open lock file: %w", err)
		}
		if !block {
			return nil, ErrHeld
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func (l *FileLock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	name := l.f.Name()
	err := l.f.Close()
	if l.remove {
		if rerr := os.Remove(name); err == nil {
			err = rerr
		}
	}
	return err
}
