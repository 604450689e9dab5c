//go:build !unix

package sandbox

import "os"

// Supported reports whether the host exposes POSIX resource limits.
func Supported() bool { return false }

// Apply is unavailable without POSIX resource limits.
func Apply(l Limits) (Limits, error) { return l, ErrUnsupported }

func cpuSignal() os.Signal { return nil }
