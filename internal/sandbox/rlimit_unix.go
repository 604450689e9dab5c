//go:build unix

package sandbox

import (
	"fmt"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// Supported reports whether the host exposes POSIX resource limits.
func Supported() bool {
	var l unix.Rlimit
	return unix.Getrlimit(unix.RLIMIT_CPU, &l) == nil
}

// Apply clamps limits to the existing hard ceilings and installs them as
// the calling process's soft limits. The hard ceilings are kept as-is,
// never widened. The CPU soft limit is the clamped budget; the address
// space soft limit carries runtime headroom on top of the memory budget,
// since the budget itself is enforced in-process and RLIMIT_AS only backs
// it up.
func Apply(l Limits) (Limits, error) {
	var cpu, mem unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_CPU, &cpu); err != nil {
		return l, fmt.Errorf("getrlimit cpu: %w", err)
	}
	if err := unix.Getrlimit(unix.RLIMIT_AS, &mem); err != nil {
		return l, fmt.Errorf("getrlimit as: %w", err)
	}

	l = clampTo(l, ceiling(cpu.Max), ceiling(mem.Max))

	if err := unix.Setrlimit(unix.RLIMIT_CPU, &unix.Rlimit{Cur: uint64(l.CPUSeconds), Max: cpu.Max}); err != nil {
		return l, fmt.Errorf("setrlimit cpu: %w", err)
	}
	as := addressSpaceCeiling(l.MemoryBytes, ceiling(mem.Max))
	if err := unix.Setrlimit(unix.RLIMIT_AS, &unix.Rlimit{Cur: as, Max: mem.Max}); err != nil {
		return l, fmt.Errorf("setrlimit as: %w", err)
	}
	return l, nil
}

func ceiling(v uint64) uint64 {
	if v == unix.RLIM_INFINITY {
		return noCeiling
	}
	return v
}

func cpuSignal() os.Signal { return syscall.SIGXCPU }
