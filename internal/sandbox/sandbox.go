// Package sandbox runs untrusted render jobs under CPU-time and memory
// ceilings and classifies how they finish. Limit violations are expected,
// user-caused outcomes; they are reported as typed errors instead of
// crashing the host.
package sandbox

import (
	"errors"
	"fmt"
	"os"
	"os/signal"

	"golang.org/x/sync/semaphore"
)

// ErrUnsupported marks hosts without POSIX resource limits.
var ErrUnsupported = errors.New("resource limits are not supported on this platform")

// Limits holds the soft resource ceilings for one render job.
type Limits struct {
	CPUSeconds  int
	MemoryBytes int64
}

// LimitKind identifies which ceiling a job exceeded.
type LimitKind int

const (
	LimitCPU LimitKind = iota
	LimitMemory
)

func (k LimitKind) String() string {
	if k == LimitCPU {
		return "cpu"
	}
	return "memory"
}

// Worker diagnostics. The out-of-process worker writes exactly these
// messages to stdout, and the parent matches them to recover the limit
// kind, so they double as the user-visible failure text.
const (
	diagCPU    = "input exceeded the allowed CPU time limit"
	diagMemory = "input exceeded the allowed memory limit"
)

// LimitError reports that a job exceeded a resource ceiling.
type LimitError struct {
	Kind LimitKind
}

func (e *LimitError) Error() string {
	if e.Kind == LimitCPU {
		return diagCPU
	}
	return diagMemory
}

// InputError reports markup the typesetting backend refuses. It is
// user-caused and safe to show verbatim.
type InputError struct {
	Msg string
}

func (e *InputError) Error() string { return e.Msg }

// noCeiling means the environment imposes no hard limit.
const noCeiling = ^uint64(0)

// clampTo lowers requested limits to the environment's hard ceilings.
// Ceilings are never widened.
func clampTo(l Limits, hardCPU, hardMem uint64) Limits {
	if hardCPU != noCeiling && uint64(l.CPUSeconds) > hardCPU {
		l.CPUSeconds = int(hardCPU)
	}
	if hardMem != noCeiling && uint64(l.MemoryBytes) > hardMem {
		l.MemoryBytes = int64(hardMem)
	}
	return l
}

// asHeadroom is the extra address space granted beyond the memory budget
// when installing RLIMIT_AS. The Go runtime reserves large virtual
// mappings (heap arenas, thread stacks, cgo) before a job allocates its
// first byte, so a worker given only the budget as its address space
// aborts during startup. The budget stays the enforced, catchable
// ceiling; RLIMIT_AS is the distant uncatchable backstop behind it.
const asHeadroom = 4 << 30

// addressSpaceCeiling computes the RLIMIT_AS soft limit for a memory
// budget: budget plus runtime headroom, never above the hard ceiling.
func addressSpaceCeiling(memoryBytes int64, hard uint64) uint64 {
	want := uint64(memoryBytes) + asHeadroom
	if hard != noCeiling && want > hard {
		return hard
	}
	return want
}

// Budget is a semaphore-weighted memory account for a single job. The job
// reserves large allocations before making them; a failed reservation is a
// memory-limit outcome while the OS address-space limit remains the
// uncatchable backstop behind it. A nil or unlimited Budget admits
// everything.
type Budget struct {
	sem   *semaphore.Weighted
	limit int64
}

// NewBudget creates a budget of limit bytes. limit <= 0 means unlimited.
func NewBudget(limit int64) *Budget {
	b := &Budget{limit: limit}
	if limit > 0 {
		b.sem = semaphore.NewWeighted(limit)
	}
	return b
}

// Reserve admits an allocation of n bytes or fails with a memory LimitError.
func (b *Budget) Reserve(n int64) error {
	if b == nil || b.sem == nil || n <= 0 {
		return nil
	}
	if !b.sem.TryAcquire(n) {
		return &LimitError{Kind: LimitMemory}
	}
	return nil
}

// Release returns n reserved bytes to the budget.
func (b *Budget) Release(n int64) {
	if b == nil || b.sem == nil || n <= 0 {
		return
	}
	b.sem.Release(n)
}

// Limit returns the budget size in bytes (0 if unlimited).
func (b *Budget) Limit() int64 {
	if b == nil {
		return 0
	}
	return b.limit
}

// Job produces image bytes, reserving large allocations from the budget.
type Job func(*Budget) ([]byte, error)

// Execute clamps limits to the environment's hard ceilings, installs them
// as the calling process's soft limits, and runs job under them. It is
// meant to run inside a disposable worker process: the installed rlimits
// stay in place after it returns.
func Execute(limits Limits, job Job) ([]byte, error) {
	applied, err := Apply(limits)
	if err != nil {
		return nil, fmt.Errorf("apply resource limits: %w", err)
	}
	return Run(applied, job)
}

// Run executes job with a memory budget of limits.MemoryBytes and with the
// CPU-limit signal converted to a catchable outcome. It does not install OS
// ceilings itself; Execute does that for worker processes, and the
// in-process strategy runs without them. The signal watch is scoped to this
// call and removed on every exit path. No fault escapes as a panic.
func Run(limits Limits, job Job) ([]byte, error) {
	budget := NewBudget(limits.MemoryBytes)

	type result struct {
		img []byte
		err error
	}
	resCh := make(chan result, 1)

	var sigCh chan os.Signal
	if sig := cpuSignal(); sig != nil {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, sig)
		defer signal.Stop(sigCh)
	}

	go func() {
		defer func() {
			if r := recover(); r != nil {
				resCh <- result{err: fmt.Errorf("render panic: %v", r)}
			}
		}()
		img, err := job(budget)
		resCh <- result{img: img, err: err}
	}()

	if sigCh == nil {
		r := <-resCh
		return r.img, r.err
	}

	select {
	case r := <-resCh:
		return r.img, r.err
	case <-sigCh:
		return nil, &LimitError{Kind: LimitCPU}
	}
}

// Describe maps a job outcome to the worker wire protocol: the diagnostic
// for stdout and the process exit code. 0 is success, 1 is a limit
// violation or an input error, 2 is an internal failure.
func Describe(err error) (diag string, code int) {
	var le *LimitError
	var ie *InputError
	switch {
	case err == nil:
		return "", 0
	case errors.As(err, &le):
		return le.Error(), 1
	case errors.As(err, &ie):
		return ie.Msg, 1
	default:
		return err.Error(), 2
	}
}

// FromDiagnostic is the parent-side inverse of Describe.
func FromDiagnostic(code int, diag string) error {
	switch {
	case code == 0:
		return nil
	case code == 1 && diag == diagCPU:
		return &LimitError{Kind: LimitCPU}
	case code == 1 && diag == diagMemory:
		return &LimitError{Kind: LimitMemory}
	case code == 1:
		return &InputError{Msg: diag}
	default:
		return fmt.Errorf("render worker exited with code %d: %s", code, diag)
	}
}
