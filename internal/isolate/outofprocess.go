package isolate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/snaptexdev/snaptex/internal/sandbox"
)

// pollInterval is how often the parent checks in on a running worker.
const pollInterval = 2 * time.Second

// OutOfProcess spawns a fresh disposable worker process per render job,
// re-execing this binary's hidden worker command. Limit enforcement lives
// entirely inside the worker, so a killed worker cannot corrupt the parent.
type OutOfProcess struct {
	limits sandbox.Limits
	log    *slog.Logger

	// argv overrides the worker invocation; empty means re-exec self.
	argv []string
}

func newOutOfProcess(cfg Config) *OutOfProcess {
	return &OutOfProcess{limits: cfg.Limits, log: cfg.Logger}
}

// workerArgv builds the worker invocation up to, not including, the two
// positional arguments. The trailing "--" ends flag parsing so user text
// beginning with a dash is never read as a flag.
func workerArgv(self string, l sandbox.Limits) []string {
	return []string{self, "worker",
		"--cpu-seconds", strconv.Itoa(l.CPUSeconds),
		"--memory-bytes", strconv.FormatInt(l.MemoryBytes, 10),
		"--",
	}
}

func (o *OutOfProcess) Name() string { return "out-of-process" }

// Render launches the worker with the canonical text and destination path
// as positional arguments, then waits for it, yielding between polls. The
// worker signals its outcome solely via exit code: 0 success (image
// written to outPath), 1 limit violation or input error, >=2 internal
// failure, with any diagnostic on its stdout. Once spawned, a worker runs
// to completion; the CPU ceiling inside it is the only cancellation.
func (o *OutOfProcess) Render(ctx context.Context, text, outPath string) ([]byte, error) {
	argv := o.argv
	if len(argv) == 0 {
		self, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("locate worker binary: %w", err)
		}
		argv = workerArgv(self, o.limits)
	}
	argv = append(append([]string{}, argv...), text, outPath)

	var out bytes.Buffer
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdout = &out

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("spawn render worker: %w", err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case werr := <-done:
			return o.classify(werr, out.String(), outPath)
		case <-ticker.C:
			o.log.Debug("render in progress", "pid", cmd.Process.Pid)
		}
	}
}

func (o *OutOfProcess) classify(werr error, stdout, outPath string) ([]byte, error) {
	diag := strings.TrimSpace(stdout)

	code := 0
	if werr != nil {
		var exitErr *exec.ExitError
		if !errors.As(werr, &exitErr) {
			return nil, fmt.Errorf("wait for render worker: %w", werr)
		}
		code = exitErr.ExitCode()
		if code < 0 {
			// Killed by a signal: the hard CPU ceiling or the OOM killer
			// got there before the catchable soft limit.
			return nil, fmt.Errorf("render worker killed: %v", werr)
		}
	}

	if err := sandbox.FromDiagnostic(code, diag); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("read rendered image: %w", err)
	}
	return data, nil
}
