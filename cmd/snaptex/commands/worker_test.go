//go:build unix

package commands

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

var pngMagic = []byte{0x89, 'P', 'N', 'G'}

// Runs the worker command for real: resource limits get installed on the
// test process at their shipped defaults, exactly as in a spawned worker.
func runWorker(t *testing.T, args ...string) {
	t.Helper()

	cmd := workerCmd()
	cmd.SetArgs(args)
	if err := cmd.Execute(); err != nil {
		t.Fatalf("worker %q: %v", args, err)
	}
}

func TestWorkerRendersAtDefaultLimits(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out.png")

	runWorker(t, "--", "x = 1", out)

	img, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if !bytes.HasPrefix(img, pngMagic) {
		t.Errorf("output is not a PNG (%d bytes)", len(img))
	}
}

func TestWorkerAcceptsDashLeadingText(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out.png")

	runWorker(t, "--", "-x + 1", out)

	img, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if !bytes.HasPrefix(img, pngMagic) {
		t.Errorf("output is not a PNG (%d bytes)", len(img))
	}
}
