package isolate

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/snaptexdev/snaptex/internal/sandbox"
	"github.com/snaptexdev/snaptex/internal/texmath"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(bytes.NewBuffer(nil), nil))
}

func TestInProcessRender(t *testing.T) {
	renderer, err := texmath.NewRenderer(texmath.DefaultStyle())
	if err != nil {
		t.Fatalf("new renderer: %v", err)
	}
	p := newInProcess(Config{Limits: sandbox.Limits{CPUSeconds: 5, MemoryBytes: 400_000_000}}, renderer)

	out := filepath.Join(t.TempDir(), "out.png")
	img, err := p.Render(context.Background(), "x = 1", out)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if len(img) == 0 {
		t.Fatal("expected image bytes")
	}
}

func TestInProcessInputError(t *testing.T) {
	renderer, err := texmath.NewRenderer(texmath.DefaultStyle())
	if err != nil {
		t.Fatalf("new renderer: %v", err)
	}
	p := newInProcess(Config{}, renderer)

	out := filepath.Join(t.TempDir(), "out.png")
	_, err = p.Render(context.Background(), "$oops", out)
	var ie *sandbox.InputError
	if !errors.As(err, &ie) {
		t.Fatalf("expected InputError, got %v", err)
	}
}

// The worker invocation is overridden with shell stubs so the exit-code
// protocol can be exercised without a built binary.
func stubWorker(script string, limits sandbox.Limits) *OutOfProcess {
	return &OutOfProcess{
		limits: limits,
		log:    discardLogger(),
		argv:   []string{"sh", "-c", script, "worker"},
	}
}

func TestOutOfProcessSuccess(t *testing.T) {
	// $1 = text, $2 = output path; exit 0 with the image written.
	o := stubWorker(`printf imagebytes > "$2"`, sandbox.Limits{})

	out := filepath.Join(t.TempDir(), "out.png")
	img, err := o.Render(context.Background(), "x = 1", out)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if string(img) != "imagebytes" {
		t.Errorf("unexpected image: %q", img)
	}
}

func TestOutOfProcessLimitViolation(t *testing.T) {
	o := stubWorker(`printf 'input exceeded the allowed CPU time limit'; exit 1`, sandbox.Limits{})

	out := filepath.Join(t.TempDir(), "out.png")
	_, err := o.Render(context.Background(), "x = 1", out)
	var le *sandbox.LimitError
	if !errors.As(err, &le) {
		t.Fatalf("expected LimitError, got %v", err)
	}
	if le.Kind != sandbox.LimitCPU {
		t.Errorf("expected cpu kind, got %s", le.Kind)
	}
}

func TestOutOfProcessInputError(t *testing.T) {
	o := stubWorker(`printf 'unbalanced $ math delimiters'; exit 1`, sandbox.Limits{})

	out := filepath.Join(t.TempDir(), "out.png")
	_, err := o.Render(context.Background(), "$oops", out)
	var ie *sandbox.InputError
	if !errors.As(err, &ie) {
		t.Fatalf("expected InputError, got %v", err)
	}
}

func TestOutOfProcessInternalFailure(t *testing.T) {
	o := stubWorker(`printf 'worker blew up'; exit 2`, sandbox.Limits{})

	out := filepath.Join(t.TempDir(), "out.png")
	_, err := o.Render(context.Background(), "x = 1", out)
	if err == nil {
		t.Fatal("expected error")
	}
	var le *sandbox.LimitError
	var ie *sandbox.InputError
	if errors.As(err, &le) || errors.As(err, &ie) {
		t.Errorf("exit 2 must classify as internal failure, got %v", err)
	}
}

func TestWorkerArgvEndsFlagParsing(t *testing.T) {
	limits := sandbox.Limits{CPUSeconds: 5, MemoryBytes: 400_000_000}
	argv := workerArgv("/usr/local/bin/snaptex", limits)

	// The positional arguments get appended after this prefix, and user
	// text may begin with a dash, so the prefix must end flag parsing.
	if argv[len(argv)-1] != "--" {
		t.Fatalf("argv must end with --, got %q", argv)
	}
	if argv[1] != "worker" {
		t.Errorf("argv[1] = %q, want worker", argv[1])
	}
	for i, want := range map[int]string{3: "5", 5: "400000000"} {
		if argv[i] != want {
			t.Errorf("argv[%d] = %q, want %q", i, argv[i], want)
		}
	}
}
