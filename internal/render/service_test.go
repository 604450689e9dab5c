package render

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/snaptexdev/snaptex/internal/isolate"
	"github.com/snaptexdev/snaptex/internal/sandbox"
)

// countingStrategy records invocations and writes fixed bytes, standing in
// for a real isolation strategy.
type countingStrategy struct {
	calls int32
	img   []byte
	err   error
}

func (c *countingStrategy) Name() string { return "counting" }

func (c *countingStrategy) Render(_ context.Context, text, outPath string) ([]byte, error) {
	atomic.AddInt32(&c.calls, 1)
	if c.err != nil {
		return nil, c.err
	}
	if err := os.WriteFile(outPath, c.img, 0644); err != nil {
		return nil, err
	}
	return c.img, nil
}

func openService(t *testing.T, strategy isolate.Strategy) *Service {
	t.Helper()
	svc, err := Open(Config{
		BaseDir:  t.TempDir(),
		Logger:   slog.New(slog.NewTextHandler(bytes.NewBuffer(nil), nil)),
		Strategy: strategy,
	})
	if err != nil {
		t.Fatalf("open service: %v", err)
	}
	t.Cleanup(func() { svc.Close() })
	return svc
}

func TestRenderMissThenHit(t *testing.T) {
	st := &countingStrategy{img: []byte("fake-png")}
	svc := openService(t, st)

	res, err := svc.Render(context.Background(), "guild-1", `\text{A} \\ \text{B}`)
	if err != nil {
		t.Fatalf("first render: %v", err)
	}
	if res.CacheHit {
		t.Error("first render should miss")
	}
	if string(res.Image) != "fake-png" {
		t.Errorf("unexpected image: %q", res.Image)
	}

	// Identical raw text must come from cache, without a render job.
	res2, err := svc.Render(context.Background(), "guild-1", `\text{A} \\ \text{B}`)
	if err != nil {
		t.Fatalf("second render: %v", err)
	}
	if !res2.CacheHit {
		t.Error("second render should hit")
	}
	if !bytes.Equal(res.Image, res2.Image) {
		t.Error("cache returned different bytes")
	}
	if n := atomic.LoadInt32(&st.calls); n != 1 {
		t.Errorf("expected exactly 1 render job, got %d", n)
	}
	if res.Key != res2.Key {
		t.Errorf("key not deterministic: %s vs %s", res.Key, res2.Key)
	}
}

func TestRenderFencedEquivalence(t *testing.T) {
	st := &countingStrategy{img: []byte("fake-png")}
	svc := openService(t, st)

	if _, err := svc.Render(context.Background(), "g", "x = 1"); err != nil {
		t.Fatalf("render plain: %v", err)
	}
	res, err := svc.Render(context.Background(), "g", "```\nx = 1\n```")
	if err != nil {
		t.Fatalf("render fenced: %v", err)
	}
	if !res.CacheHit {
		t.Error("fenced variant of cached text should hit")
	}
	if atomic.LoadInt32(&st.calls) != 1 {
		t.Error("normalization should collapse both inputs to one render")
	}
}

func TestRenderConcurrentSameText(t *testing.T) {
	st := &countingStrategy{img: []byte("fake-png")}
	svc := openService(t, st)

	const n = 6
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// Distinct scopes so the gate does not serialize them.
			_, errs[i] = svc.Render(context.Background(), string(rune('a'+i)), "same text")
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("caller %d: %v", i, err)
		}
	}
	if n := atomic.LoadInt32(&st.calls); n != 1 {
		t.Errorf("expected 1 render for identical text, got %d", n)
	}
}

func TestRenderClassifiesOutcomes(t *testing.T) {
	limitErr := &sandbox.LimitError{Kind: sandbox.LimitCPU}
	svc := openService(t, &countingStrategy{err: limitErr})

	_, err := svc.Render(context.Background(), "g", "burn cpu")
	var le *sandbox.LimitError
	if !errors.As(err, &le) || le.Kind != sandbox.LimitCPU {
		t.Fatalf("expected cpu LimitError, got %v", err)
	}

	evs, err := svc.RecentEvents(5)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(evs) == 0 {
		t.Fatal("limit violation should be in the event log")
	}
	if evs[0].Type != "render.limit" {
		t.Errorf("expected render.limit event, got %s", evs[0].Type)
	}
}

func TestEndToEndInProcess(t *testing.T) {
	strategy, err := isolate.NewInProcess(isolate.Config{
		Limits: sandbox.Limits{CPUSeconds: 5, MemoryBytes: 400_000_000},
	})
	if err != nil {
		t.Fatalf("in-process strategy: %v", err)
	}
	svc := openService(t, strategy)

	res, err := svc.Render(context.Background(), "guild-1", `\text{A} \\ \text{B}`)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if len(res.Image) == 0 {
		t.Fatal("expected non-empty image bytes")
	}
	if !bytes.HasPrefix(res.Image, []byte{0x89, 'P', 'N', 'G'}) {
		t.Error("output is not a PNG")
	}

	res2, err := svc.Render(context.Background(), "guild-1", `\text{A} \\ \text{B}`)
	if err != nil {
		t.Fatalf("second render: %v", err)
	}
	if !res2.CacheHit {
		t.Error("second identical request should hit the cache")
	}
	if !bytes.Equal(res.Image, res2.Image) {
		t.Error("cached bytes differ from rendered bytes")
	}
}
