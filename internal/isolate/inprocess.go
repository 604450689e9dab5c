package isolate

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/sync/semaphore"

	"github.com/snaptexdev/snaptex/internal/sandbox"
	"github.com/snaptexdev/snaptex/internal/texmath"
)

// InProcess runs render jobs on a bounded worker pool inside the host
// process. There are no OS ceilings in this mode, only the memory budget;
// it trades safety for availability on hosts without resource limits.
type InProcess struct {
	limits   sandbox.Limits
	renderer *texmath.Renderer
	pool     *semaphore.Weighted
}

func newInProcess(cfg Config, renderer *texmath.Renderer) *InProcess {
	size := cfg.PoolSize
	if size <= 0 {
		size = 2
	}
	return &InProcess{
		limits:   cfg.Limits,
		renderer: renderer,
		pool:     semaphore.NewWeighted(size),
	}
}

func (p *InProcess) Name() string { return "in-process" }

func (p *InProcess) Render(ctx context.Context, text, outPath string) ([]byte, error) {
	if err := p.pool.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer p.pool.Release(1)

	img, err := sandbox.Run(p.limits, func(b *sandbox.Budget) ([]byte, error) {
		return p.renderer.Render(text, b)
	})
	if err != nil {
		return nil, err
	}

	if err := os.WriteFile(outPath, img, 0644); err != nil {
		return nil, fmt.Errorf("write rendered image: %w", err)
	}
	return img, nil
}
