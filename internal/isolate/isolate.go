// Package isolate decides how a bounded render job is hosted: a disposable
// worker process when the OS supports resource limits, or a bounded
// in-process pool as a degraded fallback. The choice is a pure capability
// check made once at startup and never revisited.
package isolate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/snaptexdev/snaptex/internal/sandbox"
	"github.com/snaptexdev/snaptex/internal/texmath"
)

// ErrRenderDisabled is returned by Select when the host lacks OS resource
// limits and unsandboxed rendering has not been explicitly enabled.
var ErrRenderDisabled = errors.New("resource limits unavailable on this host; set allow_unsandboxed to render anyway")

// Strategy hosts one render job, leaving the finished image at outPath and
// returning its bytes. Outcomes are classified through the sandbox error
// types; no job fault crashes the caller.
type Strategy interface {
	Render(ctx context.Context, text, outPath string) ([]byte, error)
	Name() string
}

// Config selects and parameterizes a strategy.
type Config struct {
	Limits           sandbox.Limits
	AllowUnsandboxed bool
	PoolSize         int64 // in-process worker slots; defaults to 2
	Logger           *slog.Logger
}

// Select performs the platform capability check and returns the strategy
// for this process's lifetime.
func Select(cfg Config) (Strategy, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	if sandbox.Supported() {
		return newOutOfProcess(cfg), nil
	}

	if !cfg.AllowUnsandboxed {
		return nil, ErrRenderDisabled
	}

	cfg.Logger.Warn("degraded mode: rendering in process without CPU/memory ceilings")
	return NewInProcess(cfg)
}

// NewInProcess builds the degraded in-process strategy directly, skipping
// the capability check.
func NewInProcess(cfg Config) (Strategy, error) {
	renderer, err := texmath.NewRenderer(texmath.DefaultStyle())
	if err != nil {
		return nil, fmt.Errorf("init renderer: %w", err)
	}
	return newInProcess(cfg, renderer), nil
}
