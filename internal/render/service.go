// Package render is the entry point the thin client layer calls: it wires
// gate admission, the content cache, and the isolation strategy into a
// single Render call and classifies every outcome before it crosses back
// to the caller.
package render

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/snaptexdev/snaptex/internal/events"
	"github.com/snaptexdev/snaptex/internal/gate"
	"github.com/snaptexdev/snaptex/internal/isolate"
	"github.com/snaptexdev/snaptex/internal/lock"
	"github.com/snaptexdev/snaptex/internal/rendercache"
	"github.com/snaptexdev/snaptex/internal/sandbox"
	"github.com/snaptexdev/snaptex/internal/storage"
	"github.com/snaptexdev/snaptex/internal/texmath"
)

// Default soft ceilings. The memory default is looser than the rendering
// path should ever need; treat it as configuration, not a contract.
const (
	DefaultCPUSeconds  = 5
	DefaultMemoryBytes = 400_000_000
)

// Config holds the render service configuration.
type Config struct {
	BaseDir          string
	CPUSeconds       int
	MemoryBytes      int64
	AllowUnsandboxed bool
	PoolSize         int64
	RatePerMinute    float64 // per-scope admission rate; 0 disables
	Logger           *slog.Logger

	// Strategy overrides platform selection when non-nil.
	Strategy isolate.Strategy
}

// Result is a successful render.
type Result struct {
	Image    []byte
	Key      string
	CacheHit bool
}

// Service owns the base directory and runs the render pipeline.
type Service struct {
	cfg      Config
	log      *slog.Logger
	lock     *lock.FileLock
	db       *sql.DB
	cache    *rendercache.Store
	events   *events.Store
	gate     *gate.Gate
	strategy isolate.Strategy
}

// Open acquires the base directory, initializes storage, and performs the
// one-time isolation strategy selection.
func Open(cfg Config) (*Service, error) {
	if cfg.BaseDir == "" {
		home, _ := os.UserHomeDir()
		cfg.BaseDir = filepath.Join(home, ".snaptex")
	}
	if cfg.CPUSeconds <= 0 {
		cfg.CPUSeconds = DefaultCPUSeconds
	}
	if cfg.MemoryBytes <= 0 {
		cfg.MemoryBytes = DefaultMemoryBytes
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	if err := os.MkdirAll(cfg.BaseDir, 0755); err != nil {
		return nil, fmt.Errorf("create base dir: %w", err)
	}
	l, err := lock.Acquire(filepath.Join(cfg.BaseDir, "snaptex.lock"))
	if err != nil {
		return nil, err
	}
	db, err := storage.OpenDB(cfg.BaseDir)
	if err != nil {
		_ = l.Release()
		return nil, err
	}

	s := &Service{
		cfg:    cfg,
		log:    cfg.Logger,
		lock:   l,
		db:     db,
		cache:  rendercache.NewStore(db, cfg.BaseDir),
		events: events.NewStore(db),
		gate:   gate.New(cfg.RatePerMinute),
	}

	for _, init := range []func() error{
		s.cache.Init,
		s.events.Init,
	} {
		if err := init(); err != nil {
			_ = s.Close()
			return nil, err
		}
	}

	s.strategy = cfg.Strategy
	if s.strategy == nil {
		s.strategy, err = isolate.Select(isolate.Config{
			Limits:           sandbox.Limits{CPUSeconds: cfg.CPUSeconds, MemoryBytes: cfg.MemoryBytes},
			AllowUnsandboxed: cfg.AllowUnsandboxed,
			PoolSize:         cfg.PoolSize,
			Logger:           cfg.Logger,
		})
		if err != nil {
			_ = s.Close()
			return nil, err
		}
	}

	s.log.Info("render service ready",
		"strategy", s.strategy.Name(),
		"cpu_seconds", cfg.CPUSeconds,
		"memory_bytes", cfg.MemoryBytes,
		"base_dir", cfg.BaseDir,
	)
	return s, nil
}

func (s *Service) Close() error {
	if s.db != nil {
		_ = s.db.Close()
	}
	if s.lock != nil {
		return s.lock.Release()
	}
	return nil
}

// Render takes the raw user text exactly as received, admits it through
// the per-scope gate, and serves it from the content cache or a bounded
// render job. Errors come back as *sandbox.LimitError (ceiling exceeded),
// *sandbox.InputError (unrenderable markup), or a plain error for internal
// failures; the last class is also logged and appended to the event log
// before returning.
func (s *Service) Render(ctx context.Context, scope, raw string) (*Result, error) {
	if scope == "" {
		scope = "default"
	}

	if err := s.gate.Enter(ctx, scope); err != nil {
		return nil, err
	}
	defer s.gate.Leave(scope)

	text := texmath.Normalize(raw)
	key := rendercache.Key(text)
	start := time.Now()

	img, hit, err := s.cache.GetOrRender(ctx, key, func(ctx context.Context, tmpPath string) ([]byte, error) {
		return s.strategy.Render(ctx, text, tmpPath)
	})
	dur := time.Since(start)

	if err != nil {
		var le *sandbox.LimitError
		var ie *sandbox.InputError
		switch {
		case errors.As(err, &le):
			_, _ = s.events.Append(scope, key, events.TypeLimit, le.Kind.String(), dur)
			s.log.Info("render hit resource limit", "scope", scope, "key", key, "kind", le.Kind.String())
		case errors.As(err, &ie):
			_, _ = s.events.Append(scope, key, events.TypeRejected, ie.Msg, dur)
			s.log.Info("render rejected input", "scope", scope, "key", key)
		default:
			_, _ = s.events.Append(scope, key, events.TypeFailed, err.Error(), dur)
			s.log.Error("render failed", "scope", scope, "key", key, "error", err)
		}
		return nil, err
	}

	detail := ""
	if hit {
		detail = "cache hit"
	}
	_, _ = s.events.Append(scope, key, events.TypeCompleted, detail, dur)

	return &Result{Image: img, Key: key, CacheHit: hit}, nil
}

// StrategyName reports which isolation strategy was selected at startup.
func (s *Service) StrategyName() string { return s.strategy.Name() }

// CacheStats returns the render index summary.
func (s *Service) CacheStats() (rendercache.Stats, error) { return s.cache.Stats() }

// PurgeCache evicts artifacts by age and total size.
func (s *Service) PurgeCache(maxAge time.Duration, maxBytes int64) (int64, error) {
	removed, err := s.cache.Purge(maxAge, maxBytes)
	if removed > 0 {
		_, _ = s.events.Append("", "", events.TypePurged, fmt.Sprintf("%d artifacts evicted", removed), 0)
	}
	return removed, err
}

// RecentEvents returns the newest render events.
func (s *Service) RecentEvents(limit int) ([]*events.Event, error) {
	return s.events.Recent(limit)
}
