// Package gate serializes render requests per tenant scope. Requests for
// the same scope queue and run one at a time; distinct scopes proceed
// independently. Admission waits are unbounded by design — a deadline, if
// any, belongs to the caller's context.
package gate

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Gate admits render requests scope by scope.
type Gate struct {
	mu        sync.Mutex
	scopes    map[string]*entry
	perMinute float64 // 0 disables rate limiting
}

type entry struct {
	sem     *semaphore.Weighted
	limiter *rate.Limiter
}

// New creates a gate. perMinute > 0 additionally rate-limits admissions
// per scope.
func New(perMinute float64) *Gate {
	return &Gate{
		scopes:    make(map[string]*entry),
		perMinute: perMinute,
	}
}

func (g *Gate) entry(scope string) *entry {
	g.mu.Lock()
	defer g.mu.Unlock()

	e, ok := g.scopes[scope]
	if !ok {
		e = &entry{sem: semaphore.NewWeighted(1)}
		if g.perMinute > 0 {
			e.limiter = rate.NewLimiter(rate.Limit(g.perMinute/60), 1)
		}
		g.scopes[scope] = e
	}
	return e
}

// Enter blocks until the scope's slot is free (and, if configured, the
// scope's rate limit admits the request). Returns the context's error if
// the caller gives up first.
func (g *Gate) Enter(ctx context.Context, scope string) error {
	e := g.entry(scope)
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	return e.sem.Acquire(ctx, 1)
}

// Leave releases the scope's slot.
func (g *Gate) Leave(scope string) {
	g.entry(scope).sem.Release(1)
}
