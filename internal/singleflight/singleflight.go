// Package singleflight coalesces concurrent executions of the same keyed
// operation: one caller becomes the leader and runs the function, every
// other caller awaits the leader's settlement and shares its outcome.
//
// Settled calls are removed from the table after a grace period rather than
// immediately. The deferred cleanup guarantees that late-arriving waiters
// observe the settled result before the key becomes reusable for a fresh
// execution.
package singleflight

import (
	"context"
	"sync"
	"time"
)

// DefaultGrace is the delay between a call settling and its key being
// released for reuse.
const DefaultGrace = 100 * time.Millisecond

// Group manages in-flight calls keyed by string.
type Group[T any] struct {
	mu    sync.Mutex
	m     map[string]*call[T]
	grace time.Duration
}

type call[T any] struct {
	done chan struct{}
	val  T
	err  error
}

// New creates a Group. A non-positive grace falls back to DefaultGrace.
func New[T any](grace time.Duration) *Group[T] {
	if grace <= 0 {
		grace = DefaultGrace
	}
	return &Group[T]{
		m:     make(map[string]*call[T]),
		grace: grace,
	}
}

// Do executes fn under key, ensuring at most one execution is in flight per
// key at a time. Duplicate callers block until the leader settles and
// receive the same value and error. A waiter whose context is cancelled
// unblocks with the context error; the leader keeps running regardless.
func (g *Group[T]) Do(ctx context.Context, key string, fn func() (T, error)) (T, error) {
	g.mu.Lock()
	if c, ok := g.m[key]; ok {
		g.mu.Unlock()
		select {
		case <-c.done:
			return c.val, c.err
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}

	c := &call[T]{done: make(chan struct{})}
	g.m[key] = c
	g.mu.Unlock()

	c.val, c.err = fn()
	close(c.done)

	// Deferred cleanup: stragglers that grabbed the call handle just before
	// settlement must still find it resolved, not a brand-new execution.
	time.AfterFunc(g.grace, func() {
		g.mu.Lock()
		if g.m[key] == c {
			delete(g.m, key)
		}
		g.mu.Unlock()
	})

	return c.val, c.err
}

// Forget drops the key immediately, allowing the next Do to start a fresh
// execution even if a previous call has not settled.
func (g *Group[T]) Forget(key string) {
	g.mu.Lock()
	delete(g.m, key)
	g.mu.Unlock()
}
