package kurirgo

import (
	"context"
	"sync"
	"time"
)

// OptimisticProbe always reports connectivity. Platforms without raw socket
// access can use it as a stand-in; an unreachable network then surfaces as
// a transport failure instead of a pre-flight one.
type OptimisticProbe struct{}

// IsConnected always returns true.
func (OptimisticProbe) IsConnected(ctx context.Context) bool { return true }

// CachedProbe memoizes another probe's answer for a TTL, so hot request
// paths do not pay for a connectivity check on every call.
type CachedProbe struct {
	probe ConnectivityProbe
	ttl   time.Duration

	mu        sync.Mutex
	checkedAt time.Time
	connected bool
}

// NewCachedProbe wraps probe with a result cache. A non-positive TTL falls
// back to 5s.
func NewCachedProbe(probe ConnectivityProbe, ttl time.Duration) *CachedProbe {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &CachedProbe{probe: probe, ttl: ttl}
}

// IsConnected returns the cached answer when fresh, otherwise asks the
// wrapped probe and caches the result.
func (p *CachedProbe) IsConnected(ctx context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	if !p.checkedAt.IsZero() && now.Sub(p.checkedAt) < p.ttl {
		return p.connected
	}
	p.connected = p.probe.IsConnected(ctx)
	p.checkedAt = now
	return p.connected
}
