package ratelimiter

import (
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RouteLimiter applies a token bucket per sender route ID and periodically
// evicts routes that have gone quiet, so a single noisy or compromised route
// can't starve delivery to every other route sharing a pipeline.
type RouteLimiter struct {
	limit   rate.Limit
	burst   int
	mu      sync.Mutex
	byRoute map[string]*routeBucket
	hits    uint64
	idleTTL time.Duration
}

type routeBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// New creates a per-route-ID limiter; returns nil if args are invalid, so
// callers can wire it unconditionally and treat a nil *RouteLimiter as
// "no limiting configured".
func New(rps float64, burst int, idleTTL time.Duration) *RouteLimiter {
	if rps <= 0 || burst <= 0 {
		return nil
	}
	if idleTTL <= 0 {
		idleTTL = 10 * time.Minute
	}
	return &RouteLimiter{
		limit:   rate.Limit(rps),
		burst:   burst,
		byRoute: make(map[string]*routeBucket),
		idleTTL: idleTTL,
	}
}

// Allow reports whether one token can be consumed for routeID at now. A
// blank routeID (e.g. a message whose sender route could not be resolved)
// is always allowed through rather than sharing a single bucket across
// unrelated senders.
func (l *RouteLimiter) Allow(routeID string, now time.Time) bool {
	if l == nil {
		return true
	}
	routeID = strings.TrimSpace(routeID)
	if routeID == "" {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.byRoute[routeID]
	if !ok {
		b = &routeBucket{
			limiter:  rate.NewLimiter(l.limit, l.burst),
			lastSeen: now,
		}
		l.byRoute[routeID] = b
	}
	b.lastSeen = now
	allowed := b.limiter.AllowN(now, 1)

	l.hits++
	if l.hits%512 == 0 {
		l.evictIdleLocked(now)
	}

	return allowed
}

// evictIdleLocked drops routes that haven't sent anything within idleTTL.
// Must be called with l.mu held.
func (l *RouteLimiter) evictIdleLocked(now time.Time) {
	cutoff := now.Add(-l.idleTTL)
	for routeID, b := range l.byRoute {
		if b.lastSeen.Before(cutoff) {
			delete(l.byRoute, routeID)
		}
	}
}

// RouteCount reports how many distinct routes currently hold a bucket,
// mainly for tests and diagnostics.
func (l *RouteLimiter) RouteCount() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.byRoute)
}
