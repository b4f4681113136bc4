package ratelimiter

import (
	"testing"
	"time"
)

func TestNewRejectsInvalidArgs(t *testing.T) {
	if l := New(0, 1, time.Minute); l != nil {
		t.Fatal("expected nil limiter for rps<=0")
	}
	if l := New(1, 0, time.Minute); l != nil {
		t.Fatal("expected nil limiter for burst<=0")
	}
}

func TestNilLimiterAllowsEverything(t *testing.T) {
	var l *RouteLimiter
	for i := 0; i < 100; i++ {
		if !l.Allow("alice", time.Now()) {
			t.Fatal("nil limiter must always allow")
		}
	}
}

func TestAllowEnforcesPerRouteBudget(t *testing.T) {
	l := New(1, 1, time.Minute)
	now := time.Now()

	if !l.Allow("alice", now) {
		t.Fatal("first token for alice should be allowed")
	}
	if l.Allow("alice", now) {
		t.Fatal("second immediate token for alice should be throttled")
	}
	// A different route has its own bucket.
	if !l.Allow("bob", now) {
		t.Fatal("first token for bob should be allowed regardless of alice's bucket")
	}

	later := now.Add(2 * time.Second)
	if !l.Allow("alice", later) {
		t.Fatal("alice should refill after waiting past the rate interval")
	}
}

func TestAllowIgnoresBlankRouteID(t *testing.T) {
	l := New(1, 1, time.Minute)
	now := time.Now()
	for i := 0; i < 10; i++ {
		if !l.Allow("  ", now) {
			t.Fatal("blank route id must never be throttled")
		}
	}
	if l.RouteCount() != 0 {
		t.Fatalf("blank route id must not allocate a bucket, got count=%d", l.RouteCount())
	}
}

func TestAllowEvictsIdleRoutes(t *testing.T) {
	l := New(1, 1, time.Millisecond)
	now := time.Now()

	l.Allow("old", now)
	for i := 0; i < 510; i++ {
		l.Allow("alice", now)
	}
	if l.RouteCount() != 2 {
		t.Fatalf("expected 2 tracked routes before eviction sweep, got %d", l.RouteCount())
	}

	// The 512th hit ("old", the loop above, and this call) triggers the idle
	// sweep; "old" hasn't been seen since `now` and idleTTL is 1ms, so it
	// is dropped while alice's just-refreshed bucket survives.
	future := now.Add(time.Hour)
	l.Allow("alice", future)
	if l.RouteCount() != 1 {
		t.Fatalf("expected old route evicted, alice retained; got count=%d", l.RouteCount())
	}
}
