package routecache

import (
	"context"
	"testing"

	"github.com/rekindle-chat/rekindle/internal/overlay"
)

func TestRouteManagerAllocateReleaseForget(t *testing.T) {
	ctx := context.Background()
	api := overlay.NewMock()
	mgr := NewRouteManager(api)

	blob, err := mgr.Allocate(ctx)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if len(blob) == 0 {
		t.Fatal("expected non-empty route blob")
	}
	if mgr.RouteID() == "" {
		t.Fatal("expected route id to be set after allocate")
	}

	if err := mgr.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if mgr.RouteID() != "" {
		t.Fatal("expected route id cleared after release")
	}

	if _, err := mgr.Allocate(ctx); err != nil {
		t.Fatalf("allocate after release: %v", err)
	}
	mgr.Forget()
	if mgr.RouteID() != "" || mgr.RouteBlob() != nil {
		t.Fatal("expected state cleared after forget")
	}
}

func TestRouteCacheGetOrImportDeduplicates(t *testing.T) {
	ctx := context.Background()
	publisher := overlay.NewMock()
	subscriber := overlay.NewMock()
	_ = subscriber

	routeID, blob, err := publisher.NewPrivateRoute(ctx)
	if err != nil {
		t.Fatalf("new private route: %v", err)
	}
	_ = routeID

	cache := NewRouteCache(publisher)
	id1, err := cache.GetOrImport(ctx, blob)
	if err != nil {
		t.Fatalf("get or import: %v", err)
	}
	id2, err := cache.GetOrImport(ctx, blob)
	if err != nil {
		t.Fatalf("get or import again: %v", err)
	}
	if id1 != id2 {
		t.Fatalf("expected deduplicated route id, got %q then %q", id1, id2)
	}
}

func TestRouteCacheCachePeerRouteAndInvalidation(t *testing.T) {
	ctx := context.Background()
	alice := overlay.NewMock()
	bob := overlay.NewMock()

	bobRouteID, bobBlob, err := bob.NewPrivateRoute(ctx)
	if err != nil {
		t.Fatalf("bob new private route: %v", err)
	}

	charlieRouteID, charlieBlob, err := bob.NewPrivateRoute(ctx)
	if err != nil {
		t.Fatalf("charlie new private route: %v", err)
	}

	cache := NewRouteCache(alice)
	cache.CachePeerRoute(ctx, "bob-pubkey", bobBlob)
	cache.CachePeerRoute(ctx, "charlie-pubkey", charlieBlob)

	if _, ok := cache.PeerBlob("bob-pubkey"); !ok {
		t.Fatal("expected bob's blob to be cached")
	}
	bobRoute, ok := cache.RouteForPeer("bob-pubkey")
	if !ok {
		t.Fatal("expected bob's route to be resolvable")
	}

	// Only bob's underlying route dies; charlie's mapping must survive.
	cache.InvalidateDeadRoutes(ctx, []string{bobRouteID})

	if _, ok := cache.PeerBlob("bob-pubkey"); ok {
		t.Fatal("expected bob's cache entry to be invalidated")
	}
	if _, ok := cache.RouteForPeer("charlie-pubkey"); !ok {
		t.Fatal("expected charlie's mapping to survive bob's invalidation")
	}

	_ = bobRoute
	_ = charlieRouteID
}
