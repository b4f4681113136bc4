// Package routecache manages this node's own private route lifecycle and
// caches imported remote routes so repeated sends to the same peer reuse
// one imported route instead of leaking a fresh overlay import per send.
package routecache

import (
	"context"
	"fmt"
	"sync"

	"github.com/rekindle-chat/rekindle/internal/overlay"
)

// RouteManager owns this node's own private route: the id used to release
// it and the blob published to peers so they can reach us.
type RouteManager struct {
	api overlay.API

	mu       sync.Mutex
	routeID  string
	blob     []byte
}

// NewRouteManager wraps an overlay API handle.
func NewRouteManager(api overlay.API) *RouteManager {
	return &RouteManager{api: api}
}

// Allocate requests a fresh private route from the overlay and stores it
// as the current route, returning the publishable blob.
func (m *RouteManager) Allocate(ctx context.Context) ([]byte, error) {
	routeID, blob, err := m.api.NewPrivateRoute(ctx)
	if err != nil {
		return nil, fmt.Errorf("routecache: allocate private route: %w", err)
	}
	m.mu.Lock()
	m.routeID = routeID
	m.blob = blob
	m.mu.Unlock()
	return blob, nil
}

// Release frees the current route via the overlay. Only valid while the
// route is still believed alive — if the overlay has already reported it
// dead via a route-change event, use Forget instead, since releasing a
// dead route errors at the overlay layer.
func (m *RouteManager) Release(ctx context.Context) error {
	m.mu.Lock()
	routeID := m.routeID
	m.routeID = ""
	m.blob = nil
	m.mu.Unlock()

	if routeID == "" {
		return nil
	}
	if err := m.api.ReleaseRoute(ctx, routeID); err != nil {
		return fmt.Errorf("routecache: release private route: %w", err)
	}
	return nil
}

// Forget drops the local route state without notifying the overlay, for
// use when a RouteChange event already reported this route as dead.
func (m *RouteManager) Forget() {
	m.mu.Lock()
	m.routeID = ""
	m.blob = nil
	m.mu.Unlock()
}

// RouteBlob returns the current route's publishable blob, or nil if none
// is allocated.
func (m *RouteManager) RouteBlob() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.blob
}

// RouteID returns the current route id, or "" if none is allocated.
func (m *RouteManager) RouteID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.routeID
}

// SetAllocated installs a route allocated outside of this manager (e.g. by
// a caller that needed to call the overlay outside a lock held across a
// suspension point), mirroring the corresponding escape hatch the overlay
// contract exposes for route reallocation.
func (m *RouteManager) SetAllocated(routeID string, blob []byte) {
	m.mu.Lock()
	m.routeID = routeID
	m.blob = blob
	m.mu.Unlock()
}
