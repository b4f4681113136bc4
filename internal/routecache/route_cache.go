package routecache

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"

	"github.com/rekindle-chat/rekindle/internal/overlay"
)

// RouteCache deduplicates remote-route imports across sends to the same
// peer. Importing a route blob allocates overlay-side resources, so a
// naive "import on every send" approach leaks route ids; this cache holds
// the mapping so a peer's route is imported once and reused.
//
// Three maps are kept in sync:
//   - peerPubkey -> currentBlob: the blob most recently seen for a peer.
//   - blobKey    -> importedRouteID: import deduplication.
//   - routeID    -> peerPubkey: reverse index for selective invalidation.
type RouteCache struct {
	api overlay.API
	log *slog.Logger

	mu           sync.Mutex
	peerToBlob   map[string][]byte
	blobToRoute  map[string]string
	routeToPeer  map[string]string
}

// NewRouteCache constructs an empty cache bound to an overlay API handle,
// logging through slog.Default() until SetLogger overrides it.
func NewRouteCache(api overlay.API) *RouteCache {
	return &RouteCache{
		api:         api,
		log:         slog.Default(),
		peerToBlob:  make(map[string][]byte),
		blobToRoute: make(map[string]string),
		routeToPeer: make(map[string]string),
	}
}

// SetLogger overrides the cache's logger; passing nil restores the default.
func (c *RouteCache) SetLogger(log *slog.Logger) {
	if log == nil {
		log = slog.Default()
	}
	c.log = log
}

func blobKey(blob []byte) string {
	return hex.EncodeToString(blob)
}

// GetOrImport returns the cached route id for blob if one exists,
// otherwise imports it via the overlay and caches the result.
func (c *RouteCache) GetOrImport(ctx context.Context, blob []byte) (string, error) {
	key := blobKey(blob)

	c.mu.Lock()
	if routeID, ok := c.blobToRoute[key]; ok {
		c.mu.Unlock()
		return routeID, nil
	}
	c.mu.Unlock()

	routeID, err := c.api.ImportRemoteRoute(ctx, blob)
	if err != nil {
		return "", fmt.Errorf("routecache: import remote route: %w", err)
	}

	c.mu.Lock()
	c.blobToRoute[key] = routeID
	c.mu.Unlock()
	return routeID, nil
}

// CachePeerRoute associates peer with blob: attempts an import (best
// effort — a failed import still overwrites the peer's blob entry so the
// next send attempt retries), and overwrites any previous peer->blob
// mapping along with the reverse route->peer index.
func (c *RouteCache) CachePeerRoute(ctx context.Context, peer string, blob []byte) {
	key := blobKey(blob)
	routeID, err := c.api.ImportRemoteRoute(ctx, blob)
	if err != nil {
		// route_blob is passed through so the privacylog sanitizing
		// handler redacts it before anything reaches disk or stdout.
		c.log.Warn("routecache: import remote route failed", "peer_id", peer, "route_blob", blob, "error", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.peerToBlob[peer] = blob
	if err == nil {
		c.blobToRoute[key] = routeID
		c.routeToPeer[routeID] = peer
	}
}

// PeerBlob returns the most recently cached blob for peer, if any.
func (c *RouteCache) PeerBlob(peer string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	blob, ok := c.peerToBlob[peer]
	return blob, ok
}

// RouteForPeer returns the currently cached imported route id for peer's
// current blob, if one has been imported.
func (c *RouteCache) RouteForPeer(peer string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	blob, ok := c.peerToBlob[peer]
	if !ok {
		return "", false
	}
	routeID, ok := c.blobToRoute[blobKey(blob)]
	return routeID, ok
}

// InvalidateDeadRoutes handles a RouteChange event's dead remote route
// ids: each dead id's peer entry (if any) is dropped and its import
// best-effort released. This NEVER flushes the whole cache — only the
// specifically reported dead routes are removed, so unrelated peers keep
// their imported routes live. A full flush on every route-change event
// would force every peer to re-resolve and re-import simultaneously.
func (c *RouteCache) InvalidateDeadRoutes(ctx context.Context, deadRouteIDs []string) {
	for _, routeID := range deadRouteIDs {
		c.mu.Lock()
		peer, ok := c.routeToPeer[routeID]
		if !ok {
			c.mu.Unlock()
			continue
		}
		delete(c.routeToPeer, routeID)
		if blob, ok := c.peerToBlob[peer]; ok {
			delete(c.blobToRoute, blobKey(blob))
			delete(c.peerToBlob, peer)
		}
		c.mu.Unlock()

		_ = c.api.ReleaseRoute(ctx, routeID)
	}
}
