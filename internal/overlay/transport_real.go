//go:build real_waku

package overlay

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/rand"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	ma "github.com/multiformats/go-multiaddr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/waku-org/go-waku/waku/persistence"
	"github.com/waku-org/go-waku/waku/persistence/sqlite"
	wakuNode "github.com/waku-org/go-waku/waku/v2/node"
	"github.com/waku-org/go-waku/waku/v2/protocol"
	legacyStore "github.com/waku-org/go-waku/waku/v2/protocol/legacy_store"
	wpb "github.com/waku-org/go-waku/waku/v2/protocol/pb"
	"github.com/waku-org/go-waku/waku/v2/protocol/relay"
	"github.com/waku-org/go-waku/waku/v2/utils"
)

const (
	relayPubsubTopic  = "/waku/2/default-waku/proto"
	relayContentTopic = "/rekindle/1/envelope/proto"
)

func init() {
	newTransportDriver = func() transportDriver { return &realWakuDriver{} }
}

// realWakuDriver carries transportEnvelopes over a real go-waku node's
// relay protocol, and recovers envelopes sent while this node was offline
// via the store protocol, with bootstrap-peer failover on both paths.
type realWakuDriver struct {
	mu             sync.RWMutex
	node           *wakuNode.WakuNode
	selfRouteID    string
	cfg            TransportConfig
	bootstrapNodes []string
	maintainCancel context.CancelFunc
	maintainWG     sync.WaitGroup
	dialMetrics    dialMetrics
}

type dialMetrics struct {
	attempts       int
	successes      int
	failures       int
	storeFailovers int
	storeFailures  int
}

func (d *realWakuDriver) Start(ctx context.Context, cfg TransportConfig) error {
	opts := make([]wakuNode.WakuNodeOption, 0)
	hostAddr, err := net.ResolveTCPAddr("tcp", net.JoinHostPort("0.0.0.0", strconv.Itoa(cfg.Port)))
	if err != nil {
		return err
	}
	opts = append(opts, wakuNode.WithHostAddress(hostAddr))
	if cfg.EnableRelay {
		opts = append(opts, wakuNode.WithWakuRelay())
	}
	if cfg.EnableStore {
		provider, err := newInMemoryMessageProvider()
		if err != nil {
			return err
		}
		opts = append(opts, wakuNode.WithMessageProvider(provider))
		opts = append(opts, wakuNode.WithWakuStore())
	}
	if cfg.EnableFilter {
		opts = append(opts, wakuNode.WithWakuFilterLightNode(), wakuNode.WithWakuFilterFullNode())
	}
	if cfg.EnableLightPush {
		opts = append(opts, wakuNode.WithLightPush())
	}

	node, err := wakuNode.New(opts...)
	if err != nil {
		return err
	}
	if err := node.Start(ctx); err != nil {
		return err
	}

	for _, addr := range cfg.BootstrapNodes {
		_ = node.DialPeer(ctx, addr)
	}

	d.mu.Lock()
	d.node = node
	d.cfg = cfg
	d.bootstrapNodes = append([]string(nil), cfg.BootstrapNodes...)
	d.mu.Unlock()
	if cfg.FailoverV1 {
		d.startPeerMaintenance()
	}
	return nil
}

func (d *realWakuDriver) Stop() {
	d.stopPeerMaintenance()

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.node != nil {
		d.node.Stop()
		d.node = nil
	}
}

// listenAddresses exposes the node's dialable multiaddrs for tests that need
// to bootstrap a second node against this one directly.
func (d *realWakuDriver) listenAddresses() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.node == nil {
		return nil
	}
	addrs := d.node.ListenAddresses()
	out := make([]string, 0, len(addrs))
	for _, addr := range addrs {
		out = append(out, addr.String())
	}
	return out
}

func (d *realWakuDriver) PeerCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.node == nil {
		return 0
	}
	return d.node.PeerCount()
}

func (d *realWakuDriver) ApplyConfig(cfg TransportConfig) {
	d.mu.Lock()
	d.cfg.MinPeers = cfg.MinPeers
	d.cfg.ReconnectInterval = cfg.ReconnectInterval
	d.cfg.ReconnectBackoffMax = cfg.ReconnectBackoffMax
	d.cfg.FailoverV1 = cfg.FailoverV1
	d.bootstrapNodes = append([]string(nil), cfg.BootstrapNodes...)
	d.mu.Unlock()

	if cfg.FailoverV1 {
		d.startPeerMaintenance()
		return
	}
	d.stopPeerMaintenance()
}

func (d *realWakuDriver) SetIdentity(routeID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.selfRouteID = routeID
}

func (d *realWakuDriver) SubscribeEnvelopes(handler func(transportEnvelope)) error {
	d.mu.Lock()
	node := d.node
	selfRouteID := d.selfRouteID
	d.mu.Unlock()
	if node == nil {
		return errors.New("overlay: go-waku node is nil")
	}
	if selfRouteID == "" {
		return errors.New("overlay: identity is not set")
	}

	filter := protocol.NewContentFilter(relayPubsubTopic, relayContentTopic)
	subs, err := node.Relay().Subscribe(context.Background(), filter)
	if err != nil {
		return err
	}

	for _, sub := range subs {
		go func(subscription *relay.Subscription) {
			for msg := range subscription.Ch {
				if msg == nil || msg.Message() == nil {
					continue
				}
				var env transportEnvelope
				if err := json.Unmarshal(msg.Message().Payload, &env); err != nil {
					continue
				}
				if env.RecipientRouteID != selfRouteID {
					continue
				}
				handler(env)
			}
		}(sub)
	}

	return nil
}

func (d *realWakuDriver) PublishEnvelope(ctx context.Context, env transportEnvelope) error {
	d.mu.RLock()
	node := d.node
	d.mu.RUnlock()
	if node == nil {
		return errors.New("overlay: go-waku node is nil")
	}

	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	ts := time.Now().UnixNano()
	wm := &wpb.WakuMessage{
		Payload:      payload,
		ContentTopic: relayContentTopic,
		Timestamp:    &ts,
	}
	_, err = node.Relay().Publish(ctx, wm, relay.WithPubSubTopic(relayPubsubTopic))
	return err
}

func (d *realWakuDriver) FetchEnvelopesSince(ctx context.Context, routeID string, since time.Time, limit int) ([]transportEnvelope, error) {
	d.mu.RLock()
	node := d.node
	d.mu.RUnlock()
	if node == nil {
		return nil, errors.New("overlay: go-waku node is nil")
	}
	if routeID == "" {
		return nil, errors.New("overlay: route id is required")
	}
	if limit <= 0 {
		limit = 100
	}
	start := since.UnixNano()
	end := time.Now().UnixNano()
	criteria := legacyStore.Query{
		PubsubTopic:   relayPubsubTopic,
		ContentTopics: []string{relayContentTopic},
		StartTime:     &start,
		EndTime:       &end,
	}
	baseOpts := []legacyStore.HistoryRequestOption{legacyStore.WithPaging(true, uint64(limit))}
	d.mu.RLock()
	bootstrapNodes := append([]string(nil), d.bootstrapNodes...)
	fanout := d.cfg.StoreQueryFanout
	failoverEnabled := d.cfg.FailoverV1
	d.mu.RUnlock()
	if fanout <= 0 {
		fanout = 1
	}

	type queryCandidate struct {
		opts     []legacyStore.HistoryRequestOption
		peerAddr string
	}
	candidates := make([]queryCandidate, 0, minInt(len(bootstrapNodes), fanout)+1)
	seen := make(map[string]struct{}, len(bootstrapNodes))
	for _, addr := range bootstrapNodes {
		if len(candidates) >= fanout {
			break
		}
		addr = strings.TrimSpace(addr)
		if addr == "" {
			continue
		}
		if _, ok := seen[addr]; ok {
			continue
		}
		seen[addr] = struct{}{}
		peerAddr, err := ma.NewMultiaddr(addr)
		if err != nil {
			continue
		}
		opts := append([]legacyStore.HistoryRequestOption{}, baseOpts...)
		opts = append(opts, legacyStore.WithPeerAddr(peerAddr))
		candidates = append(candidates, queryCandidate{opts: opts, peerAddr: addr})
	}
	// Last attempt without forcing peer address so go-waku can use available peers.
	candidates = append(candidates, queryCandidate{
		opts:     append([]legacyStore.HistoryRequestOption{}, baseOpts...),
		peerAddr: "auto",
	})

	var (
		result  *legacyStore.Result
		err     error
		lastErr error
	)
	successAttempt := 0
	if !failoverEnabled && len(candidates) > 0 {
		candidates = candidates[:1]
	}
	for i, candidate := range candidates {
		attempt := i + 1
		result, err = node.LegacyStore().Query(ctx, criteria, candidate.opts...)
		if err == nil {
			successAttempt = attempt
			break
		}
		d.recordStoreQueryFailure()
		slog.Warn("overlay: store query attempt failed", "peer_addr", candidate.peerAddr, "attempt", attempt, "reason", err.Error())
		lastErr = err
	}
	if err != nil {
		return nil, lastErr
	}
	if successAttempt > 1 {
		d.recordStoreQueryFailover()
		slog.Info("overlay: store query recovered via failover", "attempt", successAttempt)
	}

	envByID := map[string]transportEnvelope{}
	order := make([]string, 0, limit)
	consume := func() {
		for _, wm := range result.Messages {
			if wm == nil {
				continue
			}
			var env transportEnvelope
			if err := json.Unmarshal(wm.Payload, &env); err != nil {
				continue
			}
			if env.RecipientRouteID != routeID {
				continue
			}
			if _, exists := envByID[env.ID]; exists {
				continue
			}
			envByID[env.ID] = env
			order = append(order, env.ID)
		}
	}
	consume()
	for !result.IsComplete() && len(order) < limit {
		result, err = node.LegacyStore().Next(ctx, result)
		if err != nil {
			return nil, err
		}
		consume()
	}

	// Keep deterministic order by ID when store responses mix peers/pages.
	sort.Strings(order)
	if len(order) > limit {
		order = order[:limit]
	}
	out := make([]transportEnvelope, 0, len(order))
	for _, id := range order {
		out = append(out, envByID[id])
	}
	return out, nil
}

func (d *realWakuDriver) startPeerMaintenance() {
	d.mu.Lock()
	if d.maintainCancel != nil {
		d.maintainCancel()
		d.maintainCancel = nil
	}
	if len(d.bootstrapNodes) == 0 || d.node == nil {
		d.mu.Unlock()
		return
	}
	maintainCtx, cancel := context.WithCancel(context.Background())
	d.maintainCancel = cancel
	d.maintainWG.Add(1)
	cfg := d.cfg
	d.mu.Unlock()

	go func() {
		defer d.maintainWG.Done()
		ticker := time.NewTicker(cfg.ReconnectInterval)
		defer ticker.Stop()

		backoff := cfg.ReconnectInterval
		nextAttemptAt := time.Now()
		rnd := rand.New(rand.NewSource(time.Now().UnixNano()))

		for {
			select {
			case <-maintainCtx.Done():
				return
			case <-ticker.C:
				if time.Now().Before(nextAttemptAt) {
					continue
				}
				if !d.needMorePeers() {
					backoff = cfg.ReconnectInterval
					nextAttemptAt = time.Now()
					continue
				}

				ok := d.redialBootstrapPeers(maintainCtx, rnd)
				if ok || !d.needMorePeers() {
					backoff = cfg.ReconnectInterval
					nextAttemptAt = time.Now()
					continue
				}

				backoff *= 2
				if backoff > cfg.ReconnectBackoffMax {
					backoff = cfg.ReconnectBackoffMax
				}
				jitter := time.Duration(rnd.Int63n(int64(backoff / 2)))
				nextAttemptAt = time.Now().Add(backoff + jitter)
			}
		}
	}()
}

func (d *realWakuDriver) stopPeerMaintenance() {
	d.mu.Lock()
	cancel := d.maintainCancel
	d.maintainCancel = nil
	d.mu.Unlock()
	if cancel != nil {
		cancel()
		d.maintainWG.Wait()
	}
}

func (d *realWakuDriver) needMorePeers() bool {
	d.mu.RLock()
	node := d.node
	bootstrapCount := len(d.bootstrapNodes)
	target := d.cfg.MinPeers
	d.mu.RUnlock()
	if node == nil {
		return false
	}
	if target <= 0 {
		target = desiredPeerFloor(bootstrapCount)
	}
	if bootstrapCount > 0 && target > bootstrapCount {
		target = bootstrapCount
	}
	return node.PeerCount() < target
}

func desiredPeerFloor(bootstrapCount int) int {
	if bootstrapCount <= 0 {
		return 0
	}
	if bootstrapCount == 1 {
		return 1
	}
	return 2
}

func (d *realWakuDriver) redialBootstrapPeers(ctx context.Context, rnd *rand.Rand) bool {
	d.mu.RLock()
	node := d.node
	bootstrapNodes := append([]string(nil), d.bootstrapNodes...)
	d.mu.RUnlock()
	if node == nil || len(bootstrapNodes) == 0 {
		return false
	}

	rnd.Shuffle(len(bootstrapNodes), func(i, j int) {
		bootstrapNodes[i], bootstrapNodes[j] = bootstrapNodes[j], bootstrapNodes[i]
	})

	success := false
	for i, addr := range bootstrapNodes {
		attempt := i + 1
		addr = strings.TrimSpace(addr)
		if addr == "" {
			continue
		}
		d.recordDialAttempt()
		if err := node.DialPeer(ctx, addr); err == nil {
			d.recordDialSuccess()
			success = true
			slog.Info("overlay: peer redial succeeded", "peer_addr", addr, "attempt", attempt)
			continue
		}
		d.recordDialFailure()
		slog.Warn("overlay: peer redial failed", "peer_addr", addr, "attempt", attempt, "reason", err.Error())
	}
	return success
}

func (d *realWakuDriver) recordDialAttempt() {
	d.mu.Lock()
	d.dialMetrics.attempts++
	d.mu.Unlock()
}

func (d *realWakuDriver) recordDialSuccess() {
	d.mu.Lock()
	d.dialMetrics.successes++
	d.mu.Unlock()
}

func (d *realWakuDriver) recordDialFailure() {
	d.mu.Lock()
	d.dialMetrics.failures++
	d.mu.Unlock()
}

func (d *realWakuDriver) recordStoreQueryFailover() {
	d.mu.Lock()
	d.dialMetrics.storeFailovers++
	d.mu.Unlock()
}

func (d *realWakuDriver) recordStoreQueryFailure() {
	d.mu.Lock()
	d.dialMetrics.storeFailures++
	d.mu.Unlock()
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func newInMemoryMessageProvider() (*persistence.DBStore, error) {
	db, err := sqlite.NewDB(":memory:", utils.Logger())
	if err != nil {
		return nil, err
	}
	return persistence.NewDBStore(
		prometheus.DefaultRegisterer,
		utils.Logger(),
		persistence.WithDB(db),
		persistence.WithMigrations(sqlite.Migrations),
	)
}
