package overlay

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Transport kinds a WakuBackend can ride on. TransportMock keeps messages
// in an in-process bus for local development and tests; TransportWaku uses
// a real go-waku relay/store/filter node (built with the real_waku tag).
const (
	TransportMock = "mock"
	TransportWaku = "go-waku"
)

const (
	transportStateDisconnected = "disconnected"
	transportStateConnecting   = "connecting"
	transportStateConnected    = "connected"
	transportStateDegraded     = "degraded"
)

var transportStatusPollInterval = 1 * time.Second

// TransportConfig configures the pub/sub substrate a WakuBackend rides on.
// It is the yaml-tagged shape loaded from a node's config file.
type TransportConfig struct {
	Transport           string        `yaml:"transport"`
	Port                int           `yaml:"port"`
	AdvertiseAddress    string        `yaml:"advertiseAddress"`
	EnableRelay         bool          `yaml:"enableRelay"`
	EnableStore         bool          `yaml:"enableStore"`
	EnableFilter        bool          `yaml:"enableFilter"`
	EnableLightPush     bool          `yaml:"enableLightPush"`
	BootstrapNodes      []string      `yaml:"bootstrapNodes"`
	FailoverV1          bool          `yaml:"failoverV1"`
	MinPeers            int           `yaml:"minPeers"`
	StoreQueryFanout    int           `yaml:"storeQueryFanout"`
	ReconnectInterval   time.Duration `yaml:"reconnectInterval"`
	ReconnectBackoffMax time.Duration `yaml:"reconnectBackoffMax"`
	// OfflineCatchupWindow bounds how far back WakuBackend asks the real
	// transport's store protocol for envelopes missed while offline, once
	// per subscribe. Zero disables catch-up.
	OfflineCatchupWindow time.Duration `yaml:"offlineCatchupWindow"`
}

func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		Transport:            TransportMock,
		Port:                 60000,
		EnableRelay:          true,
		EnableStore:          true,
		EnableFilter:         true,
		EnableLightPush:      true,
		FailoverV1:           true,
		MinPeers:             2,
		StoreQueryFanout:     3,
		ReconnectInterval:    1 * time.Second,
		ReconnectBackoffMax:  30 * time.Second,
		OfflineCatchupWindow: 24 * time.Hour,
	}
}

func normalizeTransportConfig(cfg TransportConfig) TransportConfig {
	def := DefaultTransportConfig()
	if cfg.Transport == "" {
		cfg.Transport = def.Transport
	}
	if cfg.StoreQueryFanout <= 0 {
		cfg.StoreQueryFanout = def.StoreQueryFanout
	}
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = def.ReconnectInterval
	}
	if cfg.ReconnectBackoffMax <= 0 {
		cfg.ReconnectBackoffMax = def.ReconnectBackoffMax
	}
	if cfg.ReconnectBackoffMax < cfg.ReconnectInterval {
		cfg.ReconnectBackoffMax = cfg.ReconnectInterval
	}
	if cfg.MinPeers < 0 {
		cfg.MinPeers = 0
	}
	if cfg.OfflineCatchupWindow < 0 {
		cfg.OfflineCatchupWindow = 0
	}
	return cfg
}

// transportStatus is the wakuTransport's own connectivity snapshot, distinct
// from the overlay-level Status types this spec's components use.
type transportStatus struct {
	state     string
	peerCount int
	lastSync  time.Time
}

// transportEnvelope is the wire shape exchanged between two nodes' selfID
// "routes" before WakuBackend's record/route model is layered on top of it.
type transportEnvelope struct {
	ID               string
	SenderRouteID    string
	RecipientRouteID string
	Payload          []byte
}

// transportDriver is the real go-waku node surface a wakuTransport drives
// when cfg.Transport == TransportWaku. Built under the real_waku tag;
// absent otherwise, in which case TransportWaku startup fails fast.
type transportDriver interface {
	Start(ctx context.Context, cfg TransportConfig) error
	Stop()
	PeerCount() int
	ApplyConfig(cfg TransportConfig)
	SetIdentity(routeID string)
	SubscribeEnvelopes(handler func(transportEnvelope)) error
	PublishEnvelope(ctx context.Context, env transportEnvelope) error
	FetchEnvelopesSince(ctx context.Context, routeID string, since time.Time, limit int) ([]transportEnvelope, error)
}

// newTransportDriver is overridden (via build tag real_waku) to construct a
// real go-waku-backed driver. The mock build leaves it nil: TransportWaku
// then fails to start rather than silently falling back to the mock bus.
var newTransportDriver = func() transportDriver { return nil }

// wakuTransport is the pub/sub substrate WakuBackend rides on: it gets an
// encrypted envelope from one node's selfRouteID to another's, either via a
// real go-waku node or, for local development, an in-process bus. It knows
// nothing about DHT records or private-route allocation — that translation
// lives one level up, in WakuBackend.
type wakuTransport struct {
	mu          sync.RWMutex
	cfg         TransportConfig
	status      transportStatus
	selfRouteID string
	driver      transportDriver

	monitorCancel    context.CancelFunc
	monitorWG        sync.WaitGroup
	stateTransitions int
}

func newWakuTransport(cfg TransportConfig) *wakuTransport {
	cfg = normalizeTransportConfig(cfg)
	return &wakuTransport{
		cfg:    cfg,
		status: transportStatus{state: transportStateDisconnected},
	}
}

func (t *wakuTransport) Start(ctx context.Context) error {
	t.mu.Lock()
	t.transitionStateLocked(transportStateConnecting)
	t.status.lastSync = time.Now()
	t.mu.Unlock()

	if t.cfg.Transport == TransportWaku {
		driver := newTransportDriver()
		if driver == nil {
			t.setDisconnected()
			return errors.New("overlay: go-waku transport is not available in this build")
		}
		if err := driver.Start(ctx, t.cfg); err != nil {
			t.setDisconnected()
			return err
		}
		peerCount := driver.PeerCount()
		if t.cfg.FailoverV1 {
			var err error
			peerCount, err = waitForStartupPeerCount(ctx, driver, t.cfg)
			if err != nil {
				t.setDisconnected()
				return err
			}
		}
		t.mu.Lock()
		t.driver = driver
		t.transitionStateLocked(startupStateFromPeerCount(peerCount, t.cfg))
		t.status.peerCount = peerCount
		t.status.lastSync = time.Now()
		t.mu.Unlock()
		t.startRuntimeMonitor()
		return nil
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(50 * time.Millisecond):
	}

	t.mu.Lock()
	t.transitionStateLocked(transportStateConnected)
	t.status.peerCount = estimatedPeers(t.cfg)
	t.status.lastSync = time.Now()
	t.mu.Unlock()
	return nil
}

func (t *wakuTransport) Stop(_ context.Context) error {
	t.stopRuntimeMonitor()

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.driver != nil {
		t.driver.Stop()
		t.driver = nil
	}
	if t.selfRouteID != "" {
		mockBus.unsubscribe(t.selfRouteID)
	}
	t.transitionStateLocked(transportStateDisconnected)
	t.status.peerCount = 0
	t.status.lastSync = time.Now()
	return nil
}

func (t *wakuTransport) Status() transportStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s := t.status
	if t.driver != nil {
		s.peerCount = t.driver.PeerCount()
	}
	return s
}

func (t *wakuTransport) SetIdentity(routeID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.selfRouteID = routeID
	if t.driver != nil {
		t.driver.SetIdentity(routeID)
	}
}

func (t *wakuTransport) SubscribeEnvelopes(handler func(transportEnvelope)) error {
	t.mu.Lock()
	state := t.status.state
	selfRouteID := t.selfRouteID
	driver := t.driver
	t.mu.Unlock()

	if state != transportStateConnected && state != transportStateDegraded {
		return errors.New("overlay: transport not connected")
	}
	if selfRouteID == "" {
		return errors.New("overlay: identity is not set")
	}
	if driver != nil {
		return driver.SubscribeEnvelopes(handler)
	}
	mockBus.subscribe(selfRouteID, handler)
	return nil
}

func (t *wakuTransport) PublishEnvelope(ctx context.Context, env transportEnvelope) error {
	t.mu.RLock()
	state := t.status.state
	driver := t.driver
	t.mu.RUnlock()
	if state != transportStateConnected && state != transportStateDegraded {
		return errors.New("overlay: transport not connected")
	}
	if env.RecipientRouteID == "" {
		return errors.New("overlay: recipient route id is required")
	}
	if driver != nil {
		return driver.PublishEnvelope(ctx, env)
	}
	mockBus.publish(env)
	return nil
}

// FetchEnvelopesSince asks the real transport's store protocol for
// envelopes addressed to routeID since the given time, used by WakuBackend
// once per subscribe to recover messages sent while this node was offline.
// The mock transport delivers offline messages via its in-memory mailbox
// on subscription instead, so this is a no-op there.
func (t *wakuTransport) FetchEnvelopesSince(ctx context.Context, routeID string, since time.Time, limit int) ([]transportEnvelope, error) {
	t.mu.RLock()
	state := t.status.state
	driver := t.driver
	t.mu.RUnlock()
	if state != transportStateConnected && state != transportStateDegraded {
		return nil, errors.New("overlay: transport not connected")
	}
	if driver == nil {
		return nil, nil
	}
	return driver.FetchEnvelopesSince(ctx, routeID, since, limit)
}

func (t *wakuTransport) setDisconnected() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.transitionStateLocked(transportStateDisconnected)
	t.status.peerCount = 0
	t.status.lastSync = time.Now()
}

func (t *wakuTransport) startRuntimeMonitor() {
	t.mu.Lock()
	if t.monitorCancel != nil {
		t.monitorCancel()
		t.monitorCancel = nil
	}
	monitorCtx, cancel := context.WithCancel(context.Background())
	t.monitorCancel = cancel
	t.monitorWG.Add(1)
	t.mu.Unlock()

	go func() {
		defer t.monitorWG.Done()
		ticker := time.NewTicker(transportStatusPollInterval)
		defer ticker.Stop()

		// Refresh once immediately so startup peer drops are caught without
		// waiting a full poll interval.
		t.refreshRuntimeStatus()

		for {
			select {
			case <-monitorCtx.Done():
				return
			case <-ticker.C:
				t.refreshRuntimeStatus()
			}
		}
	}()
}

func (t *wakuTransport) stopRuntimeMonitor() {
	t.mu.Lock()
	cancel := t.monitorCancel
	t.monitorCancel = nil
	t.mu.Unlock()
	if cancel != nil {
		cancel()
		t.monitorWG.Wait()
	}
}

func (t *wakuTransport) refreshRuntimeStatus() {
	t.mu.RLock()
	driver := t.driver
	t.mu.RUnlock()
	if driver == nil {
		return
	}
	peerCount := driver.PeerCount()
	nextState := transportStateConnected
	if peerCount <= 0 {
		nextState = transportStateDegraded
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status.state == transportStateDisconnected {
		return
	}
	if t.status.state != nextState || t.status.peerCount != peerCount {
		t.transitionStateLocked(nextState)
		t.status.peerCount = peerCount
		t.status.lastSync = time.Now()
	}
}

func (t *wakuTransport) transitionStateLocked(next string) {
	if next == "" {
		return
	}
	if t.status.state != next {
		t.stateTransitions++
		t.status.state = next
	}
}

func estimatedPeers(cfg TransportConfig) int {
	if len(cfg.BootstrapNodes) == 0 {
		return 1
	}
	if len(cfg.BootstrapNodes) > 12 {
		return 12
	}
	return len(cfg.BootstrapNodes)
}

func waitForStartupPeerCount(ctx context.Context, driver transportDriver, cfg TransportConfig) (int, error) {
	target := startupPeerTarget(cfg)
	peerCount := driver.PeerCount()
	if peerCount >= target {
		return peerCount, nil
	}

	timeout := startupHandshakeTimeout(cfg)
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return driver.PeerCount(), ctx.Err()
		case <-timer.C:
			return driver.PeerCount(), nil
		case <-ticker.C:
			peerCount = driver.PeerCount()
			if peerCount >= target {
				return peerCount, nil
			}
		}
	}
}

func startupStateFromPeerCount(peerCount int, cfg TransportConfig) string {
	if peerCount >= startupPeerTarget(cfg) {
		return transportStateConnected
	}
	return transportStateDegraded
}

func startupPeerTarget(cfg TransportConfig) int {
	target := cfg.MinPeers
	if target <= 0 {
		target = 1
	}
	if len(cfg.BootstrapNodes) > 0 && target > len(cfg.BootstrapNodes) {
		target = len(cfg.BootstrapNodes)
	}
	if target < 1 {
		target = 1
	}
	return target
}

func startupHandshakeTimeout(cfg TransportConfig) time.Duration {
	base := cfg.ReconnectInterval
	if base <= 0 {
		base = time.Second
	}
	timeout := base * 5
	if timeout < 2*time.Second {
		timeout = 2 * time.Second
	}
	if cfg.ReconnectBackoffMax > 0 && timeout > cfg.ReconnectBackoffMax {
		timeout = cfg.ReconnectBackoffMax
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return timeout
}

// mockTransportBus is the in-process stand-in for a real pub/sub network,
// used when TransportConfig.Transport == TransportMock. Two wakuTransports
// in the same process exchange envelopes through it, simulating two
// independent nodes without a go-waku build.
type mockTransportBus struct {
	mu          sync.Mutex
	subscribers map[string]func(transportEnvelope)
	mailbox     map[string][]transportEnvelope
}

var mockBus = &mockTransportBus{
	subscribers: make(map[string]func(transportEnvelope)),
	mailbox:     make(map[string][]transportEnvelope),
}

func (b *mockTransportBus) publish(env transportEnvelope) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if handler, ok := b.subscribers[env.RecipientRouteID]; ok {
		go handler(env)
		return
	}
	b.mailbox[env.RecipientRouteID] = append(b.mailbox[env.RecipientRouteID], env)
}

func (b *mockTransportBus) subscribe(routeID string, handler func(transportEnvelope)) {
	b.mu.Lock()
	b.subscribers[routeID] = handler
	pending := append([]transportEnvelope(nil), b.mailbox[routeID]...)
	delete(b.mailbox, routeID)
	b.mu.Unlock()

	for _, env := range pending {
		handler(env)
	}
}

func (b *mockTransportBus) unsubscribe(routeID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscribers, routeID)
}
