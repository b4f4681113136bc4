package overlay

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"
)

func TestTransportLifecycle(t *testing.T) {
	tr := newWakuTransport(DefaultTransportConfig())
	initial := tr.Status()
	if initial.state != transportStateDisconnected {
		t.Fatalf("expected disconnected initially, got %s", initial.state)
	}

	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	started := tr.Status()
	if started.state != transportStateConnected {
		t.Fatalf("expected connected after start, got %s", started.state)
	}
	if started.peerCount <= 0 {
		t.Fatalf("expected peer count > 0, got %d", started.peerCount)
	}

	if err := tr.Stop(context.Background()); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	stopped := tr.Status()
	if stopped.state != transportStateDisconnected {
		t.Fatalf("expected disconnected after stop, got %s", stopped.state)
	}
}

func TestTransportRuntimeStateTransitionsByPeerCount(t *testing.T) {
	prevInterval := transportStatusPollInterval
	transportStatusPollInterval = 20 * time.Millisecond
	defer func() { transportStatusPollInterval = prevInterval }()

	driver := &fakeTransportDriver{peerCount: 1}
	tr := newWakuTransport(TransportConfig{Transport: TransportWaku})
	tr.mu.Lock()
	tr.driver = driver
	tr.status.state = transportStateConnected
	tr.status.peerCount = 1
	tr.status.lastSync = time.Now()
	tr.mu.Unlock()
	tr.startRuntimeMonitor()
	defer tr.stopRuntimeMonitor()

	waitForTransportState(t, tr, transportStateConnected, 300*time.Millisecond)
	driver.setPeerCount(0)
	waitForTransportState(t, tr, transportStateDegraded, 500*time.Millisecond)
	driver.setPeerCount(2)
	waitForTransportState(t, tr, transportStateConnected, 500*time.Millisecond)
}

func TestNormalizeTransportConfigAppliesSafeDefaults(t *testing.T) {
	cfg := normalizeTransportConfig(TransportConfig{
		Transport:           "",
		MinPeers:            -1,
		StoreQueryFanout:    0,
		ReconnectInterval:   0,
		ReconnectBackoffMax: 10 * time.Millisecond,
	})

	if cfg.Transport == "" {
		t.Fatal("transport must be defaulted")
	}
	if cfg.MinPeers != 0 {
		t.Fatalf("expected negative minPeers to clamp to 0, got %d", cfg.MinPeers)
	}
	if cfg.StoreQueryFanout <= 0 {
		t.Fatalf("storeQueryFanout must be > 0, got %d", cfg.StoreQueryFanout)
	}
	if cfg.ReconnectInterval <= 0 {
		t.Fatalf("reconnectInterval must be > 0, got %s", cfg.ReconnectInterval)
	}
	if cfg.ReconnectBackoffMax < cfg.ReconnectInterval {
		t.Fatalf("reconnectBackoffMax must be >= reconnectInterval, got max=%s interval=%s", cfg.ReconnectBackoffMax, cfg.ReconnectInterval)
	}
}

func TestStartupStateFromPeerCount(t *testing.T) {
	cfg := TransportConfig{MinPeers: 2}
	if got := startupStateFromPeerCount(2, cfg); got != transportStateConnected {
		t.Fatalf("expected connected, got %s", got)
	}
	if got := startupStateFromPeerCount(0, cfg); got != transportStateDegraded {
		t.Fatalf("expected degraded, got %s", got)
	}
}

func TestStartupPeerTarget(t *testing.T) {
	if got := startupPeerTarget(TransportConfig{}); got != 1 {
		t.Fatalf("expected default startup target=1, got %d", got)
	}
	if got := startupPeerTarget(TransportConfig{MinPeers: 3, BootstrapNodes: []string{"a", "b"}}); got != 2 {
		t.Fatalf("expected target capped by bootstrap size to 2, got %d", got)
	}
}

func TestWaitForStartupPeerCountTimeoutReturnsDegradedCount(t *testing.T) {
	driver := &fakeTransportDriver{peerCount: 0}
	ctx, cancel := context.WithTimeout(context.Background(), 350*time.Millisecond)
	defer cancel()

	cfg := TransportConfig{
		MinPeers:            2,
		ReconnectInterval:   50 * time.Millisecond,
		ReconnectBackoffMax: 200 * time.Millisecond,
	}
	got, err := waitForStartupPeerCount(ctx, driver, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 0 {
		t.Fatalf("expected peer count=0 after timeout, got %d", got)
	}
}

func TestWakuBackendCatchesUpMissedEnvelopesOnSubscribe(t *testing.T) {
	ctx := context.Background()
	driver := &fakeTransportDriver{peerCount: 1}
	newTransportDriver = func() transportDriver { return driver }
	defer func() { newTransportDriver = func() transportDriver { return nil } }()

	cfg := TransportConfig{Transport: TransportWaku, OfflineCatchupWindow: time.Hour}
	backend, startErr := NewWakuBackend(ctx, cfg, "bob")
	if startErr != nil {
		t.Fatalf("new waku backend: %v", startErr)
	}
	defer func() { _ = backend.Close(ctx) }()

	select {
	case update := <-backend.Updates():
		if update.Kind != UpdateAppMessage || string(update.Payload) != "missed while offline" {
			t.Fatalf("unexpected catch-up update: %+v", update)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for catch-up delivered update")
	}
}

func waitForTransportState(t *testing.T, tr *wakuTransport, expected string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		if tr.Status().state == expected {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for state=%s, got=%s", expected, tr.Status().state)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

type fakeTransportDriver struct {
	mu        sync.RWMutex
	peerCount int
}

func (f *fakeTransportDriver) Start(_ context.Context, _ TransportConfig) error { return nil }
func (f *fakeTransportDriver) Stop()                                           {}
func (f *fakeTransportDriver) ApplyConfig(_ TransportConfig)                   {}
func (f *fakeTransportDriver) SetIdentity(_ string)                           {}
func (f *fakeTransportDriver) SubscribeEnvelopes(_ func(transportEnvelope)) error {
	return nil
}
func (f *fakeTransportDriver) PublishEnvelope(_ context.Context, _ transportEnvelope) error {
	return nil
}
func (f *fakeTransportDriver) FetchEnvelopesSince(_ context.Context, _ string, _ time.Time, _ int) ([]transportEnvelope, error) {
	return []transportEnvelope{{
		ID:               "missed-1",
		SenderRouteID:    "alice",
		RecipientRouteID: "bob",
		Payload:          mustEncodeAppMessageForTest("missed while offline"),
	}}, nil
}
func (f *fakeTransportDriver) PeerCount() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.peerCount
}
func (f *fakeTransportDriver) setPeerCount(v int) {
	f.mu.Lock()
	f.peerCount = v
	f.mu.Unlock()
}

func mustEncodeAppMessageForTest(payload string) []byte {
	raw, err := json.Marshal(wireEnvelope{Kind: wireKindAppMessage, Payload: []byte(payload)})
	if err != nil {
		panic(err)
	}
	return raw
}
