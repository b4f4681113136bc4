package overlay

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// WakuBackend adapts a wakuTransport (a pub/sub content-topic carrier, not
// a DHT) to the API contract this system needs.
//
// The transport has no native "create/open/get/set DHT record" surface the
// way Veilid does, so record storage here is kept locally (one
// authoritative copy per record, matching how this node would serve its
// own DHT records) and propagated to watchers over the same envelope
// channel used for application traffic, tagged with a reserved
// "record-sync" kind. Route allocation has no private-route equivalent
// either: a "route" is modeled as the remote identity string itself, since
// the transport's relay/store/filter protocols already provide the
// unlinkability properties an onion circuit would — see DESIGN.md for the
// full justification.
type WakuBackend struct {
	transport *wakuTransport
	selfID    string

	mu      sync.Mutex
	records map[RecordKey]*mockRecord
	routes  map[string]string // routeID -> remote identity

	updates      chan Update
	nextCallID   uint64
	pendingCalls sync.Map // callID -> chan []byte
	inboundCalls sync.Map // callID -> sender identity, for routing AppCallReply
}

type wireEnvelopeKind string

const (
	wireKindAppMessage   wireEnvelopeKind = "app_message"
	wireKindAppCall      wireEnvelopeKind = "app_call"
	wireKindAppCallReply wireEnvelopeKind = "app_call_reply"
	wireKindRecordSync   wireEnvelopeKind = "record_sync"
)

type wireEnvelope struct {
	Kind      wireEnvelopeKind `json:"kind"`
	CallID    uint64           `json:"call_id,omitempty"`
	Payload   []byte           `json:"payload,omitempty"`
	RecordKey RecordKey        `json:"record_key,omitempty"`
	Subkey    uint32           `json:"subkey,omitempty"`
	Data      []byte           `json:"data,omitempty"`
}

// NewWakuBackend starts a wakuTransport for cfg, assigns it selfID, and
// subscribes to inbound envelopes, translating them into overlay Updates.
// It owns the transport's lifecycle: callers stop it via Close.
func NewWakuBackend(ctx context.Context, cfg TransportConfig, selfID string) (*WakuBackend, error) {
	transport := newWakuTransport(cfg)
	if err := transport.Start(ctx); err != nil {
		return nil, fmt.Errorf("overlay: start transport: %w", err)
	}
	transport.SetIdentity(selfID)

	b := &WakuBackend{
		transport: transport,
		selfID:    selfID,
		records:   make(map[RecordKey]*mockRecord),
		routes:    make(map[string]string),
		updates:   make(chan Update, 256),
	}
	if err := transport.SubscribeEnvelopes(b.handleIncoming); err != nil {
		_ = transport.Stop(ctx)
		return nil, fmt.Errorf("overlay: subscribe: %w", err)
	}

	if cfg.OfflineCatchupWindow > 0 {
		b.catchUpMissed(ctx, cfg.OfflineCatchupWindow)
	}
	return b, nil
}

// Close stops the underlying transport.
func (b *WakuBackend) Close(ctx context.Context) error {
	return b.transport.Stop(ctx)
}

// catchUpMissed replays envelopes the transport's store protocol recovered
// for us from before this subscribe, covering the gap where a peer sent a
// message while we were offline. A no-op on the mock transport, whose
// mailbox replay already happens inside SubscribeEnvelopes.
func (b *WakuBackend) catchUpMissed(ctx context.Context, window time.Duration) {
	since := time.Now().Add(-window)
	missed, err := b.transport.FetchEnvelopesSince(ctx, b.selfID, since, 200)
	if err != nil || len(missed) == 0 {
		return
	}
	for _, env := range missed {
		b.handleIncoming(env)
	}
}

func (b *WakuBackend) handleIncoming(raw transportEnvelope) {
	var env wireEnvelope
	if err := json.Unmarshal(raw.Payload, &env); err != nil {
		return
	}
	switch env.Kind {
	case wireKindAppMessage:
		b.updates <- Update{Kind: UpdateAppMessage, FromRouteID: raw.SenderRouteID, Payload: env.Payload}
	case wireKindAppCall:
		b.inboundCalls.Store(env.CallID, raw.SenderRouteID)
		b.updates <- Update{Kind: UpdateAppCall, FromRouteID: raw.SenderRouteID, Payload: env.Payload, CallID: env.CallID}
	case wireKindAppCallReply:
		if ch, ok := b.pendingCalls.LoadAndDelete(env.CallID); ok {
			ch.(chan []byte) <- env.Payload
		}
	case wireKindRecordSync:
		b.mu.Lock()
		rec, ok := b.records[env.RecordKey]
		if !ok {
			rec = &mockRecord{subkeys: make(map[uint32][]byte)}
			b.records[env.RecordKey] = rec
		}
		rec.subkeys[env.Subkey] = env.Data
		b.mu.Unlock()
	}
}

func (b *WakuBackend) Updates() <-chan Update { return b.updates }

func (b *WakuBackend) CreateRecord(ctx context.Context, subkeyCount uint32, owner *KeyPair) (Descriptor, error) {
	var kp KeyPair
	if owner != nil {
		kp = *owner
	} else {
		if _, err := rand.Read(kp.Public[:]); err != nil {
			return Descriptor{}, err
		}
		if _, err := rand.Read(kp.Secret[:]); err != nil {
			return Descriptor{}, err
		}
	}
	key := RecordKey(fmt.Sprintf("waku-rec-%s-%x", b.selfID, kp.Public[:8]))

	b.mu.Lock()
	b.records[key] = &mockRecord{subkeyCount: subkeyCount, owner: kp, writable: true, subkeys: make(map[uint32][]byte)}
	b.mu.Unlock()
	return Descriptor{Key: key, Owner: kp}, nil
}

func (b *WakuBackend) OpenRecord(ctx context.Context, key RecordKey, writer *KeyPair) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	rec, ok := b.records[key]
	if !ok {
		rec = &mockRecord{subkeys: make(map[uint32][]byte)}
		b.records[key] = rec
	}
	if writer != nil {
		rec.owner = *writer
		rec.writable = true
	}
	return nil
}

func (b *WakuBackend) CloseRecord(ctx context.Context, key RecordKey) error { return nil }

func (b *WakuBackend) GetValue(ctx context.Context, key RecordKey, subkey uint32, forceRefresh bool) ([]byte, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	rec, ok := b.records[key]
	if !ok {
		return nil, false, ErrRecordNotFound
	}
	data, ok := rec.subkeys[subkey]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, true, nil
}

func (b *WakuBackend) SetValue(ctx context.Context, key RecordKey, subkey uint32, data []byte) error {
	b.mu.Lock()
	rec, ok := b.records[key]
	if !ok {
		b.mu.Unlock()
		return ErrRecordNotFound
	}
	if !rec.writable {
		b.mu.Unlock()
		return ErrNotWritable
	}
	stored := make([]byte, len(data))
	copy(stored, data)
	rec.subkeys[subkey] = stored
	b.mu.Unlock()

	// Best-effort propagate to watchers; record sync failures aren't fatal
	// because the local write above has already succeeded. GetValue reads
	// only the local copy, whatever forceRefresh says.
	env := wireEnvelope{Kind: wireKindRecordSync, RecordKey: key, Subkey: subkey, Data: data}
	raw, err := json.Marshal(env)
	if err != nil {
		return nil
	}
	_ = b.transport.PublishEnvelope(ctx, transportEnvelope{SenderRouteID: b.selfID, RecipientRouteID: string(key), Payload: raw})
	return nil
}

func (b *WakuBackend) WatchRecord(ctx context.Context, key RecordKey, subkeys [][2]uint32) (bool, error) {
	b.mu.Lock()
	_, ok := b.records[key]
	b.mu.Unlock()
	return ok, nil
}

// NewPrivateRoute has no direct go-waku analog: this backend treats the
// local identity as its own "route" and relies on the transport's
// relay/filter privacy properties instead of an explicit onion circuit.
func (b *WakuBackend) NewPrivateRoute(ctx context.Context) (string, []byte, error) {
	return b.selfID, []byte(b.selfID), nil
}

func (b *WakuBackend) ImportRemoteRoute(ctx context.Context, blob []byte) (string, error) {
	remoteID := string(blob)
	b.mu.Lock()
	b.routes[remoteID] = remoteID
	b.mu.Unlock()
	return remoteID, nil
}

func (b *WakuBackend) ReleaseRoute(ctx context.Context, routeID string) error {
	b.mu.Lock()
	delete(b.routes, routeID)
	b.mu.Unlock()
	return nil
}

func (b *WakuBackend) AppMessage(ctx context.Context, routeID string, payload []byte) error {
	env := wireEnvelope{Kind: wireKindAppMessage, Payload: payload}
	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return b.transport.PublishEnvelope(ctx, transportEnvelope{SenderRouteID: b.selfID, RecipientRouteID: routeID, Payload: raw})
}

func (b *WakuBackend) AppCall(ctx context.Context, routeID string, payload []byte) ([]byte, error) {
	callID := atomic.AddUint64(&b.nextCallID, 1)
	replyCh := make(chan []byte, 1)
	b.pendingCalls.Store(callID, replyCh)
	defer b.pendingCalls.Delete(callID)

	env := wireEnvelope{Kind: wireKindAppCall, CallID: callID, Payload: payload}
	raw, err := json.Marshal(env)
	if err != nil {
		return nil, err
	}
	if err := b.transport.PublishEnvelope(ctx, transportEnvelope{SenderRouteID: b.selfID, RecipientRouteID: routeID, Payload: raw}); err != nil {
		return nil, err
	}

	const callTimeout = 8 * time.Second
	timer := time.NewTimer(callTimeout)
	defer timer.Stop()
	select {
	case reply := <-replyCh:
		return reply, nil
	case <-timer.C:
		return nil, fmt.Errorf("overlay: app_call to %s timed out", routeID)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (b *WakuBackend) AppCallReply(ctx context.Context, callID uint64, payload []byte) error {
	recipient, ok := b.inboundCalls.LoadAndDelete(callID)
	if !ok {
		return fmt.Errorf("overlay: no inbound call %d to reply to", callID)
	}
	env := wireEnvelope{Kind: wireKindAppCallReply, CallID: callID, Payload: payload}
	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return b.transport.PublishEnvelope(ctx, transportEnvelope{SenderRouteID: b.selfID, RecipientRouteID: recipient.(string), Payload: raw})
}

var _ API = (*WakuBackend)(nil)
