package overlay

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"
	"sync/atomic"
)

var (
	routeRegistryMu sync.Mutex
	routeRegistry   = map[string]*Mock{}

	globalCallSeq uint64
	pendingCallMu sync.Mutex
	pendingCalls  = map[uint64]chan []byte{}

	mockIDSeq uint64
)

type mockRecord struct {
	subkeyCount uint32
	owner       KeyPair
	writable    bool
	subkeys     map[uint32][]byte
}

// Mock is an in-memory, single-process implementation of API, used in
// tests for everything built on top of the overlay contract. Two Mocks can
// exchange messages across "private routes" via NewPrivateRoute /
// ImportRemoteRoute, simulating two independent nodes.
type Mock struct {
	id      uint64
	mu      sync.Mutex
	records map[RecordKey]*mockRecord
	routes  map[string]bool
	updates chan Update
}

func NewMock() *Mock {
	return &Mock{
		id:      atomic.AddUint64(&mockIDSeq, 1),
		records: make(map[RecordKey]*mockRecord),
		routes:  make(map[string]bool),
		updates: make(chan Update, 256),
	}
}

func (m *Mock) Updates() <-chan Update { return m.updates }

func (m *Mock) CreateRecord(ctx context.Context, subkeyCount uint32, owner *KeyPair) (Descriptor, error) {
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
	key := RecordKey(fmt.Sprintf("rec-%d-%x", m.id, kp.Public[:8]))

	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[key] = &mockRecord{
		subkeyCount: subkeyCount,
		owner:       kp,
		writable:    true,
		subkeys:     make(map[uint32][]byte),
	}
	return Descriptor{Key: key, Owner: kp}, nil
}

func (m *Mock) OpenRecord(ctx context.Context, key RecordKey, writer *KeyPair) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[key]
	if !ok {
		// Opening a record not previously created locally (e.g. a peer's
		// record key received out of band) creates a read/write placeholder
		// so tests can share a single Mock as the "network".
		rec = &mockRecord{subkeys: make(map[uint32][]byte)}
		m.records[key] = rec
	}
	if writer != nil {
		rec.owner = *writer
		rec.writable = true
	}
	return nil
}

func (m *Mock) CloseRecord(ctx context.Context, key RecordKey) error {
	return nil
}

func (m *Mock) GetValue(ctx context.Context, key RecordKey, subkey uint32, forceRefresh bool) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[key]
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

func (m *Mock) SetValue(ctx context.Context, key RecordKey, subkey uint32, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[key]
	if !ok {
		return ErrRecordNotFound
	}
	if !rec.writable {
		return ErrNotWritable
	}
	stored := make([]byte, len(data))
	copy(stored, data)
	rec.subkeys[subkey] = stored
	return nil
}

func (m *Mock) WatchRecord(ctx context.Context, key RecordKey, subkeys [][2]uint32) (bool, error) {
	m.mu.Lock()
	_, ok := m.records[key]
	m.mu.Unlock()
	if !ok {
		return false, ErrRecordNotFound
	}
	return true, nil
}

func (m *Mock) NewPrivateRoute(ctx context.Context) (string, []byte, error) {
	id := fmt.Sprintf("route-%d-%d", m.id, atomic.AddUint64(&mockIDSeq, 1))
	routeRegistryMu.Lock()
	routeRegistry[id] = m
	routeRegistryMu.Unlock()

	m.mu.Lock()
	m.routes[id] = true
	m.mu.Unlock()
	return id, []byte(id), nil
}

func (m *Mock) ImportRemoteRoute(ctx context.Context, blob []byte) (string, error) {
	id := string(blob)
	routeRegistryMu.Lock()
	_, ok := routeRegistry[id]
	routeRegistryMu.Unlock()
	if !ok {
		return "", ErrRouteNotFound
	}
	return id, nil
}

func (m *Mock) ReleaseRoute(ctx context.Context, routeID string) error {
	m.mu.Lock()
	delete(m.routes, routeID)
	m.mu.Unlock()

	routeRegistryMu.Lock()
	if routeRegistry[routeID] == m {
		delete(routeRegistry, routeID)
	}
	routeRegistryMu.Unlock()
	return nil
}

func lookupRoute(routeID string) (*Mock, bool) {
	routeRegistryMu.Lock()
	defer routeRegistryMu.Unlock()
	dest, ok := routeRegistry[routeID]
	return dest, ok
}

func (m *Mock) AppMessage(ctx context.Context, routeID string, payload []byte) error {
	dest, ok := lookupRoute(routeID)
	if !ok {
		return ErrRouteNotFound
	}
	update := Update{Kind: UpdateAppMessage, FromRouteID: routeID, Payload: append([]byte(nil), payload...)}
	select {
	case dest.updates <- update:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Mock) AppCall(ctx context.Context, routeID string, payload []byte) ([]byte, error) {
	dest, ok := lookupRoute(routeID)
	if !ok {
		return nil, ErrRouteNotFound
	}
	callID := atomic.AddUint64(&globalCallSeq, 1)
	replyCh := make(chan []byte, 1)
	pendingCallMu.Lock()
	pendingCalls[callID] = replyCh
	pendingCallMu.Unlock()

	update := Update{Kind: UpdateAppCall, FromRouteID: routeID, Payload: append([]byte(nil), payload...), CallID: callID}
	select {
	case dest.updates <- update:
	case <-ctx.Done():
		pendingCallMu.Lock()
		delete(pendingCalls, callID)
		pendingCallMu.Unlock()
		return nil, ctx.Err()
	}

	select {
	case reply := <-replyCh:
		return reply, nil
	case <-ctx.Done():
		pendingCallMu.Lock()
		delete(pendingCalls, callID)
		pendingCallMu.Unlock()
		return nil, ctx.Err()
	}
}

func (m *Mock) AppCallReply(ctx context.Context, callID uint64, payload []byte) error {
	pendingCallMu.Lock()
	ch, ok := pendingCalls[callID]
	delete(pendingCalls, callID)
	pendingCallMu.Unlock()
	if !ok {
		return fmt.Errorf("overlay: no pending call %d", callID)
	}
	ch <- append([]byte(nil), payload...)
	return nil
}

var _ API = (*Mock)(nil)
