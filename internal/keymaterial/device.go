package keymaterial

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rekindle-chat/rekindle/pkg/models"
	"golang.org/x/crypto/hkdf"
)

var (
	ErrDeviceNotFound    = errors.New("keymaterial: device not found")
	ErrDeviceRevoked     = errors.New("keymaterial: device revoked")
	ErrInvalidDeviceSig  = errors.New("keymaterial: invalid device signature")
	ErrInvalidDeviceCert = errors.New("keymaterial: invalid device certificate")
	ErrUnverifiedContact = errors.New("keymaterial: contact's signing key is unknown")
)

type devicePrivate struct {
	model models.Device
	priv  ed25519.PrivateKey
}

// DeviceManager derives and tracks per-device Ed25519 signing subkeys for a
// single identity, so a multi-device account can hold distinct session
// state per device while every device's certificate chains back to one
// master identity. Each device's seed is deterministically derived from
// the master seed, so devices can be recreated from the keystore alone.
type DeviceManager struct {
	identityID string
	masterSeed []byte

	mu             sync.RWMutex
	devices        map[string]devicePrivate
	activeDeviceID string
	nextIndex      int
	revokedByPeer  map[string]map[string]struct{}
	peerPublicKeys map[string]ed25519.PublicKey
}

// RegistrySnapshot is the persisted shape of a DeviceManager's device list,
// written and read through securestore so a multi-device account survives
// across `rekindle-node` invocations without re-deriving every device from
// scratch in the wrong order.
type RegistrySnapshot struct {
	NextIndex      int             `json:"next_index"`
	ActiveDeviceID string          `json:"active_device_id"`
	Devices        []models.Device `json:"devices"`
}

// Snapshot captures the manager's device list for persistence. Private
// keys are never included: every non-primary device's key is re-derived
// deterministically from the master seed and its recorded index on load.
func (m *DeviceManager) Snapshot() RegistrySnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap := RegistrySnapshot{NextIndex: m.nextIndex, ActiveDeviceID: m.activeDeviceID}
	for _, d := range m.devices {
		snap.Devices = append(snap.Devices, cloneDevice(d.model))
	}
	return snap
}

// LoadRegistrySnapshot re-derives and registers every non-primary device
// recorded in snap, restoring revocation state and the active device
// pointer. The primary device (registered by NewDeviceManager) is left
// untouched; snap entries matching its ID are skipped.
func (m *DeviceManager) LoadRegistrySnapshot(snap RegistrySnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, device := range snap.Devices {
		if _, ok := m.devices[device.ID]; ok {
			continue
		}
		index, err := deviceIndexForID(m.masterSeed, device.ID, snap.NextIndex)
		if err != nil {
			return fmt.Errorf("keymaterial: restore device %s: %w", device.ID, err)
		}
		seed, err := deriveDeviceSeed(m.masterSeed, index)
		if err != nil {
			return fmt.Errorf("keymaterial: restore device %s: %w", device.ID, err)
		}
		priv := ed25519.NewKeyFromSeed(seed)
		m.devices[device.ID] = devicePrivate{model: cloneDevice(device), priv: priv}
	}
	if snap.NextIndex > m.nextIndex {
		m.nextIndex = snap.NextIndex
	}
	if snap.ActiveDeviceID != "" {
		if _, ok := m.devices[snap.ActiveDeviceID]; ok {
			m.activeDeviceID = snap.ActiveDeviceID
		}
	}
	return nil
}

// deviceIndexForID searches derivation indices 1..upperBound for the one
// that reproduces deviceID, since the persisted snapshot only carries
// public device metadata, not which index produced it.
func deviceIndexForID(masterSeed []byte, deviceID string, upperBound int) (int, error) {
	if upperBound < 1 {
		upperBound = 1
	}
	for index := 1; index <= upperBound; index++ {
		seed, err := deriveDeviceSeed(masterSeed, index)
		if err != nil {
			return 0, err
		}
		pub := ed25519.NewKeyFromSeed(seed).Public().(ed25519.PublicKey)
		if deviceIDFromPub(pub) == deviceID {
			return index, nil
		}
	}
	return 0, fmt.Errorf("no derivation index in [1,%d] reproduces device id %s", upperBound, deviceID)
}

// NewDeviceManager creates a DeviceManager and registers identity's own
// signing key as the first ("primary") device.
func NewDeviceManager(identity *Identity) (*DeviceManager, error) {
	identityID, err := BuildIdentityID(identity.PublicKey())
	if err != nil {
		return nil, fmt.Errorf("keymaterial: device manager identity id: %w", err)
	}
	m := &DeviceManager{
		identityID:     identityID,
		masterSeed:     append([]byte(nil), identity.Seed()...),
		devices:        make(map[string]devicePrivate),
		revokedByPeer:  make(map[string]map[string]struct{}),
		peerPublicKeys: make(map[string]ed25519.PublicKey),
	}

	pub := identity.PublicKey()
	id := deviceIDFromPub(pub)
	certSig := identity.Sign(deviceCertBytes(identityID, id, pub))
	m.devices[id] = devicePrivate{
		model: models.Device{
			ID:        id,
			Name:      "primary",
			PublicKey: append([]byte(nil), pub...),
			CertSig:   certSig,
			CreatedAt: time.Now().UTC(),
		},
		priv: append(ed25519.PrivateKey(nil), identity.signingPriv...),
	}
	m.activeDeviceID = id
	m.nextIndex = 1
	return m, nil
}

// ListDevices returns every device registered to this identity, revoked or not.
func (m *DeviceManager) ListDevices() []models.Device {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Device, 0, len(m.devices))
	for _, d := range m.devices {
		out = append(out, cloneDevice(d.model))
	}
	return out
}

// AddDevice derives a new device signing subkey from the master seed and
// registers it, certified by the master identity key.
func (m *DeviceManager) AddDevice(name string) (models.Device, error) {
	if name == "" {
		name = "device"
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	index := m.nextIndex + 1
	seed, err := deriveDeviceSeed(m.masterSeed, index)
	if err != nil {
		return models.Device{}, fmt.Errorf("keymaterial: derive device seed: %w", err)
	}
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)
	id := deviceIDFromPub(pub)

	device := models.Device{
		ID:        id,
		Name:      name,
		PublicKey: append([]byte(nil), pub...),
		CertSig:   ed25519.Sign(m.masterSigningKey(), deviceCertBytes(m.identityID, id, pub)),
		CreatedAt: time.Now().UTC(),
	}
	m.devices[id] = devicePrivate{model: device, priv: priv}
	m.nextIndex = index
	return cloneDevice(device), nil
}

// RevokeDevice marks a device as revoked and returns the signed revocation
// record to publish to peers.
func (m *DeviceManager) RevokeDevice(deviceID string) (models.DeviceRevocation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[deviceID]
	if !ok {
		return models.DeviceRevocation{}, ErrDeviceNotFound
	}
	if !d.model.IsRevoked {
		d.model.IsRevoked = true
		d.model.RevokedAt = time.Now().UTC()
		m.devices[deviceID] = d
	}
	return m.buildRevocationLocked(deviceID), nil
}

// ActiveDeviceAuth signs payload with the currently active device's key,
// returning that device's certificate alongside the signature so a peer
// can verify both without a separate lookup.
func (m *DeviceManager) ActiveDeviceAuth(payload []byte) (models.Device, []byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.devices[m.activeDeviceID]
	if !ok {
		return models.Device{}, nil, ErrDeviceNotFound
	}
	if d.model.IsRevoked {
		return models.Device{}, nil, ErrDeviceRevoked
	}
	return cloneDevice(d.model), ed25519.Sign(d.priv, payload), nil
}

// RegisterPeerSigningKey records the master signing key of a contact whose
// device certificates this manager will later verify.
func (m *DeviceManager) RegisterPeerSigningKey(contactID string, signingKey ed25519.PublicKey) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.peerPublicKeys[contactID] = append(ed25519.PublicKey(nil), signingKey...)
}

// VerifyInboundDevice checks that device is certified by contactID's
// registered signing key, is not revoked, and that signature over payload
// verifies against the device's own key.
func (m *DeviceManager) VerifyInboundDevice(contactID string, device models.Device, payload, signature []byte) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	peerKey, ok := m.peerPublicKeys[contactID]
	if !ok {
		return ErrUnverifiedContact
	}
	if revoked := m.revokedByPeer[contactID]; revoked != nil {
		if _, isRevoked := revoked[device.ID]; isRevoked {
			return ErrDeviceRevoked
		}
	}
	if !ed25519.Verify(peerKey, deviceCertBytes(contactID, device.ID, device.PublicKey), device.CertSig) {
		return ErrInvalidDeviceCert
	}
	if !ed25519.Verify(device.PublicKey, payload, signature) {
		return ErrInvalidDeviceSig
	}
	return nil
}

// ApplyDeviceRevocation records a peer-signed device revocation after
// verifying it was signed by that peer's registered master key.
func (m *DeviceManager) ApplyDeviceRevocation(contactID string, rev models.DeviceRevocation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	peerKey, ok := m.peerPublicKeys[contactID]
	if !ok {
		return ErrUnverifiedContact
	}
	if rev.IdentityID != contactID {
		return ErrInvalidDeviceCert
	}
	if !ed25519.Verify(peerKey, deviceRevocationBytes(rev.IdentityID, rev.DeviceID, rev.Timestamp), rev.Signature) {
		return ErrInvalidDeviceSig
	}
	if m.revokedByPeer[contactID] == nil {
		m.revokedByPeer[contactID] = make(map[string]struct{})
	}
	m.revokedByPeer[contactID][rev.DeviceID] = struct{}{}
	return nil
}

func (m *DeviceManager) masterSigningKey() ed25519.PrivateKey {
	return ed25519.NewKeyFromSeed(m.masterSeed)
}

func (m *DeviceManager) buildRevocationLocked(deviceID string) models.DeviceRevocation {
	now := time.Now().UTC()
	return models.DeviceRevocation{
		IdentityID: m.identityID,
		DeviceID:   deviceID,
		Timestamp:  now,
		Signature:  ed25519.Sign(m.masterSigningKey(), deviceRevocationBytes(m.identityID, deviceID, now)),
	}
}

func deviceIDFromPub(pub []byte) string {
	sum := sha256.Sum256(pub)
	return "dev1_" + hex.EncodeToString(sum[:8])
}

func deviceCertBytes(identityID, deviceID string, pub []byte) []byte {
	b := make([]byte, 0, len(identityID)+len(deviceID)+len(pub)+2)
	b = append(b, []byte(identityID)...)
	b = append(b, 0)
	b = append(b, []byte(deviceID)...)
	b = append(b, 0)
	b = append(b, pub...)
	return b
}

func deviceRevocationBytes(identityID, deviceID string, ts time.Time) []byte {
	return []byte(fmt.Sprintf("%s:%s:%d", identityID, deviceID, ts.UnixNano()))
}

func deriveDeviceSeed(masterSeed []byte, index int) ([]byte, error) {
	reader := hkdf.New(sha256.New, masterSeed, nil, []byte(fmt.Sprintf("rekindle/device/%d", index)))
	out := make([]byte, ed25519.SeedSize)
	if _, err := reader.Read(out); err != nil {
		return nil, err
	}
	return out, nil
}

func cloneDevice(d models.Device) models.Device {
	return models.Device{
		ID:        d.ID,
		Name:      d.Name,
		PublicKey: append([]byte(nil), d.PublicKey...),
		CertSig:   append([]byte(nil), d.CertSig...),
		CreatedAt: d.CreatedAt,
		IsRevoked: d.IsRevoked,
		RevokedAt: d.RevokedAt,
	}
}
