package ratchet

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

var (
	ErrSessionNotFound    = errors.New("ratchet: session not found")
	ErrReplayDetected     = errors.New("ratchet: replay detected")
	ErrUnknownMessageKey  = errors.New("ratchet: no key available to decrypt message")
	ErrEnvelopeTooShort   = errors.New("ratchet: envelope too short")
)

const (
	maxSkippedKeys    = 1000
	maxSeenMessageIDs = 1024

	chainInfoMessage = "rekindle-chain-message-v1"
	chainInfoNext    = "rekindle-chain-next-v1"
)

// State is the persisted state of one Signal-style ratchet session with a
// single contact. Fields mirror what must survive a process restart.
type State struct {
	SessionID      string            `json:"session_id"`
	ContactID      string            `json:"contact_id"`
	PeerIdentity   []byte            `json:"peer_identity"`
	RootKey        [32]byte          `json:"root_key"`
	SendChainKey   [32]byte          `json:"send_chain_key"`
	RecvChainKey   [32]byte          `json:"recv_chain_key"`
	SendChainIndex uint64            `json:"send_chain_index"`
	RecvChainIndex uint64            `json:"recv_chain_index"`
	SeenMessageIDs []string          `json:"seen_message_ids"`
	SkippedKeys    map[uint64][32]byte `json:"skipped_keys"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// Store persists session state across restarts.
type Store interface {
	Save(state State) error
	Get(contactID string) (State, bool, error)
	All() ([]State, error)
}

// Manager orchestrates session lifecycle and message encrypt/decrypt for
// all of a user's contacts.
type Manager struct {
	mu    sync.RWMutex
	store Store
}

func NewManager(store Store) *Manager {
	return &Manager{store: store}
}

// NewInitiatorSession builds the session state for the handshake initiator:
// the initial chain key becomes the sending chain (the initiator sends the
// first message).
func NewInitiatorSession(contactID string, peerIdentity []byte, hs HandshakeResult) State {
	now := time.Now().UTC()
	return State{
		SessionID:    buildSessionID(contactID, peerIdentity),
		ContactID:    contactID,
		PeerIdentity: append([]byte(nil), peerIdentity...),
		RootKey:      hs.RootKey,
		SendChainKey: hs.SendChainKey,
		SkippedKeys:  make(map[uint64][32]byte),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// NewResponderSession builds the session state for the handshake responder:
// the initial chain key becomes the receiving chain, symmetric to the
// initiator's sending chain.
func NewResponderSession(contactID string, peerIdentity []byte, hs HandshakeResult) State {
	now := time.Now().UTC()
	return State{
		SessionID:    buildSessionID(contactID, peerIdentity),
		ContactID:    contactID,
		PeerIdentity: append([]byte(nil), peerIdentity...),
		RootKey:      hs.RootKey,
		RecvChainKey: hs.SendChainKey,
		SkippedKeys:  make(map[uint64][32]byte),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func buildSessionID(contactID string, peerIdentity []byte) string {
	h := sha256.New()
	h.Write([]byte(contactID))
	h.Write(peerIdentity)
	return fmt.Sprintf("%x", h.Sum(nil))[:32]
}

// Envelope is the wire format for a single ratchet-encrypted message:
// counter_be(8) || nonce(12) || ciphertext || tag(16).
type Envelope struct {
	ContactID string
	Counter   uint64
	Payload   []byte // nonce || ciphertext || tag
}

// Encrypt advances the sending chain by one step and seals plaintext under
// the resulting message key.
func (m *Manager) Encrypt(contactID string, plaintext, aad []byte) (Envelope, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok, err := m.store.Get(contactID)
	if err != nil {
		return Envelope{}, err
	}
	if !ok {
		return Envelope{}, ErrSessionNotFound
	}

	msgKey, nextChain, err := ratchetStep(state.SendChainKey)
	if err != nil {
		return Envelope{}, err
	}
	counter := state.SendChainIndex

	ciphertext, err := sealMessage(msgKey, plaintext, envelopeAAD(aad, counter))
	if err != nil {
		return Envelope{}, err
	}

	state.SendChainKey = nextChain
	state.SendChainIndex++
	state.UpdatedAt = time.Now().UTC()
	if err := m.store.Save(state); err != nil {
		return Envelope{}, err
	}

	return Envelope{ContactID: contactID, Counter: counter, Payload: ciphertext}, nil
}

// Decrypt opens an incoming envelope, advancing the receiving chain or
// consuming a cached skipped-message key for out-of-order delivery. It
// rejects messages whose counter has already been seen (replay detection).
func (m *Manager) Decrypt(env Envelope, aad []byte) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok, err := m.store.Get(env.ContactID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrSessionNotFound
	}

	msgID := fmt.Sprintf("%s:%d", env.ContactID, env.Counter)
	if containsString(state.SeenMessageIDs, msgID) {
		return nil, ErrReplayDetected
	}

	var msgKey [32]byte
	var found bool

	if key, ok := state.SkippedKeys[env.Counter]; ok {
		msgKey = key
		found = true
		delete(state.SkippedKeys, env.Counter)
	} else if env.Counter == state.RecvChainIndex {
		msgKey, state.RecvChainKey, err = ratchetStep(state.RecvChainKey)
		if err != nil {
			return nil, err
		}
		state.RecvChainIndex++
		found = true
	} else if env.Counter > state.RecvChainIndex {
		chain := state.RecvChainKey
		for idx := state.RecvChainIndex; idx < env.Counter; idx++ {
			var key [32]byte
			key, chain, err = ratchetStep(chain)
			if err != nil {
				return nil, err
			}
			state.SkippedKeys[idx] = key
		}
		msgKey, chain, err = ratchetStep(chain)
		if err != nil {
			return nil, err
		}
		state.RecvChainKey = chain
		state.RecvChainIndex = env.Counter + 1
		found = true
		pruneSkippedKeys(state.SkippedKeys)
	}

	if !found {
		return nil, ErrUnknownMessageKey
	}

	plaintext, err := openMessage(msgKey, env.Payload, envelopeAAD(aad, env.Counter))
	if err != nil {
		return nil, err
	}

	state.SeenMessageIDs = append(state.SeenMessageIDs, msgID)
	if len(state.SeenMessageIDs) > maxSeenMessageIDs {
		state.SeenMessageIDs = state.SeenMessageIDs[len(state.SeenMessageIDs)-maxSeenMessageIDs:]
	}
	state.UpdatedAt = time.Now().UTC()

	if err := m.store.Save(state); err != nil {
		return nil, err
	}
	return plaintext, nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// pruneSkippedKeys caps the skipped-key cache so an adversary cannot force
// unbounded memory growth by never delivering a gap of messages.
func pruneSkippedKeys(keys map[uint64][32]byte) {
	if len(keys) <= maxSkippedKeys {
		return
	}
	excess := len(keys) - maxSkippedKeys
	// Skipped keys are indexed by monotonically increasing counters, so the
	// smallest counters are the oldest.
	oldest := make([]uint64, 0, len(keys))
	for k := range keys {
		oldest = append(oldest, k)
	}
	for i := 0; i < len(oldest); i++ {
		for j := i + 1; j < len(oldest); j++ {
			if oldest[j] < oldest[i] {
				oldest[i], oldest[j] = oldest[j], oldest[i]
			}
		}
	}
	for i := 0; i < excess; i++ {
		delete(keys, oldest[i])
	}
}

// ratchetStep derives the next chain key and a message key from the current
// chain key, via two independent HKDF expansions of the same input so that
// neither value can be used to recover the other.
func ratchetStep(chainKey [32]byte) (messageKey, nextChainKey [32]byte, err error) {
	msgReader := hkdf.New(sha256.New, chainKey[:], nil, []byte(chainInfoMessage))
	if _, err = io.ReadFull(msgReader, messageKey[:]); err != nil {
		return messageKey, nextChainKey, fmt.Errorf("ratchet: derive message key: %w", err)
	}
	nextReader := hkdf.New(sha256.New, chainKey[:], nil, []byte(chainInfoNext))
	if _, err = io.ReadFull(nextReader, nextChainKey[:]); err != nil {
		return messageKey, nextChainKey, fmt.Errorf("ratchet: derive next chain key: %w", err)
	}
	return messageKey, nextChainKey, nil
}

func envelopeAAD(aad []byte, counter uint64) []byte {
	out := make([]byte, len(aad)+8)
	copy(out, aad)
	binary.BigEndian.PutUint64(out[len(aad):], counter)
	return out
}

func sealMessage(key [32]byte, plaintext, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, fmt.Errorf("ratchet: new aead: %w", err)
	}
	nonce := make([]byte, chacha20poly1305.NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("ratchet: nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, plaintext, aad), nil
}

func openMessage(key [32]byte, data, aad []byte) ([]byte, error) {
	if len(data) < chacha20poly1305.NonceSize {
		return nil, ErrEnvelopeTooShort
	}
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, fmt.Errorf("ratchet: new aead: %w", err)
	}
	nonce, ciphertext := data[:chacha20poly1305.NonceSize], data[chacha20poly1305.NonceSize:]
	plaintext, err := aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, fmt.Errorf("ratchet: decrypt: %w", err)
	}
	return plaintext, nil
}
