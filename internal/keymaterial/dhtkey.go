package keymaterial

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

const (
	nonceLen = chacha20poly1305.NonceSizeX
	tagLen   = 16

	accountKeyInfo      = "rekindle-account-v1"
	conversationKeyInfo = "rekindle-conversation-v1"
)

var ErrCiphertextTooShort = errors.New("keymaterial: ciphertext too short")

// DhtRecordKey is the symmetric key that encrypts a DHT record's contents.
// It is derived one of two ways: from an Ed25519 secret (account records,
// owner-only readable) or from an X25519 Diffie-Hellman shared secret
// (conversation records, readable by both parties).
type DhtRecordKey struct {
	key [32]byte
}

// DeriveAccountKey derives the account-record encryption key via
// HKDF-SHA256 over the Ed25519 seed with no salt.
func DeriveAccountKey(ed25519Seed []byte) (DhtRecordKey, error) {
	return expandDhtKey(ed25519Seed, []byte(accountKeyInfo))
}

// DeriveConversationKey derives a conversation-record encryption key from an
// X25519 DH shared secret. The info string is built from both public keys
// sorted lexicographically so that both parties derive an identical key
// regardless of who is "mine" and who is "theirs".
func DeriveConversationKey(mySecret [32]byte, myPublic, theirPublic [32]byte) (DhtRecordKey, error) {
	shared, err := curve25519.X25519(mySecret[:], theirPublic[:])
	if err != nil {
		return DhtRecordKey{}, fmt.Errorf("keymaterial: conversation dh: %w", err)
	}

	info := make([]byte, 0, 64+len(conversationKeyInfo))
	if lexLess(myPublic[:], theirPublic[:]) {
		info = append(info, myPublic[:]...)
		info = append(info, theirPublic[:]...)
	} else {
		info = append(info, theirPublic[:]...)
		info = append(info, myPublic[:]...)
	}
	info = append(info, conversationKeyInfo...)

	return expandDhtKey(shared, info)
}

func lexLess(a, b []byte) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

func expandDhtKey(secret, info []byte) (DhtRecordKey, error) {
	reader := hkdf.New(sha256.New, secret, nil, info)
	var key DhtRecordKey
	if _, err := io.ReadFull(reader, key.key[:]); err != nil {
		return DhtRecordKey{}, fmt.Errorf("keymaterial: hkdf expand: %w", err)
	}
	return key, nil
}

// Encrypt seals plaintext with XChaCha20-Poly1305, returning
// nonce(24) || ciphertext || tag(16).
func (k DhtRecordKey) Encrypt(plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(k.key[:])
	if err != nil {
		return nil, fmt.Errorf("keymaterial: new aead: %w", err)
	}
	nonce := make([]byte, nonceLen)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("keymaterial: nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens ciphertext produced by Encrypt.
func (k DhtRecordKey) Decrypt(data []byte) ([]byte, error) {
	if len(data) < nonceLen+tagLen {
		return nil, ErrCiphertextTooShort
	}
	aead, err := chacha20poly1305.NewX(k.key[:])
	if err != nil {
		return nil, fmt.Errorf("keymaterial: new aead: %w", err)
	}
	nonce, ciphertext := data[:nonceLen], data[nonceLen:]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("keymaterial: decrypt: %w", err)
	}
	return plaintext, nil
}
