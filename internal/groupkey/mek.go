// Package groupkey implements the Media Encryption Key used to encrypt a
// community channel's message batches. Each channel has its own MEK,
// distributed to members over their individual ratchet sessions and rotated
// whenever channel membership changes.
package groupkey

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const wireLen = 40

var (
	ErrWireTooShort = errors.New("groupkey: wire bytes too short")
	ErrDataTooShort = errors.New("groupkey: ciphertext too short")
)

// MEK is a generation-stamped symmetric key for AES-256-GCM channel message
// encryption.
type MEK struct {
	Key        [32]byte
	Generation uint64
}

// Generate creates a new random MEK at the given generation.
func Generate(generation uint64) (MEK, error) {
	var key [32]byte
	if _, err := io.ReadFull(rand.Reader, key[:]); err != nil {
		return MEK{}, fmt.Errorf("groupkey: generate: %w", err)
	}
	return MEK{Key: key, Generation: generation}, nil
}

// FromBytes restores a MEK from raw key bytes.
func FromBytes(key [32]byte, generation uint64) MEK {
	return MEK{Key: key, Generation: generation}
}

// Rotate derives a new MEK for the next generation, used when channel
// membership changes (a removed member must not be able to decrypt future
// messages with the old key).
func Rotate(current MEK) (MEK, error) {
	return Generate(current.Generation + 1)
}

// Encrypt seals plaintext with AES-256-GCM, returning nonce(12) || ciphertext || tag(16).
func (k MEK) Encrypt(plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(k.Key[:])
	if err != nil {
		return nil, fmt.Errorf("groupkey: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("groupkey: new gcm: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("groupkey: nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens ciphertext produced by Encrypt.
func (k MEK) Decrypt(data []byte) ([]byte, error) {
	block, err := aes.NewCipher(k.Key[:])
	if err != nil {
		return nil, fmt.Errorf("groupkey: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("groupkey: new gcm: %w", err)
	}
	if len(data) < gcm.NonceSize() {
		return nil, ErrDataTooShort
	}
	nonce, ciphertext := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("groupkey: decrypt: %w", err)
	}
	return plaintext, nil
}

// ToWireBytes serializes to the 40-byte wire format: generation (8 LE) + key (32).
func (k MEK) ToWireBytes() []byte {
	buf := make([]byte, wireLen)
	binary.LittleEndian.PutUint64(buf[:8], k.Generation)
	copy(buf[8:], k.Key[:])
	return buf
}

// FromWireBytes deserializes the 40-byte wire format.
func FromWireBytes(data []byte) (MEK, error) {
	if len(data) < wireLen {
		return MEK{}, ErrWireTooShort
	}
	var mek MEK
	mek.Generation = binary.LittleEndian.Uint64(data[:8])
	copy(mek.Key[:], data[8:40])
	return mek, nil
}
