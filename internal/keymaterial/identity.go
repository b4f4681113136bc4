// Package keymaterial implements the identity and key-derivation layer:
// Ed25519 signing identities, their X25519 Diffie-Hellman duals, and the
// DHT record encryption keys derived from them.
package keymaterial

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha512"
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58/base58"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/curve25519"
)

const identityIDPrefix = "rekindle1"

var (
	ErrInvalidSeed      = errors.New("keymaterial: invalid seed length")
	ErrInvalidPublicKey = errors.New("keymaterial: invalid ed25519 public key")
	ErrVerification     = errors.New("keymaterial: signature verification failed")
)

// Identity is a user's cryptographic identity: an Ed25519 keypair. There are
// no usernames or passwords in this layer — the public key is the address.
type Identity struct {
	signingPriv ed25519.PrivateKey
	signingPub  ed25519.PublicKey
}

// Generate creates a new random identity.
func Generate() (*Identity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("keymaterial: generate identity: %w", err)
	}
	return &Identity{signingPriv: priv, signingPub: pub}, nil
}

// FromSeed restores an identity from a 32-byte Ed25519 seed.
func FromSeed(seed []byte) (*Identity, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, ErrInvalidSeed
	}
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)
	return &Identity{signingPriv: priv, signingPub: pub}, nil
}

// PublicKey returns the Ed25519 public key.
func (id *Identity) PublicKey() ed25519.PublicKey {
	return id.signingPub
}

// Seed returns the 32-byte Ed25519 seed backing this identity. Handle with
// care: this is private key material destined for the encrypted keystore.
func (id *Identity) Seed() []byte {
	return id.signingPriv.Seed()
}

// Sign signs a message with the identity's private key.
func (id *Identity) Sign(message []byte) []byte {
	return ed25519.Sign(id.signingPriv, message)
}

// Verify checks a signature against a public key.
func Verify(publicKey ed25519.PublicKey, message, signature []byte) error {
	if len(publicKey) != ed25519.PublicKeySize {
		return ErrInvalidPublicKey
	}
	if !ed25519.Verify(publicKey, message, signature) {
		return ErrVerification
	}
	return nil
}

// ToX25519Private derives this identity's X25519 static secret from the
// SHA-512-expanded Ed25519 scalar (the same scalar Ed25519 uses internally),
// so that ToX25519Public matches PeerEd25519ToX25519 via the standard
// Edwards->Montgomery birational map (RFC 7748).
func (id *Identity) ToX25519Private() [32]byte {
	h := sha512.Sum512(id.Seed())
	var out [32]byte
	copy(out[:], h[:32])
	out[0] &= 248
	out[31] &= 127
	out[31] |= 64
	return out
}

// ToX25519Public derives the X25519 public key matching ToX25519Private.
func (id *Identity) ToX25519Public() ([32]byte, error) {
	priv := id.ToX25519Private()
	var out [32]byte
	pub, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return out, fmt.Errorf("keymaterial: derive x25519 public: %w", err)
	}
	copy(out[:], pub)
	return out, nil
}

// PeerEd25519ToX25519 converts a peer's Ed25519 public key to an X25519
// public key via the Edwards->Montgomery birational map. This is the correct
// way to derive an X25519 key from a peer's public identity key, as opposed
// to ToX25519Public which works from a local secret key.
func PeerEd25519ToX25519(ed25519Public ed25519.PublicKey) ([32]byte, error) {
	var out [32]byte
	if len(ed25519Public) != ed25519.PublicKeySize {
		return out, ErrInvalidPublicKey
	}
	point, err := new(edwards25519.Point).SetBytes(ed25519Public)
	if err != nil {
		return out, fmt.Errorf("keymaterial: invalid edwards point: %w", err)
	}
	copy(out[:], point.BytesMontgomery())
	return out, nil
}

// BuildIdentityID derives the public, shareable identity string from a
// signing public key: blake2b-256 hash, base58-encoded, prefixed.
func BuildIdentityID(signingPublicKey ed25519.PublicKey) (string, error) {
	if len(signingPublicKey) != ed25519.PublicKeySize {
		return "", ErrInvalidPublicKey
	}
	h := blake2b.Sum256(signingPublicKey)
	return identityIDPrefix + base58.Encode(h[:]), nil
}

// VerifyIdentityID checks that identityID was derived from signingPublicKey.
func VerifyIdentityID(identityID string, signingPublicKey ed25519.PublicKey) (bool, error) {
	expected, err := BuildIdentityID(signingPublicKey)
	if err != nil {
		return false, err
	}
	return identityID == expected, nil
}
