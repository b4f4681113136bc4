// Package ratchet implements the Signal-style X3DH handshake and the
// symmetric double-ratchet message layer built on top of it.
package ratchet

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/rekindle-chat/rekindle/internal/keymaterial"
)

var ErrInvalidSignature = errors.New("ratchet: signed prekey signature invalid")

// PreKeyBundle is published to a contact's profile record (DHT subkey 5 in
// the overlay's encrypted-records layout) so that a new contact can
// establish a session asynchronously, without the bundle owner being online.
type PreKeyBundle struct {
	IdentityKey            ed25519.PublicKey `json:"identity_key"`
	SignedPrekey            [32]byte          `json:"signed_prekey"`
	SignedPrekeySignature   []byte            `json:"signed_prekey_signature"`
	OneTimePrekey           *[32]byte         `json:"one_time_prekey,omitempty"`
	RegistrationID          uint32            `json:"registration_id"`
}

// SignedPrekeyMaterial is the private half of a bundle, kept by its owner.
type SignedPrekeyMaterial struct {
	Public  [32]byte
	Private [32]byte
}

// OneTimePrekeyMaterial is a single-use prekey, consumed after first use.
type OneTimePrekeyMaterial struct {
	ID      uint32
	Public  [32]byte
	Private [32]byte
}

// GenerateSignedPrekey creates a fresh X25519 signed prekey and signs its
// public half with the identity's Ed25519 key.
func GenerateSignedPrekey(identity *keymaterial.Identity) (SignedPrekeyMaterial, []byte, error) {
	var priv [32]byte
	if _, err := rand.Read(priv[:]); err != nil {
		return SignedPrekeyMaterial{}, nil, fmt.Errorf("ratchet: generate signed prekey: %w", err)
	}
	clamp(&priv)
	pub, err := x25519Public(priv)
	if err != nil {
		return SignedPrekeyMaterial{}, nil, err
	}
	sig := identity.Sign(pub[:])
	return SignedPrekeyMaterial{Public: pub, Private: priv}, sig, nil
}

// GenerateOneTimePrekeys creates count fresh single-use X25519 prekeys.
func GenerateOneTimePrekeys(startID uint32, count int) ([]OneTimePrekeyMaterial, error) {
	out := make([]OneTimePrekeyMaterial, 0, count)
	for i := 0; i < count; i++ {
		var priv [32]byte
		if _, err := rand.Read(priv[:]); err != nil {
			return nil, fmt.Errorf("ratchet: generate one-time prekey: %w", err)
		}
		clamp(&priv)
		pub, err := x25519Public(priv)
		if err != nil {
			return nil, err
		}
		out = append(out, OneTimePrekeyMaterial{ID: startID + uint32(i), Public: pub, Private: priv})
	}
	return out, nil
}

// BuildBundle assembles the public bundle to publish, optionally including
// one one-time prekey. A nil otp is valid: X3DH degrades gracefully to the
// 3-DH form (DH1-DH3) when the responder's one-time-prekey pool is
// exhausted — see the Open Question decision in DESIGN.md.
func BuildBundle(identity *keymaterial.Identity, signed SignedPrekeyMaterial, signedSig []byte, otp *OneTimePrekeyMaterial, registrationID uint32) PreKeyBundle {
	bundle := PreKeyBundle{
		IdentityKey:           identity.PublicKey(),
		SignedPrekey:          signed.Public,
		SignedPrekeySignature: signedSig,
		RegistrationID:        registrationID,
	}
	if otp != nil {
		pub := otp.Public
		bundle.OneTimePrekey = &pub
	}
	return bundle
}

// VerifyBundle checks the signed prekey's signature against the identity key.
func VerifyBundle(bundle PreKeyBundle) error {
	if err := keymaterial.Verify(bundle.IdentityKey, bundle.SignedPrekey[:], bundle.SignedPrekeySignature); err != nil {
		return ErrInvalidSignature
	}
	return nil
}

func clamp(b *[32]byte) {
	b[0] &= 248
	b[31] &= 127
	b[31] |= 64
}
