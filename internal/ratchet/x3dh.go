package ratchet

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"

	"github.com/rekindle-chat/rekindle/internal/keymaterial"
)

const x3dhInfo = "rekindle-x3dh-v1"

var ErrNoOneTimePrekey = errors.New("ratchet: responder used one-time prekey but initiator omitted DH4")

// HandshakeResult is the output of an X3DH key agreement: the root key and
// the initial sending/receiving chain key it seeds.
type HandshakeResult struct {
	RootKey       [32]byte
	SendChainKey  [32]byte
	UsedOneTime   bool
	AssociatedData []byte
}

func x25519Public(priv [32]byte) ([32]byte, error) {
	var out [32]byte
	pub, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return out, fmt.Errorf("ratchet: x25519 public: %w", err)
	}
	copy(out[:], pub)
	return out, nil
}

func dh(priv, pub [32]byte) ([32]byte, error) {
	var out [32]byte
	shared, err := curve25519.X25519(priv[:], pub[:])
	if err != nil {
		return out, fmt.Errorf("ratchet: dh: %w", err)
	}
	copy(out[:], shared)
	return out, nil
}

// InitiateX3DH runs the initiator side of the handshake: given the local
// identity, an ephemeral keypair generated for this handshake, and the
// responder's published PreKeyBundle, computes DH1..DH4 (DH4 only if the
// bundle carries a one-time prekey) and derives the root key plus the
// initiator's first sending chain key.
func InitiateX3DH(localIdentity *keymaterial.Identity, ephemeralPriv [32]byte, bundle PreKeyBundle) (HandshakeResult, error) {
	if err := VerifyBundle(bundle); err != nil {
		return HandshakeResult{}, err
	}

	ikA := localIdentity.ToX25519Private()
	ikB, err := keymaterial.PeerEd25519ToX25519(bundle.IdentityKey)
	if err != nil {
		return HandshakeResult{}, err
	}
	spkB := bundle.SignedPrekey

	dh1, err := dh(ikA, spkB)
	if err != nil {
		return HandshakeResult{}, err
	}
	dh2, err := dh(ephemeralPriv, ikB)
	if err != nil {
		return HandshakeResult{}, err
	}
	dh3, err := dh(ephemeralPriv, spkB)
	if err != nil {
		return HandshakeResult{}, err
	}

	combined := make([]byte, 0, 32*4)
	combined = append(combined, dh1[:]...)
	combined = append(combined, dh2[:]...)
	combined = append(combined, dh3[:]...)

	usedOTP := bundle.OneTimePrekey != nil
	if usedOTP {
		dh4, err := dh(ephemeralPriv, *bundle.OneTimePrekey)
		if err != nil {
			return HandshakeResult{}, err
		}
		combined = append(combined, dh4[:]...)
	}

	ephemeralPub, err := x25519Public(ephemeralPriv)
	if err != nil {
		return HandshakeResult{}, err
	}
	ad := associatedData(localIdentity.PublicKey(), bundle.IdentityKey, ephemeralPub)

	return deriveHandshakeResult(combined, usedOTP, ad)
}

// RespondX3DH runs the responder side, given the responder's own identity
// and signed-prekey secret, optionally its one-time-prekey secret, and the
// initiator's identity public key + ephemeral public key carried in the
// initial message.
func RespondX3DH(localIdentity *keymaterial.Identity, signedPrekeyPriv [32]byte, oneTimePrekeyPriv *[32]byte, initiatorIdentityPub ed25519PublicKeyLike, initiatorEphemeralPub [32]byte) (HandshakeResult, error) {
	ikB := localIdentity.ToX25519Private()
	ikA, err := keymaterial.PeerEd25519ToX25519(initiatorIdentityPub)
	if err != nil {
		return HandshakeResult{}, err
	}

	dh1, err := dh(signedPrekeyPriv, ikA)
	if err != nil {
		return HandshakeResult{}, err
	}
	dh2, err := dh(ikB, initiatorEphemeralPub)
	if err != nil {
		return HandshakeResult{}, err
	}
	dh3, err := dh(signedPrekeyPriv, initiatorEphemeralPub)
	if err != nil {
		return HandshakeResult{}, err
	}

	combined := make([]byte, 0, 32*4)
	combined = append(combined, dh1[:]...)
	combined = append(combined, dh2[:]...)
	combined = append(combined, dh3[:]...)

	usedOTP := oneTimePrekeyPriv != nil
	if usedOTP {
		dh4, err := dh(*oneTimePrekeyPriv, initiatorEphemeralPub)
		if err != nil {
			return HandshakeResult{}, err
		}
		combined = append(combined, dh4[:]...)
	}

	ad := associatedData(initiatorIdentityPub, localIdentity.PublicKey(), initiatorEphemeralPub)
	return deriveHandshakeResult(combined, usedOTP, ad)
}

// ed25519PublicKeyLike avoids importing crypto/ed25519 into this file's
// signature purely for a type alias; callers pass ed25519.PublicKey.
type ed25519PublicKeyLike = []byte

func associatedData(initiatorID, responderID ed25519PublicKeyLike, ephemeralPub [32]byte) []byte {
	ad := make([]byte, 0, len(initiatorID)+len(responderID)+32)
	ad = append(ad, initiatorID...)
	ad = append(ad, responderID...)
	ad = append(ad, ephemeralPub[:]...)
	return ad
}

func deriveHandshakeResult(combinedDH []byte, usedOTP bool, ad []byte) (HandshakeResult, error) {
	reader := hkdf.New(sha256.New, combinedDH, nil, []byte(x3dhInfo))
	var material [64]byte
	if _, err := io.ReadFull(reader, material[:]); err != nil {
		return HandshakeResult{}, fmt.Errorf("ratchet: hkdf expand: %w", err)
	}
	var result HandshakeResult
	copy(result.RootKey[:], material[:32])
	copy(result.SendChainKey[:], material[32:])
	result.UsedOneTime = usedOTP
	result.AssociatedData = ad
	return result, nil
}
