// Package pipeline implements the outer message envelope (sign/verify),
// the send-side app_message/app_call operations, and the receive-side
// event dispatch loop that demultiplexes overlay updates.
package pipeline

import (
	"crypto/ed25519"
	"encoding/binary"
	"errors"

	"github.com/rekindle-chat/rekindle/internal/keymaterial"
)

var (
	ErrEnvelopeTooShort = errors.New("pipeline: envelope too short")
	ErrVerification     = errors.New("pipeline: envelope signature verification failed")
)

const (
	senderKeyLen = ed25519.PublicKeySize
	signatureLen = ed25519.SignatureSize
)

// Envelope is the outer, overlay-visible wrapper around every app_message
// and app_call payload: a sender identity, a freshness timestamp, a nonce,
// the (already encrypted, at the session layer) payload, and a signature
// over all of it so a receiver can authenticate the sender before doing
// any further processing.
type Envelope struct {
	SenderKey ed25519.PublicKey
	Timestamp uint64
	Nonce     []byte
	Payload   []byte
	Signature []byte
}

// BuildEnvelope signs payload with identity's Ed25519 secret key over
// timestamp_le(8) || nonce || payload.
func BuildEnvelope(identity *keymaterial.Identity, timestamp uint64, nonce, payload []byte) Envelope {
	signed := signedMaterial(timestamp, nonce, payload)
	return Envelope{
		SenderKey: identity.PublicKey(),
		Timestamp: timestamp,
		Nonce:     nonce,
		Payload:   payload,
		Signature: identity.Sign(signed),
	}
}

// Verify reconstructs the signed material and checks the signature
// against SenderKey.
func (e Envelope) Verify() error {
	signed := signedMaterial(e.Timestamp, e.Nonce, e.Payload)
	if err := keymaterial.Verify(e.SenderKey, signed, e.Signature); err != nil {
		return ErrVerification
	}
	return nil
}

func signedMaterial(timestamp uint64, nonce, payload []byte) []byte {
	buf := make([]byte, 8+len(nonce)+len(payload))
	binary.LittleEndian.PutUint64(buf[:8], timestamp)
	copy(buf[8:8+len(nonce)], nonce)
	copy(buf[8+len(nonce):], payload)
	return buf
}

// Encode serializes an Envelope to its wire form:
// sender_key(32) || timestamp_le(8) || nonce_len_le(4) || nonce ||
// signature(64) || payload.
func (e Envelope) Encode() []byte {
	out := make([]byte, 0, senderKeyLen+8+4+len(e.Nonce)+signatureLen+len(e.Payload))
	out = append(out, e.SenderKey...)
	var tsBuf [8]byte
	binary.LittleEndian.PutUint64(tsBuf[:], e.Timestamp)
	out = append(out, tsBuf[:]...)
	var nlBuf [4]byte
	binary.LittleEndian.PutUint32(nlBuf[:], uint32(len(e.Nonce)))
	out = append(out, nlBuf[:]...)
	out = append(out, e.Nonce...)
	out = append(out, e.Signature...)
	out = append(out, e.Payload...)
	return out
}

// DecodeEnvelope parses the wire form produced by Encode.
func DecodeEnvelope(data []byte) (Envelope, error) {
	if len(data) < senderKeyLen+8+4+signatureLen {
		return Envelope{}, ErrEnvelopeTooShort
	}
	senderKey := append(ed25519.PublicKey(nil), data[:senderKeyLen]...)
	offset := senderKeyLen
	timestamp := binary.LittleEndian.Uint64(data[offset : offset+8])
	offset += 8
	nonceLen := binary.LittleEndian.Uint32(data[offset : offset+4])
	offset += 4
	if len(data) < offset+int(nonceLen)+signatureLen {
		return Envelope{}, ErrEnvelopeTooShort
	}
	nonce := append([]byte(nil), data[offset:offset+int(nonceLen)]...)
	offset += int(nonceLen)
	signature := append([]byte(nil), data[offset:offset+signatureLen]...)
	offset += signatureLen
	payload := append([]byte(nil), data[offset:]...)

	return Envelope{
		SenderKey: senderKey,
		Timestamp: timestamp,
		Nonce:     nonce,
		Payload:   payload,
		Signature: signature,
	}, nil
}
