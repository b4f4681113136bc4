package pipeline

import (
	"testing"

	"github.com/rekindle-chat/rekindle/internal/keymaterial"
)

func TestBuildVerifyRoundtrip(t *testing.T) {
	identity, err := keymaterial.Generate()
	if err != nil {
		t.Fatalf("generate identity: %v", err)
	}
	envelope := BuildEnvelope(identity, 1234, []byte("nonce-bytes"), []byte("hello world"))
	if err := envelope.Verify(); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	identity, _ := keymaterial.Generate()
	envelope := BuildEnvelope(identity, 1, []byte("n"), []byte("original"))
	envelope.Payload = []byte("tampered")
	if err := envelope.Verify(); err == nil {
		t.Fatal("expected verification failure on tampered payload")
	}
}

func TestVerifyRejectsWrongSender(t *testing.T) {
	identity, _ := keymaterial.Generate()
	other, _ := keymaterial.Generate()
	envelope := BuildEnvelope(identity, 1, []byte("n"), []byte("body"))
	envelope.SenderKey = other.PublicKey()
	if err := envelope.Verify(); err == nil {
		t.Fatal("expected verification failure with mismatched sender key")
	}
}

func TestEncodeDecodeRoundtrip(t *testing.T) {
	identity, _ := keymaterial.Generate()
	envelope := BuildEnvelope(identity, 99, []byte("a-nonce"), []byte("payload-bytes"))
	wire := envelope.Encode()

	decoded, err := DecodeEnvelope(wire)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Timestamp != envelope.Timestamp {
		t.Fatalf("timestamp mismatch: got %d want %d", decoded.Timestamp, envelope.Timestamp)
	}
	if string(decoded.Nonce) != string(envelope.Nonce) {
		t.Fatalf("nonce mismatch")
	}
	if string(decoded.Payload) != string(envelope.Payload) {
		t.Fatalf("payload mismatch")
	}
	if err := decoded.Verify(); err != nil {
		t.Fatalf("verify decoded envelope: %v", err)
	}
}

func TestDecodeEnvelopeTooShort(t *testing.T) {
	if _, err := DecodeEnvelope(make([]byte, 10)); err != ErrEnvelopeTooShort {
		t.Fatalf("expected ErrEnvelopeTooShort, got %v", err)
	}
}
