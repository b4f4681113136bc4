package keymaterial

import (
	"bytes"
	"testing"
)

func TestGenerateAndSign(t *testing.T) {
	id, err := Generate()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	msg := []byte("hello rekindle")
	sig := id.Sign(msg)
	if err := Verify(id.PublicKey(), msg, sig); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestFromSeedRoundtrip(t *testing.T) {
	id, err := Generate()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	restored, err := FromSeed(id.Seed())
	if err != nil {
		t.Fatalf("from seed: %v", err)
	}
	if !bytes.Equal(id.PublicKey(), restored.PublicKey()) {
		t.Fatal("public keys should match after seed roundtrip")
	}
}

func TestX25519Derivation(t *testing.T) {
	alice, _ := Generate()
	bob, _ := Generate()

	aliceSecret := alice.ToX25519Private()
	bobPublic, err := bob.ToX25519Public()
	if err != nil {
		t.Fatalf("bob public: %v", err)
	}
	bobSecret := bob.ToX25519Private()
	alicePublic, err := alice.ToX25519Public()
	if err != nil {
		t.Fatalf("alice public: %v", err)
	}

	sharedA, err := DeriveConversationKey(aliceSecret, alicePublic, bobPublic)
	if err != nil {
		t.Fatalf("derive a: %v", err)
	}
	sharedB, err := DeriveConversationKey(bobSecret, bobPublic, alicePublic)
	if err != nil {
		t.Fatalf("derive b: %v", err)
	}
	if sharedA.key != sharedB.key {
		t.Fatal("conversation keys should match from both sides")
	}
}

func TestPeerEd25519ToX25519MatchesOwnDerivation(t *testing.T) {
	id, err := Generate()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	fromSecret, err := id.ToX25519Public()
	if err != nil {
		t.Fatalf("to x25519 public: %v", err)
	}
	fromPublic, err := PeerEd25519ToX25519(id.PublicKey())
	if err != nil {
		t.Fatalf("peer conversion: %v", err)
	}
	if fromSecret != fromPublic {
		t.Fatal("peer_ed25519_to_x25519 must match to_x25519_public derived from the same identity")
	}
}

func TestPeerX25519DHAgreement(t *testing.T) {
	alice, _ := Generate()
	bob, _ := Generate()

	aliceSecret := alice.ToX25519Private()
	bobX25519Pub, err := PeerEd25519ToX25519(bob.PublicKey())
	if err != nil {
		t.Fatalf("bob peer conversion: %v", err)
	}

	bobSecret := bob.ToX25519Private()
	aliceX25519Pub, err := PeerEd25519ToX25519(alice.PublicKey())
	if err != nil {
		t.Fatalf("alice peer conversion: %v", err)
	}

	alicePub, _ := alice.ToX25519Public()
	bobPub, _ := bob.ToX25519Public()

	sharedA, err := DeriveConversationKey(aliceSecret, alicePub, bobX25519Pub)
	if err != nil {
		t.Fatalf("derive a: %v", err)
	}
	sharedB, err := DeriveConversationKey(bobSecret, bobPub, aliceX25519Pub)
	if err != nil {
		t.Fatalf("derive b: %v", err)
	}
	if sharedA.key != sharedB.key {
		t.Fatal("shared secrets derived via peer conversion must agree")
	}
}

func TestBuildIdentityIDAndVerify(t *testing.T) {
	id, err := Generate()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	identityID, err := BuildIdentityID(id.PublicKey())
	if err != nil {
		t.Fatalf("build id: %v", err)
	}
	ok, err := VerifyIdentityID(identityID, id.PublicKey())
	if err != nil {
		t.Fatalf("verify id: %v", err)
	}
	if !ok {
		t.Fatal("identity id should verify against its own public key")
	}

	other, _ := Generate()
	ok, err = VerifyIdentityID(identityID, other.PublicKey())
	if err != nil {
		t.Fatalf("verify id: %v", err)
	}
	if ok {
		t.Fatal("identity id must not verify against a different public key")
	}
}
