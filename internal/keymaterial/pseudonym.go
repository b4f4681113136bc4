package keymaterial

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"
)

const pseudonymSalt = "rekindle-community-pseudonym-v1"

// DeriveCommunityPseudonym derives a community-scoped identity from the
// user's master secret and a community ID, via HKDF-SHA256 with a fixed
// salt and the community ID as info. The derivation is deterministic (no
// storage needed to recover it) and unlinkable across communities: knowing
// a pseudonym for one community reveals nothing about pseudonyms used in
// another.
func DeriveCommunityPseudonym(masterSecret [32]byte, communityID string) (*Identity, error) {
	reader := hkdf.New(sha256.New, masterSecret[:], []byte(pseudonymSalt), []byte(communityID))
	seed := make([]byte, 32)
	if _, err := io.ReadFull(reader, seed); err != nil {
		return nil, err
	}
	return FromSeed(seed)
}
