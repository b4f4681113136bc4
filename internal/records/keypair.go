package records

import (
	"encoding/hex"
	"strings"

	"github.com/rekindle-chat/rekindle/internal/overlay"
)

// encodeKeypair serializes a KeyPair as "<public-hex>:<secret-hex>" so it
// can be carried inside an encrypted JSON header, mirroring the
// human-readable KeyPair string form child record owner keys are persisted
// in.
func encodeKeypair(kp overlay.KeyPair) string {
	return hex.EncodeToString(kp.Public[:]) + ":" + hex.EncodeToString(kp.Secret[:])
}

// decodeKeypair parses the format produced by encodeKeypair, returning the
// zero KeyPair on any malformed input.
func decodeKeypair(s string) overlay.KeyPair {
	var kp overlay.KeyPair
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return kp
	}
	pub, err := hex.DecodeString(parts[0])
	if err != nil || len(pub) != 32 {
		return overlay.KeyPair{}
	}
	sec, err := hex.DecodeString(parts[1])
	if err != nil || len(sec) != 32 {
		return overlay.KeyPair{}
	}
	copy(kp.Public[:], pub)
	copy(kp.Secret[:], sec)
	return kp
}
