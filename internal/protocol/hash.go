package protocol

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

func SHA256Hex(in []byte) string {
	h := sha256.Sum256(in)
	return hex.EncodeToString(h[:])
}

// ActorHash is the privacy-preserving identity recorded on provenance events.
func ActorHash(userID string) string {
	return SHA256Hex([]byte(strings.TrimSpace(userID)))
}
