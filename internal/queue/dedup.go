package queue

import (
	"crypto/sha256"
	"encoding/hex"
)

// DedupToken derives a content-based message id for transport-level
// duplicate suppression. Including the stage keeps identical payloads on
// different queues from colliding.
func DedupToken(stage string, payload []byte) string {
	h := sha256.New()
	h.Write([]byte(stage))
	h.Write([]byte{0})
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}
