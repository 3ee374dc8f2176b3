package analyze

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

// Volatile substrings stripped before fingerprinting, most specific first:
// UUIDs, 0x-prefixed hex, long bare hex runs (request ids, container ids),
// then any digit run (timestamps, ports, counts, status codes).
var (
	uuidPattern   = regexp.MustCompile(`[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`)
	hexPattern    = regexp.MustCompile(`\b0x[0-9a-f]+\b|\b[0-9a-f]{16,}\b`)
	numberPattern = regexp.MustCompile(`\d+`)
	spacePattern  = regexp.MustCompile(`\s+`)
)

// Signature derives the error signature for an alert: a deterministic
// fingerprint of its normalized message and source. Semantically identical
// recurring errors that differ only by embedded ids or timestamps map to
// the same signature.
func Signature(source, message string) string {
	normalized := normalizeMessage(message)
	h := sha256.New()
	h.Write([]byte(strings.ToLower(source)))
	h.Write([]byte{'\n'})
	h.Write([]byte(normalized))
	return hex.EncodeToString(h.Sum(nil))
}

func normalizeMessage(message string) string {
	s := strings.ToLower(message)
	s = uuidPattern.ReplaceAllString(s, "#")
	s = hexPattern.ReplaceAllString(s, "#")
	s = numberPattern.ReplaceAllString(s, "#")
	s = spacePattern.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
