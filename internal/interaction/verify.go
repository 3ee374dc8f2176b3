package interaction

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/oktriage/first-responder/internal/model"
)

// FreshnessWindow bounds how old (or future-dated) a callback timestamp may
// be before it is rejected as a replay.
const FreshnessWindow = 5 * time.Minute

const signatureVersion = "v0"

// Sign computes the callback signature over body: the hex HMAC-SHA256 of
// "v0:<timestamp>:<body>", prefixed with "v0=".
func Sign(body []byte, timestamp, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%s:%s:", signatureVersion, timestamp)
	mac.Write(body)
	return signatureVersion + "=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks an interaction callback's authenticity. It is a pure
// function of its inputs and performs no I/O.
//
// Returns model.ErrStaleTimestamp when the timestamp is outside the
// freshness window and model.ErrInvalidSignature when the signature does
// not match.
func Verify(body []byte, signature, timestamp, secret string, now time.Time) error {
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: bad timestamp", model.ErrInvalidSignature)
	}

	age := now.Sub(time.Unix(ts, 0))
	if age > FreshnessWindow || age < -FreshnessWindow {
		return model.ErrStaleTimestamp
	}

	expected := Sign(body, timestamp, secret)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return model.ErrInvalidSignature
	}
	return nil
}
