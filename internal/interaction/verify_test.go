package interaction

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oktriage/first-responder/internal/model"
)

const testSecret = "8f742231b10e8888abcd99yyyzzz85a5"

func TestVerify(t *testing.T) {
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	body := []byte(`payload={"type":"block_actions"}`)
	ts := fmt.Sprintf("%d", now.Unix())

	t.Run("valid signature", func(t *testing.T) {
		sig := Sign(body, ts, testSecret)
		assert.NoError(t, Verify(body, sig, ts, testSecret, now))
	})

	t.Run("tampered body", func(t *testing.T) {
		sig := Sign(body, ts, testSecret)
		err := Verify([]byte(`payload={"type":"evil"}`), sig, ts, testSecret, now)
		assert.ErrorIs(t, err, model.ErrInvalidSignature)
	})

	t.Run("wrong secret", func(t *testing.T) {
		sig := Sign(body, ts, "other-secret")
		err := Verify(body, sig, ts, testSecret, now)
		assert.ErrorIs(t, err, model.ErrInvalidSignature)
	})

	t.Run("tampered timestamp", func(t *testing.T) {
		sig := Sign(body, ts, testSecret)
		other := fmt.Sprintf("%d", now.Add(-time.Minute).Unix())
		err := Verify(body, sig, other, testSecret, now)
		assert.ErrorIs(t, err, model.ErrInvalidSignature)
	})

	t.Run("unparseable timestamp", func(t *testing.T) {
		sig := Sign(body, ts, testSecret)
		err := Verify(body, sig, "not-a-number", testSecret, now)
		assert.ErrorIs(t, err, model.ErrInvalidSignature)
	})

	t.Run("stale timestamp", func(t *testing.T) {
		old := fmt.Sprintf("%d", now.Add(-6*time.Minute).Unix())
		sig := Sign(body, old, testSecret)
		err := Verify(body, sig, old, testSecret, now)
		assert.ErrorIs(t, err, model.ErrStaleTimestamp)
	})

	t.Run("future timestamp", func(t *testing.T) {
		future := fmt.Sprintf("%d", now.Add(6*time.Minute).Unix())
		sig := Sign(body, future, testSecret)
		err := Verify(body, sig, future, testSecret, now)
		assert.ErrorIs(t, err, model.ErrStaleTimestamp)
	})

	t.Run("edge of the window is accepted", func(t *testing.T) {
		edge := fmt.Sprintf("%d", now.Add(-FreshnessWindow).Unix())
		sig := Sign(body, edge, testSecret)
		assert.NoError(t, Verify(body, sig, edge, testSecret, now))
	})
}

func TestSignFormat(t *testing.T) {
	sig := Sign([]byte("body"), "1756641600", testSecret)
	require.Len(t, sig, 3+64)
	assert.Equal(t, "v0=", sig[:3])
	// Deterministic for fixed inputs.
	assert.Equal(t, sig, Sign([]byte("body"), "1756641600", testSecret))
}
