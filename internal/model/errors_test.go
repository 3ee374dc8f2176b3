package model

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsPermanent(t *testing.T) {
	t.Run("sentinels", func(t *testing.T) {
		assert.True(t, IsPermanent(ErrMalformedPayload))
		assert.True(t, IsPermanent(ErrAlertNotFound))
		assert.True(t, IsPermanent(ErrInvalidSignature))
		assert.True(t, IsPermanent(ErrEmptyMessage))
		assert.False(t, IsPermanent(ErrDegradedIngest))
		assert.False(t, IsPermanent(errors.New("connection refused")))
		assert.False(t, IsPermanent(nil))
	})

	t.Run("wrapping survives", func(t *testing.T) {
		err := fmt.Errorf("stage failed: %w", ErrMalformedPayload)
		assert.True(t, IsPermanent(err))

		err = fmt.Errorf("outer: %w", Permanent(errors.New("inner")))
		assert.True(t, IsPermanent(err))
	})

	t.Run("status classes", func(t *testing.T) {
		assert.True(t, IsPermanent(&StatusError{Service: "jira", Status: 400}))
		assert.True(t, IsPermanent(&StatusError{Service: "jira", Status: 404}))
		assert.False(t, IsPermanent(&StatusError{Service: "jira", Status: 500}))
		assert.False(t, IsPermanent(&StatusError{Service: "jira", Status: 503}))

		wrapped := fmt.Errorf("call failed: %w", &StatusError{Service: "slack", Status: 401})
		assert.True(t, IsPermanent(wrapped))
	})
}

func TestPermanentNil(t *testing.T) {
	assert.Nil(t, Permanent(nil))
}

func TestStatusErrorMessage(t *testing.T) {
	err := &StatusError{Service: "jira", Status: 503, Body: "maintenance"}
	assert.Equal(t, "jira returned status 503: maintenance", err.Error())
}
