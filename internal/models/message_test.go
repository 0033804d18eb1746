package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func validMessage() Message {
	return Message{
		ID:        "m1",
		Address:   "+15551234567",
		Body:      "hello",
		Direction: DirectionIncoming,
		Timestamp: 1000,
	}
}

func TestMessage_Validate(t *testing.T) {
	t.Run("accepts a complete message", func(t *testing.T) {
		msg := validMessage()
		assert.NoError(t, msg.Validate())
	})

	t.Run("requires an id", func(t *testing.T) {
		msg := validMessage()
		msg.ID = "  "
		assert.ErrorIs(t, msg.Validate(), ErrMissingEntityID)
	})

	t.Run("requires a positive timestamp", func(t *testing.T) {
		msg := validMessage()
		msg.Timestamp = 0
		assert.ErrorIs(t, msg.Validate(), ErrMissingTimestamp)
		msg.Timestamp = -5
		assert.ErrorIs(t, msg.Validate(), ErrMissingTimestamp)
	})

	t.Run("requires an address", func(t *testing.T) {
		msg := validMessage()
		msg.Address = ""
		assert.ErrorIs(t, msg.Validate(), ErrMissingAddress)
	})

	t.Run("requires a known direction", func(t *testing.T) {
		msg := validMessage()
		msg.Direction = "sideways"
		assert.ErrorIs(t, msg.Validate(), ErrInvalidDirection)

		msg.Direction = DirectionOutgoing
		assert.NoError(t, msg.Validate())
	})

	t.Run("an empty body is fine for encrypted messages", func(t *testing.T) {
		msg := validMessage()
		msg.Body = ""
		msg.EncryptedBody = "Y2lwaGVydGV4dA=="
		assert.NoError(t, msg.Validate())
	})
}

func TestMessage_Encrypted(t *testing.T) {
	msg := validMessage()
	assert.False(t, msg.Encrypted())

	msg.EncryptedBody = "Y2lwaGVydGV4dA=="
	assert.True(t, msg.Encrypted())
}

func TestMessage_ToResponse(t *testing.T) {
	t.Run("carries the resolved envelope subset", func(t *testing.T) {
		msg := validMessage()
		msg.Body = ""
		msg.EncryptedBody = "Y2lwaGVydGV4dA=="
		resolved := []KeyEnvelope{{RecipientKeyID: "key-1", WrappedKey: "d3JhcHBlZA=="}}

		resp := msg.ToResponse(resolved)
		assert.Equal(t, resolved, resp.Envelopes)
		assert.False(t, resp.DecryptionFailed)
	})

	t.Run("flags ciphertext the device cannot open", func(t *testing.T) {
		msg := validMessage()
		msg.Body = ""
		msg.EncryptedBody = "Y2lwaGVydGV4dA=="

		resp := msg.ToResponse(nil)
		assert.True(t, resp.DecryptionFailed)
	})

	t.Run("plaintext never fails decryption", func(t *testing.T) {
		msg := validMessage()
		resp := msg.ToResponse(nil)
		assert.False(t, resp.DecryptionFailed)
		assert.Equal(t, "hello", resp.Body)
	})
}
