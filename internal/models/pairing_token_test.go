package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPairingToken(t *testing.T) {
	t.Run("mints a pending token with a hashed secret", func(t *testing.T) {
		token, err := NewPairingToken("Laptop", PlatformDesktop, "temp-user", 10*time.Minute)
		require.NoError(t, err)

		assert.NotEmpty(t, token.ID)
		assert.NotEmpty(t, token.Token)
		assert.Equal(t, HashPairingToken(token.Token), token.TokenHash)
		assert.NotEqual(t, token.Token, token.TokenHash)
		assert.Equal(t, PairingStatusPending, token.Status)
		assert.Equal(t, "temp-user", token.TempUserID)
		assert.True(t, token.ExpiresAt.After(token.CreatedAt))
	})

	t.Run("tokens are unique", func(t *testing.T) {
		a, err := NewPairingToken("Laptop", PlatformDesktop, "u", time.Minute)
		require.NoError(t, err)
		b, err := NewPairingToken("Laptop", PlatformDesktop, "u", time.Minute)
		require.NoError(t, err)
		assert.NotEqual(t, a.Token, b.Token)
	})
}

func TestPairingToken_EffectiveStatus(t *testing.T) {
	t.Run("a fresh pending token is pending", func(t *testing.T) {
		token, err := NewPairingToken("Laptop", PlatformDesktop, "u", 10*time.Minute)
		require.NoError(t, err)
		assert.Equal(t, PairingStatusPending, token.EffectiveStatus())
	})

	t.Run("a pending token past its TTL reads expired", func(t *testing.T) {
		token, err := NewPairingToken("Laptop", PlatformDesktop, "u", 10*time.Minute)
		require.NoError(t, err)
		token.ExpiresAt = time.Now().UTC().Add(-time.Second)
		assert.Equal(t, PairingStatusExpired, token.EffectiveStatus())
	})

	t.Run("an approval inside the redeem window reads approved", func(t *testing.T) {
		token, err := NewPairingToken("Laptop", PlatformDesktop, "u", 10*time.Minute)
		require.NoError(t, err)
		now := time.Now().UTC()
		token.Status = PairingStatusApproved
		token.RespondedAt = &now
		assert.Equal(t, PairingStatusApproved, token.EffectiveStatus())
	})

	t.Run("an approval past the redeem window reads expired", func(t *testing.T) {
		token, err := NewPairingToken("Laptop", PlatformDesktop, "u", 10*time.Minute)
		require.NoError(t, err)
		stale := time.Now().UTC().Add(-RedeemDeadline - time.Second)
		token.Status = PairingStatusApproved
		token.RespondedAt = &stale
		assert.Equal(t, PairingStatusExpired, token.EffectiveStatus())
	})

	t.Run("terminal statuses pass through unchanged", func(t *testing.T) {
		token, err := NewPairingToken("Laptop", PlatformDesktop, "u", 10*time.Minute)
		require.NoError(t, err)
		token.ExpiresAt = time.Now().UTC().Add(-time.Second)

		for _, status := range []PairingStatus{PairingStatusRedeemed, PairingStatusRejected} {
			token.Status = status
			assert.Equal(t, status, token.EffectiveStatus())
		}
	})
}

func TestQRPayload(t *testing.T) {
	t.Run("round trips through encoding", func(t *testing.T) {
		payload := QRPayload{
			Token:      "raw-token",
			DeviceName: "Laptop",
			Platform:   PlatformDesktop,
			Endpoint:   "https://sync.example",
		}

		encoded, err := EncodeQRPayload(payload)
		require.NoError(t, err)

		decoded, err := DecodeQRPayload(encoded)
		require.NoError(t, err)
		assert.Equal(t, payload, *decoded)
	})

	t.Run("rejects garbage", func(t *testing.T) {
		_, err := DecodeQRPayload("!!!not base64url!!!")
		assert.ErrorIs(t, err, ErrInvalidQRPayload)

		_, err = DecodeQRPayload("bm90LWpzb24")
		assert.ErrorIs(t, err, ErrInvalidQRPayload)
	})
}
