package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncflow/server/internal/models"
	"github.com/syncflow/server/internal/repository"
)

const testSecret = "test-secret-that-is-long-enough-for-hs256"

func newTestTokenService(t *testing.T, accessTTL, refreshTTL time.Duration) *TokenService {
	t.Helper()
	db := newTestDB(t)
	return NewTokenService(testSecret, accessTTL, refreshTTL, repository.NewRevokedTokenRepository(db))
}

func TestTokenService_IssueAndVerify(t *testing.T) {
	ctx := context.Background()
	svc := newTestTokenService(t, time.Hour, 24*time.Hour)

	t.Run("round trips identity claims", func(t *testing.T) {
		pair, err := svc.Issue("user-1", "device-1", "", false)
		require.NoError(t, err)
		require.NotEmpty(t, pair.AccessToken)
		require.NotEmpty(t, pair.RefreshToken)

		claims, err := svc.Verify(ctx, pair.AccessToken, TokenTypeAccess)
		require.NoError(t, err)
		assert.Equal(t, "user-1", claims.Subject)
		assert.Equal(t, "device-1", claims.DeviceID)
		assert.Equal(t, "user-1", claims.EffectiveUserID())
		assert.False(t, claims.Admin)
	})

	t.Run("paired uid wins as effective identity", func(t *testing.T) {
		pair, err := svc.Issue("temp-user", "device-1", "real-user", false)
		require.NoError(t, err)

		claims, err := svc.Verify(ctx, pair.AccessToken, TokenTypeAccess)
		require.NoError(t, err)
		assert.Equal(t, "temp-user", claims.Subject)
		assert.Equal(t, "real-user", claims.EffectiveUserID())
	})

	t.Run("rejects a token of the wrong type", func(t *testing.T) {
		pair, err := svc.Issue("user-1", "device-1", "", false)
		require.NoError(t, err)

		_, err = svc.Verify(ctx, pair.RefreshToken, TokenTypeAccess)
		assert.ErrorIs(t, err, models.ErrInvalidToken)
		_, err = svc.Verify(ctx, pair.AccessToken, TokenTypeRefresh)
		assert.ErrorIs(t, err, models.ErrInvalidToken)
	})

	t.Run("rejects garbage", func(t *testing.T) {
		_, err := svc.Verify(ctx, "not-a-jwt", TokenTypeAccess)
		assert.ErrorIs(t, err, models.ErrInvalidToken)
	})

	t.Run("rejects a token signed with another secret", func(t *testing.T) {
		forged := NewTokenService("another-secret-entirely-also-long-enough", time.Hour, 24*time.Hour, nil)
		fpair, err := forged.Issue("user-1", "device-1", "", false)
		require.NoError(t, err)

		_, err = svc.Verify(ctx, fpair.AccessToken, TokenTypeAccess)
		assert.ErrorIs(t, err, models.ErrInvalidToken)
	})

	t.Run("rejects an expired token", func(t *testing.T) {
		short := newTestTokenService(t, time.Millisecond, 24*time.Hour)
		pair, err := short.Issue("user-1", "device-1", "", false)
		require.NoError(t, err)

		time.Sleep(20 * time.Millisecond)
		_, err = short.Verify(ctx, pair.AccessToken, TokenTypeAccess)
		assert.ErrorIs(t, err, models.ErrInvalidToken)
	})
}

func TestTokenService_Refresh(t *testing.T) {
	ctx := context.Background()
	svc := newTestTokenService(t, time.Hour, 24*time.Hour)

	t.Run("issues a fresh access token with same identity", func(t *testing.T) {
		pair, err := svc.Issue("user-1", "device-1", "paired-user", true)
		require.NoError(t, err)

		access, err := svc.Refresh(ctx, pair.RefreshToken)
		require.NoError(t, err)

		claims, err := svc.Verify(ctx, access, TokenTypeAccess)
		require.NoError(t, err)
		assert.Equal(t, "user-1", claims.Subject)
		assert.Equal(t, "device-1", claims.DeviceID)
		assert.Equal(t, "paired-user", claims.PairedUID)
		assert.True(t, claims.Admin)
	})

	t.Run("refuses an access token", func(t *testing.T) {
		pair, err := svc.Issue("user-1", "device-1", "", false)
		require.NoError(t, err)

		_, err = svc.Refresh(ctx, pair.AccessToken)
		assert.ErrorIs(t, err, models.ErrInvalidToken)
	})
}

func TestTokenService_Revoke(t *testing.T) {
	ctx := context.Background()
	svc := newTestTokenService(t, time.Hour, 24*time.Hour)

	t.Run("revoked refresh token stops working", func(t *testing.T) {
		pair, err := svc.Issue("user-1", "device-1", "", false)
		require.NoError(t, err)

		_, err = svc.Verify(ctx, pair.RefreshToken, TokenTypeRefresh)
		require.NoError(t, err)

		require.NoError(t, svc.Revoke(ctx, pair.RefreshToken))

		_, err = svc.Verify(ctx, pair.RefreshToken, TokenTypeRefresh)
		assert.ErrorIs(t, err, models.ErrInvalidToken)
		_, err = svc.Refresh(ctx, pair.RefreshToken)
		assert.ErrorIs(t, err, models.ErrInvalidToken)
	})

	t.Run("revocation does not touch the access token", func(t *testing.T) {
		pair, err := svc.Issue("user-2", "device-2", "", false)
		require.NoError(t, err)
		require.NoError(t, svc.Revoke(ctx, pair.RefreshToken))

		_, err = svc.Verify(ctx, pair.AccessToken, TokenTypeAccess)
		assert.NoError(t, err)
	})

	t.Run("revoking an invalid token is a no-op", func(t *testing.T) {
		assert.NoError(t, svc.Revoke(ctx, "garbage"))
	})
}
