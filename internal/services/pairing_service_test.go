package services

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncflow/server/internal/models"
	"github.com/syncflow/server/internal/repository"
)

type pairingFixture struct {
	svc        *PairingService
	tokens     *TokenService
	userRepo   repository.UserRepo
	deviceRepo repository.DeviceRepo
	approver   *models.User
}

func newPairingFixture(t *testing.T, ttl time.Duration) *pairingFixture {
	t.Helper()
	db := newTestDB(t)
	return newPairingFixtureWithDB(t, db, ttl)
}

func newPairingFixtureWithDB(t *testing.T, db *sql.DB, ttl time.Duration) *pairingFixture {
	t.Helper()
	userRepo := repository.NewUserRepository(db)
	deviceRepo := repository.NewDeviceRepository(db)
	pairingRepo := repository.NewPairingTokenRepository(db)
	tokens := NewTokenService(testSecret, time.Hour, 24*time.Hour, repository.NewRevokedTokenRepository(db))

	approver := models.NewUser()
	require.NoError(t, userRepo.Create(context.Background(), approver))

	svc := NewPairingService(userRepo, deviceRepo, pairingRepo, tokens, newTestHub(), nil, ttl, "https://sync.example")
	return &pairingFixture{
		svc:        svc,
		tokens:     tokens,
		userRepo:   userRepo,
		deviceRepo: deviceRepo,
		approver:   approver,
	}
}

func TestPairingService_Initiate(t *testing.T) {
	ctx := context.Background()
	f := newPairingFixture(t, 10*time.Minute)

	t.Run("returns token, QR payload and temporary credentials", func(t *testing.T) {
		resp, err := f.svc.Initiate(ctx, "Laptop", "desktop")
		require.NoError(t, err)
		assert.NotEmpty(t, resp.PairingToken)
		assert.NotEmpty(t, resp.DeviceID)
		assert.NotEmpty(t, resp.AccessToken)

		payload, err := models.DecodeQRPayload(resp.QRPayload)
		require.NoError(t, err)
		assert.Equal(t, resp.PairingToken, payload.Token)
		assert.Equal(t, "Laptop", payload.DeviceName)
		assert.Equal(t, "https://sync.example", payload.Endpoint)

		claims, err := f.tokens.Verify(ctx, resp.AccessToken, TokenTypeAccess)
		require.NoError(t, err)
		assert.Equal(t, resp.TempUserID, claims.EffectiveUserID())
	})

	t.Run("repeated initiations are independent", func(t *testing.T) {
		a, err := f.svc.Initiate(ctx, "Laptop", "desktop")
		require.NoError(t, err)
		b, err := f.svc.Initiate(ctx, "Laptop", "desktop")
		require.NoError(t, err)
		assert.NotEqual(t, a.PairingToken, b.PairingToken)
		assert.NotEqual(t, a.TempUserID, b.TempUserID)

		// Both still poll as pending.
		sa, err := f.svc.Status(ctx, a.PairingToken)
		require.NoError(t, err)
		sb, err := f.svc.Status(ctx, b.PairingToken)
		require.NoError(t, err)
		assert.Equal(t, models.PairingStatusPending, sa.Status)
		assert.Equal(t, models.PairingStatusPending, sb.Status)
	})

	t.Run("rejects unknown platforms", func(t *testing.T) {
		_, err := f.svc.Initiate(ctx, "Thing", "toaster")
		assert.Error(t, err)
	})
}

func TestPairingService_CompleteAndRedeem(t *testing.T) {
	ctx := context.Background()

	t.Run("full approve and redeem flow", func(t *testing.T) {
		f := newPairingFixture(t, 10*time.Minute)
		initiated, err := f.svc.Initiate(ctx, "Laptop", "desktop")
		require.NoError(t, err)

		status, err := f.svc.Complete(ctx, f.approver.ID, initiated.PairingToken, true)
		require.NoError(t, err)
		assert.Equal(t, models.PairingStatusApproved, status.Status)
		assert.True(t, status.Approved)

		polled, err := f.svc.Status(ctx, initiated.PairingToken)
		require.NoError(t, err)
		assert.True(t, polled.Approved)

		auth, err := f.svc.Redeem(ctx, initiated.PairingToken, "Work Laptop")
		require.NoError(t, err)
		assert.Equal(t, f.approver.ID, auth.UserID)
		assert.NotEmpty(t, auth.DeviceID)

		// Credentials resolve to the approver's account.
		claims, err := f.tokens.Verify(ctx, auth.AccessToken, TokenTypeAccess)
		require.NoError(t, err)
		assert.Equal(t, f.approver.ID, claims.EffectiveUserID())

		// The device was registered under the redeemed name.
		device, err := f.deviceRepo.GetByID(ctx, auth.DeviceID)
		require.NoError(t, err)
		require.NotNil(t, device)
		assert.Equal(t, f.approver.ID, device.UserID)
		assert.Equal(t, "Work Laptop", device.Name)

		// The temporary identity is gone.
		temp, err := f.userRepo.GetByID(ctx, initiated.TempUserID)
		require.NoError(t, err)
		assert.Nil(t, temp)
	})

	t.Run("redeem is single use", func(t *testing.T) {
		f := newPairingFixture(t, 10*time.Minute)
		initiated, err := f.svc.Initiate(ctx, "Laptop", "desktop")
		require.NoError(t, err)
		_, err = f.svc.Complete(ctx, f.approver.ID, initiated.PairingToken, true)
		require.NoError(t, err)

		_, err = f.svc.Redeem(ctx, initiated.PairingToken, "")
		require.NoError(t, err)

		_, err = f.svc.Redeem(ctx, initiated.PairingToken, "")
		assert.ErrorIs(t, err, models.ErrPairingNotFound)

		// A redeemed token polls as not found too.
		_, err = f.svc.Status(ctx, initiated.PairingToken)
		assert.ErrorIs(t, err, models.ErrPairingNotFound)
	})

	t.Run("redeem before approval is refused", func(t *testing.T) {
		f := newPairingFixture(t, 10*time.Minute)
		initiated, err := f.svc.Initiate(ctx, "Laptop", "desktop")
		require.NoError(t, err)

		_, err = f.svc.Redeem(ctx, initiated.PairingToken, "")
		assert.ErrorIs(t, err, models.ErrPairingNotApproved)
	})

	t.Run("rejection resolves the token", func(t *testing.T) {
		f := newPairingFixture(t, 10*time.Minute)
		initiated, err := f.svc.Initiate(ctx, "Laptop", "desktop")
		require.NoError(t, err)

		status, err := f.svc.Complete(ctx, f.approver.ID, initiated.PairingToken, false)
		require.NoError(t, err)
		assert.Equal(t, models.PairingStatusRejected, status.Status)

		_, err = f.svc.Complete(ctx, f.approver.ID, initiated.PairingToken, true)
		assert.ErrorIs(t, err, models.ErrPairingAlreadyResolved)
		_, err = f.svc.Redeem(ctx, initiated.PairingToken, "")
		assert.ErrorIs(t, err, models.ErrPairingAlreadyResolved)
	})

	t.Run("second approval loses the race", func(t *testing.T) {
		f := newPairingFixture(t, 10*time.Minute)
		initiated, err := f.svc.Initiate(ctx, "Laptop", "desktop")
		require.NoError(t, err)

		_, err = f.svc.Complete(ctx, f.approver.ID, initiated.PairingToken, true)
		require.NoError(t, err)
		_, err = f.svc.Complete(ctx, f.approver.ID, initiated.PairingToken, true)
		assert.ErrorIs(t, err, models.ErrPairingAlreadyResolved)
	})

	t.Run("expired token cannot be completed", func(t *testing.T) {
		f := newPairingFixture(t, time.Millisecond)
		initiated, err := f.svc.Initiate(ctx, "Laptop", "desktop")
		require.NoError(t, err)

		time.Sleep(20 * time.Millisecond)

		polled, err := f.svc.Status(ctx, initiated.PairingToken)
		require.NoError(t, err)
		assert.Equal(t, models.PairingStatusExpired, polled.Status)

		_, err = f.svc.Complete(ctx, f.approver.ID, initiated.PairingToken, true)
		assert.ErrorIs(t, err, models.ErrPairingExpired)
		_, err = f.svc.Redeem(ctx, initiated.PairingToken, "")
		assert.ErrorIs(t, err, models.ErrPairingExpired)
	})

	t.Run("temporary users cannot approve", func(t *testing.T) {
		f := newPairingFixture(t, 10*time.Minute)
		initiated, err := f.svc.Initiate(ctx, "Laptop", "desktop")
		require.NoError(t, err)

		temp := models.NewTemporaryUser()
		require.NoError(t, f.userRepo.Create(ctx, temp))

		_, err = f.svc.Complete(ctx, temp.ID, initiated.PairingToken, true)
		assert.ErrorIs(t, err, models.ErrUserNotFound)
	})

	t.Run("unknown token reads as not found", func(t *testing.T) {
		f := newPairingFixture(t, 10*time.Minute)
		_, err := f.svc.Status(ctx, "does-not-exist")
		assert.ErrorIs(t, err, models.ErrPairingNotFound)
		_, err = f.svc.Redeem(ctx, "does-not-exist", "")
		assert.ErrorIs(t, err, models.ErrPairingNotFound)
	})
}
