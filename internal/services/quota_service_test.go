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

func newQuotaFixture(t *testing.T, limits QuotaLimits) (*QuotaService, repository.UserRepo) {
	t.Helper()
	db := newTestDB(t)
	userRepo := repository.NewUserRepository(db)
	return NewQuotaService(repository.NewUsageRepository(db), userRepo, limits), userRepo
}

func createUser(t *testing.T, repo repository.UserRepo) *models.User {
	t.Helper()
	user := models.NewUser()
	require.NoError(t, repo.Create(context.Background(), user))
	return user
}

func TestQuotaService_IsUploadAllowed(t *testing.T) {
	ctx := context.Background()

	t.Run("a fresh trial user is admitted", func(t *testing.T) {
		svc, users := newQuotaFixture(t, QuotaLimits{})
		user := createUser(t, users)

		decision, err := svc.IsUploadAllowed(ctx, user.ID, 1024)
		require.NoError(t, err)
		assert.True(t, decision.Allowed)
		assert.Empty(t, decision.Reason)
	})

	t.Run("an expired trial denies before anything else", func(t *testing.T) {
		svc, users := newQuotaFixture(t, QuotaLimits{TrialDuration: time.Hour})
		user := models.NewUser()
		past := time.Now().UTC().Add(-2 * time.Hour)
		user.TrialStartedAt = &past
		require.NoError(t, users.Create(ctx, user))

		decision, err := svc.IsUploadAllowed(ctx, user.ID, 1)
		require.NoError(t, err)
		assert.False(t, decision.Allowed)
		assert.Equal(t, models.QuotaReasonTrialExpired, decision.Reason)
	})

	t.Run("the monthly upload cap denies once exceeded", func(t *testing.T) {
		svc, users := newQuotaFixture(t, QuotaLimits{MonthlyUploadBytes: 100, StorageBytes: 1 << 20})
		user := createUser(t, users)

		require.NoError(t, svc.RecordUpload(ctx, user.ID, 90))

		decision, err := svc.IsUploadAllowed(ctx, user.ID, 10)
		require.NoError(t, err)
		assert.True(t, decision.Allowed)

		decision, err = svc.IsUploadAllowed(ctx, user.ID, 11)
		require.NoError(t, err)
		assert.False(t, decision.Allowed)
		assert.Equal(t, models.QuotaReasonMonthlyLimit, decision.Reason)
	})

	t.Run("the storage cap denies when the monthly cap still has room", func(t *testing.T) {
		svc, users := newQuotaFixture(t, QuotaLimits{MonthlyUploadBytes: 1 << 20, StorageBytes: 100})
		user := createUser(t, users)

		require.NoError(t, svc.RecordUpload(ctx, user.ID, 90))

		decision, err := svc.IsUploadAllowed(ctx, user.ID, 20)
		require.NoError(t, err)
		assert.False(t, decision.Allowed)
		assert.Equal(t, models.QuotaReasonStorageLimit, decision.Reason)
	})

	t.Run("an unknown user is an error, not a denial", func(t *testing.T) {
		svc, _ := newQuotaFixture(t, QuotaLimits{})
		_, err := svc.IsUploadAllowed(ctx, "no-such-user", 1)
		assert.ErrorIs(t, err, models.ErrUserNotFound)
	})
}

func TestQuotaService_RecordUpload(t *testing.T) {
	ctx := context.Background()

	t.Run("accepted bytes accumulate across submits", func(t *testing.T) {
		svc, users := newQuotaFixture(t, QuotaLimits{})
		user := createUser(t, users)

		require.NoError(t, svc.RecordUpload(ctx, user.ID, 100))
		require.NoError(t, svc.RecordUpload(ctx, user.ID, 250))

		usage, err := svc.Usage(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(350), usage.UploadBytes)
		assert.Equal(t, int64(350), usage.StorageBytes)
	})

	t.Run("zero and negative sizes are no-ops", func(t *testing.T) {
		svc, users := newQuotaFixture(t, QuotaLimits{})
		user := createUser(t, users)

		require.NoError(t, svc.RecordUpload(ctx, user.ID, 0))
		require.NoError(t, svc.RecordUpload(ctx, user.ID, -5))

		usage, err := svc.Usage(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(0), usage.UploadBytes)
	})
}

func TestQuotaService_Usage(t *testing.T) {
	ctx := context.Background()

	t.Run("reports counters alongside plan limits", func(t *testing.T) {
		svc, users := newQuotaFixture(t, QuotaLimits{
			MonthlyUploadBytes: 1 << 20,
			StorageBytes:       1 << 22,
			TrialDuration:      48 * time.Hour,
		})
		user := createUser(t, users)
		require.NoError(t, svc.RecordUpload(ctx, user.ID, 512))

		usage, err := svc.Usage(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, models.PlanTrial, usage.Plan)
		assert.Equal(t, models.CurrentPeriodKey(), usage.PeriodKey)
		assert.Equal(t, int64(512), usage.UploadBytes)
		assert.Equal(t, int64(1<<20), usage.MonthlyLimit)
		assert.Equal(t, int64(1<<22), usage.StorageLimit)
		require.NotNil(t, usage.TrialEndsAt)
		assert.WithinDuration(t, user.TrialStartedAt.Add(48*time.Hour), *usage.TrialEndsAt, time.Second)
	})

	t.Run("a user with no usage rows reads as zero", func(t *testing.T) {
		svc, users := newQuotaFixture(t, QuotaLimits{})
		user := createUser(t, users)

		usage, err := svc.Usage(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(0), usage.UploadBytes)
		assert.Equal(t, int64(0), usage.StorageBytes)
	})

	t.Run("unknown users report not found", func(t *testing.T) {
		svc, _ := newQuotaFixture(t, QuotaLimits{})
		_, err := svc.Usage(ctx, "no-such-user")
		assert.ErrorIs(t, err, models.ErrUserNotFound)
	})
}

func TestQuotaService_Reset(t *testing.T) {
	ctx := context.Background()

	t.Run("zeroes the current period", func(t *testing.T) {
		svc, users := newQuotaFixture(t, QuotaLimits{})
		user := createUser(t, users)
		require.NoError(t, svc.RecordUpload(ctx, user.ID, 999))

		require.NoError(t, svc.Reset(ctx, user.ID))

		usage, err := svc.Usage(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(0), usage.UploadBytes)
		assert.Equal(t, int64(0), usage.StorageBytes)
	})
}
