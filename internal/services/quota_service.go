package services

import (
	"context"
	"fmt"
	"time"

	"github.com/syncflow/server/internal/models"
	"github.com/syncflow/server/internal/observability"
	"github.com/syncflow/server/internal/repository"
)

// QuotaLimits are the per-plan accounting ceilings.
type QuotaLimits struct {
	MonthlyUploadBytes int64
	StorageBytes       int64
	TrialDuration      time.Duration
}

// QuotaService gates uploads against the user's plan: trial expiry first,
// then the monthly upload cap, then total storage. Unlike rate limiting this
// is billing adjacent, so uncertainty denies: a database error during the
// check refuses the upload rather than waving it through.
type QuotaService struct {
	usageRepo repository.UsageRepo
	userRepo  repository.UserRepo
	limits    QuotaLimits
	logger    *observability.Logger
}

// NewQuotaService creates a new QuotaService
func NewQuotaService(usageRepo repository.UsageRepo, userRepo repository.UserRepo, limits QuotaLimits) *QuotaService {
	if limits.MonthlyUploadBytes <= 0 {
		limits.MonthlyUploadBytes = 1 << 30
	}
	if limits.StorageBytes <= 0 {
		limits.StorageBytes = 5 << 30
	}
	if limits.TrialDuration <= 0 {
		limits.TrialDuration = 14 * 24 * time.Hour
	}
	return &QuotaService{
		usageRepo: usageRepo,
		userRepo:  userRepo,
		limits:    limits,
		logger:    observability.GetLogger().WithField("component", "quota"),
	}
}

// IsUploadAllowed checks whether an upload of the given size would be
// admitted right now. Checks run in a fixed order and the first violation
// wins, so clients always see the most fundamental problem first.
func (s *QuotaService) IsUploadAllowed(ctx context.Context, userID string, bytes int64) (*models.QuotaDecision, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user for quota check: %w", err)
	}
	if user == nil {
		return nil, models.ErrUserNotFound
	}

	if user.TrialExpired(s.limits.TrialDuration) {
		return &models.QuotaDecision{Reason: models.QuotaReasonTrialExpired}, nil
	}

	record, err := s.usageRepo.GetByPeriod(ctx, userID, models.CurrentPeriodKey())
	if err != nil {
		return nil, fmt.Errorf("failed to get usage record: %w", err)
	}

	var uploaded, stored int64
	if record != nil {
		uploaded = record.UploadBytes
		stored = record.StorageBytes
	} else {
		// No row this period yet; storage carries over from the last one.
		latest, err := s.usageRepo.GetLatest(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to get usage record: %w", err)
		}
		if latest != nil {
			stored = latest.StorageBytes
		}
	}

	if uploaded+bytes > s.limits.MonthlyUploadBytes {
		return &models.QuotaDecision{Reason: models.QuotaReasonMonthlyLimit}, nil
	}
	if stored+bytes > s.limits.StorageBytes {
		return &models.QuotaDecision{Reason: models.QuotaReasonStorageLimit}, nil
	}
	return &models.QuotaDecision{Allowed: true}, nil
}

// RecordUpload accounts accepted bytes. Callers invoke this only after the
// corresponding write committed, never speculatively; the increment is
// atomic at the store so concurrent submits cannot lose updates.
func (s *QuotaService) RecordUpload(ctx context.Context, userID string, bytes int64) error {
	if bytes <= 0 {
		return nil
	}
	if err := s.usageRepo.Increment(ctx, userID, models.CurrentPeriodKey(), bytes); err != nil {
		return fmt.Errorf("failed to record upload: %w", err)
	}
	return nil
}

// Usage reports the user's current counters alongside the plan limits.
func (s *QuotaService) Usage(ctx context.Context, userID string) (*models.UsageResponse, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if user == nil {
		return nil, models.ErrUserNotFound
	}

	periodKey := models.CurrentPeriodKey()
	record, err := s.usageRepo.GetByPeriod(ctx, userID, periodKey)
	if err != nil {
		return nil, fmt.Errorf("failed to get usage record: %w", err)
	}
	if record == nil {
		latest, err := s.usageRepo.GetLatest(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to get usage record: %w", err)
		}
		record = &models.UsageRecord{UserID: userID, PeriodKey: periodKey}
		if latest != nil {
			record.StorageBytes = latest.StorageBytes
		}
	}

	resp := &models.UsageResponse{
		Plan:           user.Plan,
		PeriodKey:      periodKey,
		UploadBytes:    record.UploadBytes,
		StorageBytes:   record.StorageBytes,
		MonthlyLimit:   s.limits.MonthlyUploadBytes,
		StorageLimit:   s.limits.StorageBytes,
		TrialStartedAt: user.TrialStartedAt,
	}
	if user.Plan == models.PlanTrial && user.TrialStartedAt != nil {
		ends := user.TrialStartedAt.Add(s.limits.TrialDuration)
		resp.TrialEndsAt = &ends
	}
	return resp, nil
}

// Reset zeroes the current period's counters for a user. Admin only; used
// after billing disputes or plan changes.
func (s *QuotaService) Reset(ctx context.Context, userID string) error {
	if err := s.usageRepo.Reset(ctx, userID, models.CurrentPeriodKey()); err != nil {
		return fmt.Errorf("failed to reset usage: %w", err)
	}
	s.logger.WithField("user_id", userID).Info("Usage counters reset")
	return nil
}
