package services

import (
	"context"
	"fmt"

	"github.com/syncflow/server/internal/models"
	"github.com/syncflow/server/internal/observability"
	"github.com/syncflow/server/internal/repository"
)

// AuthService handles the first-device flow: a phone with nothing to pair
// against creates its own account anonymously. Subsequent devices join that
// account through pairing instead.
type AuthService struct {
	userRepo   repository.UserRepo
	deviceRepo repository.DeviceRepo
	tokens     *TokenService
	metrics    *observability.BusinessMetrics
	logger     *observability.Logger
}

// NewAuthService creates a new AuthService
func NewAuthService(userRepo repository.UserRepo, deviceRepo repository.DeviceRepo, tokens *TokenService, metrics *observability.BusinessMetrics) *AuthService {
	return &AuthService{
		userRepo:   userRepo,
		deviceRepo: deviceRepo,
		tokens:     tokens,
		metrics:    metrics,
		logger:     observability.GetLogger().WithField("component", "auth"),
	}
}

// Anonymous creates a fresh account with one registered device and returns
// its credentials. No identifying information is required; the returned ids
// are the device's whole identity.
func (s *AuthService) Anonymous(ctx context.Context, deviceName, deviceType, pushToken string) (*models.AuthResponse, error) {
	user := models.NewUser()
	if err := s.userRepo.Create(ctx, user); err != nil {
		if s.metrics != nil {
			s.metrics.RecordAuthAttempt(ctx, "anonymous", false)
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	if deviceType == "" {
		deviceType = models.PlatformAndroid
	}
	device, err := models.NewDevice(user.ID, defaultDeviceName(deviceName), deviceType)
	if err != nil {
		return nil, err
	}
	device.PushToken = pushToken
	if err := s.deviceRepo.Create(ctx, device); err != nil {
		return nil, fmt.Errorf("failed to register device: %w", err)
	}

	pair, err := s.tokens.Issue(user.ID, device.ID, "", false)
	if err != nil {
		return nil, fmt.Errorf("failed to issue credentials: %w", err)
	}

	if s.metrics != nil {
		s.metrics.RecordAuthAttempt(ctx, "anonymous", true)
	}
	s.logger.WithFields(map[string]interface{}{
		"user_id":   user.ID,
		"device_id": device.ID,
	}).Info("Anonymous account created")

	return &models.AuthResponse{
		UserID:       user.ID,
		DeviceID:     device.ID,
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	}, nil
}

// Refresh exchanges a refresh token for a new access token.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*models.RefreshResponse, error) {
	access, err := s.tokens.Refresh(ctx, refreshToken)
	if err != nil {
		if s.metrics != nil {
			s.metrics.RecordAuthAttempt(ctx, "refresh", false)
		}
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.RecordAuthAttempt(ctx, "refresh", true)
	}
	return &models.RefreshResponse{AccessToken: access}, nil
}

// Logout revokes a refresh token. Idempotent; revoking garbage succeeds.
func (s *AuthService) Logout(ctx context.Context, refreshToken string) error {
	return s.tokens.Revoke(ctx, refreshToken)
}
