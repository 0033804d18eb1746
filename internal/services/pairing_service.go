package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/syncflow/server/internal/models"
	"github.com/syncflow/server/internal/observability"
	"github.com/syncflow/server/internal/repository"
)

// PairingService orchestrates QR-based device introduction: a waiting device
// initiates and polls, an enrolled device scans and approves, the waiting
// device redeems the approval for real credentials. Every transition is a
// conditional update so racing callers cannot both win.
type PairingService struct {
	userRepo    repository.UserRepo
	deviceRepo  repository.DeviceRepo
	pairingRepo repository.PairingTokenRepo
	tokens      *TokenService
	hub         *Hub
	metrics     *observability.BusinessMetrics
	pairingTTL  time.Duration
	endpoint    string
	logger      *observability.Logger
}

// NewPairingService creates a new PairingService. endpoint is the public
// base URL embedded in QR payloads so the scanning phone knows where to
// send its approval.
func NewPairingService(
	userRepo repository.UserRepo,
	deviceRepo repository.DeviceRepo,
	pairingRepo repository.PairingTokenRepo,
	tokens *TokenService,
	hub *Hub,
	metrics *observability.BusinessMetrics,
	pairingTTL time.Duration,
	endpoint string,
) *PairingService {
	if pairingTTL <= 0 {
		pairingTTL = 10 * time.Minute
	}
	return &PairingService{
		userRepo:    userRepo,
		deviceRepo:  deviceRepo,
		pairingRepo: pairingRepo,
		tokens:      tokens,
		hub:         hub,
		metrics:     metrics,
		pairingTTL:  pairingTTL,
		endpoint:    endpoint,
		logger:      observability.GetLogger().WithField("component", "pairing"),
	}
}

// Initiate starts a pairing attempt for an unauthenticated device. It mints
// a temporary identity so the device can poll status and hold a WebSocket
// open while it waits; the identity is swept if pairing never completes.
// Repeated calls produce independent tokens that expire on their own clocks.
func (s *PairingService) Initiate(ctx context.Context, deviceName, deviceType string) (*models.InitiatePairingResponse, error) {
	deviceName = defaultDeviceName(deviceName)
	platform, err := normalizePlatform(deviceType)
	if err != nil {
		return nil, err
	}

	tempUser := models.NewTemporaryUser()
	if err := s.userRepo.Create(ctx, tempUser); err != nil {
		return nil, fmt.Errorf("failed to create temporary user: %w", err)
	}

	token, err := models.NewPairingToken(deviceName, platform, tempUser.ID, s.pairingTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to generate pairing token: %w", err)
	}
	if err := s.pairingRepo.Create(ctx, token); err != nil {
		return nil, fmt.Errorf("failed to store pairing token: %w", err)
	}

	tempDeviceID := uuid.New().String()
	pair, err := s.tokens.Issue(tempUser.ID, tempDeviceID, "", false)
	if err != nil {
		return nil, fmt.Errorf("failed to issue temporary credentials: %w", err)
	}

	qr, err := models.EncodeQRPayload(models.QRPayload{
		Token:      token.Token,
		DeviceName: deviceName,
		Platform:   platform,
		Endpoint:   s.endpoint,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode QR payload: %w", err)
	}

	if s.metrics != nil {
		s.metrics.RecordPairingAttempt(ctx, "initiate", true)
	}
	s.logger.WithField("pairing_id", token.ID).Info("Pairing initiated")

	return &models.InitiatePairingResponse{
		PairingToken: token.Token,
		QRPayload:    qr,
		DeviceID:     tempDeviceID,
		TempUserID:   tempUser.ID,
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	}, nil
}

// Status reports where a pairing attempt stands. Redeemed and swept tokens
// are indistinguishable from never-existing ones, so a stolen token stops
// revealing anything the moment it is used.
func (s *PairingService) Status(ctx context.Context, rawToken string) (*models.PairingStatusResponse, error) {
	token, err := s.pairingRepo.GetByTokenHash(ctx, models.HashPairingToken(rawToken))
	if err != nil {
		return nil, fmt.Errorf("failed to get pairing token: %w", err)
	}
	if token == nil {
		return nil, models.ErrPairingNotFound
	}

	status := token.EffectiveStatus()
	if status == models.PairingStatusRedeemed {
		return nil, models.ErrPairingNotFound
	}

	return &models.PairingStatusResponse{
		Status:     status,
		DeviceName: token.DeviceName,
		Approved:   status == models.PairingStatusApproved,
	}, nil
}

// Complete records the approver's decision. Approval binds the approver's
// account and a freshly minted device id to the token; the waiting device
// collects them via Redeem. Exactly one caller can resolve a token.
func (s *PairingService) Complete(ctx context.Context, approverUserID, rawToken string, approved bool) (*models.PairingStatusResponse, error) {
	approver, err := s.userRepo.GetByID(ctx, approverUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to get approver: %w", err)
	}
	if approver == nil || approver.IsTemporary {
		return nil, models.ErrUserNotFound
	}
	if !approver.IsActive {
		return nil, models.ErrUserDisabled
	}

	hash := models.HashPairingToken(rawToken)
	token, err := s.pairingRepo.GetByTokenHash(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("failed to get pairing token: %w", err)
	}
	if token == nil {
		return nil, models.ErrPairingNotFound
	}

	switch token.EffectiveStatus() {
	case models.PairingStatusPending:
	case models.PairingStatusExpired:
		return nil, models.ErrPairingExpired
	default:
		return nil, models.ErrPairingAlreadyResolved
	}

	var status models.PairingStatus
	if approved {
		device, err := models.NewDevice(approverUserID, token.DeviceName, token.Platform)
		if err != nil {
			return nil, err
		}

		won, err := s.pairingRepo.Approve(ctx, hash, approverUserID, device.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to approve pairing: %w", err)
		}
		if !won {
			if s.metrics != nil {
				s.metrics.RecordPairingAttempt(ctx, "complete", false)
			}
			return nil, s.resolveRace(ctx, hash)
		}

		if err := s.deviceRepo.Create(ctx, device); err != nil {
			return nil, fmt.Errorf("failed to register paired device: %w", err)
		}
		status = models.PairingStatusApproved
	} else {
		won, err := s.pairingRepo.Reject(ctx, hash)
		if err != nil {
			return nil, fmt.Errorf("failed to reject pairing: %w", err)
		}
		if !won {
			return nil, s.resolveRace(ctx, hash)
		}
		status = models.PairingStatusRejected
	}

	resp := &models.PairingStatusResponse{
		Status:     status,
		DeviceName: token.DeviceName,
		Approved:   approved,
	}

	// The waiting device usually polls, but if it holds a WebSocket open on
	// its temporary identity it hears the decision immediately.
	s.hub.SendToUser(token.TempUserID, WSMessage{Type: WSTypePairingUpdate, Data: resp})

	if s.metrics != nil {
		s.metrics.RecordPairingAttempt(ctx, "complete", approved)
	}
	s.logger.WithFields(map[string]interface{}{
		"pairing_id": token.ID,
		"status":     string(status),
	}).Info("Pairing resolved")

	return resp, nil
}

// resolveRace diagnoses why a conditional transition found no row to move.
func (s *PairingService) resolveRace(ctx context.Context, hash string) error {
	token, err := s.pairingRepo.GetByTokenHash(ctx, hash)
	if err != nil || token == nil {
		return models.ErrPairingNotFound
	}
	if token.EffectiveStatus() == models.PairingStatusExpired {
		return models.ErrPairingExpired
	}
	return models.ErrPairingAlreadyResolved
}

// Redeem exchanges an approved token for the device's permanent credentials.
// Single-use: the status flip to redeemed is atomic, and afterwards the
// token reads as not found. The subject of the issued tokens stays the
// temporary user id with the real account attached as the paired identity,
// so anything the device obtained before redeeming keeps working.
func (s *PairingService) Redeem(ctx context.Context, rawToken, deviceName string) (*models.AuthResponse, error) {
	hash := models.HashPairingToken(rawToken)
	token, err := s.pairingRepo.GetByTokenHash(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("failed to get pairing token: %w", err)
	}
	if token == nil {
		return nil, models.ErrPairingNotFound
	}

	switch token.EffectiveStatus() {
	case models.PairingStatusApproved:
	case models.PairingStatusPending:
		return nil, models.ErrPairingNotApproved
	case models.PairingStatusExpired:
		return nil, models.ErrPairingExpired
	case models.PairingStatusRedeemed:
		return nil, models.ErrPairingNotFound
	default:
		return nil, models.ErrPairingAlreadyResolved
	}

	won, err := s.pairingRepo.Redeem(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("failed to redeem pairing token: %w", err)
	}
	if !won {
		if s.metrics != nil {
			s.metrics.RecordPairingAttempt(ctx, "redeem", false)
		}
		// Lost to a concurrent redeem or to the claim window closing.
		fresh, ferr := s.pairingRepo.GetByTokenHash(ctx, hash)
		if ferr == nil && fresh != nil && fresh.Status != models.PairingStatusRedeemed {
			return nil, models.ErrPairingExpired
		}
		return nil, models.ErrPairingNotFound
	}

	if deviceName != "" {
		s.renameDevice(ctx, token.DeviceID, deviceName)
	}

	pair, err := s.tokens.Issue(token.TempUserID, token.DeviceID, token.UserID, false)
	if err != nil {
		return nil, fmt.Errorf("failed to issue credentials: %w", err)
	}

	// The placeholder identity now lives only inside the issued tokens; any
	// older temporary tokens die with the row.
	if _, err := s.userRepo.Delete(ctx, token.TempUserID); err != nil {
		s.logger.WithField("error", err.Error()).Warn("Failed to delete temporary user after redemption")
	}

	s.hub.SendToUser(token.UserID, WSMessage{
		Type: WSTypePairingUpdate,
		Data: models.PairingStatusResponse{
			Status:     models.PairingStatusRedeemed,
			DeviceName: token.DeviceName,
			Approved:   true,
		},
	})

	if s.metrics != nil {
		s.metrics.RecordPairingAttempt(ctx, "redeem", true)
	}
	s.logger.WithFields(map[string]interface{}{
		"pairing_id": token.ID,
		"device_id":  token.DeviceID,
	}).Info("Pairing redeemed")

	return &models.AuthResponse{
		UserID:       token.UserID,
		DeviceID:     token.DeviceID,
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	}, nil
}

func (s *PairingService) renameDevice(ctx context.Context, deviceID, name string) {
	device, err := s.deviceRepo.GetByID(ctx, deviceID)
	if err != nil || device == nil {
		return
	}
	device.Name = name
	if err := s.deviceRepo.Update(ctx, device); err != nil {
		s.logger.WithField("error", err.Error()).Warn("Failed to rename device at redemption")
	}
}

func defaultDeviceName(name string) string {
	if name == "" {
		return "New Device"
	}
	return name
}

func normalizePlatform(platform string) (string, error) {
	if platform == "" {
		return models.PlatformDesktop, nil
	}
	return models.NormalizePlatform(platform)
}
