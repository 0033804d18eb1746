package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/syncflow/server/internal/models"
	"github.com/syncflow/server/internal/observability"
	"github.com/syncflow/server/internal/repository"
)

// lastSeenInterval bounds how often a device's heartbeat hits the database.
const lastSeenInterval = time.Minute

// DeviceService manages a user's device set. Unpairing is the destructive
// path: it severs the device's live connections, drops its published key and
// cursors, and tells the remaining devices to forget it.
type DeviceService struct {
	deviceRepo    repository.DeviceRepo
	deviceKeyRepo repository.DeviceKeyRepo
	cursorRepo    repository.SyncCursorRepo
	hub           *Hub
	logger        *observability.Logger

	touchMu sync.Mutex
	touched map[string]time.Time
}

// NewDeviceService creates a new DeviceService
func NewDeviceService(
	deviceRepo repository.DeviceRepo,
	deviceKeyRepo repository.DeviceKeyRepo,
	cursorRepo repository.SyncCursorRepo,
	hub *Hub,
) *DeviceService {
	return &DeviceService{
		deviceRepo:    deviceRepo,
		deviceKeyRepo: deviceKeyRepo,
		cursorRepo:    cursorRepo,
		hub:           hub,
		logger:        observability.GetLogger().WithField("component", "devices"),
		touched:       make(map[string]time.Time),
	}
}

// List returns the user's devices, most recently seen first.
func (s *DeviceService) List(ctx context.Context, userID string) ([]*models.Device, error) {
	return s.deviceRepo.GetAllForUser(ctx, userID)
}

// Get returns one device. Devices belonging to other users read as not
// found.
func (s *DeviceService) Get(ctx context.Context, userID, deviceID string) (*models.Device, error) {
	device, err := s.deviceRepo.GetByID(ctx, deviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to get device: %w", err)
	}
	if device == nil || device.UserID != userID {
		return nil, models.ErrDeviceNotFound
	}
	return device, nil
}

// Update renames a device and/or rotates its push token.
func (s *DeviceService) Update(ctx context.Context, userID, deviceID, name, pushToken string) (*models.Device, error) {
	device, err := s.Get(ctx, userID, deviceID)
	if err != nil {
		return nil, err
	}

	if name != "" {
		device.Name = name
	}
	if pushToken != "" {
		device.PushToken = pushToken
	}
	device.LastSeenAt = time.Now().UTC()

	if err := s.deviceRepo.Update(ctx, device); err != nil {
		return nil, fmt.Errorf("failed to update device: %w", err)
	}
	return device, nil
}

// Unpair removes a device from the account. The removed device's connections
// are closed after the broadcast so the remaining devices always hear about
// the removal.
func (s *DeviceService) Unpair(ctx context.Context, userID, deviceID string) error {
	device, err := s.Get(ctx, userID, deviceID)
	if err != nil {
		return err
	}

	found, err := s.deviceRepo.Delete(ctx, device.ID)
	if err != nil {
		return fmt.Errorf("failed to delete device: %w", err)
	}
	if !found {
		return models.ErrDeviceNotFound
	}

	// Derived state. Failures here leave only orphans the janitor can live
	// with, so they log rather than fail the unpair.
	if err := s.deviceKeyRepo.DeleteByDeviceID(ctx, device.ID); err != nil {
		s.logger.WithField("error", err.Error()).Warn("Failed to delete device key on unpair")
	}
	if err := s.cursorRepo.DeleteForDevice(ctx, userID, device.ID); err != nil {
		s.logger.WithField("error", err.Error()).Warn("Failed to delete cursors on unpair")
	}

	s.hub.BroadcastToUser(userID, ChannelDevices, device.ID, WSMessage{
		Type:    WSTypeDeviceRemoved,
		Channel: ChannelDevices,
		Data:    map[string]string{"deviceId": device.ID},
	})
	s.hub.DisconnectDevice(device.ID)

	s.logger.WithFields(map[string]interface{}{
		"user_id":   userID,
		"device_id": device.ID,
	}).Info("Device unpaired")
	return nil
}

// Touch records device liveness, at most once per interval per device.
// Called from the auth middleware on every authenticated request.
func (s *DeviceService) Touch(ctx context.Context, deviceID string) {
	if deviceID == "" {
		return
	}

	now := time.Now()
	s.touchMu.Lock()
	if last, ok := s.touched[deviceID]; ok && now.Sub(last) < lastSeenInterval {
		s.touchMu.Unlock()
		return
	}
	s.touched[deviceID] = now
	if len(s.touched) > 10000 {
		for id, last := range s.touched {
			if now.Sub(last) >= lastSeenInterval {
				delete(s.touched, id)
			}
		}
	}
	s.touchMu.Unlock()

	if err := s.deviceRepo.UpdateLastSeen(ctx, deviceID); err != nil {
		s.logger.WithField("error", err.Error()).Debug("Failed to update device last seen")
	}
}
