package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Known device platforms.
const (
	PlatformAndroid = "android"
	PlatformIOS     = "ios"
	PlatformDesktop = "desktop"
	PlatformWeb     = "web"
)

// Device is one member of a user's sync set. The push token is stored for the
// external push-delivery collaborator; this server never sends pushes itself.
type Device struct {
	ID         string    `json:"id"`
	UserID     string    `json:"userId"`
	Name       string    `json:"name"`
	Platform   string    `json:"platform"`
	PushToken  string    `json:"-"` // never exposed
	PairedAt   time.Time `json:"pairedAt"`
	LastSeenAt time.Time `json:"lastSeenAt"`
}

// DeviceResponse is the safe response format.
type DeviceResponse struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Platform   string    `json:"platform"`
	PairedAt   time.Time `json:"pairedAt"`
	LastSeenAt time.Time `json:"lastSeenAt"`
}

// UpdateDeviceRequest is the request body for renaming a device or rotating
// its push token.
type UpdateDeviceRequest struct {
	Name      string `json:"name,omitempty"`
	PushToken string `json:"pushToken,omitempty"`
}

// NormalizePlatform lowercases and validates a platform name. Unknown
// platforms are rejected so clients cannot invent ones the apps do not
// understand.
func NormalizePlatform(platform string) (string, error) {
	platform = strings.TrimSpace(strings.ToLower(platform))
	switch platform {
	case PlatformAndroid, PlatformIOS, PlatformDesktop, PlatformWeb:
		return platform, nil
	}
	return "", ErrInvalidPlatform
}

// NewDevice registers a device for a user.
func NewDevice(userID, name, platform string) (*Device, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrEmptyDeviceName
	}

	platform, err := NormalizePlatform(platform)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	return &Device{
		ID:         uuid.New().String(),
		UserID:     userID,
		Name:       name,
		Platform:   platform,
		PairedAt:   now,
		LastSeenAt: now,
	}, nil
}

// ToResponse converts Device to DeviceResponse (safe for API).
func (d *Device) ToResponse() DeviceResponse {
	return DeviceResponse{
		ID:         d.ID,
		Name:       d.Name,
		Platform:   d.Platform,
		PairedAt:   d.PairedAt,
		LastSeenAt: d.LastSeenAt,
	}
}

// Device errors
var (
	ErrEmptyDeviceName = DeviceError{"device name cannot be empty"}
	ErrInvalidPlatform = DeviceError{"platform must be one of android, ios, desktop, web"}
	ErrDeviceNotFound  = DeviceError{"device not found"}
)

type DeviceError struct {
	Message string
}

func (e DeviceError) Error() string {
	return e.Message
}
