package models

// AuthResponse is returned by anonymous auth and pairing redemption: a full
// identity for the device to store.
type AuthResponse struct {
	UserID       string `json:"userId"`
	DeviceID     string `json:"deviceId"`
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// AnonymousAuthRequest creates a first-device account.
type AnonymousAuthRequest struct {
	DeviceName string `json:"deviceName,omitempty"`
	DeviceType string `json:"deviceType,omitempty"`
	PushToken  string `json:"pushToken,omitempty"`
}

// RefreshRequest exchanges a refresh token for a new access token.
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// RefreshResponse carries the new access token.
type RefreshResponse struct {
	AccessToken string `json:"accessToken"`
}

// LogoutRequest revokes a refresh token.
type LogoutRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// HealthResponse is returned by the health endpoints. Services maps each
// dependency to "healthy" or "unhealthy".
type HealthResponse struct {
	Status   string            `json:"status"`
	Services map[string]string `json:"services"`
}

// MaintenanceResponse is served with 503 while maintenance mode is on.
type MaintenanceResponse struct {
	Maintenance bool   `json:"maintenance"`
	Message     string `json:"message"`
}

// SetMaintenanceRequest toggles maintenance mode (admin only).
type SetMaintenanceRequest struct {
	Enabled bool   `json:"enabled"`
	Message string `json:"message,omitempty"`
}

// AdminStatsResponse is a point-in-time operational snapshot.
type AdminStatsResponse struct {
	ConnectedClients int  `json:"connectedClients"`
	ConnectedUsers   int  `json:"connectedUsers"`
	Maintenance      bool `json:"maintenance"`
}

// ErrorResponse is returned on errors. Reason carries machine-readable
// detail where the taxonomy defines one (quota reasons, retryAfter).
type ErrorResponse struct {
	Error      string `json:"error"`
	Reason     string `json:"reason,omitempty"`
	RetryAfter int    `json:"retryAfter,omitempty"` // seconds
}

// Auth errors. Token verification failures are deliberately
// indistinguishable: malformed, expired, revoked and wrong-type all surface
// as the same 401 so probing reveals nothing.
var (
	ErrInvalidToken = AuthError{"invalid or expired token"}
)

type AuthError struct {
	Message string
}

func (e AuthError) Error() string {
	return e.Message
}
