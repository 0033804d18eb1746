package models

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// PairingStatus represents the state of a pairing token.
type PairingStatus string

const (
	PairingStatusPending  PairingStatus = "pending"
	PairingStatusApproved PairingStatus = "approved"
	PairingStatusRedeemed PairingStatus = "redeemed"
	PairingStatusRejected PairingStatus = "rejected"
	PairingStatusExpired  PairingStatus = "expired"
)

// PairingToken is the short-lived introduction between a new device and an
// approving device. The raw token only exists in the initiate response and
// the QR payload; the database holds its hash.
type PairingToken struct {
	ID          string        `json:"id"`
	Token       string        `json:"token,omitempty"` // raw, only set on creation
	TokenHash   string        `json:"-"`
	DeviceName  string        `json:"deviceName"`
	Platform    string        `json:"platform"`
	Status      PairingStatus `json:"status"`
	TempUserID  string        `json:"tempUserId"`
	UserID      string        `json:"userId,omitempty"`   // approver's account, set on approval
	DeviceID    string        `json:"deviceId,omitempty"` // real device id, set on approval
	CreatedAt   time.Time     `json:"createdAt"`
	ExpiresAt   time.Time     `json:"expiresAt"`
	RespondedAt *time.Time    `json:"respondedAt,omitempty"`
}

// RedeemDeadline bounds how long an approved token stays redeemable. After
// approval the waiting device has this window to claim its credentials.
const RedeemDeadline = 5 * time.Minute

// RedeemableUntil returns the instant the approval stops being claimable.
// Zero time when the token was never approved.
func (t *PairingToken) RedeemableUntil() time.Time {
	if t.RespondedAt == nil {
		return time.Time{}
	}
	return t.RespondedAt.Add(RedeemDeadline)
}

// NewPairingToken creates a pending token with a fresh 256-bit secret.
func NewPairingToken(deviceName, platform, tempUserID string, ttl time.Duration) (*PairingToken, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, err
	}
	token := base64.RawURLEncoding.EncodeToString(raw)

	now := time.Now().UTC()
	return &PairingToken{
		ID:         uuid.New().String(),
		Token:      token,
		TokenHash:  HashPairingToken(token),
		DeviceName: deviceName,
		Platform:   platform,
		Status:     PairingStatusPending,
		TempUserID: tempUserID,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
	}, nil
}

// HashPairingToken creates the SHA-256 hash stored at rest and used for
// lookups, so a database leak does not leak redeemable tokens.
func HashPairingToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// IsExpired checks the token against its TTL. Expired tokens are inert even
// before the sweep marks them.
func (t *PairingToken) IsExpired() bool {
	return time.Now().UTC().After(t.ExpiresAt)
}

// EffectiveStatus folds TTL expiry into the stored status so callers never
// act on a stale pending row. An approved token past its redeem window is
// reported expired even before the sweep touches it.
func (t *PairingToken) EffectiveStatus() PairingStatus {
	now := time.Now().UTC()
	switch {
	case t.Status == PairingStatusPending && t.IsExpired():
		return PairingStatusExpired
	case t.Status == PairingStatusApproved && now.After(t.RedeemableUntil()):
		return PairingStatusExpired
	}
	return t.Status
}

// QRPayload is the content encoded into the pairing QR code: everything the
// scanning phone needs to find the server and approve the request.
type QRPayload struct {
	Token      string `json:"token"`
	DeviceName string `json:"deviceName"`
	Platform   string `json:"platform"`
	Endpoint   string `json:"endpoint"`
}

// EncodeQRPayload renders the payload as base64url JSON for QR encoding.
func EncodeQRPayload(p QRPayload) (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// DecodeQRPayload parses a scanned QR payload.
func DecodeQRPayload(encoded string) (*QRPayload, error) {
	data, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, ErrInvalidQRPayload
	}
	var p QRPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, ErrInvalidQRPayload
	}
	return &p, nil
}

// Pairing request/response DTOs.

// InitiatePairingRequest is the request body for starting pairing.
type InitiatePairingRequest struct {
	DeviceName string `json:"deviceName"`
	DeviceType string `json:"deviceType"`
}

// InitiatePairingResponse is returned to the waiting device.
type InitiatePairingResponse struct {
	PairingToken string `json:"pairingToken"`
	QRPayload    string `json:"qrPayload"`
	DeviceID     string `json:"deviceId"`
	TempUserID   string `json:"tempUserId"`
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// PairingStatusResponse is returned when polling pairing status.
type PairingStatusResponse struct {
	Status     PairingStatus `json:"status"`
	DeviceName string        `json:"deviceName,omitempty"`
	Approved   bool          `json:"approved"`
}

// CompletePairingRequest is sent by the approving device.
type CompletePairingRequest struct {
	Token    string `json:"token"`
	Approved bool   `json:"approved"`
}

// RedeemPairingRequest exchanges an approved token for credentials.
type RedeemPairingRequest struct {
	Token      string `json:"token"`
	DeviceName string `json:"deviceName,omitempty"`
	DeviceType string `json:"deviceType,omitempty"`
}

// Pairing errors. All of these are terminal for the presented token; the
// client restarts from initiate rather than retrying.
var (
	ErrPairingNotFound        = PairingError{"pairing token not found"}
	ErrPairingExpired         = PairingError{"pairing token has expired"}
	ErrPairingAlreadyResolved = PairingError{"pairing token already used"}
	ErrPairingNotApproved     = PairingError{"pairing token has not been approved"}
	ErrInvalidQRPayload       = PairingError{"invalid QR payload"}
)

type PairingError struct {
	Message string
}

func (e PairingError) Error() string {
	return e.Message
}
