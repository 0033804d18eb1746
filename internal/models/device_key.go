package models

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strings"
	"time"
)

// DeviceKey is a device's registered public key. The server stores the
// public half only, as an opaque base64 string; private keys never leave the
// device. KeyID is a fingerprint of the key material so envelope recipients
// stay addressable across re-registration.
type DeviceKey struct {
	DeviceID  string    `json:"deviceId"`
	UserID    string    `json:"userId"`
	KeyID     string    `json:"keyId"`
	PublicKey string    `json:"publicKey"`
	CreatedAt time.Time `json:"createdAt"`
}

// SyncGroupKey is the shared keypair for a user's device set: public half in
// the clear, private half only ever stored wrapped under member device keys
// (the server cannot open it). Version increments on rotation.
type SyncGroupKey struct {
	UserID    string    `json:"userId"`
	KeyID     string    `json:"keyId"`
	PublicKey string    `json:"publicKey"`
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewDeviceKey validates and fingerprints a published public key.
func NewDeviceKey(userID, deviceID, publicKey string) (*DeviceKey, error) {
	publicKey = strings.TrimSpace(publicKey)
	raw, err := base64.StdEncoding.DecodeString(publicKey)
	if err != nil || len(raw) == 0 {
		return nil, ErrInvalidPublicKey
	}
	return &DeviceKey{
		DeviceID:  deviceID,
		UserID:    userID,
		KeyID:     KeyFingerprint(raw),
		PublicKey: publicKey,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// KeyFingerprint derives the stable key id for raw public key bytes.
func KeyFingerprint(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:8])
}

// PublishKeyRequest registers a device public key.
type PublishKeyRequest struct {
	PublicKey string `json:"publicKey"`
}

// KeySyncRequestEvent asks the user's other devices to share the sync-group
// private key with the requesting device.
type KeySyncRequestEvent struct {
	RequesterDeviceID  string `json:"requesterDeviceId"`
	RequesterKeyID     string `json:"requesterKeyId"`
	RequesterPublicKey string `json:"requesterPublicKey"`
}

// KeySyncResponse carries the sync-group keypair wrapped under the
// requester's public key, posted by an already-enrolled device. Held until
// the requester claims it, then discarded.
type KeySyncResponse struct {
	UserID            string    `json:"-"`
	RequesterDeviceID string    `json:"requesterDeviceId"`
	ResponderDeviceID string    `json:"responderDeviceId"`
	GroupKeyID        string    `json:"groupKeyId"`
	WrappedGroupKey   string    `json:"wrappedGroupKey"`
	CreatedAt         time.Time `json:"createdAt"`
}

// CreateSyncGroupRequest registers the sync-group public key, created
// client-side by the first enrolled device.
type CreateSyncGroupRequest struct {
	PublicKey string `json:"publicKey"`
}

// Key exchange errors
var (
	ErrInvalidPublicKey = KeyExchangeError{"public key must be non-empty base64"}
	ErrKeyNotFound      = KeyExchangeError{"no public key registered for device"}
	ErrNoSyncGroup      = KeyExchangeError{"no sync group established for user"}
	ErrKeySyncTimeout   = KeyExchangeError{"no device responded to the key sync request"}
)

type KeyExchangeError struct {
	Message string
}

func (e KeyExchangeError) Error() string {
	return e.Message
}
