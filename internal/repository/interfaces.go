package repository

import (
	"context"
	"time"

	"github.com/syncflow/server/internal/models"
)

// UserRepo defines the interface for user persistence operations
type UserRepo interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
	Update(ctx context.Context, user *models.User) error
	Delete(ctx context.Context, id string) (bool, error)
	GetCount(ctx context.Context) (int, error)
	DeleteTemporaryBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// DeviceRepo defines the interface for device persistence operations
type DeviceRepo interface {
	GetByID(ctx context.Context, id string) (*models.Device, error)
	GetAllForUser(ctx context.Context, userID string) ([]*models.Device, error)
	Create(ctx context.Context, device *models.Device) error
	Update(ctx context.Context, device *models.Device) error
	UpdateLastSeen(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) (bool, error)
	GetCount(ctx context.Context) (int, error)
}

// PairingTokenRepo defines the interface for pairing token persistence.
// The conditional transition methods are the concurrency guard: each returns
// whether the row actually moved, so two racing callers cannot both win.
type PairingTokenRepo interface {
	Create(ctx context.Context, token *models.PairingToken) error
	GetByID(ctx context.Context, id string) (*models.PairingToken, error)
	GetByTokenHash(ctx context.Context, tokenHash string) (*models.PairingToken, error)
	Approve(ctx context.Context, tokenHash, userID, deviceID string) (bool, error)
	Reject(ctx context.Context, tokenHash string) (bool, error)
	Redeem(ctx context.Context, tokenHash string) (bool, error)
	ExpireStale(ctx context.Context, now time.Time) (int64, error)
	DeleteResolvedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// UpsertOutcome classifies what a last-writer-wins upsert did. The outcome
// drives which realtime event the change fans out as.
type UpsertOutcome int

const (
	UpsertSkipped UpsertOutcome = iota
	UpsertInserted
	UpsertReplaced
)

// Applied reports whether the write changed stored state.
func (o UpsertOutcome) Applied() bool {
	return o != UpsertSkipped
}

// MessageRepo defines the interface for message persistence operations
type MessageRepo interface {
	GetByID(ctx context.Context, userID, id string) (*models.Message, error)
	Upsert(ctx context.Context, msg *models.Message) (UpsertOutcome, error)
	ListSince(ctx context.Context, userID string, cursor int64, limit int) ([]*models.Message, error)
	ListNewest(ctx context.Context, userID string, limit int) ([]*models.Message, error)
	ListBefore(ctx context.Context, userID string, before int64, limit int) ([]*models.Message, error)
	ListEncryptedSince(ctx context.Context, userID string, checkpoint int64, limit int) ([]*models.Message, error)
	EnvelopesFor(ctx context.Context, userID string, messageIDs, keyIDs []string) (map[string][]models.KeyEnvelope, error)
	MergeEnvelopes(ctx context.Context, userID, messageID string, envelopes []models.KeyEnvelope) error
	SetRead(ctx context.Context, userID, id string, read bool) (bool, error)
	MarkDeleted(ctx context.Context, userID, id string, timestamp int64) (bool, error)
	GetCountForUser(ctx context.Context, userID string) (int, error)
}

// ContactRepo defines the interface for contact persistence operations
type ContactRepo interface {
	GetByID(ctx context.Context, userID, id string) (*models.Contact, error)
	Upsert(ctx context.Context, contact *models.Contact) (UpsertOutcome, error)
	ListSince(ctx context.Context, userID string, cursor int64, limit int) ([]*models.Contact, error)
	ListNewest(ctx context.Context, userID string, limit int) ([]*models.Contact, error)
	ListBefore(ctx context.Context, userID string, before int64, limit int) ([]*models.Contact, error)
	MarkDeleted(ctx context.Context, userID, id string, timestamp int64) (bool, error)
	GetCountForUser(ctx context.Context, userID string) (int, error)
}

// CallRepo defines the interface for call history persistence operations
type CallRepo interface {
	Add(ctx context.Context, call *models.CallHistoryEntry) (bool, error)
	ListSince(ctx context.Context, userID string, cursor int64, limit int) ([]*models.CallHistoryEntry, error)
	ListNewest(ctx context.Context, userID string, limit int) ([]*models.CallHistoryEntry, error)
	ListBefore(ctx context.Context, userID string, before int64, limit int) ([]*models.CallHistoryEntry, error)
	GetCountForUser(ctx context.Context, userID string) (int, error)
}

// SyncCursorRepo defines the interface for per-device cursor persistence
type SyncCursorRepo interface {
	Get(ctx context.Context, userID, deviceID string, entity models.EntityKind) (*models.SyncCursor, error)
	Advance(ctx context.Context, cursor *models.SyncCursor) (bool, error)
	Set(ctx context.Context, cursor *models.SyncCursor) error
	DeleteForDevice(ctx context.Context, userID, deviceID string) error
}

// DeviceKeyRepo defines the interface for published device public keys
type DeviceKeyRepo interface {
	Upsert(ctx context.Context, key *models.DeviceKey) error
	GetByDeviceID(ctx context.Context, deviceID string) (*models.DeviceKey, error)
	GetAllForUser(ctx context.Context, userID string) ([]*models.DeviceKey, error)
	DeleteByDeviceID(ctx context.Context, deviceID string) error
}

// SyncGroupKeyRepo defines the interface for the per-user shared sync key
type SyncGroupKeyRepo interface {
	GetForUser(ctx context.Context, userID string) (*models.SyncGroupKey, error)
	CreateOrRotate(ctx context.Context, userID, keyID, publicKey string) (*models.SyncGroupKey, error)
}

// KeySyncRepo defines the interface for wrapped group key hand-offs between
// devices. Rows are written by the responding device and claimed once by the
// requester.
type KeySyncRepo interface {
	Put(ctx context.Context, resp *models.KeySyncResponse) error
	Claim(ctx context.Context, userID, requesterDeviceID string) (*models.KeySyncResponse, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// BackfillJobRepo defines the interface for envelope backfill jobs
type BackfillJobRepo interface {
	Create(ctx context.Context, job *models.BackfillJob) error
	GetByID(ctx context.Context, userID, id string) (*models.BackfillJob, error)
	GetActiveForUser(ctx context.Context, userID string) (*models.BackfillJob, error)
	GetLatestForKey(ctx context.Context, userID, targetKeyID string) (*models.BackfillJob, error)
	Update(ctx context.Context, job *models.BackfillJob) error
	FailStale(ctx context.Context, cutoff time.Time, reason string) (int64, error)
}

// UsageRepo defines the interface for upload/storage accounting
type UsageRepo interface {
	Increment(ctx context.Context, userID, periodKey string, bytes int64) error
	GetByPeriod(ctx context.Context, userID, periodKey string) (*models.UsageRecord, error)
	GetLatest(ctx context.Context, userID string) (*models.UsageRecord, error)
	Reset(ctx context.Context, userID, periodKey string) error
}

// RevokedTokenRepo defines the interface for the refresh token deny list
type RevokedTokenRepo interface {
	Add(ctx context.Context, jti string, expiresAt time.Time) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
