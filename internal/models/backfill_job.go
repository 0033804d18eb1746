package models

import (
	"time"

	"github.com/google/uuid"
)

// BackfillStatus represents the state of a backfill re-encryption job.
type BackfillStatus string

const (
	BackfillStatusPending    BackfillStatus = "pending"
	BackfillStatusProcessing BackfillStatus = "processing"
	BackfillStatusDone       BackfillStatus = "done"
	BackfillStatusError      BackfillStatus = "error"
)

// BackfillJob re-wraps historical messages' data keys so a newly-enrolled
// device key can decrypt them. The server cannot unwrap envelopes itself, so
// the job farms re-wrap batches to the user's live devices and applies what
// they post back. Checkpoint is the timestamp of the last message examined;
// a restarted job re-scans from there and skips rows that already carry the
// target envelope, which makes the job idempotent.
type BackfillJob struct {
	ID          string         `json:"id"`
	UserID      string         `json:"userId"`
	DeviceID    string         `json:"deviceId"` // device being backfilled
	TargetKeyID string         `json:"targetKeyId"`
	Status      BackfillStatus `json:"status"`
	Scanned     int            `json:"scanned"`
	Updated     int            `json:"updated"`
	Skipped     int            `json:"skipped"`
	Checkpoint  int64          `json:"checkpoint"` // ms timestamp of last scanned message
	Error       string         `json:"error,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

// NewBackfillJob creates a pending job for a device's key.
func NewBackfillJob(userID, deviceID, targetKeyID string) *BackfillJob {
	now := time.Now().UTC()
	return &BackfillJob{
		ID:          uuid.New().String(),
		UserID:      userID,
		DeviceID:    deviceID,
		TargetKeyID: targetKeyID,
		Status:      BackfillStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Terminal reports whether the job has finished, successfully or not.
func (j *BackfillJob) Terminal() bool {
	return j.Status == BackfillStatusDone || j.Status == BackfillStatusError
}

// BackfillBatchEvent is pushed to live enrolled devices: the message ids and
// existing envelopes they should unwrap and re-wrap for the target key.
type BackfillBatchEvent struct {
	JobID           string             `json:"jobId"`
	TargetKeyID     string             `json:"targetKeyId"`
	TargetPublicKey string             `json:"targetPublicKey"`
	Items           []BackfillWorkItem `json:"items"`
}

// BackfillWorkItem is one message needing a re-wrapped envelope.
type BackfillWorkItem struct {
	MessageID string        `json:"messageId"`
	Envelopes []KeyEnvelope `json:"envelopes"`
}

// BackfillEnvelopesRequest is posted by a responding device with the
// re-wrapped envelopes for a batch, keyed by message id.
type BackfillEnvelopesRequest struct {
	Envelopes map[string]KeyEnvelope `json:"envelopes"`
}

// Backfill errors
var (
	ErrBackfillNotFound   = BackfillJobError{"backfill job not found"}
	ErrBackfillNotRunning = BackfillJobError{"backfill job is not accepting envelopes"}
)

type BackfillJobError struct {
	Message string
}

func (e BackfillJobError) Error() string {
	return e.Message
}
