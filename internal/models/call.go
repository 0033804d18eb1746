package models

import (
	"strings"
	"time"
)

// Call type values, matching the platforms' call logs.
const (
	CallTypeIncoming = "incoming"
	CallTypeOutgoing = "outgoing"
	CallTypeMissed   = "missed"
	CallTypeRejected = "rejected"
)

// CallHistoryEntry is one call-log record in the synced dataset. Call logs
// are append-only: entries are never edited, so the timestamp (call date) is
// a stable cursor key.
type CallHistoryEntry struct {
	ID        string    `json:"id"`
	UserID    string    `json:"-"`
	Number    string    `json:"number"`
	Type      string    `json:"type"`
	Duration  int       `json:"duration"`  // seconds
	Timestamp int64     `json:"timestamp"` // ms since epoch, call date
	CreatedAt time.Time `json:"-"`
}

// Validate checks the fields a device must supply.
func (c *CallHistoryEntry) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return ErrMissingEntityID
	}
	if c.Timestamp <= 0 {
		return ErrMissingTimestamp
	}
	if strings.TrimSpace(c.Number) == "" {
		return ErrMissingAddress
	}
	switch c.Type {
	case CallTypeIncoming, CallTypeOutgoing, CallTypeMissed, CallTypeRejected:
	default:
		return ErrInvalidCallType
	}
	if c.Duration < 0 {
		c.Duration = 0
	}
	return nil
}

// CallRequestPayload asks the user's phone (via fan-out) to place a call.
type CallRequestPayload struct {
	Number string `json:"number"`
}

// Call errors
var (
	ErrInvalidCallType = SyncEntityError{"call type must be incoming, outgoing, missed or rejected"}
)
