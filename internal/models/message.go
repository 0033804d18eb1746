package models

import (
	"strings"
	"time"
)

// Message direction values.
const (
	DirectionIncoming = "incoming"
	DirectionOutgoing = "outgoing"
)

// KeyEnvelope is a symmetric data key wrapped under a recipient public key.
// RecipientKeyID names either a device key or the user's sync-group key. The
// nonce is optional wire baggage for clients whose wrap scheme carries one
// separately; sealed-box clients leave it empty.
type KeyEnvelope struct {
	RecipientKeyID string `json:"recipientKeyId"`
	WrappedKey     string `json:"wrappedDataKey"`
	Nonce          string `json:"nonce,omitempty"`
}

// Message is one SMS/MMS record in the synced dataset. The id is assigned by
// the originating device and is the dedup key; the timestamp is the message
// date and the sync cursor key. Body and EncryptedBody are mutually
// exclusive: the server stores whichever the device submitted and never
// inspects ciphertext.
type Message struct {
	ID             string        `json:"id"`
	UserID         string        `json:"-"`
	ThreadID       string        `json:"threadId,omitempty"`
	Address        string        `json:"address"`
	Body           string        `json:"body,omitempty"`
	EncryptedBody  string        `json:"encryptedBody,omitempty"`
	Envelopes      []KeyEnvelope `json:"envelopes,omitempty"`
	Direction      string        `json:"direction"`
	Read           bool          `json:"read"`
	Timestamp      int64         `json:"timestamp"` // ms since epoch
	Deleted        bool          `json:"deleted,omitempty"`
	OriginDeviceID string        `json:"-"`
	CreatedAt      time.Time     `json:"-"`
}

// Validate checks the fields a device must supply. Ids come from the client,
// so this runs on every submitted item instead of in a constructor.
func (m *Message) Validate() error {
	if strings.TrimSpace(m.ID) == "" {
		return ErrMissingEntityID
	}
	if m.Timestamp <= 0 {
		return ErrMissingTimestamp
	}
	if strings.TrimSpace(m.Address) == "" {
		return ErrMissingAddress
	}
	switch m.Direction {
	case DirectionIncoming, DirectionOutgoing:
	default:
		return ErrInvalidDirection
	}
	return nil
}

// Encrypted reports whether the body is E2EE ciphertext.
func (m *Message) Encrypted() bool {
	return m.EncryptedBody != ""
}

// MessageResponse is a message on the wire to a specific device: envelopes
// are filtered down to the ones that device can open, and DecryptionFailed
// flags ciphertext the device cannot currently read (degrades to unreadable
// until key sync, never fails the batch).
type MessageResponse struct {
	ID               string        `json:"id"`
	ThreadID         string        `json:"threadId,omitempty"`
	Address          string        `json:"address"`
	Body             string        `json:"body,omitempty"`
	EncryptedBody    string        `json:"encryptedBody,omitempty"`
	Envelopes        []KeyEnvelope `json:"envelopes,omitempty"`
	Direction        string        `json:"direction"`
	Read             bool          `json:"read"`
	Timestamp        int64         `json:"timestamp"`
	Deleted          bool          `json:"deleted,omitempty"`
	DecryptionFailed bool          `json:"decryptionFailed,omitempty"`
}

// ToResponse renders the message with the envelope subset resolvable by the
// requesting device.
func (m *Message) ToResponse(resolved []KeyEnvelope) MessageResponse {
	return MessageResponse{
		ID:               m.ID,
		ThreadID:         m.ThreadID,
		Address:          m.Address,
		Body:             m.Body,
		EncryptedBody:    m.EncryptedBody,
		Envelopes:        resolved,
		Direction:        m.Direction,
		Read:             m.Read,
		Timestamp:        m.Timestamp,
		Deleted:          m.Deleted,
		DecryptionFailed: m.Encrypted() && len(resolved) == 0,
	}
}

// UpdateMessageRequest mutates the read flag of a stored message.
type UpdateMessageRequest struct {
	Read bool `json:"read"`
}

// SendMessageRequest asks the user's phone (via fan-out) to send an SMS. The
// server relays; it never talks to a carrier.
type SendMessageRequest struct {
	Address       string        `json:"address"`
	Body          string        `json:"body,omitempty"`
	EncryptedBody string        `json:"encryptedBody,omitempty"`
	Envelopes     []KeyEnvelope `json:"envelopes,omitempty"`
}

// Sync entity errors, shared by messages, contacts and calls.
var (
	ErrMissingEntityID  = SyncEntityError{"entity id is required"}
	ErrMissingTimestamp = SyncEntityError{"timestamp is required"}
	ErrMissingAddress   = SyncEntityError{"address is required"}
	ErrMissingBody      = SyncEntityError{"message body is required"}
	ErrInvalidDirection = SyncEntityError{"direction must be incoming or outgoing"}
	ErrMessageNotFound  = SyncEntityError{"message not found"}
	ErrContactNotFound  = SyncEntityError{"contact not found"}
)

type SyncEntityError struct {
	Message string
}

func (e SyncEntityError) Error() string {
	return e.Message
}
