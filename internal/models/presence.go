package models

import "time"

// TypingState is the ephemeral "someone is typing" indicator for one
// (user, conversation, device). Never persisted; expires server-side so a
// dropped connection cannot leave the indicator stuck.
type TypingState struct {
	ConversationID string    `json:"conversationId"`
	DeviceID       string    `json:"deviceId"`
	Typing         bool      `json:"typing"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// ContinuityState is the cross-device handoff payload: which conversation
// and draft are active on a device, last-writer-wins per user.
type ContinuityState struct {
	ConversationID string    `json:"conversationId"`
	Draft          string    `json:"draft,omitempty"`
	DeviceID       string    `json:"deviceId"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// TypingRequest starts or stops a typing indicator.
type TypingRequest struct {
	ConversationID string `json:"conversationId"`
	Typing         bool   `json:"typing"`
}

// ContinuityRequest publishes the active-conversation state.
type ContinuityRequest struct {
	ConversationID string `json:"conversationId"`
	Draft          string `json:"draft,omitempty"`
}

// Presence errors
var (
	ErrMissingConversation = PresenceError{"conversation id is required"}
)

type PresenceError struct {
	Message string
}

func (e PresenceError) Error() string {
	return e.Message
}
