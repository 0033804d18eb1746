package models

import "time"

// EntityKind names one synced dataset. The kind doubles as the realtime
// channel name for that dataset's change events.
type EntityKind string

const (
	EntityMessages EntityKind = "messages"
	EntityContacts EntityKind = "contacts"
	EntityCalls    EntityKind = "calls"
)

// ValidEntityKind reports whether k names a synced dataset.
func ValidEntityKind(k EntityKind) bool {
	switch k {
	case EntityMessages, EntityContacts, EntityCalls:
		return true
	}
	return false
}

// SyncCursor is the per (user, device, entity) high-water mark: the highest
// timestamp that device has confirmed seeing. Advances monotonically; only a
// force resync may rewind it.
type SyncCursor struct {
	UserID    string     `json:"userId"`
	DeviceID  string     `json:"deviceId"`
	Entity    EntityKind `json:"entity"`
	Cursor    int64      `json:"cursor"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// SubmitResult reports what a delta batch did. Replaying an already-applied
// batch yields Synced == 0.
type SubmitResult struct {
	Synced  int `json:"synced"`
	Skipped int `json:"skipped"`
	Total   int `json:"total"`
}

// Submit request bodies, one per entity kind.

type SubmitMessagesRequest struct {
	Messages []Message `json:"messages"`
}

type SubmitContactsRequest struct {
	Contacts []Contact `json:"contacts"`
}

type SubmitCallsRequest struct {
	Calls []CallHistoryEntry `json:"calls"`
}

// Fetch responses, one per entity kind. NextCursor is the highest timestamp
// in the page; clients confirm it back once the page is applied locally.

type FetchMessagesResponse struct {
	Messages   []MessageResponse `json:"messages"`
	NextCursor int64             `json:"nextCursor"`
	HasMore    bool              `json:"hasMore"`
}

type FetchContactsResponse struct {
	Contacts   []ContactResponse `json:"contacts"`
	NextCursor int64             `json:"nextCursor"`
	HasMore    bool              `json:"hasMore"`
}

type FetchCallsResponse struct {
	Calls      []CallHistoryEntry `json:"calls"`
	NextCursor int64              `json:"nextCursor"`
	HasMore    bool               `json:"hasMore"`
}

// ConfirmCursorRequest advances a device's cursor after it has applied a
// fetched page. Force permits rewinding for an explicit full resync.
type ConfirmCursorRequest struct {
	Cursor int64 `json:"cursor"`
	Force  bool  `json:"force,omitempty"`
}

// Sync errors
var (
	ErrInvalidEntityKind = SyncEntityError{"unknown entity kind"}
	ErrCursorRewind      = SyncEntityError{"cursor may not move backwards without force"}
	ErrBatchTooLarge     = SyncEntityError{"batch exceeds the maximum item count"}
)
