package models

import (
	"strings"
	"time"
)

// Contact is one address-book entry in the synced dataset. The timestamp is
// the entry's last-modified time, so edits flow through cursor sync as
// ordinary upserts with a newer version.
type Contact struct {
	ID           string    `json:"id"`
	UserID       string    `json:"-"`
	DisplayName  string    `json:"displayName"`
	PhoneNumber  string    `json:"phoneNumber"`
	PhoneNumbers []string  `json:"phoneNumbers,omitempty"`
	Email        string    `json:"email,omitempty"`
	Timestamp    int64     `json:"timestamp"` // ms since epoch, last modified
	Deleted      bool      `json:"deleted,omitempty"`
	CreatedAt    time.Time `json:"-"`
}

// Validate checks the fields a device must supply.
func (c *Contact) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return ErrMissingEntityID
	}
	if c.Timestamp <= 0 {
		return ErrMissingTimestamp
	}
	if strings.TrimSpace(c.DisplayName) == "" && strings.TrimSpace(c.PhoneNumber) == "" {
		return ErrContactEmpty
	}
	return nil
}

// ContactResponse is the wire format for a contact.
type ContactResponse struct {
	ID           string   `json:"id"`
	DisplayName  string   `json:"displayName"`
	PhoneNumber  string   `json:"phoneNumber"`
	PhoneNumbers []string `json:"phoneNumbers,omitempty"`
	Email        string   `json:"email,omitempty"`
	Timestamp    int64    `json:"timestamp"`
	Deleted      bool     `json:"deleted,omitempty"`
}

// ToResponse converts Contact to its wire format.
func (c *Contact) ToResponse() ContactResponse {
	return ContactResponse{
		ID:           c.ID,
		DisplayName:  c.DisplayName,
		PhoneNumber:  c.PhoneNumber,
		PhoneNumbers: c.PhoneNumbers,
		Email:        c.Email,
		Timestamp:    c.Timestamp,
		Deleted:      c.Deleted,
	}
}

// Contact errors
var (
	ErrContactEmpty = SyncEntityError{"contact needs a name or a phone number"}
)
