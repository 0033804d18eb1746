package models

import (
	"time"

	"github.com/google/uuid"
)

// Plan identifiers. Every account starts on the trial plan; upgrades are an
// admin/billing concern outside this server.
const (
	PlanTrial = "trial"
	PlanFree  = "free"
	PlanPro   = "pro"
)

// User is the owner of a device set and its synced data. Users are created on
// first anonymous auth or on pairing initiation (temporary identity) and are
// never merged with one another.
type User struct {
	ID             string     `json:"id"`
	Plan           string     `json:"plan"`
	TrialStartedAt *time.Time `json:"trialStartedAt,omitempty"`
	IsTemporary    bool       `json:"-"` // pairing placeholder, swept after redemption
	IsAdmin        bool       `json:"isAdmin"`
	CreatedAt      time.Time  `json:"createdAt"`
	IsActive       bool       `json:"isActive"`
}

// NewUser creates a user on the trial plan.
func NewUser() *User {
	now := time.Now().UTC()
	return &User{
		ID:             uuid.New().String(),
		Plan:           PlanTrial,
		TrialStartedAt: &now,
		CreatedAt:      now,
		IsActive:       true,
	}
}

// NewTemporaryUser creates the placeholder identity minted by pairing
// initiation so the waiting device can poll status before it has a real
// account. Temporary users are deleted at redemption or by the sweep.
func NewTemporaryUser() *User {
	u := NewUser()
	u.IsTemporary = true
	return u
}

// TrialExpired reports whether the trial window has lapsed for a trial-plan
// user. Non-trial plans never expire.
func (u *User) TrialExpired(trialDuration time.Duration) bool {
	if u.Plan != PlanTrial || u.TrialStartedAt == nil {
		return false
	}
	return time.Now().UTC().After(u.TrialStartedAt.Add(trialDuration))
}

// User errors
var (
	ErrUserNotFound = UserError{"user not found"}
	ErrUserDisabled = UserError{"user account is disabled"}
)

type UserError struct {
	Message string
}

func (e UserError) Error() string {
	return e.Message
}
