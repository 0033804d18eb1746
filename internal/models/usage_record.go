package models

import "time"

// Quota denial reasons, returned in the order the checks run: trial first,
// then the monthly upload cap, then total storage.
const (
	QuotaReasonTrialExpired = "trial_expired"
	QuotaReasonMonthlyLimit = "monthly_limit"
	QuotaReasonStorageLimit = "storage_limit"
)

// UsageRecord tracks one user's accounting for one calendar month. Upload
// bytes reset each period; storage bytes are the running total across
// periods. Both are incremented only after the corresponding write has
// succeeded.
type UsageRecord struct {
	UserID       string    `json:"userId"`
	PeriodKey    string    `json:"periodKey"` // YYYYMM
	UploadBytes  int64     `json:"uploadBytes"`
	StorageBytes int64     `json:"storageBytes"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// PeriodKeyFor renders the YYYYMM accounting key for a point in time.
func PeriodKeyFor(t time.Time) string {
	return t.UTC().Format("200601")
}

// CurrentPeriodKey returns the accounting key for now.
func CurrentPeriodKey() string {
	return PeriodKeyFor(time.Now())
}

// QuotaDecision is the outcome of an upload admission check.
type QuotaDecision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// UsageResponse is returned by the usage endpoint: current counters plus the
// plan's limits so clients can render meters without hardcoding them.
type UsageResponse struct {
	Plan           string     `json:"plan"`
	PeriodKey      string     `json:"periodKey"`
	UploadBytes    int64      `json:"uploadBytes"`
	StorageBytes   int64      `json:"storageBytes"`
	MonthlyLimit   int64      `json:"monthlyLimit"`
	StorageLimit   int64      `json:"storageLimit"`
	TrialStartedAt *time.Time `json:"trialStartedAt,omitempty"`
	TrialEndsAt    *time.Time `json:"trialEndsAt,omitempty"`
}

// QuotaCheckRequest asks whether an upload of the given size would be
// admitted.
type QuotaCheckRequest struct {
	Bytes int64 `json:"bytes"`
}

// QuotaExceededError denies an upload; Reason is the machine-readable code
// of the first violated limit.
type QuotaExceededError struct {
	Reason string
}

func (e QuotaExceededError) Error() string {
	return "quota exceeded: " + e.Reason
}
