package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/syncflow/server/internal/models"
	"github.com/syncflow/server/internal/observability"
)

// writeJSON renders a JSON response body.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps a service error onto the HTTP taxonomy. Unknown errors
// surface as a generic 500 with the details kept server-side.
func writeError(w http.ResponseWriter, err error) {
	var quotaErr models.QuotaExceededError
	if errors.As(err, &quotaErr) {
		writeJSON(w, http.StatusForbidden, models.ErrorResponse{
			Error:  "Quota exceeded.",
			Reason: quotaErr.Reason,
		})
		return
	}

	status := statusFor(err)
	if status == http.StatusInternalServerError {
		observability.WithField("error", err.Error()).Error("Request failed")
		writeJSON(w, status, models.ErrorResponse{Error: "Internal server error."})
		return
	}
	writeJSON(w, status, models.ErrorResponse{Error: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.As(err, &models.AuthError{}):
		return http.StatusUnauthorized
	case errors.Is(err, models.ErrUserDisabled):
		return http.StatusForbidden
	case errors.Is(err, models.ErrPairingNotFound),
		errors.Is(err, models.ErrDeviceNotFound),
		errors.Is(err, models.ErrMessageNotFound),
		errors.Is(err, models.ErrContactNotFound),
		errors.Is(err, models.ErrKeyNotFound),
		errors.Is(err, models.ErrNoSyncGroup),
		errors.Is(err, models.ErrBackfillNotFound),
		errors.Is(err, models.ErrUserNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrPairingExpired):
		return http.StatusGone
	case errors.Is(err, models.ErrPairingAlreadyResolved),
		errors.Is(err, models.ErrPairingNotApproved),
		errors.Is(err, models.ErrBackfillNotRunning),
		errors.Is(err, models.ErrCursorRewind):
		return http.StatusConflict
	case errors.Is(err, models.ErrKeySyncTimeout):
		return http.StatusRequestTimeout
	case errors.As(err, &models.SyncEntityError{}),
		errors.As(err, &models.DeviceError{}),
		errors.As(err, &models.PresenceError{}),
		errors.As(err, &models.KeyExchangeError{}),
		errors.As(err, &models.PairingError{}):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// queryInt64 parses an optional int64 query parameter, zero when absent or
// malformed.
func queryInt64(r *http.Request, name string) int64 {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// queryInt parses an optional int query parameter, zero when absent or
// malformed.
func queryInt(r *http.Request, name string) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
