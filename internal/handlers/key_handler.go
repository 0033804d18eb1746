package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/syncflow/server/internal/middleware"
	"github.com/syncflow/server/internal/models"
	"github.com/syncflow/server/internal/services"
)

// KeyHandler handles E2EE key distribution endpoints. The server never
// sees plaintext key material: everything it stores or relays is either
// a public key or ciphertext wrapped for a specific device.
type KeyHandler struct {
	keyService *services.KeyExchangeService
}

// NewKeyHandler creates a new KeyHandler
func NewKeyHandler(keyService *services.KeyExchangeService) *KeyHandler {
	return &KeyHandler{keyService: keyService}
}

// Publish registers the calling device's public key
// @Summary Publish device key
// @Tags keys
// @Accept json
// @Produce json
// @Param request body models.PublishKeyRequest true "Public key"
// @Success 200 {object} models.DeviceKey
// @Failure 400 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /api/keys [post]
func (h *KeyHandler) Publish(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())

	var req models.PublishKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request body."})
		return
	}

	key, err := h.keyService.PublishKey(r.Context(), claims.EffectiveUserID(), claims.DeviceID, req.PublicKey)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, key)
}

// Get returns the public key of one device
// @Summary Get device key
// @Tags keys
// @Produce json
// @Param deviceId path string true "Device ID"
// @Success 200 {object} models.DeviceKey
// @Failure 404 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /api/keys/{deviceId} [get]
func (h *KeyHandler) Get(w http.ResponseWriter, r *http.Request) {
	key, err := h.keyService.GetKey(r.Context(), chi.URLParam(r, "deviceId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, key)
}

// List returns the public keys of every device on the account
// @Summary List device keys
// @Tags keys
// @Produce json
// @Success 200 {array} models.DeviceKey
// @Security BearerAuth
// @Router /api/keys [get]
func (h *KeyHandler) List(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())

	keys, err := h.keyService.ListKeys(r.Context(), claims.EffectiveUserID())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, keys)
}

// CreateSyncGroup registers the sync-group public key for the account
// @Summary Create sync group
// @Description Register the account's sync-group public key, generated by the first device
// @Tags keys
// @Accept json
// @Produce json
// @Param request body models.CreateSyncGroupRequest true "Group public key"
// @Success 200 {object} models.SyncGroupKey
// @Failure 400 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /api/keys/group [post]
func (h *KeyHandler) CreateSyncGroup(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())

	var req models.CreateSyncGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request body."})
		return
	}

	group, err := h.keyService.CreateSyncGroup(r.Context(), claims.EffectiveUserID(), req.PublicKey)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, group)
}

// GetSyncGroup returns the account's sync-group public key
// @Summary Get sync group
// @Tags keys
// @Produce json
// @Success 200 {object} models.SyncGroupKey
// @Failure 404 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /api/keys/group [get]
func (h *KeyHandler) GetSyncGroup(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())

	group, err := h.keyService.GetSyncGroup(r.Context(), claims.EffectiveUserID())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, group)
}

// RequestSync asks the account's other devices to share the group key
// @Summary Request key sync
// @Description Broadcast a key-sync request to the account's enrolled devices
// @Tags keys
// @Success 202 "Request broadcast"
// @Failure 404 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /api/keys/sync/request [post]
func (h *KeyHandler) RequestSync(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())

	if err := h.keyService.RequestKeySync(r.Context(), claims.EffectiveUserID(), claims.DeviceID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// RespondSync delivers a wrapped group key to a requesting device
// @Summary Respond to key sync
// @Tags keys
// @Accept json
// @Param request body models.KeySyncResponse true "Wrapped group key"
// @Success 204 "Delivered"
// @Failure 400 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /api/keys/sync/respond [post]
func (h *KeyHandler) RespondSync(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())

	var resp models.KeySyncResponse
	if err := json.NewDecoder(r.Body).Decode(&resp); err != nil {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request body."})
		return
	}

	if err := h.keyService.RespondKeySync(r.Context(), claims.EffectiveUserID(), claims.DeviceID, &resp); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// WaitSync blocks until another device answers the key-sync request
// @Summary Wait for key sync
// @Description Long-poll for the wrapped group key; 408 if no device answers in time
// @Tags keys
// @Produce json
// @Success 200 {object} models.KeySyncResponse
// @Failure 408 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /api/keys/sync/wait [get]
func (h *KeyHandler) WaitSync(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())

	resp, err := h.keyService.WaitForKeySync(r.Context(), claims.EffectiveUserID(), claims.DeviceID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// RequestBackfill starts (or resumes) envelope backfill for this device
// @Summary Request backfill
// @Description Re-wrap historical message keys for this device; resumes a checkpointed job if one exists
// @Tags keys
// @Produce json
// @Success 202 {object} models.BackfillJob
// @Failure 404 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /api/keys/backfill [post]
func (h *KeyHandler) RequestBackfill(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())

	job, err := h.keyService.RequestBackfill(r.Context(), claims.EffectiveUserID(), claims.DeviceID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

// BackfillStatus returns a backfill job's progress
// @Summary Backfill status
// @Tags keys
// @Produce json
// @Param jobId path string true "Job ID"
// @Success 200 {object} models.BackfillJob
// @Failure 404 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /api/keys/backfill/{jobId} [get]
func (h *KeyHandler) BackfillStatus(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())

	job, err := h.keyService.GetBackfillStatus(r.Context(), claims.EffectiveUserID(), chi.URLParam(r, "jobId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// SubmitBackfillEnvelopes applies re-wrapped envelopes produced by a live device
// @Summary Submit backfill envelopes
// @Tags keys
// @Accept json
// @Produce json
// @Param jobId path string true "Job ID"
// @Param request body models.BackfillEnvelopesRequest true "Envelopes keyed by message ID"
// @Success 200 {object} models.SubmitResult
// @Failure 409 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /api/keys/backfill/{jobId}/envelopes [post]
func (h *KeyHandler) SubmitBackfillEnvelopes(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())

	var req models.BackfillEnvelopesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request body."})
		return
	}

	applied, err := h.keyService.ApplyBackfillEnvelopes(r.Context(),
		claims.EffectiveUserID(), chi.URLParam(r, "jobId"), req.Envelopes)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"applied": applied})
}
