package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/syncflow/server/internal/middleware"
	"github.com/syncflow/server/internal/models"
	"github.com/syncflow/server/internal/services"
)

// PresenceHandler handles typing indicators and conversation continuity
type PresenceHandler struct {
	presenceService *services.PresenceService
}

// NewPresenceHandler creates a new PresenceHandler
func NewPresenceHandler(presenceService *services.PresenceService) *PresenceHandler {
	return &PresenceHandler{presenceService: presenceService}
}

// Typing starts or stops a typing indicator
// @Summary Set typing state
// @Description Debounced start, immediate stop; indicators expire on their own if the device goes silent
// @Tags presence
// @Accept json
// @Param request body models.TypingRequest true "Typing state"
// @Success 202 "Accepted"
// @Failure 400 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /api/presence/typing [post]
func (h *PresenceHandler) Typing(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())

	var req models.TypingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request body."})
		return
	}

	var err error
	if req.Typing {
		err = h.presenceService.StartTyping(claims.EffectiveUserID(), claims.DeviceID, req.ConversationID)
	} else {
		err = h.presenceService.StopTyping(claims.EffectiveUserID(), claims.DeviceID, req.ConversationID)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// UpdateContinuity publishes the device's active conversation and draft
// @Summary Update continuity
// @Tags presence
// @Accept json
// @Param request body models.ContinuityRequest true "Continuity state"
// @Success 202 "Accepted"
// @Failure 400 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /api/presence/continuity [post]
func (h *PresenceHandler) UpdateContinuity(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())

	var req models.ContinuityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request body."})
		return
	}

	if err := h.presenceService.UpdateContinuity(
		claims.EffectiveUserID(), claims.DeviceID, req.ConversationID, req.Draft); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// GetContinuity returns the account's most recent continuity state
// @Summary Get continuity
// @Tags presence
// @Produce json
// @Success 200 {object} models.ContinuityState
// @Success 204 "No recent state"
// @Security BearerAuth
// @Router /api/presence/continuity [get]
func (h *PresenceHandler) GetContinuity(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())

	state := h.presenceService.GetContinuity(claims.EffectiveUserID())
	if state == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, state)
}
