package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/syncflow/server/internal/middleware"
	"github.com/syncflow/server/internal/models"
	"github.com/syncflow/server/internal/services"
)

// MessageHandler handles message sync endpoints
type MessageHandler struct {
	syncService *services.SyncService
}

// NewMessageHandler creates a new MessageHandler
func NewMessageHandler(syncService *services.SyncService) *MessageHandler {
	return &MessageHandler{syncService: syncService}
}

// Submit accepts a batch of device-submitted messages
// @Summary Submit messages
// @Description Apply a batch of local message changes; idempotent by message id
// @Tags messages
// @Accept json
// @Produce json
// @Param request body models.SubmitMessagesRequest true "Message batch"
// @Success 200 {object} models.SubmitResult
// @Failure 400 {object} models.ErrorResponse
// @Failure 403 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /api/messages [post]
func (h *MessageHandler) Submit(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())

	var req models.SubmitMessagesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request body."})
		return
	}

	result, err := h.syncService.SubmitMessages(r.Context(), claims.EffectiveUserID(), claims.DeviceID, req.Messages)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Sync returns messages newer than the device's cursor
// @Summary Sync messages
// @Description Fetch messages with timestamp after the cursor, ascending; cursor 0 serves the bounded initial window
// @Tags messages
// @Produce json
// @Param cursor query int false "Last confirmed timestamp (ms)"
// @Param limit query int false "Page size" default(100)
// @Success 200 {object} models.FetchMessagesResponse
// @Failure 401 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /api/messages/sync [get]
func (h *MessageHandler) Sync(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())

	resp, err := h.syncService.FetchMessages(r.Context(),
		claims.EffectiveUserID(), claims.DeviceID,
		queryInt64(r, "cursor"), queryInt(r, "limit"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// List pages backward through message history
// @Summary List messages
// @Description Page backward through history for clients that want more than the initial window
// @Tags messages
// @Produce json
// @Param before query int false "Timestamp upper bound (ms)"
// @Param limit query int false "Page size" default(100)
// @Success 200 {array} models.MessageResponse
// @Security BearerAuth
// @Router /api/messages [get]
func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())

	messages, err := h.syncService.ListMessagesBefore(r.Context(),
		claims.EffectiveUserID(), claims.DeviceID,
		queryInt64(r, "before"), queryInt(r, "limit"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

// GetCursor returns the device's confirmed message cursor
// @Summary Get message cursor
// @Tags messages
// @Produce json
// @Success 200 {object} models.SyncCursor
// @Security BearerAuth
// @Router /api/messages/sync/cursor [get]
func (h *MessageHandler) GetCursor(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())

	cursor, err := h.syncService.GetCursor(r.Context(), claims.EffectiveUserID(), claims.DeviceID, models.EntityMessages)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cursor)
}

// ConfirmCursor advances the device's message cursor
// @Summary Confirm message cursor
// @Description Record that the device applied everything up to the timestamp; force permits a resync rewind
// @Tags messages
// @Accept json
// @Produce json
// @Param request body models.ConfirmCursorRequest true "Cursor"
// @Success 200 {object} models.SyncCursor
// @Failure 409 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /api/messages/sync/cursor [put]
func (h *MessageHandler) ConfirmCursor(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())

	var req models.ConfirmCursorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request body."})
		return
	}

	cursor, err := h.syncService.ConfirmCursor(r.Context(),
		claims.EffectiveUserID(), claims.DeviceID, models.EntityMessages, req.Cursor, req.Force)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cursor)
}

// Update mutates a message's read flag
// @Summary Update message
// @Tags messages
// @Accept json
// @Produce json
// @Param id path string true "Message id"
// @Param request body models.UpdateMessageRequest true "Fields"
// @Success 200 {object} models.MessageResponse
// @Failure 404 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /api/messages/{id} [put]
func (h *MessageHandler) Update(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())
	messageID := chi.URLParam(r, "id")

	var req models.UpdateMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request body."})
		return
	}

	resp, err := h.syncService.SetMessageRead(r.Context(), claims.EffectiveUserID(), claims.DeviceID, messageID, req.Read)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Delete tombstones a message
// @Summary Delete message
// @Description Mark a message deleted; the tombstone keeps syncing so offline devices drop it too
// @Tags messages
// @Param id path string true "Message id"
// @Success 204 "Deleted"
// @Failure 404 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /api/messages/{id} [delete]
func (h *MessageHandler) Delete(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())

	if err := h.syncService.DeleteMessage(r.Context(), claims.EffectiveUserID(), claims.DeviceID, chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Send relays an outgoing message to the user's phone
// @Summary Send message
// @Description Ask the user's phone to send an SMS; the server only relays
// @Tags messages
// @Accept json
// @Param request body models.SendMessageRequest true "Outgoing message"
// @Success 202 "Relayed"
// @Failure 400 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /api/messages/send [post]
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())

	var req models.SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request body."})
		return
	}

	if err := h.syncService.RelayOutgoingMessage(r.Context(), claims.EffectiveUserID(), claims.DeviceID, &req); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
