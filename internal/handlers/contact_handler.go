package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/syncflow/server/internal/middleware"
	"github.com/syncflow/server/internal/models"
	"github.com/syncflow/server/internal/services"
)

// ContactHandler handles contact sync endpoints
type ContactHandler struct {
	syncService *services.SyncService
}

// NewContactHandler creates a new ContactHandler
func NewContactHandler(syncService *services.SyncService) *ContactHandler {
	return &ContactHandler{syncService: syncService}
}

// Submit accepts a batch of device-submitted contacts
// @Summary Submit contacts
// @Description Apply a batch of local contact changes; idempotent by contact id
// @Tags contacts
// @Accept json
// @Produce json
// @Param request body models.SubmitContactsRequest true "Contact batch"
// @Success 200 {object} models.SubmitResult
// @Failure 400 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /api/contacts [post]
func (h *ContactHandler) Submit(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())

	var req models.SubmitContactsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request body."})
		return
	}

	result, err := h.syncService.SubmitContacts(r.Context(), claims.EffectiveUserID(), claims.DeviceID, req.Contacts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Sync returns contacts modified after the device's cursor
// @Summary Sync contacts
// @Tags contacts
// @Produce json
// @Param cursor query int false "Last confirmed timestamp (ms)"
// @Param limit query int false "Page size" default(100)
// @Success 200 {object} models.FetchContactsResponse
// @Security BearerAuth
// @Router /api/contacts/sync [get]
func (h *ContactHandler) Sync(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())

	resp, err := h.syncService.FetchContacts(r.Context(),
		claims.EffectiveUserID(), queryInt64(r, "cursor"), queryInt(r, "limit"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// List pages backward through contacts
// @Summary List contacts
// @Tags contacts
// @Produce json
// @Param before query int false "Timestamp upper bound (ms)"
// @Param limit query int false "Page size" default(100)
// @Success 200 {array} models.ContactResponse
// @Security BearerAuth
// @Router /api/contacts [get]
func (h *ContactHandler) List(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())

	contacts, err := h.syncService.ListContactsBefore(r.Context(),
		claims.EffectiveUserID(), queryInt64(r, "before"), queryInt(r, "limit"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, contacts)
}

// GetCursor returns the device's confirmed contact cursor
// @Summary Get contact cursor
// @Tags contacts
// @Produce json
// @Success 200 {object} models.SyncCursor
// @Security BearerAuth
// @Router /api/contacts/sync/cursor [get]
func (h *ContactHandler) GetCursor(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())

	cursor, err := h.syncService.GetCursor(r.Context(), claims.EffectiveUserID(), claims.DeviceID, models.EntityContacts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cursor)
}

// ConfirmCursor advances the device's contact cursor
// @Summary Confirm contact cursor
// @Tags contacts
// @Accept json
// @Produce json
// @Param request body models.ConfirmCursorRequest true "Cursor"
// @Success 200 {object} models.SyncCursor
// @Failure 409 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /api/contacts/sync/cursor [put]
func (h *ContactHandler) ConfirmCursor(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())

	var req models.ConfirmCursorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request body."})
		return
	}

	cursor, err := h.syncService.ConfirmCursor(r.Context(),
		claims.EffectiveUserID(), claims.DeviceID, models.EntityContacts, req.Cursor, req.Force)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cursor)
}

// Delete tombstones a contact
// @Summary Delete contact
// @Tags contacts
// @Param id path string true "Contact id"
// @Success 204 "Deleted"
// @Failure 404 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /api/contacts/{id} [delete]
func (h *ContactHandler) Delete(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())

	if err := h.syncService.DeleteContact(r.Context(), claims.EffectiveUserID(), claims.DeviceID, chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
