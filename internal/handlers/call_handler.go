package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/syncflow/server/internal/middleware"
	"github.com/syncflow/server/internal/models"
	"github.com/syncflow/server/internal/services"
)

// CallHandler handles call history sync endpoints
type CallHandler struct {
	syncService *services.SyncService
}

// NewCallHandler creates a new CallHandler
func NewCallHandler(syncService *services.SyncService) *CallHandler {
	return &CallHandler{syncService: syncService}
}

// Submit accepts a batch of device-submitted call log entries
// @Summary Submit calls
// @Description Apply a batch of call log entries; append-only, idempotent by call id
// @Tags calls
// @Accept json
// @Produce json
// @Param request body models.SubmitCallsRequest true "Call batch"
// @Success 200 {object} models.SubmitResult
// @Failure 400 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /api/calls [post]
func (h *CallHandler) Submit(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())

	var req models.SubmitCallsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request body."})
		return
	}

	result, err := h.syncService.SubmitCalls(r.Context(), claims.EffectiveUserID(), claims.DeviceID, req.Calls)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Sync returns calls newer than the device's cursor
// @Summary Sync calls
// @Tags calls
// @Produce json
// @Param cursor query int false "Last confirmed timestamp (ms)"
// @Param limit query int false "Page size" default(100)
// @Success 200 {object} models.FetchCallsResponse
// @Security BearerAuth
// @Router /api/calls/sync [get]
func (h *CallHandler) Sync(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())

	resp, err := h.syncService.FetchCalls(r.Context(),
		claims.EffectiveUserID(), queryInt64(r, "cursor"), queryInt(r, "limit"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// List pages backward through call history
// @Summary List calls
// @Tags calls
// @Produce json
// @Param before query int false "Timestamp upper bound (ms)"
// @Param limit query int false "Page size" default(100)
// @Success 200 {array} models.CallHistoryEntry
// @Security BearerAuth
// @Router /api/calls [get]
func (h *CallHandler) List(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())

	calls, err := h.syncService.ListCallsBefore(r.Context(),
		claims.EffectiveUserID(), queryInt64(r, "before"), queryInt(r, "limit"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, calls)
}

// GetCursor returns the device's confirmed call cursor
// @Summary Get call cursor
// @Tags calls
// @Produce json
// @Success 200 {object} models.SyncCursor
// @Security BearerAuth
// @Router /api/calls/sync/cursor [get]
func (h *CallHandler) GetCursor(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())

	cursor, err := h.syncService.GetCursor(r.Context(), claims.EffectiveUserID(), claims.DeviceID, models.EntityCalls)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cursor)
}

// ConfirmCursor advances the device's call cursor
// @Summary Confirm call cursor
// @Tags calls
// @Accept json
// @Produce json
// @Param request body models.ConfirmCursorRequest true "Cursor"
// @Success 200 {object} models.SyncCursor
// @Failure 409 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /api/calls/sync/cursor [put]
func (h *CallHandler) ConfirmCursor(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())

	var req models.ConfirmCursorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request body."})
		return
	}

	cursor, err := h.syncService.ConfirmCursor(r.Context(),
		claims.EffectiveUserID(), claims.DeviceID, models.EntityCalls, req.Cursor, req.Force)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cursor)
}

// Request relays a call request to the user's phone
// @Summary Request call
// @Description Ask the user's phone to place a call; the server only relays
// @Tags calls
// @Accept json
// @Param request body models.CallRequestPayload true "Number"
// @Success 202 "Relayed"
// @Failure 400 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /api/calls/request [post]
func (h *CallHandler) Request(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())

	var req models.CallRequestPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request body."})
		return
	}

	if err := h.syncService.RelayCallRequest(r.Context(), claims.EffectiveUserID(), claims.DeviceID, &req); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
