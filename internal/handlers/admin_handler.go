package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/syncflow/server/internal/middleware"
	"github.com/syncflow/server/internal/models"
	"github.com/syncflow/server/internal/services"
)

// AdminHandler handles operator-only endpoints
type AdminHandler struct {
	maintenance  *middleware.MaintenanceState
	hub          *services.Hub
	quotaService *services.QuotaService
	janitor      *services.JanitorService
}

// NewAdminHandler creates a new AdminHandler
func NewAdminHandler(maintenance *middleware.MaintenanceState, hub *services.Hub, quotaService *services.QuotaService, janitor *services.JanitorService) *AdminHandler {
	return &AdminHandler{
		maintenance:  maintenance,
		hub:          hub,
		quotaService: quotaService,
		janitor:      janitor,
	}
}

// SetMaintenance toggles maintenance mode
// @Summary Set maintenance mode
// @Tags admin
// @Accept json
// @Produce json
// @Param request body models.SetMaintenanceRequest true "Maintenance state"
// @Success 200 {object} models.MaintenanceResponse
// @Failure 403 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /api/admin/maintenance [post]
func (h *AdminHandler) SetMaintenance(w http.ResponseWriter, r *http.Request) {
	var req models.SetMaintenanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request body."})
		return
	}

	h.maintenance.Set(req.Enabled, req.Message)
	enabled, message := h.maintenance.Get()
	writeJSON(w, http.StatusOK, models.MaintenanceResponse{Maintenance: enabled, Message: message})
}

// ResetUsage zeroes a user's usage counters for the current period
// @Summary Reset usage
// @Tags admin
// @Param userId path string true "User ID"
// @Success 204 "Reset"
// @Failure 404 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /api/admin/usage/{userId}/reset [post]
func (h *AdminHandler) ResetUsage(w http.ResponseWriter, r *http.Request) {
	if err := h.quotaService.Reset(r.Context(), chi.URLParam(r, "userId")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Stats returns a point-in-time operational snapshot
// @Summary Server stats
// @Tags admin
// @Produce json
// @Success 200 {object} models.AdminStatsResponse
// @Security BearerAuth
// @Router /api/admin/stats [get]
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	enabled, _ := h.maintenance.Get()
	writeJSON(w, http.StatusOK, models.AdminStatsResponse{
		ConnectedClients: h.hub.GetClientCount(),
		ConnectedUsers:   h.hub.GetUserCount(),
		Maintenance:      enabled,
	})
}

// JanitorStatus reports the background sweeper's counters
// @Summary Janitor status
// @Tags admin
// @Produce json
// @Success 200 {object} services.JanitorStatus
// @Security BearerAuth
// @Router /api/admin/janitor [get]
func (h *AdminHandler) JanitorStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.janitor.GetStatus())
}
