package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/syncflow/server/internal/middleware"
	"github.com/syncflow/server/internal/models"
	"github.com/syncflow/server/internal/services"
)

// DeviceHandler handles device management endpoints
type DeviceHandler struct {
	deviceService *services.DeviceService
}

// NewDeviceHandler creates a new DeviceHandler
func NewDeviceHandler(deviceService *services.DeviceService) *DeviceHandler {
	return &DeviceHandler{deviceService: deviceService}
}

// List returns all devices enrolled for the account
// @Summary List devices
// @Tags devices
// @Produce json
// @Success 200 {array} models.DeviceResponse
// @Security BearerAuth
// @Router /api/devices [get]
func (h *DeviceHandler) List(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())

	devices, err := h.deviceService.List(r.Context(), claims.EffectiveUserID())
	if err != nil {
		writeError(w, err)
		return
	}

	resp := make([]models.DeviceResponse, 0, len(devices))
	for _, d := range devices {
		resp = append(resp, d.ToResponse())
	}
	writeJSON(w, http.StatusOK, resp)
}

// Get returns a single device
// @Summary Get device
// @Tags devices
// @Produce json
// @Param id path string true "Device ID"
// @Success 200 {object} models.DeviceResponse
// @Failure 404 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /api/devices/{id} [get]
func (h *DeviceHandler) Get(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())

	device, err := h.deviceService.Get(r.Context(), claims.EffectiveUserID(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, device.ToResponse())
}

// Update renames a device or rotates its push token
// @Summary Update device
// @Tags devices
// @Accept json
// @Produce json
// @Param id path string true "Device ID"
// @Param request body models.UpdateDeviceRequest true "Fields to update"
// @Success 200 {object} models.DeviceResponse
// @Failure 404 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /api/devices/{id} [put]
func (h *DeviceHandler) Update(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())

	var req models.UpdateDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request body."})
		return
	}

	device, err := h.deviceService.Update(r.Context(),
		claims.EffectiveUserID(), chi.URLParam(r, "id"), req.Name, req.PushToken)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, device.ToResponse())
}

// Delete unpairs a device, revoking its tokens and closing its socket
// @Summary Unpair device
// @Tags devices
// @Param id path string true "Device ID"
// @Success 204 "Unpaired"
// @Failure 404 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /api/devices/{id} [delete]
func (h *DeviceHandler) Delete(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())

	if err := h.deviceService.Unpair(r.Context(), claims.EffectiveUserID(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
