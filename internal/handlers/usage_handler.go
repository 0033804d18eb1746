package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/syncflow/server/internal/middleware"
	"github.com/syncflow/server/internal/models"
	"github.com/syncflow/server/internal/services"
)

// UsageHandler handles quota and usage endpoints
type UsageHandler struct {
	quotaService *services.QuotaService
}

// NewUsageHandler creates a new UsageHandler
func NewUsageHandler(quotaService *services.QuotaService) *UsageHandler {
	return &UsageHandler{quotaService: quotaService}
}

// Get returns the account's current usage counters and limits
// @Summary Get usage
// @Tags usage
// @Produce json
// @Success 200 {object} models.UsageResponse
// @Security BearerAuth
// @Router /api/usage [get]
func (h *UsageHandler) Get(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())

	usage, err := h.quotaService.Usage(r.Context(), claims.EffectiveUserID())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, usage)
}

// Check reports whether an upload of the given size would be admitted
// @Summary Check quota
// @Description Advisory pre-check; submits are still enforced server-side
// @Tags usage
// @Accept json
// @Produce json
// @Param request body models.QuotaCheckRequest true "Upload size"
// @Success 200 {object} models.QuotaDecision
// @Security BearerAuth
// @Router /api/usage/check [post]
func (h *UsageHandler) Check(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())

	var req models.QuotaCheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request body."})
		return
	}

	decision, err := h.quotaService.IsUploadAllowed(r.Context(), claims.EffectiveUserID(), req.Bytes)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, decision)
}
