package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/syncflow/server/internal/middleware"
	"github.com/syncflow/server/internal/models"
	"github.com/syncflow/server/internal/services"
)

// AuthHandler handles authentication and pairing endpoints
type AuthHandler struct {
	authService    *services.AuthService
	pairingService *services.PairingService
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(authService *services.AuthService, pairingService *services.PairingService) *AuthHandler {
	return &AuthHandler{
		authService:    authService,
		pairingService: pairingService,
	}
}

// Anonymous creates a first-device account
// @Summary Anonymous authentication
// @Description Create a fresh account for a device with nothing to pair against
// @Tags auth
// @Accept json
// @Produce json
// @Param request body models.AnonymousAuthRequest true "Device info"
// @Success 200 {object} models.AuthResponse
// @Failure 400 {object} models.ErrorResponse
// @Router /api/auth/anonymous [post]
func (h *AuthHandler) Anonymous(w http.ResponseWriter, r *http.Request) {
	var req models.AnonymousAuthRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request body."})
		return
	}

	resp, err := h.authService.Anonymous(r.Context(), req.DeviceName, req.DeviceType, req.PushToken)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// InitiatePairing starts a pairing attempt
// @Summary Initiate pairing
// @Description Start QR-based pairing for a new device; returns a token plus temporary credentials for status polling
// @Tags auth
// @Accept json
// @Produce json
// @Param request body models.InitiatePairingRequest true "Device info"
// @Success 200 {object} models.InitiatePairingResponse
// @Failure 400 {object} models.ErrorResponse
// @Router /api/auth/pair/initiate [post]
func (h *AuthHandler) InitiatePairing(w http.ResponseWriter, r *http.Request) {
	var req models.InitiatePairingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request body."})
		return
	}

	resp, err := h.pairingService.Initiate(r.Context(), req.DeviceName, req.DeviceType)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// PairingStatus polls a pairing attempt
// @Summary Pairing status
// @Description Report where a pairing attempt stands; redeemed tokens read as not found
// @Tags auth
// @Produce json
// @Param token path string true "Pairing token"
// @Success 200 {object} models.PairingStatusResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /api/auth/pair/status/{token} [get]
func (h *AuthHandler) PairingStatus(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	if token == "" {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "Pairing token is required."})
		return
	}

	resp, err := h.pairingService.Status(r.Context(), token)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// CompletePairing records the approver's decision
// @Summary Complete pairing
// @Description Approve or reject a scanned pairing request (authenticated approver only)
// @Tags auth
// @Accept json
// @Produce json
// @Param request body models.CompletePairingRequest true "Decision"
// @Success 200 {object} models.PairingStatusResponse
// @Failure 401 {object} models.ErrorResponse
// @Failure 409 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /api/auth/pair/complete [post]
func (h *AuthHandler) CompletePairing(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())
	if claims == nil {
		writeError(w, models.ErrInvalidToken)
		return
	}

	var req models.CompletePairingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request body."})
		return
	}
	if req.Token == "" {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "Pairing token is required."})
		return
	}

	resp, err := h.pairingService.Complete(r.Context(), claims.EffectiveUserID(), req.Token, req.Approved)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// RedeemPairing exchanges an approved token for credentials
// @Summary Redeem pairing
// @Description Exchange an approved pairing token for permanent credentials; single use
// @Tags auth
// @Accept json
// @Produce json
// @Param request body models.RedeemPairingRequest true "Token"
// @Success 200 {object} models.AuthResponse
// @Failure 404 {object} models.ErrorResponse
// @Failure 409 {object} models.ErrorResponse
// @Router /api/auth/pair/redeem [post]
func (h *AuthHandler) RedeemPairing(w http.ResponseWriter, r *http.Request) {
	var req models.RedeemPairingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request body."})
		return
	}
	if req.Token == "" {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "Pairing token is required."})
		return
	}

	resp, err := h.pairingService.Redeem(r.Context(), req.Token, req.DeviceName)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Refresh exchanges a refresh token for a new access token
// @Summary Refresh access token
// @Description Exchange a live refresh token for a new access token
// @Tags auth
// @Accept json
// @Produce json
// @Param request body models.RefreshRequest true "Refresh token"
// @Success 200 {object} models.RefreshResponse
// @Failure 401 {object} models.ErrorResponse
// @Router /api/auth/refresh [post]
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req models.RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request body."})
		return
	}

	resp, err := h.authService.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Logout revokes a refresh token
// @Summary Logout
// @Description Revoke a refresh token; idempotent
// @Tags auth
// @Accept json
// @Produce json
// @Param request body models.LogoutRequest true "Refresh token"
// @Success 204 "Revoked"
// @Router /api/auth/logout [post]
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var req models.LogoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request body."})
		return
	}

	if err := h.authService.Logout(r.Context(), req.RefreshToken); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
