package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncflow/server/internal/middleware"
	"github.com/syncflow/server/internal/models"
	"github.com/syncflow/server/internal/repository"
	"github.com/syncflow/server/internal/services"
)

// newAuthRouter mounts the auth handler at the same paths the server
// registers, including the bearer gate on complete.
func newAuthRouter(t *testing.T) *chi.Mux {
	t.Helper()
	db, err := repository.NewSQLiteDB(filepath.Join(t.TempDir(), "auth.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	userRepo := repository.NewUserRepository(db)
	deviceRepo := repository.NewDeviceRepository(db)
	pairingRepo := repository.NewPairingTokenRepository(db)
	revokedRepo := repository.NewRevokedTokenRepository(db)
	deviceKeyRepo := repository.NewDeviceKeyRepository(db)
	cursorRepo := repository.NewSyncCursorRepository(db)

	hub := services.NewHub()
	tokens := services.NewTokenService("handler-test-secret", time.Hour, 24*time.Hour, revokedRepo)
	authService := services.NewAuthService(userRepo, deviceRepo, tokens, nil)
	pairingService := services.NewPairingService(userRepo, deviceRepo, pairingRepo, tokens, hub,
		nil, 5*time.Minute, "https://sync.example.com")
	deviceService := services.NewDeviceService(deviceRepo, deviceKeyRepo, cursorRepo, hub)

	h := NewAuthHandler(authService, pairingService)

	r := chi.NewRouter()
	r.Post("/api/auth/anonymous", h.Anonymous)
	r.Post("/api/auth/pair/initiate", h.InitiatePairing)
	r.Get("/api/auth/pair/status/{token}", h.PairingStatus)
	r.Post("/api/auth/pair/redeem", h.RedeemPairing)
	r.Group(func(r chi.Router) {
		r.Use(middleware.BearerAuth(tokens, deviceService))
		r.Post("/api/auth/pair/complete", h.CompletePairing)
	})
	return r
}

func doJSON(t *testing.T, r http.Handler, method, path, bearer string, body, out interface{}) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if out != nil && rec.Code == http.StatusOK {
		require.NoError(t, json.NewDecoder(rec.Body).Decode(out))
	}
	return rec.Code
}

func TestAuthHandler_PairingRoutes(t *testing.T) {
	t.Run("the pairing flow runs over the documented paths", func(t *testing.T) {
		r := newAuthRouter(t)

		var approver models.AuthResponse
		code := doJSON(t, r, http.MethodPost, "/api/auth/anonymous", "",
			models.AnonymousAuthRequest{DeviceName: "Phone", DeviceType: "android"}, &approver)
		require.Equal(t, http.StatusOK, code)
		require.NotEmpty(t, approver.AccessToken)

		var initiated models.InitiatePairingResponse
		code = doJSON(t, r, http.MethodPost, "/api/auth/pair/initiate", "",
			models.InitiatePairingRequest{DeviceName: "Laptop", DeviceType: "desktop"}, &initiated)
		require.Equal(t, http.StatusOK, code)
		require.NotEmpty(t, initiated.PairingToken)

		var status models.PairingStatusResponse
		code = doJSON(t, r, http.MethodGet, "/api/auth/pair/status/"+initiated.PairingToken, "", nil, &status)
		require.Equal(t, http.StatusOK, code)
		assert.Equal(t, models.PairingStatusPending, status.Status)

		code = doJSON(t, r, http.MethodPost, "/api/auth/pair/complete", approver.AccessToken,
			models.CompletePairingRequest{Token: initiated.PairingToken, Approved: true}, &status)
		require.Equal(t, http.StatusOK, code)
		assert.True(t, status.Approved)

		var redeemed models.AuthResponse
		code = doJSON(t, r, http.MethodPost, "/api/auth/pair/redeem", "",
			models.RedeemPairingRequest{Token: initiated.PairingToken}, &redeemed)
		require.Equal(t, http.StatusOK, code)
		assert.Equal(t, approver.UserID, redeemed.UserID)
		assert.NotEmpty(t, redeemed.AccessToken)

		// Redeemed tokens read as gone.
		code = doJSON(t, r, http.MethodGet, "/api/auth/pair/status/"+initiated.PairingToken, "", nil, nil)
		assert.Equal(t, http.StatusNotFound, code)
	})

	t.Run("complete requires authentication", func(t *testing.T) {
		r := newAuthRouter(t)

		var initiated models.InitiatePairingResponse
		code := doJSON(t, r, http.MethodPost, "/api/auth/pair/initiate", "",
			models.InitiatePairingRequest{DeviceName: "Laptop", DeviceType: "desktop"}, &initiated)
		require.Equal(t, http.StatusOK, code)

		code = doJSON(t, r, http.MethodPost, "/api/auth/pair/complete", "",
			models.CompletePairingRequest{Token: initiated.PairingToken, Approved: true}, nil)
		assert.Equal(t, http.StatusUnauthorized, code)
	})

	t.Run("polling an unknown token reports not found", func(t *testing.T) {
		r := newAuthRouter(t)
		code := doJSON(t, r, http.MethodGet, "/api/auth/pair/status/no-such-token", "", nil, nil)
		assert.Equal(t, http.StatusNotFound, code)
	})
}
