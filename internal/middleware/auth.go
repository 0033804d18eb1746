package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/syncflow/server/internal/models"
	"github.com/syncflow/server/internal/services"
)

type contextKey string

const claimsContextKey contextKey = "claims"

// GetClaimsFromContext retrieves the verified token claims from request
// context.
func GetClaimsFromContext(ctx context.Context) *services.Claims {
	if claims, ok := ctx.Value(claimsContextKey).(*services.Claims); ok {
		return claims
	}
	return nil
}

// BearerAuth creates middleware that verifies the Authorization bearer token
// and stashes its claims in the request context. Every authenticated request
// also counts as a device heartbeat.
func BearerAuth(tokens *services.TokenService, devices *services.DeviceService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				unauthorized(w)
				return
			}

			claims, err := tokens.Verify(r.Context(), strings.TrimPrefix(header, "Bearer "), services.TokenTypeAccess)
			if err != nil {
				unauthorized(w)
				return
			}

			if devices != nil {
				devices.Touch(r.Context(), claims.DeviceID)
			}

			ctx := context.WithValue(r.Context(), claimsContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin creates middleware gating admin routes on the token's admin
// claim. Must run after BearerAuth.
func RequireAdmin() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := GetClaimsFromContext(r.Context())
			if claims == nil {
				unauthorized(w)
				return
			}
			if !claims.Admin {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				json.NewEncoder(w).Encode(models.ErrorResponse{Error: "Admin access required."})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(models.ErrorResponse{Error: models.ErrInvalidToken.Error()})
}
