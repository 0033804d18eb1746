package middleware

import (
	"encoding/json"
	"math"
	"net"
	"net/http"
	"strconv"

	"github.com/syncflow/server/internal/models"
	"github.com/syncflow/server/internal/services"
)

// RateLimit creates middleware counting requests against a fixed window per
// caller. Authenticated requests key on the effective user so a user's
// devices share one budget; anonymous ones (pairing initiate, redeem) key on
// the client IP.
func RateLimit(limiter *services.RateLimiter, prefix string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := clientIP(r)
			if claims := GetClaimsFromContext(r.Context()); claims != nil {
				key = claims.EffectiveUserID()
			}

			decision := limiter.Allow(r.Context(), prefix, key)
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))

			if !decision.Allowed {
				retryAfter := int(math.Ceil(decision.ResetIn.Seconds()))
				if retryAfter < 1 {
					retryAfter = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				json.NewEncoder(w).Encode(models.ErrorResponse{
					Error:      "Too many requests.",
					RetryAfter: retryAfter,
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientIP strips the ephemeral source port so every connection from a host
// counts against the same window. RemoteAddr is already the real client when
// chi's RealIP middleware has rewritten it from proxy headers.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
