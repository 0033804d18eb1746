package middleware

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"github.com/syncflow/server/internal/models"
)

// MaintenanceState is the process-wide maintenance flag, toggled by the
// admin surface and consulted by the gate middleware.
type MaintenanceState struct {
	mu      sync.RWMutex
	enabled bool
	message string
}

// NewMaintenanceState creates a disabled maintenance flag.
func NewMaintenanceState() *MaintenanceState {
	return &MaintenanceState{message: "Server is undergoing maintenance. Please try again shortly."}
}

// Set toggles maintenance mode. An empty message keeps the previous one.
func (m *MaintenanceState) Set(enabled bool, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = enabled
	if message != "" {
		m.message = message
	}
}

// Get returns the current flag and message.
func (m *MaintenanceState) Get() (bool, string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.enabled, m.message
}

// MaintenanceGate creates middleware that serves 503 to everything except
// health checks, admin routes and swagger while maintenance mode is on.
// Admin stays reachable so someone can turn it back off.
func MaintenanceGate(state *MaintenanceState) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			enabled, message := state.Get()
			if !enabled {
				next.ServeHTTP(w, r)
				return
			}

			path := r.URL.Path
			if path == "/health" || path == "/api/health" ||
				strings.HasPrefix(path, "/api/admin") ||
				strings.HasPrefix(path, "/swagger") {
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(models.MaintenanceResponse{
				Maintenance: true,
				Message:     message,
			})
		})
	}
}
