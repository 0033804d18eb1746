package handlers

import (
	"database/sql"
	"net/http"

	"github.com/syncflow/server/internal/models"
	"github.com/syncflow/server/internal/repository"
)

// HealthHandler handles health check requests
type HealthHandler struct {
	db    *sql.DB
	store repository.CounterStore
}

// NewHealthHandler creates a new HealthHandler
func NewHealthHandler(db *sql.DB, store repository.CounterStore) *HealthHandler {
	return &HealthHandler{db: db, store: store}
}

// Check reports the health of the server and its backing services
// @Summary Health check
// @Tags health
// @Produce json
// @Success 200 {object} models.HealthResponse
// @Failure 503 {object} models.HealthResponse
// @Router /api/health [get]
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	resp := models.HealthResponse{
		Status:   "healthy",
		Services: map[string]string{},
	}

	if err := h.db.PingContext(r.Context()); err != nil {
		resp.Status = "unhealthy"
		resp.Services["database"] = "unreachable"
	} else {
		resp.Services["database"] = "ok"
	}

	if err := h.store.Ping(r.Context()); err != nil {
		resp.Status = "unhealthy"
		resp.Services["redis"] = "unreachable"
	} else {
		resp.Services["redis"] = "ok"
	}

	status := http.StatusOK
	if resp.Status == "unhealthy" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
