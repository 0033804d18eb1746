package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncflow/server/internal/models"
	"github.com/syncflow/server/internal/repository"
)

type deadCounterStore struct{}

func (deadCounterStore) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	return 0, errors.New("connection refused")
}

func (deadCounterStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	return 0, errors.New("connection refused")
}

func (deadCounterStore) Ping(ctx context.Context) error {
	return errors.New("connection refused")
}

func TestHealthHandler_Check(t *testing.T) {
	newDB := func(t *testing.T) *sql.DB {
		t.Helper()
		db, err := repository.NewSQLiteDB(filepath.Join(t.TempDir(), "health.db"))
		require.NoError(t, err)
		t.Cleanup(func() { db.Close() })
		return db
	}

	check := func(t *testing.T, h *HealthHandler) (int, models.HealthResponse) {
		t.Helper()
		rec := httptest.NewRecorder()
		h.Check(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
		var resp models.HealthResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		return rec.Code, resp
	}

	t.Run("healthy dependencies report 200", func(t *testing.T) {
		h := NewHealthHandler(newDB(t), repository.NewMemoryCounterStore())
		code, resp := check(t, h)
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, "healthy", resp.Status)
		assert.Equal(t, "ok", resp.Services["database"])
		assert.Equal(t, "ok", resp.Services["redis"])
	})

	t.Run("an unreachable counter store reports 503", func(t *testing.T) {
		h := NewHealthHandler(newDB(t), deadCounterStore{})
		code, resp := check(t, h)
		assert.Equal(t, http.StatusServiceUnavailable, code)
		assert.Equal(t, "unhealthy", resp.Status)
		assert.Equal(t, "ok", resp.Services["database"])
		assert.Equal(t, "unreachable", resp.Services["redis"])
	})

	t.Run("an unreachable database reports 503", func(t *testing.T) {
		db := newDB(t)
		db.Close()
		h := NewHealthHandler(db, repository.NewMemoryCounterStore())
		code, resp := check(t, h)
		assert.Equal(t, http.StatusServiceUnavailable, code)
		assert.Equal(t, "unhealthy", resp.Status)
		assert.Equal(t, "unreachable", resp.Services["database"])
	})
}
