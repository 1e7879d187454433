package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/quizsync/go/internal/models"
)

type stubViews struct {
	view View
	ok   bool
}

func (s stubViews) CurrentView() (View, bool) { return s.view, s.ok }

func newTestRouter(views ViewProvider, stats StatsProvider) http.Handler {
	r := chi.NewRouter()
	NewStateHandler(views, stats).RegisterRoutes(r)
	return r
}

func TestStateHandlerState(t *testing.T) {
	view := View{
		LobbyCode: testLobby,
		PlayerID:  1,
		Connected: true,
		IsHost:    true,
		Snapshot: models.LobbySnapshot{
			LobbyCode: testLobby,
			Players:   []models.PlayerState{{ID: 1, DisplayName: "Alice", IsHost: true}},
			Phase:     models.GamePhaseWaiting,
		},
	}
	router := newTestRouter(stubViews{view: view, ok: true}, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/state", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var got View
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, testLobby, got.LobbyCode)
	assert.True(t, got.IsHost)
	assert.Equal(t, "Alice", got.Snapshot.Players[0].DisplayName)
}

func TestStateHandlerNoLobby(t *testing.T) {
	router := newTestRouter(stubViews{}, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/state", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var health HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "idle", health.Status)
}

func TestStateHandlerHealthDisconnected(t *testing.T) {
	router := newTestRouter(stubViews{view: View{LobbyCode: testLobby}, ok: true}, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	var health HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "disconnected", health.Status)
	assert.Equal(t, testLobby, health.LobbyCode)
}

func TestStateHandlerStats(t *testing.T) {
	metrics := NewCounterMetrics()
	metrics.RecordSnapshotApplied(false)
	metrics.RecordSnapshotApplied(true)
	metrics.RecordProtocolError()

	router := newTestRouter(stubViews{}, metrics)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var stats Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, int64(2), stats.SnapshotsApplied)
	assert.Equal(t, int64(1), stats.DuplicateSnapshots)
	assert.Equal(t, int64(1), stats.ProtocolErrors)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/stats", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
