package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// ViewProvider supplies the current session view, if a session exists.
type ViewProvider interface {
	CurrentView() (View, bool)
}

// StatsProvider supplies metric counters.
type StatsProvider interface {
	Stats() Stats
}

// HealthResponse is returned by GET /health
type HealthResponse struct {
	Status    string `json:"status"`
	LobbyCode string `json:"lobby_code,omitempty"`
	Connected bool   `json:"connected"`
	Uptime    string `json:"uptime"`
}

// StateHandler serves the local session state to presentation layers
type StateHandler struct {
	views     ViewProvider
	stats     StatsProvider
	startedAt time.Time
}

// NewStateHandler creates a new state handler. stats may be nil.
func NewStateHandler(views ViewProvider, stats StatsProvider) *StateHandler {
	return &StateHandler{
		views:     views,
		stats:     stats,
		startedAt: time.Now(),
	}
}

// HandleHealth handles GET /health
func (h *StateHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status: "ok",
		Uptime: time.Since(h.startedAt).Round(time.Second).String(),
	}
	if v, ok := h.views.CurrentView(); ok {
		resp.LobbyCode = v.LobbyCode
		resp.Connected = v.Connected
		if !v.Connected {
			resp.Status = "disconnected"
		}
	} else {
		resp.Status = "idle"
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleGetState handles GET /state
func (h *StateHandler) HandleGetState(w http.ResponseWriter, r *http.Request) {
	v, ok := h.views.CurrentView()
	if !ok {
		http.Error(w, "No active lobby", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// HandleGetStats handles GET /stats
func (h *StateHandler) HandleGetStats(w http.ResponseWriter, r *http.Request) {
	if h.stats == nil {
		writeJSON(w, http.StatusOK, Stats{})
		return
	}
	writeJSON(w, http.StatusOK, h.stats.Stats())
}

// RegisterRoutes registers state-related HTTP routes
func (h *StateHandler) RegisterRoutes(r chi.Router) {
	r.Get("/health", h.HandleHealth)
	r.Get("/state", h.HandleGetState)
	r.Get("/stats", h.HandleGetStats)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}
