package api

import (
	"net/http"

	"github.com/amelia-run/amelia/ameliaerr"
	"github.com/amelia-run/amelia/config"
)

// handleGetSettings implements GET /api/settings.
func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.store.Settings.Get(r.Context())
	if err != nil {
		writeError(w, ameliaerr.Transient(err))
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

// handleUpdateSettings implements PUT /api/settings. The new settings are
// persisted and replace the Server's snapshot; the Scheduler keeps the
// settings it was constructed with (its max_concurrent ceiling and retry
// policy) until the process restarts.
func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var settings config.ServerSettings
	if err := decodeJSON(r, &settings); err != nil {
		writeError(w, err)
		return
	}
	if settings.MaxConcurrent <= 0 {
		writeError(w, ameliaerr.User("max_concurrent must be positive"))
		return
	}
	if err := s.store.Settings.Set(r.Context(), settings); err != nil {
		writeError(w, ameliaerr.Transient(err))
		return
	}
	s.setSettings(settings)
	writeJSON(w, http.StatusOK, settings)
}

// handleResetSettings implements POST /api/settings/reset.
func (s *Server) handleResetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.store.Settings.Reset(r.Context())
	if err != nil {
		writeError(w, ameliaerr.Transient(err))
		return
	}
	s.setSettings(settings)
	writeJSON(w, http.StatusOK, settings)
}
