package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/amelia-run/amelia/ameliaerr"
	"github.com/amelia-run/amelia/store"
	"github.com/amelia-run/amelia/workflow"
)

// handleListProfiles implements GET /api/profiles.
func (s *Server) handleListProfiles(w http.ResponseWriter, r *http.Request) {
	profiles, err := s.store.Profiles.List(r.Context())
	if err != nil {
		writeError(w, ameliaerr.Transient(err))
		return
	}
	writeJSON(w, http.StatusOK, profiles)
}

// handleGetProfile implements GET /api/profiles/{id}.
func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p, err := s.store.Profiles.Get(r.Context(), id)
	if err != nil {
		if err == store.ErrNotFound {
			writeJSON(w, http.StatusNotFound, errorBody{Error: "profile not found"})
			return
		}
		writeError(w, ameliaerr.Transient(err))
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type profileRequest struct {
	Name           string                          `json:"name"`
	Tracker        workflow.TrackerKind             `json:"tracker"`
	WorkingDirRoot string                          `json:"working_dir_root"`
	PlanOutputDir  string                          `json:"plan_output_dir,omitempty"`
	MaxReviewIters int                             `json:"max_review_iterations,omitempty"`
	Agents         map[string]workflow.AgentConfig `json:"agents,omitempty"`
	Sandbox        workflow.SandboxConfig          `json:"sandbox,omitempty"`
}

// handleCreateProfile implements POST /api/profiles.
func (s *Server) handleCreateProfile(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Name == "" || req.WorkingDirRoot == "" {
		writeError(w, ameliaerr.User("name and working_dir_root are required"))
		return
	}

	now := time.Now().UTC()
	p := workflow.Profile{
		ID:             uuid.NewString(),
		Name:           req.Name,
		Tracker:        req.Tracker,
		WorkingDirRoot: req.WorkingDirRoot,
		PlanOutputDir:  req.PlanOutputDir,
		MaxReviewIters: req.MaxReviewIters,
		Agents:         req.Agents,
		Sandbox:        req.Sandbox,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if p.Tracker == "" {
		p.Tracker = workflow.TrackerNoop
	}
	if p.MaxReviewIters == 0 {
		p.MaxReviewIters = s.currentSettings().MaxReviewIterations
	}

	if err := s.store.Profiles.Create(r.Context(), p); err != nil {
		writeError(w, ameliaerr.Transient(err))
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// handleUpdateProfile implements PUT /api/profiles/{id}.
func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	existing, err := s.store.Profiles.Get(r.Context(), id)
	if err != nil {
		if err == store.ErrNotFound {
			writeJSON(w, http.StatusNotFound, errorBody{Error: "profile not found"})
			return
		}
		writeError(w, ameliaerr.Transient(err))
		return
	}

	var req profileRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	existing.Name = req.Name
	existing.Tracker = req.Tracker
	existing.WorkingDirRoot = req.WorkingDirRoot
	existing.PlanOutputDir = req.PlanOutputDir
	existing.MaxReviewIters = req.MaxReviewIters
	existing.Agents = req.Agents
	existing.Sandbox = req.Sandbox

	if err := s.store.Profiles.Update(r.Context(), existing); err != nil {
		writeError(w, ameliaerr.Transient(err))
		return
	}
	writeJSON(w, http.StatusOK, existing)
}

// handleDeleteProfile implements DELETE /api/profiles/{id}.
func (s *Server) handleDeleteProfile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.store.Profiles.Delete(r.Context(), id); err != nil {
		writeError(w, ameliaerr.Transient(err))
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

// handleActivateProfile implements POST /api/profiles/{id}/activate.
func (s *Server) handleActivateProfile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.store.Profiles.SetActive(r.Context(), id); err != nil {
		if err == store.ErrNotFound {
			writeJSON(w, http.StatusNotFound, errorBody{Error: "profile not found"})
			return
		}
		writeError(w, ameliaerr.Transient(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "activated"})
}
