package api

import (
	"net/http"
	"strings"

	"github.com/amelia-run/amelia/ameliaerr"
)

type oracleConsultRequest struct {
	Problem    string   `json:"problem"`
	WorkingDir string   `json:"working_dir"`
	Files      []string `json:"files,omitempty"`
	Model      string   `json:"model,omitempty"`
	ProfileID  string   `json:"profile_id,omitempty"`
}

type oracleConsultResponse struct {
	Advice       string `json:"advice"`
	Consultation any    `json:"consultation"`
}

// handleOracleConsult implements POST /api/oracle/consult. working_dir must
// fall within the resolved profile's working_dir_root; every other profile
// boundary is enforced by the pipeline, not this surface.
func (s *Server) handleOracleConsult(w http.ResponseWriter, r *http.Request) {
	var req oracleConsultRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Problem == "" || req.WorkingDir == "" {
		writeError(w, ameliaerr.User("problem and working_dir are required"))
		return
	}

	profile, err := s.resolveProfile(r.Context(), req.ProfileID)
	if err != nil {
		writeError(w, err)
		return
	}
	if !withinRoot(profile.WorkingDirRoot, req.WorkingDir) {
		writeError(w, ameliaerr.User("working_dir is outside the profile's working_dir_root"))
		return
	}

	consultation, err := s.oracle.Consult(r.Context(), req.Problem, req.WorkingDir, req.Files, req.Model)
	if err != nil {
		writeError(w, ameliaerr.Transient(err))
		return
	}

	writeJSON(w, http.StatusAccepted, oracleConsultResponse{
		Advice:       consultation.Advice,
		Consultation: consultation,
	})
}

// withinRoot reports whether dir is root or a descendant of it, guarding
// against a bare prefix match ("/repo-2" is not within "/repo").
func withinRoot(root, dir string) bool {
	root = strings.TrimRight(root, "/")
	if dir == root {
		return true
	}
	return strings.HasPrefix(dir, root+"/")
}
