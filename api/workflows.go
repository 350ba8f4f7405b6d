package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/amelia-run/amelia/ameliaerr"
	"github.com/amelia-run/amelia/pipeline"
	"github.com/amelia-run/amelia/scheduler"
	"github.com/amelia-run/amelia/store"
	"github.com/amelia-run/amelia/workflow"
)

type createWorkflowRequest struct {
	IssueID         string `json:"issue_id"`
	WorktreePath    string `json:"worktree_path"`
	ProfileID       string `json:"profile,omitempty"`
	TaskTitle       string `json:"task_title,omitempty"`
	TaskDescription string `json:"task_description,omitempty"`
	Start           *bool  `json:"start,omitempty"`
	PlanNow         bool   `json:"plan_now,omitempty"`
}

type createWorkflowResponse struct {
	WorkflowID string          `json:"workflow_id"`
	Status     workflow.Status `json:"status"`
}

// handleCreateWorkflow implements POST /workflows.
func (s *Server) handleCreateWorkflow(w http.ResponseWriter, r *http.Request) {
	var req createWorkflowRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.IssueID == "" || req.WorktreePath == "" {
		writeError(w, ameliaerr.User("issue_id and worktree_path are required"))
		return
	}

	profile, err := s.resolveProfile(r.Context(), req.ProfileID)
	if err != nil {
		writeError(w, err)
		return
	}
	if profile.Tracker == workflow.TrackerNoop && req.TaskDescription == "" {
		writeError(w, ameliaerr.User("task_description is required when profile tracker is noop"))
		return
	}
	if profile.Tracker != workflow.TrackerNoop && (req.TaskTitle != "" || req.TaskDescription != "") {
		writeError(w, ameliaerr.User("task_title/task_description are only accepted for a noop tracker profile"))
		return
	}

	start := true
	if req.Start != nil {
		start = *req.Start
	}
	typ := workflow.TypeFull
	if req.PlanNow {
		typ = workflow.TypePlanOnly
	}

	wf, err := s.scheduler.StartWorkflow(r.Context(), scheduler.StartRequest{
		IssueID:          req.IssueID,
		IssueDescription: req.TaskDescription,
		WorktreePath:     req.WorktreePath,
		Profile:          profile,
		Type:             typ,
		Start:            start,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	status := http.StatusAccepted
	if !start {
		status = http.StatusCreated
	}
	writeJSON(w, status, createWorkflowResponse{WorkflowID: wf.ID, Status: wf.Status})
}

// handleStartWorkflow implements POST /workflows/{id}/start.
func (s *Server) handleStartWorkflow(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	wf, err := s.scheduler.AdmitWorkflow(r.Context(), id)
	if err != nil {
		if err == store.ErrNotFound {
			writeJSON(w, http.StatusNotFound, errorBody{Error: "workflow not found"})
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, createWorkflowResponse{WorkflowID: wf.ID, Status: wf.Status})
}

type startBatchRequest struct {
	WorkflowIDs  []string `json:"workflow_ids,omitempty"`
	WorktreePath string   `json:"worktree_path,omitempty"`
}

type startBatchResponse struct {
	Started []string          `json:"started"`
	Errors  map[string]string `json:"errors"`
}

// handleStartBatch implements POST /workflows/start-batch.
func (s *Server) handleStartBatch(w http.ResponseWriter, r *http.Request) {
	var req startBatchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	ids := req.WorkflowIDs
	if req.WorktreePath != "" {
		pending, err := s.store.Workflows.List(r.Context(), workflow.StatusPending, req.WorktreePath)
		if err != nil {
			writeError(w, ameliaerr.Transient(err))
			return
		}
		for _, wf := range pending {
			ids = append(ids, wf.ID)
		}
	}

	resp := startBatchResponse{Started: []string{}, Errors: map[string]string{}}
	for _, id := range ids {
		if _, err := s.scheduler.AdmitWorkflow(r.Context(), id); err != nil {
			resp.Errors[id] = err.Error()
			continue
		}
		resp.Started = append(resp.Started, id)
	}
	writeJSON(w, http.StatusOK, resp)
}

type approvalRequest struct {
	Notes string `json:"notes,omitempty"`
}

// handleApprove implements POST /workflows/{id}/approve.
func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	s.decide(w, r, true)
}

// handleReject implements POST /workflows/{id}/reject.
func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	s.decide(w, r, false)
}

func (s *Server) decide(w http.ResponseWriter, r *http.Request, approved bool) {
	id := chi.URLParam(r, "id")
	var req approvalRequest
	_ = decodeJSON(r, &req) // an empty body is valid: approve/reject need no fields

	err := s.scheduler.ApproveWorkflow(r.Context(), id, pipeline.ApprovalDecision{
		Approved: approved,
		Notes:    req.Notes,
	})
	if err != nil {
		if err == store.ErrNotFound {
			writeJSON(w, http.StatusNotFound, errorBody{Error: "workflow not found"})
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// handleCancel implements POST /workflows/{id}/cancel.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.scheduler.CancelWorkflow(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelled"})
}

// handleGetWorkflow implements GET /workflows/{id}.
func (s *Server) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	wf, err := s.store.Workflows.Get(r.Context(), id)
	if err != nil {
		if err == store.ErrNotFound {
			writeJSON(w, http.StatusNotFound, errorBody{Error: "workflow not found"})
			return
		}
		writeError(w, ameliaerr.Transient(err))
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

// handleListWorkflows implements GET /workflows?status=&worktree=.
func (s *Server) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	status := workflow.Status(r.URL.Query().Get("status"))
	worktree := r.URL.Query().Get("worktree")
	workflows, err := s.store.Workflows.List(r.Context(), status, worktree)
	if err != nil {
		writeError(w, ameliaerr.Transient(err))
		return
	}
	writeJSON(w, http.StatusOK, workflows)
}

// resolveProfile loads the named profile, or the active profile when id is
// empty.
func (s *Server) resolveProfile(ctx context.Context, id string) (workflow.Profile, error) {
	if id != "" {
		p, err := s.store.Profiles.Get(ctx, id)
		if err == store.ErrNotFound {
			return workflow.Profile{}, ameliaerr.User("unknown profile: " + id)
		}
		return p, err
	}
	p, err := s.store.Profiles.GetActive(ctx)
	if err == store.ErrNotFound {
		return workflow.Profile{}, ameliaerr.User("no active profile configured")
	}
	return p, err
}
