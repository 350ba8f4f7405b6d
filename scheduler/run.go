package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dshills/langgraph-go/graph"
	gstore "github.com/dshills/langgraph-go/graph/store"

	"github.com/amelia-run/amelia/ameliaerr"
	"github.com/amelia-run/amelia/pipeline"
	"github.com/amelia-run/amelia/store"
	"github.com/amelia-run/amelia/workflow"
)

// StartRequest is the caller-supplied intent for a new workflow.
type StartRequest struct {
	IssueID          string
	IssueDescription string
	WorktreePath     string
	Profile          workflow.Profile
	Type             workflow.Type
	AllowedTools     []string
	AutoApprove      bool

	// Start admits the workflow into the scheduler immediately. When
	// false, StartWorkflow only persists a pending row (still claiming
	// req.WorktreePath via the store's partial unique index) and the
	// caller must admit it later with AdmitWorkflow.
	Start bool
}

// StartWorkflow admits req under the per-worktree exclusion and
// max_concurrent ceiling, persists the new workflow record, and — unless
// req.Start is false — begins driving its pipeline graph in a background
// goroutine. It returns as soon as admission succeeds; the returned
// Workflow's Status is StatusPending.
func (s *Scheduler) StartWorkflow(ctx context.Context, req StartRequest) (workflow.Workflow, error) {
	wf := workflow.Workflow{
		ID:               s.newWorkflowID(),
		IssueID:          req.IssueID,
		WorktreePath:     req.WorktreePath,
		ProfileID:        req.Profile.ID,
		Status:           workflow.StatusPending,
		Type:             req.Type,
		IssueDescription: req.IssueDescription,
		CreatedAt:        time.Now().UTC(),
	}

	if !req.Start {
		if err := s.workflows.Create(ctx, wf); err != nil {
			if err == store.ErrConflict {
				return workflow.Workflow{}, ameliaerr.Conflict("")
			}
			return workflow.Workflow{}, ameliaerr.Transient(err)
		}
		return wf, nil
	}

	s.mu.Lock()
	if existing, ok := s.byWorktree[req.WorktreePath]; ok {
		s.mu.Unlock()
		return workflow.Workflow{}, ameliaerr.Conflict(existing.workflowID)
	}
	if len(s.byWorkflow) >= s.settings.MaxConcurrent {
		s.mu.Unlock()
		return workflow.Workflow{}, ameliaerr.Capacity(fmt.Sprintf("max_concurrent (%d) reached", s.settings.MaxConcurrent))
	}

	if err := s.workflows.Create(ctx, wf); err != nil {
		s.mu.Unlock()
		if err == store.ErrConflict {
			return workflow.Workflow{}, ameliaerr.Conflict("")
		}
		return workflow.Workflow{}, ameliaerr.Transient(err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	task := &activeTask{workflowID: wf.ID, worktreePath: req.WorktreePath, cancel: cancel}
	s.byWorktree[req.WorktreePath] = task
	s.byWorkflow[wf.ID] = task
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.drive(runCtx, wf, req)
	}()

	return wf, nil
}

// drive runs wf's pipeline graph to completion, suspension, or terminal
// failure, retrying Transient errors under the scheduler's retryPolicy and
// translating the outcome into workflow.Event + workflow.Status updates.
func (s *Scheduler) drive(ctx context.Context, wf workflow.Workflow, req StartRequest) {
	cfg := pipeline.RunConfig{
		ThreadID:         wf.ID,
		ExecutionMode:    string(req.Type),
		Profile:          req.Profile,
		Repository:       req.WorktreePath,
		AllowedTools:     req.AllowedTools,
		MaxPlanRevisions: req.Profile.MaxReviewIters,
	}
	if err := cfg.Validate(); err != nil {
		s.fail(ctx, wf.ID, "", err)
		return
	}

	_ = s.workflows.SetStatus(ctx, wf.ID, workflow.StatusInProgress, "")
	_, _ = s.recorder.Record(ctx, workflow.Event{WorkflowID: wf.ID, Level: workflow.LevelInfo, EventType: workflow.EventWorkflowStarted})

	initial := pipeline.Initial(cfg, req.IssueDescription)
	initial.AutoApprove = req.AutoApprove

	engine, err := s.buildEngine(cfg)
	if err != nil {
		s.fail(ctx, wf.ID, "", err)
		return
	}

	var final pipeline.State
	for attempt := 1; ; attempt++ {
		if attempt == 1 {
			final, err = engine.Run(ctx, wf.ID, initial)
		} else {
			final, err = s.resumeFromLatestStep(ctx, engine, wf.ID, initial)
		}
		if err == nil {
			break
		}
		class := Classify(err)
		if class != ClassTransient || attempt >= s.retry.maxAttempts {
			s.fail(ctx, wf.ID, final.DriverSessionID, err)
			return
		}
		_, _ = s.recorder.Record(ctx, workflow.Event{
			WorkflowID: wf.ID, Level: workflow.LevelWarning, EventType: workflow.EventWorkflowRetry,
			Message: fmt.Sprintf("retrying after transient failure (attempt %d/%d)", attempt, s.retry.maxAttempts),
		})
		if werr := s.retry.wait(ctx, attempt); werr != nil {
			s.fail(ctx, wf.ID, final.DriverSessionID, werr)
			return
		}
	}

	s.settle(ctx, wf.ID, final)
}

// cleanupSession best-effort releases the driver session a completed or
// terminally failed run held open, via Driver.CleanupSession. A blocked run
// (settle's PendingUserInput branch) deliberately does not call this: its
// session must survive until the approval resumes or the workflow is
// cancelled.
func (s *Scheduler) cleanupSession(ctx context.Context, sessionID string) {
	if s.driver == nil || sessionID == "" {
		return
	}
	if err := s.driver.CleanupSession(ctx, sessionID); err != nil {
		s.log.Warn(ctx, "failed to clean up driver session", "session_id", sessionID, "error", err)
	}
}

// resumeFromLatestStep retries a failed run from the last step the engine
// auto-checkpointed via gstore.Store.SaveStep, rather than restarting the
// whole graph from its entry node the way a plain engine.Run retry would:
// every node already completed before the transient failure (plan drafts,
// developer turns) would otherwise be redone, producing duplicate
// STAGE_STARTED/STAGE_COMPLETED events and wasted agent turns. It promotes
// the latest auto-checkpoint to a named one since engine.ResumeFromCheckpoint
// only reads from the named-checkpoint path, then resumes at the State's own
// ResumePoint. If no step was ever saved (the failure happened before the
// first node committed), it falls back to a fresh engine.Run from seed.
func (s *Scheduler) resumeFromLatestStep(ctx context.Context, engine *graph.Engine[pipeline.State], runID string, seed pipeline.State) (pipeline.State, error) {
	state, step, err := s.checkpoints.LoadLatest(ctx, runID)
	if errors.Is(err, gstore.ErrNotFound) {
		return engine.Run(ctx, runID, seed)
	}
	if err != nil {
		return pipeline.State{}, fmt.Errorf("scheduler: load latest step for retry: %w", err)
	}
	if state.ResumePoint == "" {
		return engine.Run(ctx, runID, seed)
	}
	if err := s.checkpoints.SaveCheckpoint(ctx, runID, state, step); err != nil {
		return pipeline.State{}, fmt.Errorf("scheduler: promote retry checkpoint: %w", err)
	}
	return engine.ResumeFromCheckpoint(ctx, runID, runID, state.ResumePoint)
}

// settle records the terminal or suspended outcome of one graph run: a run
// that stopped with PendingUserInput transitions to blocked and stays in
// the active-task cache (the worktree lock must hold until the workflow
// is approved, rejected, or cancelled); every other outcome is terminal
// and the workflow is released from the cache.
func (s *Scheduler) settle(ctx context.Context, workflowID string, final pipeline.State) {
	planCache, _ := planCacheOf(final)

	if final.PendingUserInput {
		_ = s.workflows.UpdateCaches(ctx, workflowID, planCache, nil)
		_ = s.workflows.SetStatus(ctx, workflowID, workflow.StatusBlocked, "")
		_, _ = s.recorder.Record(ctx, workflow.Event{
			WorkflowID: workflowID, Level: workflow.LevelInfo, EventType: workflow.EventApprovalRequired,
		})
		if err := s.checkpoints.SaveCheckpoint(ctx, workflowID, final, 0); err != nil {
			s.log.Error(ctx, "failed to save approval checkpoint", "workflow_id", workflowID, "error", err)
		}
		return
	}

	if final.Error != "" {
		s.fail(ctx, workflowID, final.DriverSessionID, fmt.Errorf("%s", final.Error))
		return
	}

	_ = s.workflows.UpdateCaches(ctx, workflowID, planCache, nil)
	_ = s.workflows.SetStatus(ctx, workflowID, workflow.StatusCompleted, "")
	_, _ = s.recorder.Record(ctx, workflow.Event{
		WorkflowID: workflowID, Level: workflow.LevelInfo, EventType: workflow.EventWorkflowCompleted,
		Message: final.FinalResponse,
	})
	s.cleanupSession(ctx, final.DriverSessionID)
	s.release(workflowID)
}

func (s *Scheduler) fail(ctx context.Context, workflowID, sessionID string, cause error) {
	_ = s.workflows.SetStatus(ctx, workflowID, workflow.StatusFailed, cause.Error())
	_, _ = s.recorder.Record(ctx, workflow.Event{
		WorkflowID: workflowID, Level: workflow.LevelError, EventType: workflow.EventWorkflowFailed,
		Message: cause.Error(), IsError: true,
	})
	s.cleanupSession(ctx, sessionID)
	s.release(workflowID)
}

func (s *Scheduler) release(workflowID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.byWorkflow[workflowID]
	if !ok {
		return
	}
	delete(s.byWorkflow, workflowID)
	delete(s.byWorktree, t.worktreePath)
}

// AdmitWorkflow admits a workflow previously created with
// StartRequest.Start == false, registering it under the per-worktree
// exclusion and concurrency ceiling and beginning its drive loop.
// allowedTools and autoApprove are not persisted on the workflow row
// (spec.md leaves the caller responsible for resupplying per-admission
// tuning), so AdmitWorkflow runs with no tool restriction and no
// auto-approval by default.
func (s *Scheduler) AdmitWorkflow(ctx context.Context, workflowID string) (workflow.Workflow, error) {
	wf, err := s.workflows.Get(ctx, workflowID)
	if err != nil {
		return workflow.Workflow{}, err
	}
	if wf.Status != workflow.StatusPending {
		return workflow.Workflow{}, ameliaerr.User(fmt.Sprintf("workflow %s is not pending", workflowID))
	}
	profile, err := s.profiles.Get(ctx, wf.ProfileID)
	if err != nil {
		return workflow.Workflow{}, fmt.Errorf("scheduler: load profile %s: %w", wf.ProfileID, err)
	}

	s.mu.Lock()
	if existing, ok := s.byWorktree[wf.WorktreePath]; ok {
		s.mu.Unlock()
		return workflow.Workflow{}, ameliaerr.Conflict(existing.workflowID)
	}
	if len(s.byWorkflow) >= s.settings.MaxConcurrent {
		s.mu.Unlock()
		return workflow.Workflow{}, ameliaerr.Capacity(fmt.Sprintf("max_concurrent (%d) reached", s.settings.MaxConcurrent))
	}
	runCtx, cancel := context.WithCancel(context.Background())
	task := &activeTask{workflowID: wf.ID, worktreePath: wf.WorktreePath, cancel: cancel}
	s.byWorktree[wf.WorktreePath] = task
	s.byWorkflow[wf.ID] = task
	s.mu.Unlock()

	req := StartRequest{
		IssueID:          wf.IssueID,
		IssueDescription: wf.IssueDescription,
		WorktreePath:     wf.WorktreePath,
		Profile:          profile,
		Type:             wf.Type,
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.drive(runCtx, wf, req)
	}()
	return wf, nil
}

// ApproveWorkflow resumes a blocked workflow's pipeline graph from its
// saved approval checkpoint, patching in the caller's decision before
// re-entering at human_approval_node.
func (s *Scheduler) ApproveWorkflow(ctx context.Context, workflowID string, decision pipeline.ApprovalDecision) error {
	wf, err := s.workflows.Get(ctx, workflowID)
	if err != nil {
		return err
	}
	if wf.Status != workflow.StatusBlocked {
		return ameliaerr.User(fmt.Sprintf("workflow %s is not awaiting approval", workflowID))
	}

	state, _, err := s.checkpoints.LoadCheckpoint(ctx, workflowID)
	if err != nil {
		return fmt.Errorf("scheduler: load approval checkpoint: %w", err)
	}
	state.ApprovalDecision = &decision
	state.PendingUserInput = false
	if err := s.checkpoints.SaveCheckpoint(ctx, workflowID, state, 0); err != nil {
		return fmt.Errorf("scheduler: save patched checkpoint: %w", err)
	}

	profile, err := s.profiles.Get(ctx, wf.ProfileID)
	if err != nil {
		return fmt.Errorf("scheduler: load profile %s: %w", wf.ProfileID, err)
	}

	s.mu.Lock()
	if _, exists := s.byWorkflow[workflowID]; exists {
		s.mu.Unlock()
		return ameliaerr.Conflict(workflowID)
	}
	runCtx, cancel := context.WithCancel(context.Background())
	task := &activeTask{workflowID: workflowID, worktreePath: wf.WorktreePath, cancel: cancel}
	s.byWorktree[wf.WorktreePath] = task
	s.byWorkflow[workflowID] = task
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.resume(runCtx, wf, profile)
	}()
	return nil
}

// resume reloads the graph for wf's profile and resumes execution from the
// just-patched approval checkpoint. Unexpected interrupts encountered after
// approval are logged but do not re-block.
func (s *Scheduler) resume(ctx context.Context, wf workflow.Workflow, profile workflow.Profile) {
	cfg := pipeline.RunConfig{
		ThreadID:         wf.ID,
		ExecutionMode:    string(wf.Type),
		Profile:          profile,
		Repository:       wf.WorktreePath,
		MaxPlanRevisions: profile.MaxReviewIters,
	}
	_ = s.workflows.SetStatus(ctx, wf.ID, workflow.StatusInProgress, "")
	_, _ = s.recorder.Record(ctx, workflow.Event{WorkflowID: wf.ID, Level: workflow.LevelInfo, EventType: workflow.EventApprovalGranted})

	engine, err := s.buildEngine(cfg)
	if err != nil {
		s.fail(ctx, wf.ID, "", err)
		return
	}
	final, err := engine.ResumeFromCheckpoint(ctx, wf.ID, wf.ID, pipeline.NodeHumanApproval)
	if err != nil {
		s.fail(ctx, wf.ID, "", err)
		return
	}
	if final.PendingUserInput {
		s.log.Warn(ctx, "unexpected re-interrupt after approval, not re-blocking", "workflow_id", wf.ID)
		final.PendingUserInput = false
	}
	s.settle(ctx, wf.ID, final)
}

// CancelWorkflow cancels an active workflow's run context and marks it
// cancelled. Best-effort: the run's own goroutine observes ctx.Done and
// unwinds at its next node boundary.
func (s *Scheduler) CancelWorkflow(ctx context.Context, workflowID string) error {
	s.mu.Lock()
	t, ok := s.byWorkflow[workflowID]
	s.mu.Unlock()
	if !ok {
		return ameliaerr.User(fmt.Sprintf("workflow %s is not active", workflowID))
	}
	t.cancel()
	if err := s.workflows.SetStatus(ctx, workflowID, workflow.StatusCancelled, "cancelled by request"); err != nil {
		return err
	}
	_, _ = s.recorder.Record(ctx, workflow.Event{
		WorkflowID: workflowID, Level: workflow.LevelWarning, EventType: workflow.EventWorkflowCancelled,
	})
	if state, _, err := s.checkpoints.LoadLatest(ctx, workflowID); err == nil {
		s.cleanupSession(ctx, state.DriverSessionID)
	}
	s.release(workflowID)
	return nil
}

// planCacheOf extracts a display-only snapshot of the drafted plan for
// workflow.Workflow.PlanCache, used while a workflow is blocked awaiting
// approval so REST reads don't need a checkpoint-store round trip.
func planCacheOf(s pipeline.State) (map[string]any, error) {
	if len(s.Plan.Tasks) == 0 && s.Plan.Summary == "" {
		return nil, nil
	}
	tasks := make([]any, 0, len(s.Plan.Tasks))
	for _, t := range s.Plan.Tasks {
		tasks = append(tasks, map[string]any{"id": t.ID, "title": t.Title, "description": t.Description, "files": t.Files})
	}
	return map[string]any{"summary": s.Plan.Summary, "tasks": tasks}, nil
}
