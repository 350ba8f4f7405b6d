package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/langgraph-go/graph"
	"github.com/dshills/langgraph-go/graph/emit"

	"github.com/amelia-run/amelia/agent"
	"github.com/amelia-run/amelia/config"
	"github.com/amelia-run/amelia/driver"
	"github.com/amelia-run/amelia/eventbus"
	"github.com/amelia-run/amelia/pipeline"
	"github.com/amelia-run/amelia/store"
	"github.com/amelia-run/amelia/telemetry"
	"github.com/amelia-run/amelia/workflow"
)

// Agents bundles the stateless agent-role wrappers the scheduler drives the
// pipeline graph with. Constructed once at boot (each wraps an
// eventbus.Recorder, and every role but PlanValidator also a driver.Driver;
// neither varies per run) and shared by every workflow the scheduler admits.
type Agents struct {
	Architect     *agent.Architect
	PlanValidator *agent.PlanValidator
	Developer     *agent.Developer
	Reviewer      *agent.Reviewer
	Evaluator     *agent.Evaluator // optional: nil skips the closing evaluation step
}

// activeTask is the scheduler's record of one currently-admitted workflow,
// keyed by both worktree path (for the exclusion check) and workflow ID
// (for approve/cancel lookups).
type activeTask struct {
	workflowID   string
	worktreePath string
	cancel       context.CancelFunc
}

// Scheduler is the C6 Orchestrator: it admits workflows under per-worktree
// exclusion and a global concurrency ceiling, compiles and drives each
// admitted workflow's pipeline graph, and reaps orphaned work at startup
// and shutdown.
type Scheduler struct {
	mu          sync.Mutex // start_lock: serializes admission with cache mutation
	byWorktree  map[string]*activeTask
	byWorkflow  map[string]*activeTask

	workflows   *store.WorkflowStore
	profiles    *store.ProfileStore
	checkpoints *pipeline.Store
	recorder    *eventbus.Recorder
	emitter     emit.Emitter
	agents      Agents
	driver      driver.Driver
	settings    config.ServerSettings
	retry       retryPolicy
	log         telemetry.Logger

	wg sync.WaitGroup
}

// New constructs a Scheduler. Call Start before admitting any workflow. d is
// the same driver.Driver every Agents wrapper was built with; the scheduler
// calls d.CleanupSession at a workflow's terminal lifecycle points so a
// session opened by the architect/developer's driver.Turn.SessionID doesn't
// outlive the run that owns it.
func New(workflows *store.WorkflowStore, profiles *store.ProfileStore, checkpoints *pipeline.Store, recorder *eventbus.Recorder, emitter emit.Emitter, agents Agents, d driver.Driver, settings config.ServerSettings, log telemetry.Logger) *Scheduler {
	return &Scheduler{
		byWorktree:  make(map[string]*activeTask),
		byWorkflow:  make(map[string]*activeTask),
		workflows:   workflows,
		profiles:    profiles,
		checkpoints: checkpoints,
		recorder:    recorder,
		emitter:     emitter,
		agents:      agents,
		driver:      d,
		settings:    settings,
		retry:       newRetryPolicy(settings),
		log:         log,
	}
}

// Start reconciles workflows left active by a previous process and begins
// draining the checkpoint store's events outbox. It does not resume any
// workflow's execution: a blocked or in-progress run found at startup has
// no live goroutine driving it, so it is marked failed rather than
// silently orphaned.
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.reconcileOnStartup(ctx); err != nil {
		return fmt.Errorf("scheduler: reconcile on startup: %w", err)
	}
	s.wg.Add(1)
	go s.pumpOutbox(ctx)
	return nil
}

// reconcileOnStartup marks every workflow the store considers active as
// failed("server restart"), since the active-task cache that would track
// a genuinely still-running workflow is always empty immediately after a
// process (re)start. Grounded on the reconcile-before-serve pattern used
// by orchestrator services that persist task state across restarts.
func (s *Scheduler) reconcileOnStartup(ctx context.Context) error {
	active, err := s.workflows.ListActive(ctx)
	if err != nil {
		return err
	}
	for _, wf := range active {
		if err := s.workflows.SetStatus(ctx, wf.ID, workflow.StatusFailed, "server restart"); err != nil {
			s.log.Error(ctx, "failed to reconcile orphaned workflow", "workflow_id", wf.ID, "error", err)
			continue
		}
		_, _ = s.recorder.Record(ctx, workflow.Event{
			WorkflowID: wf.ID,
			Level:      workflow.LevelWarning,
			EventType:  workflow.EventWorkflowFailed,
			Message:    "marked failed on startup: no in-process owner",
		})
	}
	return nil
}

// Stop cancels every active task with a bounded wait, then returns once
// the outbox pump has drained.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	tasks := make([]*activeTask, 0, len(s.byWorkflow))
	for _, t := range s.byWorkflow {
		tasks = append(tasks, t)
	}
	s.mu.Unlock()

	for _, t := range tasks {
		t.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	timeout := time.Duration(s.settings.RequestTimeoutSec) * time.Second
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("scheduler: shutdown timed out waiting for %d active task(s)", len(tasks))
	case <-ctx.Done():
		return ctx.Err()
	}
}

// pumpOutbox drains the checkpoint store's transactional events outbox and
// republishes each row through eventbus so a crash between SaveStep and a
// live Run's in-memory emit never drops a durable event.
func (s *Scheduler) pumpOutbox(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.drainOutboxOnce(ctx)
		}
	}
}

func (s *Scheduler) drainOutboxOnce(ctx context.Context) {
	events, err := s.checkpoints.PendingEvents(ctx, 100)
	if err != nil {
		s.log.Warn(ctx, "outbox drain failed", "error", err)
		return
	}
	if len(events) == 0 {
		return
	}
	ids := make([]string, 0, len(events))
	for _, ev := range events {
		s.emitter.Emit(ev)
		if id, ok := ev.Meta["_outbox_id"].(string); ok {
			ids = append(ids, id)
		}
	}
	if err := s.checkpoints.MarkEventsEmitted(ctx, ids); err != nil {
		s.log.Warn(ctx, "outbox mark-emitted failed", "error", err)
	}
}

// buildEngine compiles a fresh graph.Engine for one run. The engine itself
// is stateless and cheap to rebuild; only the checkpoint store carries
// durable state across calls, which is why Start/Approve both call this
// rather than caching engines by workflow ID.
func (s *Scheduler) buildEngine(cfg pipeline.RunConfig) (*graph.Engine[pipeline.State], error) {
	nodes := pipeline.NewNodes(cfg, s.agents.Architect, s.agents.PlanValidator, s.agents.Developer, s.agents.Reviewer, s.agents.Evaluator, s.recorder)
	return pipeline.Build(nodes, s.checkpoints, s.emitter, graph.Options{MaxSteps: 200})
}

func (s *Scheduler) newWorkflowID() string {
	return uuid.NewString()
}
