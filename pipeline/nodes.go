package pipeline

import (
	"context"
	"fmt"

	"github.com/dshills/langgraph-go/graph"

	"github.com/amelia-run/amelia/agent"
	"github.com/amelia-run/amelia/eventbus"
	"github.com/amelia-run/amelia/workflow"
)

const (
	NodeArchitect     = "architect_node"
	NodePlanValidator = "plan_validator_node"
	NodeHumanApproval = "human_approval_node"
	NodeDeveloper     = "developer_node"
	NodeReviewer      = "reviewer_node"
	NodeNextTask      = "next_task_node"
	NodeEvaluator     = "evaluator_node"
)

// RunConfig is the invocation-time configuration the orchestrator must
// supply before compiling a graph: a missing ThreadID or Profile is a
// fatal configuration error per spec.md §4.5.
type RunConfig struct {
	ThreadID       string
	ExecutionMode  string
	Profile        workflow.Profile
	Repository     string
	AllowedTools   []string
	MaxPlanRevisions int
}

// Validate returns an error if cfg is missing required fields.
func (cfg RunConfig) Validate() error {
	if cfg.ThreadID == "" {
		return fmt.Errorf("pipeline: RunConfig.ThreadID is required")
	}
	if cfg.Profile.ID == "" {
		return fmt.Errorf("pipeline: RunConfig.Profile is required")
	}
	return nil
}

// Nodes builds the seven graph.NodeFunc[State] closures used by Build: one
// per agent role, plus HumanApproval and NextTask. Of these, only
// HumanApproval records events through recorder.
type Nodes struct {
	cfg           RunConfig
	architect     *agent.Architect
	planValidator *agent.PlanValidator
	developer     *agent.Developer
	reviewer      *agent.Reviewer
	evaluator     *agent.Evaluator
	recorder      *eventbus.Recorder
}

// NewNodes constructs the node set for one pipeline run. evaluator may be
// nil, in which case the graph skips straight from the final reviewer pass
// to Stop() (used by tests that don't need a closing verdict).
func NewNodes(cfg RunConfig, architect *agent.Architect, planValidator *agent.PlanValidator, developer *agent.Developer, reviewer *agent.Reviewer, evaluator *agent.Evaluator, recorder *eventbus.Recorder) *Nodes {
	return &Nodes{
		cfg:           cfg,
		architect:     architect,
		planValidator: planValidator,
		developer:     developer,
		reviewer:      reviewer,
		evaluator:     evaluator,
		recorder:      recorder,
	}
}

func (n *Nodes) stage(ctx context.Context, name string, eventType workflow.EventType) {
	_, _ = n.recorder.Record(ctx, workflow.Event{
		WorkflowID: n.cfg.ThreadID,
		Level:      workflow.LevelInfo,
		EventType:  eventType,
		Message:    name,
	})
}

// Architect drafts a Plan from state.Issue. On a plan_validator -> architect
// revise edge, the prior PlanValidationResult's Issues ride along in s and
// are appended to the turn's history as validator feedback, and
// s.DriverSessionID is threaded through so the revision happens in the same
// driver session as the original draft.
func (n *Nodes) Architect() graph.NodeFunc[State] {
	return func(ctx context.Context, s State) graph.NodeResult[State] {
		var priorIssues []string
		if s.PlanValidation != nil && !s.PlanValidation.Valid {
			priorIssues = s.PlanValidation.Issues
		}
		plan, sessionID, err := n.architect.Draft(ctx, n.cfg.ThreadID, s.Issue, priorIssues, s.DriverSessionID)
		if err != nil {
			return graph.NodeResult[State]{Err: fmt.Errorf("pipeline: architect: %w", err)}
		}
		return graph.NodeResult[State]{
			Delta: State{
				Plan:              plan,
				PlanRevisionCount: s.PlanRevisionCount + 1,
				DriverSessionID:   sessionID,
				ResumePoint:       NodePlanValidator,
			},
			Route: graph.Goto(NodePlanValidator),
		}
	}
}

// PlanValidator checks the drafted Plan against the deterministic
// structural contract.
func (n *Nodes) PlanValidator() graph.NodeFunc[State] {
	return func(ctx context.Context, s State) graph.NodeResult[State] {
		result, err := n.planValidator.Check(ctx, n.cfg.ThreadID, s.Plan)
		if err != nil {
			return graph.NodeResult[State]{Err: fmt.Errorf("pipeline: plan validator: %w", err)}
		}
		delta := State{PlanValidation: &result}
		if !result.Valid && s.PlanRevisionCount >= n.cfg.MaxPlanRevisions {
			delta.WarningFlag = true
		}
		switch {
		case result.Valid, delta.WarningFlag:
			delta.ResumePoint = NodeHumanApproval
		default:
			delta.ResumePoint = NodeArchitect
		}
		return graph.NodeResult[State]{Delta: delta}
	}
}

// HumanApproval is the pipeline's sole interrupt point: it suspends
// execution until an external approve/reject call supplies an
// ApprovalDecision.
func (n *Nodes) HumanApproval() graph.NodeFunc[State] {
	return func(ctx context.Context, s State) graph.NodeResult[State] {
		if s.AutoApprove {
			return graph.NodeResult[State]{
				Delta: State{ApprovalDecision: &ApprovalDecision{Approved: true, Notes: "auto-approved"}, ResumePoint: NodeDeveloper},
				Route: graph.Goto(NodeDeveloper),
			}
		}
		if s.ApprovalDecision == nil {
			n.stage(ctx, NodeHumanApproval, workflow.EventApprovalRequired)
			return graph.NodeResult[State]{
				Delta: State{PendingUserInput: true},
				Route: graph.Stop(),
			}
		}
		if !s.ApprovalDecision.Approved {
			n.stage(ctx, NodeHumanApproval, workflow.EventApprovalRejected)
			return graph.NodeResult[State]{Route: graph.Stop()}
		}
		n.stage(ctx, NodeHumanApproval, workflow.EventApprovalGranted)
		return graph.NodeResult[State]{Delta: State{ResumePoint: NodeDeveloper}, Route: graph.Goto(NodeDeveloper)}
	}
}

// Developer implements the current task. On a reviewer -> developer revise
// edge, the prior ReviewVerdict's Comments ride along in s and are appended
// as requested changes, and s.DriverSessionID is threaded through so the
// revision happens in the same session as the original implementation.
func (n *Nodes) Developer() graph.NodeFunc[State] {
	return func(ctx context.Context, s State) graph.NodeResult[State] {
		task, ok := s.CurrentTask()
		if !ok {
			return graph.NodeResult[State]{Err: fmt.Errorf("pipeline: developer: no current task at index %d", s.CurrentTaskIndex)}
		}
		var requestedChanges []string
		if s.Review != nil && !s.Review.Approved {
			requestedChanges = s.Review.Comments
		}
		transcript, err := n.developer.Implement(ctx, n.cfg.ThreadID, task, n.cfg.AllowedTools, requestedChanges, s.DriverSessionID)
		if err != nil {
			return graph.NodeResult[State]{
				Delta: State{AgenticStatus: AgenticFailed, Error: err.Error()},
				Err:   fmt.Errorf("pipeline: developer: %w", err),
			}
		}
		return graph.NodeResult[State]{
			Delta: State{
				AgenticStatus:   AgenticCompleted,
				FinalResponse:   transcript.Result,
				ToolCalls:       transcript.ToolCalls,
				ToolResults:     transcript.ToolResults,
				DriverSessionID: transcript.SessionID,
				ResumePoint:     NodeReviewer,
			},
			Route: graph.Goto(NodeReviewer),
		}
	}
}

// Reviewer reviews the developer's most recent transcript for the current
// task.
func (n *Nodes) Reviewer() graph.NodeFunc[State] {
	return func(ctx context.Context, s State) graph.NodeResult[State] {
		task, ok := s.CurrentTask()
		if !ok {
			return graph.NodeResult[State]{Err: fmt.Errorf("pipeline: reviewer: no current task at index %d", s.CurrentTaskIndex)}
		}
		var priorComments []string
		if s.Review != nil {
			priorComments = s.Review.Comments
		}
		verdict, err := n.reviewer.Review(ctx, n.cfg.ThreadID, task, agent.Transcript{Result: s.FinalResponse, ToolCalls: s.ToolCalls, ToolResults: s.ToolResults}, priorComments)
		if err != nil {
			return graph.NodeResult[State]{Err: fmt.Errorf("pipeline: reviewer: %w", err)}
		}
		iteration := 0
		if s.TaskReviewIteration != nil {
			iteration = *s.TaskReviewIteration
		}
		delta := State{Review: &verdict, ReviewPass: boolPtr(verdict.Approved), TaskReviewIteration: intPtr(iteration + 1)}

		// Explicit routing (not edge predicates): whether another task
		// remains depends on CurrentTaskIndex relative to the now-updated
		// Plan, which a single edge predicate over the pre-merge state
		// can't express as cleanly as the node itself can.
		switch {
		case !verdict.Approved:
			delta.ResumePoint = NodeDeveloper
			return graph.NodeResult[State]{Delta: delta, Route: graph.Goto(NodeDeveloper)}
		case s.CurrentTaskIndex+1 < len(s.Plan.Tasks):
			delta.ResumePoint = NodeNextTask
			return graph.NodeResult[State]{Delta: delta, Route: graph.Goto(NodeNextTask)}
		case n.evaluator != nil:
			delta.ResumePoint = NodeEvaluator
			return graph.NodeResult[State]{Delta: delta, Route: graph.Goto(NodeEvaluator)}
		default:
			return graph.NodeResult[State]{Delta: delta, Route: graph.Stop()}
		}
	}
}

// Evaluator produces the closing verdict over the completed run, once every
// task has an approved review. Terminal: always routes to Stop().
func (n *Nodes) Evaluator() graph.NodeFunc[State] {
	return func(ctx context.Context, s State) graph.NodeResult[State] {
		verdict, err := n.evaluator.Evaluate(ctx, n.cfg.ThreadID, s.FinalResponse)
		if err != nil {
			return graph.NodeResult[State]{Err: fmt.Errorf("pipeline: evaluator: %w", err)}
		}
		return graph.NodeResult[State]{
			Delta: State{Evaluation: &verdict},
			Route: graph.Stop(),
		}
	}
}

// NextTask advances CurrentTaskIndex and resets the per-task review
// iteration counter.
func (n *Nodes) NextTask() graph.NodeFunc[State] {
	return func(_ context.Context, s State) graph.NodeResult[State] {
		return graph.NodeResult[State]{
			Delta: State{CurrentTaskIndex: s.CurrentTaskIndex + 1, TaskReviewIteration: intPtr(0), ResumePoint: NodeDeveloper},
			Route: graph.Goto(NodeDeveloper),
		}
	}
}
