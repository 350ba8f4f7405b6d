// Package pipeline is the C5 Pipeline Graph: the implementation pipeline's
// nodes, conditional edges, and frozen state reducers, compiled onto
// github.com/dshills/langgraph-go/graph.Engine[pipeline.State].
package pipeline

import (
	"github.com/amelia-run/amelia/agent"
	"github.com/amelia-run/amelia/driver"
)

// AgenticStatus tracks the developer node's current turn-execution state,
// independent of the workflow's own Status in package workflow.
type AgenticStatus string

const (
	AgenticIdle      AgenticStatus = ""
	AgenticRunning   AgenticStatus = "running"
	AgenticPaused    AgenticStatus = "paused"
	AgenticCompleted AgenticStatus = "completed"
	AgenticFailed    AgenticStatus = "failed"
)

// State is the pipeline graph's frozen, per-workflow value. Nodes never
// mutate State directly: each Node returns a sparse delta, merged into the
// accumulated State by Reduce. List fields accumulate by append; every
// other field replaces the previous value when the delta sets it.
type State struct {
	WorkflowID string
	Issue      string
	Goal       string

	// Plan is the architect's structured output once drafted. Unlike the
	// original markdown-plan convention, the agent layer here always
	// produces a schema-validated JSON Plan (see agent.Plan), so the
	// pipeline carries the structured value directly rather than a
	// plan_markdown string plus a derived task-section extractor.
	Plan              agent.Plan
	PlanRevisionCount int
	PlanValidation    *agent.PlanValidationResult

	CurrentTaskIndex int

	// DriverSessionID is the driver session the most recent agent turn ran
	// under. A node that starts a fresh session's turn (rather than
	// resuming one) threads the prior value in and replaces it with
	// whatever the driver reports back, so a later revise/re-run turn for
	// the same role can resume instead of starting over.
	DriverSessionID string

	// ResumePoint mirrors the node identifier this step's own routing
	// decision sends execution to next (e.g. Architect sets it to
	// NodePlanValidator). It exists purely so a transient-error retry
	// knows which node to resume at from the last successfully
	// checkpointed state, without having to infer a resume target from the
	// rest of State's shape — which is ambiguous once a field like Review
	// can be stale left over from a previous task's cycle.
	ResumePoint string

	// TaskReviewIteration and ReviewPass are pointers rather than plain
	// int/bool: next_task_node must be able to reset the per-task review
	// counter back to zero and reviewer_node must be able to set ReviewPass
	// back to false, and Reduce's "non-zero replaces" convention for plain
	// scalars can't express setting a field to its zero value.
	TaskReviewIteration *int
	ReviewPass          *bool
	MaxReviewPasses     int

	// Review and Evaluation are pointers rather than values: both verdict
	// structs carry slice fields (Comments, Findings), which Go forbids
	// comparing with ==, and Reduce needs a cheap "did this node set it"
	// check before replacing the accumulated value.
	Review     *agent.ReviewVerdict
	Evaluation *agent.EvaluationVerdict

	// PendingUserInput is set by human_approval_node when it suspends
	// awaiting an external decision; ApprovalDecision carries the resolved
	// value once a later approve/reject call resumes the run.
	PendingUserInput bool
	ApprovalDecision *ApprovalDecision

	AutoApprove bool

	ApprovedItems       []string
	ToolCalls           []driver.ToolCall
	ToolResults         []driver.ToolResult
	OracleConsultations []agent.OracleConsultation

	AgenticStatus  AgenticStatus
	FinalResponse  string
	Error          string

	WarningFlag bool
}

// ApprovalDecision is the resolved value of a human_approval_node interrupt,
// delivered by the scheduler's Approve/Reject call and merged back into
// State when the run resumes at human_approval_node.
type ApprovalDecision struct {
	Approved bool
	Notes    string
}

// Reduce merges a node's sparse delta into prev, appending list fields and
// replacing every scalar field the delta sets to a non-zero value. It is
// the graph.Reducer[State] passed to graph.New.
func Reduce(prev, delta State) State {
	next := prev
	if delta.WorkflowID != "" {
		next.WorkflowID = delta.WorkflowID
	}
	if delta.Issue != "" {
		next.Issue = delta.Issue
	}
	if delta.Goal != "" {
		next.Goal = delta.Goal
	}
	if len(delta.Plan.Tasks) > 0 || delta.Plan.Summary != "" {
		next.Plan = delta.Plan
	}
	if delta.PlanRevisionCount != 0 {
		next.PlanRevisionCount = delta.PlanRevisionCount
	}
	if delta.PlanValidation != nil {
		next.PlanValidation = delta.PlanValidation
	}
	if delta.CurrentTaskIndex != 0 {
		next.CurrentTaskIndex = delta.CurrentTaskIndex
	}
	if delta.TaskReviewIteration != nil {
		next.TaskReviewIteration = delta.TaskReviewIteration
	}
	if delta.ReviewPass != nil {
		next.ReviewPass = delta.ReviewPass
	}
	if delta.MaxReviewPasses != 0 {
		next.MaxReviewPasses = delta.MaxReviewPasses
	}
	if delta.Review != nil {
		next.Review = delta.Review
	}
	if delta.Evaluation != nil {
		next.Evaluation = delta.Evaluation
	}
	if delta.PendingUserInput {
		next.PendingUserInput = delta.PendingUserInput
	}
	if delta.ApprovalDecision != nil {
		next.ApprovalDecision = delta.ApprovalDecision
		next.PendingUserInput = false
	}
	if delta.AutoApprove {
		next.AutoApprove = delta.AutoApprove
	}
	next.ApprovedItems = append(next.ApprovedItems, delta.ApprovedItems...)
	next.ToolCalls = append(next.ToolCalls, delta.ToolCalls...)
	next.ToolResults = append(next.ToolResults, delta.ToolResults...)
	next.OracleConsultations = append(next.OracleConsultations, delta.OracleConsultations...)
	if delta.AgenticStatus != AgenticIdle {
		next.AgenticStatus = delta.AgenticStatus
	}
	if delta.FinalResponse != "" {
		next.FinalResponse = delta.FinalResponse
	}
	if delta.Error != "" {
		next.Error = delta.Error
	}
	if delta.WarningFlag {
		next.WarningFlag = delta.WarningFlag
	}
	if delta.DriverSessionID != "" {
		next.DriverSessionID = delta.DriverSessionID
	}
	if delta.ResumePoint != "" {
		next.ResumePoint = delta.ResumePoint
	}
	return next
}

// intPtr and boolPtr build pointer-valued deltas for fields that must be
// able to express an explicit reset to zero.
func intPtr(v int) *int    { return &v }
func boolPtr(v bool) *bool { return &v }

// CurrentTask returns the task the pipeline is presently executing, and
// whether one exists (false once CurrentTaskIndex has advanced past the
// plan's last task).
func (s State) CurrentTask() (agent.PlanTask, bool) {
	if s.CurrentTaskIndex < 0 || s.CurrentTaskIndex >= len(s.Plan.Tasks) {
		return agent.PlanTask{}, false
	}
	return s.Plan.Tasks[s.CurrentTaskIndex], true
}
