package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dshills/langgraph-go/graph"

	"github.com/amelia-run/amelia/agent"
	"github.com/amelia-run/amelia/driver"
	"github.com/amelia-run/amelia/eventbus"
	"github.com/amelia-run/amelia/workflow"
)

func TestRunConfigValidateRequiresThreadID(t *testing.T) {
	cfg := RunConfig{Profile: workflow.Profile{ID: "default"}}
	require.Error(t, cfg.Validate())
}

func TestRunConfigValidateRequiresProfile(t *testing.T) {
	cfg := RunConfig{ThreadID: "wf-1"}
	require.Error(t, cfg.Validate())
}

func TestRunConfigValidateAcceptsCompleteConfig(t *testing.T) {
	cfg := RunConfig{ThreadID: "wf-1", Profile: workflow.Profile{ID: "default"}}
	require.NoError(t, cfg.Validate())
}

func TestInitialSeedsStateFromConfigAndIssue(t *testing.T) {
	cfg := RunConfig{ThreadID: "wf-1", Profile: workflow.Profile{ID: "default", MaxReviewIters: 3}}
	s := Initial(cfg, "fix the bug")
	require.Equal(t, "wf-1", s.WorkflowID)
	require.Equal(t, "fix the bug", s.Issue)
	require.Equal(t, 3, s.MaxReviewPasses)
}

type fakeStream struct {
	messages []driver.AgenticMessage
	pos      int
	cur      driver.AgenticMessage
}

func (s *fakeStream) Next(_ context.Context) bool {
	if s.pos >= len(s.messages) {
		return false
	}
	s.cur = s.messages[s.pos]
	s.pos++
	return true
}
func (s *fakeStream) Message() driver.AgenticMessage { return s.cur }
func (s *fakeStream) Err() error                     { return nil }
func (s *fakeStream) Close() error                   { return nil }

type fakeAgentDriver struct {
	result string
	err    error
}

func (d *fakeAgentDriver) Run(_ context.Context, _ driver.Turn) (driver.Stream, error) {
	if d.err != nil {
		return nil, d.err
	}
	return &fakeStream{messages: []driver.AgenticMessage{{Kind: driver.KindResult, Result: d.result}}}, nil
}

func (d *fakeAgentDriver) CleanupSession(_ context.Context, _ string) error { return nil }

type fakeMaxSequence struct{}

func (fakeMaxSequence) MaxSequence(_ context.Context, _ string) (int64, error) { return 0, nil }

type noopEventStore struct{}

func (noopEventStore) Save(_ context.Context, _ workflow.Event) error { return nil }

func newTestRecorder() *eventbus.Recorder {
	bus := eventbus.NewBus()
	seq := eventbus.NewSequencer(fakeMaxSequence{})
	return eventbus.NewRecorder(seq, noopEventStore{}, bus)
}

// validPlanJSON is an architect output that also clears PlanValidator's
// deterministic structural check: a summary and one task whose description
// is long enough to pass minTaskDescriptionLen.
const validPlanJSON = `{"summary":"add feature","tasks":[{"id":"t1","title":"do it","description":"implement the feature end to end"}]}`

func newTestNodes(t *testing.T, cfg RunConfig, architectResult, developerResult, reviewerResult string) *Nodes {
	t.Helper()
	recorder := newTestRecorder()
	architect, err := agent.NewArchitect(&fakeAgentDriver{result: architectResult}, recorder)
	require.NoError(t, err)
	planValidator := agent.NewPlanValidator(recorder)
	developer := agent.NewDeveloper(&fakeAgentDriver{result: developerResult}, recorder)
	reviewer, err := agent.NewReviewer(&fakeAgentDriver{result: reviewerResult}, recorder)
	require.NoError(t, err)
	return NewNodes(cfg, architect, planValidator, developer, reviewer, nil, recorder)
}

func newTestNodesWithEvaluator(t *testing.T, cfg RunConfig, architectResult, developerResult, reviewerResult, evaluatorResult string) *Nodes {
	t.Helper()
	recorder := newTestRecorder()
	architect, err := agent.NewArchitect(&fakeAgentDriver{result: architectResult}, recorder)
	require.NoError(t, err)
	planValidator := agent.NewPlanValidator(recorder)
	developer := agent.NewDeveloper(&fakeAgentDriver{result: developerResult}, recorder)
	reviewer, err := agent.NewReviewer(&fakeAgentDriver{result: reviewerResult}, recorder)
	require.NoError(t, err)
	evaluator, err := agent.NewEvaluator(&fakeAgentDriver{result: evaluatorResult}, recorder)
	require.NoError(t, err)
	return NewNodes(cfg, architect, planValidator, developer, reviewer, evaluator, recorder)
}

func testCfg() RunConfig {
	return RunConfig{ThreadID: "wf-1", Profile: workflow.Profile{ID: "default"}, MaxPlanRevisions: 2}
}

func TestArchitectNodeDraftsPlanAndRoutesToValidator(t *testing.T) {
	n := newTestNodes(t, testCfg(), validPlanJSON, "", "")
	result := n.Architect()(context.Background(), State{Issue: "add a feature"})
	require.NoError(t, result.Err)
	require.Equal(t, "add feature", result.Delta.Plan.Summary)
	require.Equal(t, 1, result.Delta.PlanRevisionCount)
	require.Equal(t, NodePlanValidator, result.Delta.ResumePoint)
	require.Equal(t, graph.Goto(NodePlanValidator), result.Route)
}

func TestArchitectNodeReturnsErrorOnInvalidPlan(t *testing.T) {
	n := newTestNodes(t, testCfg(), `not json`, "", "")
	result := n.Architect()(context.Background(), State{Issue: "add a feature"})
	require.Error(t, result.Err)
}

func TestArchitectNodeAppendsPriorValidationIssuesOnRevise(t *testing.T) {
	n := newTestNodes(t, testCfg(), validPlanJSON, "", "")
	s := State{
		Issue:          "add a feature",
		PlanValidation: &agent.PlanValidationResult{Valid: false, Issues: []string{`plan has no "### Task N:" sections`}},
	}
	result := n.Architect()(context.Background(), s)
	require.NoError(t, result.Err)
	require.Equal(t, "add feature", result.Delta.Plan.Summary)
}

func TestPlanValidatorNodeRoutesToHumanApprovalWhenPlanIsValid(t *testing.T) {
	n := newTestNodes(t, testCfg(), "", "", "")
	plan := agent.Plan{Summary: "add feature", Tasks: []agent.PlanTask{{ID: "t1", Title: "do it", Description: "implement the feature end to end"}}}
	result := n.PlanValidator()(context.Background(), State{Plan: plan})
	require.NoError(t, result.Err)
	require.True(t, result.Delta.PlanValidation.Valid)
	require.Equal(t, NodeHumanApproval, result.Delta.ResumePoint)
}

func TestPlanValidatorNodeRoutesToArchitectWhenPlanHasNoTasks(t *testing.T) {
	n := newTestNodes(t, testCfg(), "", "", "")
	plan := agent.Plan{Summary: "add feature"}
	result := n.PlanValidator()(context.Background(), State{Plan: plan})
	require.NoError(t, result.Err)
	require.False(t, result.Delta.PlanValidation.Valid)
	require.Equal(t, agent.SeverityBlocking, result.Delta.PlanValidation.Severity)
	require.Equal(t, NodeArchitect, result.Delta.ResumePoint)
}

func TestPlanValidatorNodeSetsWarningFlagWhenRevisionsExhausted(t *testing.T) {
	n := newTestNodes(t, testCfg(), "", "", "")
	plan := agent.Plan{Summary: "add feature"}
	result := n.PlanValidator()(context.Background(), State{Plan: plan, PlanRevisionCount: 2})
	require.NoError(t, result.Err)
	require.False(t, result.Delta.PlanValidation.Valid)
	require.True(t, result.Delta.WarningFlag)
	require.Equal(t, NodeHumanApproval, result.Delta.ResumePoint)
}

func TestPlanValidatorNodeLeavesWarningFlagClearWhenRevisionsRemain(t *testing.T) {
	n := newTestNodes(t, testCfg(), "", "", "")
	plan := agent.Plan{Summary: "add feature"}
	result := n.PlanValidator()(context.Background(), State{Plan: plan, PlanRevisionCount: 0})
	require.NoError(t, result.Err)
	require.False(t, result.Delta.WarningFlag)
	require.Equal(t, NodeArchitect, result.Delta.ResumePoint)
}

func TestHumanApprovalNodeAutoApproves(t *testing.T) {
	n := newTestNodes(t, testCfg(), "", "", "")
	result := n.HumanApproval()(context.Background(), State{AutoApprove: true})
	require.True(t, result.Delta.ApprovalDecision.Approved)
	require.Equal(t, NodeDeveloper, result.Delta.ResumePoint)
	require.Equal(t, graph.Goto(NodeDeveloper), result.Route)
}

func TestHumanApprovalNodeStopsAndFlagsPendingWhenNoDecisionYet(t *testing.T) {
	n := newTestNodes(t, testCfg(), "", "", "")
	result := n.HumanApproval()(context.Background(), State{})
	require.True(t, result.Delta.PendingUserInput)
	require.Equal(t, graph.Stop(), result.Route)
}

func TestHumanApprovalNodeStopsWhenRejected(t *testing.T) {
	n := newTestNodes(t, testCfg(), "", "", "")
	result := n.HumanApproval()(context.Background(), State{ApprovalDecision: &ApprovalDecision{Approved: false}})
	require.Equal(t, graph.Stop(), result.Route)
}

func TestHumanApprovalNodeRoutesToDeveloperWhenApproved(t *testing.T) {
	n := newTestNodes(t, testCfg(), "", "", "")
	result := n.HumanApproval()(context.Background(), State{ApprovalDecision: &ApprovalDecision{Approved: true}})
	require.Equal(t, NodeDeveloper, result.Delta.ResumePoint)
	require.Equal(t, graph.Goto(NodeDeveloper), result.Route)
}

func TestDeveloperNodeErrorsWhenNoCurrentTask(t *testing.T) {
	n := newTestNodes(t, testCfg(), "", "implemented", "")
	result := n.Developer()(context.Background(), State{})
	require.Error(t, result.Err)
}

func TestDeveloperNodeImplementsCurrentTaskAndRoutesToReviewer(t *testing.T) {
	n := newTestNodes(t, testCfg(), "", "implemented the change", "")
	s := State{Plan: agent.Plan{Tasks: []agent.PlanTask{{ID: "t1", Title: "do it"}}}}
	result := n.Developer()(context.Background(), s)
	require.NoError(t, result.Err)
	require.Equal(t, AgenticCompleted, result.Delta.AgenticStatus)
	require.Equal(t, "implemented the change", result.Delta.FinalResponse)
	require.Equal(t, NodeReviewer, result.Delta.ResumePoint)
	require.Equal(t, graph.Goto(NodeReviewer), result.Route)
}

func TestDeveloperNodeAppendsRequestedChangesOnRevise(t *testing.T) {
	n := newTestNodes(t, testCfg(), "", "implemented the change", "")
	s := State{
		Plan:   agent.Plan{Tasks: []agent.PlanTask{{ID: "t1", Title: "do it"}}},
		Review: &agent.ReviewVerdict{Approved: false, Comments: []string{"add tests"}},
	}
	result := n.Developer()(context.Background(), s)
	require.NoError(t, result.Err)
	require.Equal(t, "implemented the change", result.Delta.FinalResponse)
}

func TestReviewerNodeRoutesBackToDeveloperWhenRejected(t *testing.T) {
	n := newTestNodes(t, testCfg(), "", "", `{"approved":false,"comments":["add tests"]}`)
	s := State{Plan: agent.Plan{Tasks: []agent.PlanTask{{ID: "t1"}}}, FinalResponse: "done"}
	result := n.Reviewer()(context.Background(), s)
	require.NoError(t, result.Err)
	require.False(t, result.Delta.Review.Approved)
	require.Equal(t, 1, *result.Delta.TaskReviewIteration)
	require.Equal(t, NodeDeveloper, result.Delta.ResumePoint)
	require.Equal(t, graph.Goto(NodeDeveloper), result.Route)
}

func TestReviewerNodeRoutesToNextTaskWhenMoreTasksRemain(t *testing.T) {
	n := newTestNodes(t, testCfg(), "", "", `{"approved":true}`)
	s := State{Plan: agent.Plan{Tasks: []agent.PlanTask{{ID: "t1"}, {ID: "t2"}}}, CurrentTaskIndex: 0, FinalResponse: "done"}
	result := n.Reviewer()(context.Background(), s)
	require.NoError(t, result.Err)
	require.True(t, result.Delta.Review.Approved)
	require.Equal(t, NodeNextTask, result.Delta.ResumePoint)
	require.Equal(t, graph.Goto(NodeNextTask), result.Route)
}

func TestReviewerNodeStopsWhenLastTaskApproved(t *testing.T) {
	n := newTestNodes(t, testCfg(), "", "", `{"approved":true}`)
	s := State{Plan: agent.Plan{Tasks: []agent.PlanTask{{ID: "t1"}}}, CurrentTaskIndex: 0, FinalResponse: "done"}
	result := n.Reviewer()(context.Background(), s)
	require.NoError(t, result.Err)
	require.Equal(t, graph.Stop(), result.Route)
}

func TestReviewerNodeErrorsWhenNoCurrentTask(t *testing.T) {
	n := newTestNodes(t, testCfg(), "", "", `{"approved":true}`)
	result := n.Reviewer()(context.Background(), State{})
	require.Error(t, result.Err)
}

func TestReviewerNodeRoutesToEvaluatorWhenLastTaskApprovedAndEvaluatorConfigured(t *testing.T) {
	n := newTestNodesWithEvaluator(t, testCfg(), "", "", `{"approved":true}`, `{"score":0.9,"passed":true}`)
	s := State{Plan: agent.Plan{Tasks: []agent.PlanTask{{ID: "t1"}}}, CurrentTaskIndex: 0, FinalResponse: "done"}
	result := n.Reviewer()(context.Background(), s)
	require.NoError(t, result.Err)
	require.Equal(t, NodeEvaluator, result.Delta.ResumePoint)
	require.Equal(t, graph.Goto(NodeEvaluator), result.Route)
}

func TestEvaluatorNodeProducesVerdictAndStops(t *testing.T) {
	n := newTestNodesWithEvaluator(t, testCfg(), "", "", "", `{"score":0.8,"passed":true,"findings":["minor nit"]}`)
	result := n.Evaluator()(context.Background(), State{FinalResponse: "done"})
	require.NoError(t, result.Err)
	require.NotNil(t, result.Delta.Evaluation)
	require.Equal(t, 0.8, result.Delta.Evaluation.Score)
	require.True(t, result.Delta.Evaluation.Passed)
	require.Equal(t, []string{"minor nit"}, result.Delta.Evaluation.Findings)
	require.Equal(t, graph.Stop(), result.Route)
}

func TestEvaluatorNodeReturnsErrorOnInvalidVerdict(t *testing.T) {
	n := newTestNodesWithEvaluator(t, testCfg(), "", "", "", `not json`)
	result := n.Evaluator()(context.Background(), State{FinalResponse: "done"})
	require.Error(t, result.Err)
}

func TestNextTaskNodeAdvancesIndexAndResetsIteration(t *testing.T) {
	n := newTestNodes(t, testCfg(), "", "", "")
	result := n.NextTask()(context.Background(), State{CurrentTaskIndex: 0})
	require.Equal(t, 1, result.Delta.CurrentTaskIndex)
	require.Equal(t, 0, *result.Delta.TaskReviewIteration)
	require.Equal(t, NodeDeveloper, result.Delta.ResumePoint)
	require.Equal(t, graph.Goto(NodeDeveloper), result.Route)
}
