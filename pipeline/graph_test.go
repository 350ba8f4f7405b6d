package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dshills/langgraph-go/graph"
	gstore "github.com/dshills/langgraph-go/graph/store"
)

func TestBuildWiresAllNodesAndRunsToCompletion(t *testing.T) {
	cfg := testCfg()
	nodes := newTestNodes(t, cfg, validPlanJSON, "implemented the change", `{"approved":true}`)

	st := gstore.NewMemStore[State]()
	emitter := NewLogEmitter(&capturingLogger{})

	engine, err := Build(nodes, st, emitter, graph.Options{MaxSteps: 20})
	require.NoError(t, err)

	initial := Initial(cfg, "add a feature")
	initial.AutoApprove = true

	final, err := engine.Run(context.Background(), cfg.ThreadID, initial)
	require.NoError(t, err)

	require.Equal(t, "add feature", final.Plan.Summary)
	require.Equal(t, "implemented the change", final.FinalResponse)
	require.True(t, final.ApprovalDecision.Approved)
	require.True(t, final.Review.Approved)
}

func TestBuildStopsAtHumanApprovalWhenNotAutoApproved(t *testing.T) {
	cfg := testCfg()
	nodes := newTestNodes(t, cfg, validPlanJSON, "implemented the change", `{"approved":true}`)

	st := gstore.NewMemStore[State]()
	emitter := NewLogEmitter(&capturingLogger{})

	engine, err := Build(nodes, st, emitter, graph.Options{MaxSteps: 20})
	require.NoError(t, err)

	final, err := engine.Run(context.Background(), cfg.ThreadID, Initial(cfg, "add a feature"))
	require.NoError(t, err)

	require.True(t, final.PendingUserInput)
	require.Empty(t, final.FinalResponse)
}

func TestBuildEscalatesToHumanApprovalWhenPlanRevisionsExhausted(t *testing.T) {
	cfg := testCfg()
	cfg.MaxPlanRevisions = 1
	// A task description below minTaskDescriptionLen always fails the
	// structural check (as a warning, not blocking, since a task is still
	// present), so the architect keeps getting sent back to revise until
	// MaxPlanRevisions is exhausted.
	invalidPlanJSON := `{"summary":"add feature","tasks":[{"id":"t1","title":"do it","description":"too short"}]}`
	nodes := newTestNodes(t, cfg, invalidPlanJSON, "implemented the change", `{"approved":true}`)

	st := gstore.NewMemStore[State]()
	emitter := NewLogEmitter(&capturingLogger{})

	engine, err := Build(nodes, st, emitter, graph.Options{MaxSteps: 20})
	require.NoError(t, err)

	initial := Initial(cfg, "add a feature")
	initial.AutoApprove = true

	final, err := engine.Run(context.Background(), cfg.ThreadID, initial)
	require.NoError(t, err)

	// After MaxPlanRevisions is exhausted the validator sets WarningFlag and
	// escalates to human_approval instead of looping back to the architect
	// forever; auto-approve then lets the run proceed to the developer.
	require.True(t, final.WarningFlag)
	require.False(t, final.PlanValidation.Valid)
	require.Equal(t, "implemented the change", final.FinalResponse)
}

func TestBuildRunsEvaluatorAfterFinalReviewWhenConfigured(t *testing.T) {
	cfg := testCfg()
	nodes := newTestNodesWithEvaluator(t, cfg, validPlanJSON, "implemented the change", `{"approved":true}`, `{"score":0.95,"passed":true}`)

	st := gstore.NewMemStore[State]()
	emitter := NewLogEmitter(&capturingLogger{})

	engine, err := Build(nodes, st, emitter, graph.Options{MaxSteps: 20})
	require.NoError(t, err)

	initial := Initial(cfg, "add a feature")
	initial.AutoApprove = true

	final, err := engine.Run(context.Background(), cfg.ThreadID, initial)
	require.NoError(t, err)

	require.NotNil(t, final.Evaluation)
	require.True(t, final.Evaluation.Passed)
	require.Equal(t, 0.95, final.Evaluation.Score)
}
