package pipeline

import (
	"github.com/dshills/langgraph-go/graph"
	"github.com/dshills/langgraph-go/graph/emit"
	gstore "github.com/dshills/langgraph-go/graph/store"
)

// Build compiles the implementation pipeline graph:
//
//	architect -> plan_validator -> {approved|revise|escalate} -> human_approval
//	  -> {approve|reject} -> developer -> reviewer -> {developer|next_task|evaluator|end}
//	  -> next_task -> developer
//	  -> evaluator -> end
//
// evaluator only joins the graph when Nodes was built with a non-nil
// *agent.Evaluator; otherwise the reviewer's terminal case routes straight
// to Stop().
//
// st persists step-by-step state for checkpoint/resume; emitter receives
// graph-level observability events (node_start/node_end/error).
func Build(nodes *Nodes, st gstore.Store[State], emitter emit.Emitter, opts graph.Options) (*graph.Engine[State], error) {
	engine := graph.New[State](Reduce, st, emitter, opts)

	if err := engine.Add(NodeArchitect, nodes.Architect()); err != nil {
		return nil, err
	}
	if err := engine.Add(NodePlanValidator, nodes.PlanValidator()); err != nil {
		return nil, err
	}
	if err := engine.Add(NodeHumanApproval, nodes.HumanApproval()); err != nil {
		return nil, err
	}
	if err := engine.Add(NodeDeveloper, nodes.Developer()); err != nil {
		return nil, err
	}
	if err := engine.Add(NodeReviewer, nodes.Reviewer()); err != nil {
		return nil, err
	}
	if err := engine.Add(NodeNextTask, nodes.NextTask()); err != nil {
		return nil, err
	}
	if nodes.evaluator != nil {
		if err := engine.Add(NodeEvaluator, nodes.Evaluator()); err != nil {
			return nil, err
		}
	}
	if err := engine.StartAt(NodeArchitect); err != nil {
		return nil, err
	}

	// plan_validator -> human_approval (valid)
	if err := engine.Connect(NodePlanValidator, NodeHumanApproval, func(s State) bool {
		return s.PlanValidation != nil && s.PlanValidation.Valid
	}); err != nil {
		return nil, err
	}
	// plan_validator -> architect (revise, bounded by max revisions)
	if err := engine.Connect(NodePlanValidator, NodeArchitect, func(s State) bool {
		return s.PlanValidation != nil && !s.PlanValidation.Valid && !s.WarningFlag
	}); err != nil {
		return nil, err
	}
	// plan_validator -> human_approval (escalate: budget exhausted)
	if err := engine.Connect(NodePlanValidator, NodeHumanApproval, func(s State) bool {
		return s.PlanValidation != nil && !s.PlanValidation.Valid && s.WarningFlag
	}); err != nil {
		return nil, err
	}

	// reviewer_node's three-way routing (developer/next_task/stop) is
	// explicit NodeResult.Route, not edges: it needs the pre-merge task
	// index alongside the freshly produced verdict, which an edge
	// predicate only sees after the delta is merged.

	return engine, nil
}

// Initial builds the seed State for a new run from cfg and an issue
// description.
func Initial(cfg RunConfig, issue string) State {
	return State{
		WorkflowID:      cfg.ThreadID,
		Issue:           issue,
		MaxReviewPasses: cfg.Profile.MaxReviewIters,
	}
}
