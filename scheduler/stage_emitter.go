package scheduler

import (
	"context"

	"github.com/dshills/langgraph-go/graph/emit"

	"github.com/amelia-run/amelia/eventbus"
	"github.com/amelia-run/amelia/pipeline"
	"github.com/amelia-run/amelia/workflow"
)

// StageEmitter wraps pipeline.LogEmitter's engine-internal debug tracing
// with the durable stage.started/stage.completed records in a workflow's
// append-only event log. The engine emits "node_start"/"node_end" around
// every node's execution on its own, win or lose — recording from here
// rather than from inside Nodes' own closures means a transient-error retry
// that resumes from a checkpoint never re-emits a stage event for a node
// that already committed, since a resumed run only re-enters at its
// ResumePoint and the nodes before it never run again.
type StageEmitter struct {
	*pipeline.LogEmitter
	recorder *eventbus.Recorder
}

// NewStageEmitter constructs a StageEmitter. log backs the embedded
// LogEmitter's debug tracing; recorder is the durable sink for the stage
// events this type adds on top.
func NewStageEmitter(log *pipeline.LogEmitter, recorder *eventbus.Recorder) *StageEmitter {
	return &StageEmitter{LogEmitter: log, recorder: recorder}
}

var _ emit.Emitter = (*StageEmitter)(nil)

func (e *StageEmitter) Emit(ev emit.Event) {
	e.LogEmitter.Emit(ev)

	var eventType workflow.EventType
	switch ev.Msg {
	case "node_start":
		eventType = workflow.EventStageStarted
	case "node_end":
		eventType = workflow.EventStageCompleted
	default:
		return
	}
	if ev.RunID == "" || ev.NodeID == "" {
		return
	}
	ctx := context.Background()
	_, _ = e.recorder.Record(ctx, workflow.Event{
		WorkflowID: ev.RunID,
		Level:      workflow.LevelInfo,
		EventType:  eventType,
		Message:    ev.NodeID,
	})
}
