package pipeline

import (
	"context"

	"github.com/dshills/langgraph-go/graph/emit"

	"github.com/amelia-run/amelia/telemetry"
)

// LogEmitter satisfies emit.Emitter by writing the graph engine's internal
// observability events (node start/complete, checkpoint saves, step errors)
// through telemetry.Logger at debug level. These are finer-grained than the
// workflow.Event stream eventbus.Recorder records: the latter is the durable,
// user-visible timeline; this is engine-internal tracing for operators.
type LogEmitter struct {
	log telemetry.Logger
}

// NewLogEmitter wraps log as a graph/emit.Emitter.
func NewLogEmitter(log telemetry.Logger) *LogEmitter {
	return &LogEmitter{log: log}
}

var _ emit.Emitter = (*LogEmitter)(nil)

func (e *LogEmitter) Emit(ev emit.Event) {
	e.log.Debug(context.Background(), ev.Msg,
		"run_id", ev.RunID, "step", ev.Step, "node_id", ev.NodeID, "meta", ev.Meta)
}

func (e *LogEmitter) EmitBatch(ctx context.Context, events []emit.Event) error {
	for _, ev := range events {
		e.log.Debug(ctx, ev.Msg,
			"run_id", ev.RunID, "step", ev.Step, "node_id", ev.NodeID, "meta", ev.Meta)
	}
	return nil
}

// Flush is a no-op: LogEmitter writes synchronously and buffers nothing.
func (e *LogEmitter) Flush(ctx context.Context) error {
	return nil
}
