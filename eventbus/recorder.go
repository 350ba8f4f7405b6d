package eventbus

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/amelia-run/amelia/workflow"
)

// eventPersister is the subset of store.EventStore the recorder needs.
type eventPersister interface {
	Save(ctx context.Context, e workflow.Event) error
}

// Recorder is the single entry point the rest of the system uses to emit a
// workflow event: it assigns the event's sequence number, persists it, and
// fans it out to every in-process subscriber. Persisting before fanout
// means a subscriber never observes an event the store could still reject
// (e.g. on an idempotency replay).
type Recorder struct {
	sequencer *Sequencer
	store     eventPersister
	bus       Bus
}

// NewRecorder wires a Sequencer, a persistence backend, and a fanout Bus
// into one Recorder.
func NewRecorder(sequencer *Sequencer, store eventPersister, bus Bus) *Recorder {
	return &Recorder{sequencer: sequencer, store: store, bus: bus}
}

// Record assigns the next sequence number for draft.WorkflowID, persists
// the resulting event, and publishes it on the bus. The returned event
// carries its assigned ID, Sequence, and Timestamp.
func (r *Recorder) Record(ctx context.Context, draft workflow.Event) (workflow.Event, error) {
	seq, err := r.sequencer.Next(ctx, draft.WorkflowID)
	if err != nil {
		return workflow.Event{}, fmt.Errorf("eventbus: assign sequence: %w", err)
	}
	draft.ID = uuid.NewString()
	draft.Sequence = seq
	draft.Timestamp = time.Now().UTC()

	if err := r.store.Save(ctx, draft); err != nil {
		return workflow.Event{}, fmt.Errorf("eventbus: persist event: %w", err)
	}
	if err := r.bus.Publish(ctx, draft); err != nil {
		return draft, fmt.Errorf("eventbus: publish event: %w", err)
	}
	return draft, nil
}
