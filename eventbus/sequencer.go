package eventbus

import (
	"context"
	"sync"
)

// sequenceSource is the subset of store.EventStore the sequencer needs,
// kept narrow so this package doesn't import store's concrete type (and
// so tests can fake it).
type sequenceSource interface {
	MaxSequence(ctx context.Context, workflowID string) (int64, error)
}

// counter guards the next sequence number to hand out for one workflow.
type counter struct {
	mu   sync.Mutex
	next int64
}

// Sequencer assigns gap-free, monotonically increasing sequence numbers
// per workflow. A workflow's counter is created lazily and atomically on
// first use (via sync.Map.LoadOrStore, so two goroutines racing to create
// the same workflow's counter never both win), seeded from the store's
// recorded maximum so a process restart resumes numbering correctly
// rather than restarting at zero.
type Sequencer struct {
	source   sequenceSource
	counters sync.Map // workflowID string -> *counter
}

// NewSequencer constructs a Sequencer backed by source for recovery.
func NewSequencer(source sequenceSource) *Sequencer {
	return &Sequencer{source: source}
}

// Next returns the next sequence number for workflowID, starting at 1.
// The first call for a given workflow in this process queries source for
// the workflow's recorded maximum; every subsequent call is a pure
// in-memory increment.
func (s *Sequencer) Next(ctx context.Context, workflowID string) (int64, error) {
	c, err := s.counterFor(ctx, workflowID)
	if err != nil {
		return 0, err
	}
	c.mu.Lock()
	c.next++
	n := c.next
	c.mu.Unlock()
	return n, nil
}

func (s *Sequencer) counterFor(ctx context.Context, workflowID string) (*counter, error) {
	if v, ok := s.counters.Load(workflowID); ok {
		return v.(*counter), nil
	}

	// Seed from the durable maximum before the counter becomes visible to
	// other goroutines, so nobody observes a counter that hasn't been
	// recovered yet.
	max, err := s.source.MaxSequence(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	c := &counter{next: max}
	actual, _ := s.counters.LoadOrStore(workflowID, c)
	return actual.(*counter), nil
}

// Forget drops a workflow's in-memory counter once it reaches a terminal
// status, so long-lived processes don't accumulate counters for workflows
// that will never be resumed.
func (s *Sequencer) Forget(workflowID string) {
	s.counters.Delete(workflowID)
}
