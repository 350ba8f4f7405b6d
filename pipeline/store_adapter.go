package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	gstore "github.com/dshills/langgraph-go/graph/store"
	"github.com/dshills/langgraph-go/graph/emit"

	"github.com/amelia-run/amelia/store"
)

// checkpointPersister is the subset of store.CheckpointStore the adapter
// needs; satisfied by *store.CheckpointStore.
type checkpointPersister interface {
	SaveStep(ctx context.Context, runID string, stepID int, state, frontier []byte, rngSeed int64, recordedIOs []byte, idempotencyKey, label string) error
	LoadLatestStep(ctx context.Context, runID string) (stepID int, state, frontier []byte, rngSeed int64, recordedIOs []byte, err error)
	LoadStep(ctx context.Context, runID string, stepID int) (state, frontier []byte, rngSeed int64, recordedIOs []byte, err error)
	CheckIdempotency(ctx context.Context, idempotencyKey string) (bool, error)
	SaveNamed(ctx context.Context, checkpointID string, state []byte, stepID int) error
	LoadNamed(ctx context.Context, checkpointID string) (state []byte, stepID int, err error)
	SaveOutboxEvent(ctx context.Context, id, runID string, eventData []byte) error
	PendingEventsAny(ctx context.Context, limit int) (ids, runIDs []string, payloads [][]byte, err error)
	MarkEventsEmitted(ctx context.Context, ids []string) error
}

// Store adapts store.CheckpointStore's opaque-JSON persistence onto
// langgraph-go's generic graph/store.Store[State] contract. It lives in
// package pipeline rather than package store because only this package
// knows how to marshal/unmarshal State, and store must not import pipeline
// (pipeline already imports store.CheckpointStore's concrete methods).
type Store struct {
	checkpoints checkpointPersister
}

// NewStore wraps cs as a graph/store.Store[State].
func NewStore(cs *store.CheckpointStore) *Store {
	return &Store{checkpoints: cs}
}

var _ gstore.Store[State] = (*Store)(nil)

func (s *Store) SaveStep(ctx context.Context, runID string, step int, nodeID string, state State) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("pipeline: marshal state: %w", err)
	}
	key := idempotencyKey(runID, step, payload)
	return s.checkpoints.SaveStep(ctx, runID, step, payload, []byte("[]"), 0, []byte("[]"), key, nodeID)
}

func (s *Store) LoadLatest(ctx context.Context, runID string) (State, int, error) {
	step, payload, _, _, _, err := s.checkpoints.LoadLatestStep(ctx, runID)
	if errors.Is(err, store.ErrNotFound) {
		return State{}, 0, gstore.ErrNotFound
	}
	if err != nil {
		return State{}, 0, err
	}
	var state State
	if err := json.Unmarshal(payload, &state); err != nil {
		return State{}, 0, fmt.Errorf("pipeline: unmarshal state: %w", err)
	}
	return state, step, nil
}

func (s *Store) SaveCheckpoint(ctx context.Context, cpID string, state State, step int) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("pipeline: marshal state: %w", err)
	}
	return s.checkpoints.SaveNamed(ctx, cpID, payload, step)
}

func (s *Store) LoadCheckpoint(ctx context.Context, cpID string) (State, int, error) {
	payload, step, err := s.checkpoints.LoadNamed(ctx, cpID)
	if errors.Is(err, store.ErrNotFound) {
		return State{}, 0, gstore.ErrNotFound
	}
	if err != nil {
		return State{}, 0, err
	}
	var state State
	if err := json.Unmarshal(payload, &state); err != nil {
		return State{}, 0, fmt.Errorf("pipeline: unmarshal state: %w", err)
	}
	return state, step, nil
}

func (s *Store) SaveCheckpointV2(ctx context.Context, cp gstore.CheckpointV2[State]) error {
	payload, err := json.Marshal(cp.State)
	if err != nil {
		return fmt.Errorf("pipeline: marshal checkpoint state: %w", err)
	}
	frontier, err := json.Marshal(cp.Frontier)
	if err != nil {
		return fmt.Errorf("pipeline: marshal frontier: %w", err)
	}
	recordedIOs, err := json.Marshal(cp.RecordedIOs)
	if err != nil {
		return fmt.Errorf("pipeline: marshal recorded IOs: %w", err)
	}
	key := cp.IdempotencyKey
	if key == "" {
		key = idempotencyKey(cp.RunID, cp.StepID, payload)
	}
	return s.checkpoints.SaveStep(ctx, cp.RunID, cp.StepID, payload, frontier, cp.RNGSeed, recordedIOs, key, cp.Label)
}

func (s *Store) LoadCheckpointV2(ctx context.Context, runID string, stepID int) (gstore.CheckpointV2[State], error) {
	payload, frontier, rngSeed, recordedIOs, err := s.checkpoints.LoadStep(ctx, runID, stepID)
	if errors.Is(err, store.ErrNotFound) {
		return gstore.CheckpointV2[State]{}, gstore.ErrNotFound
	}
	if err != nil {
		return gstore.CheckpointV2[State]{}, err
	}
	var state State
	if err := json.Unmarshal(payload, &state); err != nil {
		return gstore.CheckpointV2[State]{}, fmt.Errorf("pipeline: unmarshal state: %w", err)
	}
	var frontierVal any
	if err := json.Unmarshal(frontier, &frontierVal); err != nil {
		return gstore.CheckpointV2[State]{}, fmt.Errorf("pipeline: unmarshal frontier: %w", err)
	}
	var recordedIOsVal any
	if err := json.Unmarshal(recordedIOs, &recordedIOsVal); err != nil {
		return gstore.CheckpointV2[State]{}, fmt.Errorf("pipeline: unmarshal recorded IOs: %w", err)
	}
	return gstore.CheckpointV2[State]{
		RunID:       runID,
		StepID:      stepID,
		State:       state,
		Frontier:    frontierVal,
		RNGSeed:     rngSeed,
		RecordedIOs: recordedIOsVal,
	}, nil
}

func (s *Store) CheckIdempotency(ctx context.Context, key string) (bool, error) {
	return s.checkpoints.CheckIdempotency(ctx, key)
}

func (s *Store) PendingEvents(ctx context.Context, limit int) ([]emit.Event, error) {
	ids, runIDs, payloads, err := s.checkpoints.PendingEventsAny(ctx, limit)
	if err != nil {
		return nil, err
	}
	events := make([]emit.Event, 0, len(ids))
	for i, payload := range payloads {
		var ev emit.Event
		if err := json.Unmarshal(payload, &ev); err != nil {
			return nil, fmt.Errorf("pipeline: unmarshal outbox event %s: %w", ids[i], err)
		}
		ev.RunID = runIDs[i]
		// graph/store.Store's MarkEventsEmitted contract takes back
		// whatever IDs PendingEvents handed out; since emit.Event has no
		// ID field of its own, the outbox row ID rides along in Meta.
		if ev.Meta == nil {
			ev.Meta = make(map[string]interface{})
		}
		ev.Meta["_outbox_id"] = ids[i]
		events = append(events, ev)
	}
	return events, nil
}

func (s *Store) MarkEventsEmitted(ctx context.Context, eventIDs []string) error {
	return s.checkpoints.MarkEventsEmitted(ctx, eventIDs)
}

// idempotencyKey derives a stable step commit key from (runID, step,
// payload): a retried SaveStep with identical content reuses the same key,
// and because runID and step are hashed in, two different steps never
// share one.
func idempotencyKey(runID string, step int, payload []byte) string {
	h := sha256.New()
	h.Write([]byte(runID))
	h.Write([]byte{0})
	_, _ = fmt.Fprintf(h, "%d", step)
	h.Write([]byte{0})
	h.Write(payload)
	return "sha256:" + hex.EncodeToString(h.Sum(nil))
}

// SaveOutboxEvent enqueues eventData under a fresh ID in the checkpoint
// store's transactional outbox, for the background publisher
// PendingEvents drains.
func (s *Store) SaveOutboxEvent(ctx context.Context, runID string, eventData []byte) error {
	return s.checkpoints.SaveOutboxEvent(ctx, uuid.NewString(), runID, eventData)
}
