package pipeline

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	gstore "github.com/dshills/langgraph-go/graph/store"

	"github.com/amelia-run/amelia/store"
)

type fakeCheckpointPersister struct {
	steps       map[string]map[int][]byte
	seeds       map[string]map[int]int64
	named       map[string]namedCheckpoint
	idempotent  map[string]bool
	outbox      []outboxRow
	markedEmitted []string
}

type namedCheckpoint struct {
	state []byte
	step  int
}

type outboxRow struct {
	id, runID string
	payload   []byte
}

func newFakeCheckpointPersister() *fakeCheckpointPersister {
	return &fakeCheckpointPersister{
		steps:      make(map[string]map[int][]byte),
		seeds:      make(map[string]map[int]int64),
		named:      make(map[string]namedCheckpoint),
		idempotent: make(map[string]bool),
	}
}

func (f *fakeCheckpointPersister) SaveStep(_ context.Context, runID string, stepID int, state, _ []byte, rngSeed int64, _ []byte, idempotencyKey, _ string) error {
	if f.steps[runID] == nil {
		f.steps[runID] = make(map[int][]byte)
		f.seeds[runID] = make(map[int]int64)
	}
	f.steps[runID][stepID] = state
	f.seeds[runID][stepID] = rngSeed
	f.idempotent[idempotencyKey] = true
	return nil
}

func (f *fakeCheckpointPersister) LoadLatestStep(_ context.Context, runID string) (int, []byte, []byte, int64, []byte, error) {
	steps, ok := f.steps[runID]
	if !ok || len(steps) == 0 {
		return 0, nil, nil, 0, nil, store.ErrNotFound
	}
	latest := 0
	for step := range steps {
		if step > latest {
			latest = step
		}
	}
	return latest, steps[latest], []byte("[]"), f.seeds[runID][latest], []byte("[]"), nil
}

func (f *fakeCheckpointPersister) LoadStep(_ context.Context, runID string, stepID int) ([]byte, []byte, int64, []byte, error) {
	steps, ok := f.steps[runID]
	if !ok {
		return nil, nil, 0, nil, store.ErrNotFound
	}
	state, ok := steps[stepID]
	if !ok {
		return nil, nil, 0, nil, store.ErrNotFound
	}
	return state, []byte("[]"), f.seeds[runID][stepID], []byte("[]"), nil
}

func (f *fakeCheckpointPersister) CheckIdempotency(_ context.Context, key string) (bool, error) {
	return f.idempotent[key], nil
}

func (f *fakeCheckpointPersister) SaveNamed(_ context.Context, checkpointID string, state []byte, step int) error {
	f.named[checkpointID] = namedCheckpoint{state: state, step: step}
	return nil
}

func (f *fakeCheckpointPersister) LoadNamed(_ context.Context, checkpointID string) ([]byte, int, error) {
	cp, ok := f.named[checkpointID]
	if !ok {
		return nil, 0, store.ErrNotFound
	}
	return cp.state, cp.step, nil
}

func (f *fakeCheckpointPersister) SaveOutboxEvent(_ context.Context, id, runID string, eventData []byte) error {
	f.outbox = append(f.outbox, outboxRow{id: id, runID: runID, payload: eventData})
	return nil
}

func (f *fakeCheckpointPersister) PendingEventsAny(_ context.Context, limit int) ([]string, []string, [][]byte, error) {
	var ids, runIDs []string
	var payloads [][]byte
	for i, row := range f.outbox {
		if i >= limit {
			break
		}
		ids = append(ids, row.id)
		runIDs = append(runIDs, row.runID)
		payloads = append(payloads, row.payload)
	}
	return ids, runIDs, payloads, nil
}

func (f *fakeCheckpointPersister) MarkEventsEmitted(_ context.Context, ids []string) error {
	f.markedEmitted = append(f.markedEmitted, ids...)
	return nil
}

func TestStoreSaveStepAndLoadLatestRoundTrips(t *testing.T) {
	persister := newFakeCheckpointPersister()
	s := &Store{checkpoints: persister}

	state := State{WorkflowID: "wf-1", Issue: "fix bug"}
	require.NoError(t, s.SaveStep(context.Background(), "wf-1", 1, NodeArchitect, state))

	loaded, step, err := s.LoadLatest(context.Background(), "wf-1")
	require.NoError(t, err)
	require.Equal(t, 1, step)
	require.Equal(t, state, loaded)
}

func TestStoreLoadLatestReturnsGraphStoreErrNotFound(t *testing.T) {
	s := &Store{checkpoints: newFakeCheckpointPersister()}
	_, _, err := s.LoadLatest(context.Background(), "missing")
	require.ErrorIs(t, err, gstore.ErrNotFound)
}

func TestStoreSaveAndLoadNamedCheckpoint(t *testing.T) {
	persister := newFakeCheckpointPersister()
	s := &Store{checkpoints: persister}

	state := State{WorkflowID: "wf-1", CurrentTaskIndex: 2}
	require.NoError(t, s.SaveCheckpoint(context.Background(), "before_review", state, 5))

	loaded, step, err := s.LoadCheckpoint(context.Background(), "before_review")
	require.NoError(t, err)
	require.Equal(t, 5, step)
	require.Equal(t, state, loaded)
}

func TestStoreLoadCheckpointNotFound(t *testing.T) {
	s := &Store{checkpoints: newFakeCheckpointPersister()}
	_, _, err := s.LoadCheckpoint(context.Background(), "missing")
	require.ErrorIs(t, err, gstore.ErrNotFound)
}

func TestStoreSaveAndLoadCheckpointV2(t *testing.T) {
	persister := newFakeCheckpointPersister()
	s := &Store{checkpoints: persister}

	cp := gstore.CheckpointV2[State]{
		RunID:       "wf-1",
		StepID:      3,
		State:       State{WorkflowID: "wf-1"},
		Frontier:    []string{"developer_node"},
		RecordedIOs: []string{},
		RNGSeed:     42,
	}
	require.NoError(t, s.SaveCheckpointV2(context.Background(), cp))

	loaded, err := s.LoadCheckpointV2(context.Background(), "wf-1", 3)
	require.NoError(t, err)
	require.Equal(t, cp.State, loaded.State)
	require.Equal(t, int64(42), loaded.RNGSeed)
}

func TestStoreCheckIdempotencyReflectsPriorSave(t *testing.T) {
	persister := newFakeCheckpointPersister()
	s := &Store{checkpoints: persister}
	require.NoError(t, s.SaveStep(context.Background(), "wf-1", 1, NodeArchitect, State{WorkflowID: "wf-1"}))

	payload, err := json.Marshal(State{WorkflowID: "wf-1"})
	require.NoError(t, err)
	exists, err := s.CheckIdempotency(context.Background(), idempotencyKey("wf-1", 1, payload))
	require.NoError(t, err)
	require.True(t, exists)
}

func TestStorePendingEventsUnmarshalsAndStampsRunIDAndOutboxID(t *testing.T) {
	persister := newFakeCheckpointPersister()
	s := &Store{checkpoints: persister}

	require.NoError(t, s.SaveOutboxEvent(context.Background(), "wf-1", []byte(`{"msg":"node started"}`)))

	events, err := s.PendingEvents(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "wf-1", events[0].RunID)
	require.Equal(t, "node started", events[0].Msg)
	require.NotEmpty(t, events[0].Meta["_outbox_id"])
}

func TestStoreMarkEventsEmittedDelegates(t *testing.T) {
	persister := newFakeCheckpointPersister()
	s := &Store{checkpoints: persister}
	require.NoError(t, s.MarkEventsEmitted(context.Background(), []string{"id-1", "id-2"}))
	require.Equal(t, []string{"id-1", "id-2"}, persister.markedEmitted)
}

func TestIdempotencyKeyStableForSameInputsDifferentForDifferentStep(t *testing.T) {
	payload := []byte(`{"a":1}`)
	k1 := idempotencyKey("wf-1", 1, payload)
	k2 := idempotencyKey("wf-1", 1, payload)
	k3 := idempotencyKey("wf-1", 2, payload)
	require.Equal(t, k1, k2)
	require.NotEqual(t, k1, k3)
}
