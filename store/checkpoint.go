package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
)

// CheckpointStore persists the raw rows behind a pipeline run's durable
// checkpoints: per-step snapshots, the latest-step pointer, named
// checkpoints, and the pending-events outbox. It stores JSON payloads
// opaquely — the pipeline package (which owns the State type these
// payloads encode) is responsible for marshalling and unmarshalling, and
// for satisfying the graph engine's generic Store[S] contract on top of
// these methods.
type CheckpointStore struct {
	pool querier
}

// SaveStep upserts one step record for a run: saving the same (runID,
// stepID) again overwrites the earlier row. idempotencyKey is unique across
// the whole table, so reusing a key for a different step returns
// ErrConflict.
func (s *CheckpointStore) SaveStep(ctx context.Context, runID string, stepID int, state, frontier []byte, rngSeed int64, recordedIOs []byte, idempotencyKey, label string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO graph_checkpoints
			(run_id, step_id, state, frontier, rng_seed, recorded_ios, idempotency_key, label)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (run_id, step_id) DO UPDATE SET
			state = EXCLUDED.state, frontier = EXCLUDED.frontier,
			rng_seed = EXCLUDED.rng_seed, recorded_ios = EXCLUDED.recorded_ios,
			idempotency_key = EXCLUDED.idempotency_key, label = EXCLUDED.label`,
		runID, stepID, state, frontier, rngSeed, recordedIOs, idempotencyKey, label)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	if err == nil {
		_, err = s.pool.Exec(ctx, `
			INSERT INTO graph_checkpoints_latest (run_id, step_id)
			VALUES ($1, $2)
			ON CONFLICT (run_id) DO UPDATE SET step_id = EXCLUDED.step_id
			WHERE graph_checkpoints_latest.step_id < EXCLUDED.step_id`,
			runID, stepID)
	}
	return err
}

// LoadLatestStep returns the highest step_id recorded for a run and its
// payload, or ErrNotFound if the run has no checkpoints.
func (s *CheckpointStore) LoadLatestStep(ctx context.Context, runID string) (stepID int, state, frontier []byte, rngSeed int64, recordedIOs []byte, err error) {
	err = s.pool.QueryRow(ctx, `
		SELECT c.step_id, c.state, c.frontier, c.rng_seed, c.recorded_ios
		FROM graph_checkpoints c
		JOIN graph_checkpoints_latest l ON l.run_id = c.run_id AND l.step_id = c.step_id
		WHERE c.run_id = $1`, runID).
		Scan(&stepID, &state, &frontier, &rngSeed, &recordedIOs)
	if errors.Is(err, pgx.ErrNoRows) {
		err = ErrNotFound
	}
	return
}

// LoadStep returns the payload recorded for a specific (runID, stepID) pair,
// or ErrNotFound if no such step was ever saved.
func (s *CheckpointStore) LoadStep(ctx context.Context, runID string, stepID int) (state, frontier []byte, rngSeed int64, recordedIOs []byte, err error) {
	err = s.pool.QueryRow(ctx, `
		SELECT state, frontier, rng_seed, recorded_ios
		FROM graph_checkpoints WHERE run_id = $1 AND step_id = $2`, runID, stepID).
		Scan(&state, &frontier, &rngSeed, &recordedIOs)
	if errors.Is(err, pgx.ErrNoRows) {
		err = ErrNotFound
	}
	return
}

// CheckIdempotency reports whether idempotencyKey has already been used by
// a prior step, for any run.
func (s *CheckpointStore) CheckIdempotency(ctx context.Context, idempotencyKey string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM graph_checkpoints WHERE idempotency_key = $1)`,
		idempotencyKey).Scan(&exists)
	return exists, err
}

// SaveNamed upserts a label-addressed checkpoint snapshot — used for the
// human-approval pause/resume pattern, where the label is the workflow ID.
func (s *CheckpointStore) SaveNamed(ctx context.Context, checkpointID string, state []byte, stepID int) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO graph_named_checkpoints (checkpoint_id, state, step_id, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (checkpoint_id) DO UPDATE SET
			state = EXCLUDED.state, step_id = EXCLUDED.step_id, updated_at = now()`,
		checkpointID, state, stepID)
	return err
}

// LoadNamed fetches a label-addressed checkpoint, or ErrNotFound.
func (s *CheckpointStore) LoadNamed(ctx context.Context, checkpointID string) (state []byte, stepID int, err error) {
	err = s.pool.QueryRow(ctx, `
		SELECT state, step_id FROM graph_named_checkpoints WHERE checkpoint_id = $1`,
		checkpointID).Scan(&state, &stepID)
	if errors.Is(err, pgx.ErrNoRows) {
		err = ErrNotFound
	}
	return
}

// DeleteForWorkflow removes every checkpoint (stepwise and named) for a run.
// No caller in this module invokes it, so a terminal workflow's checkpoints
// are kept.
func (s *CheckpointStore) DeleteForWorkflow(ctx context.Context, runID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM graph_checkpoints WHERE run_id = $1`, runID); err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM graph_checkpoints_latest WHERE run_id = $1`, runID); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, `DELETE FROM graph_named_checkpoints WHERE checkpoint_id = $1`, runID)
	return err
}

// SaveOutboxEvent records a pipeline event pending emission, keyed by a
// caller-supplied unique ID.
func (s *CheckpointStore) SaveOutboxEvent(ctx context.Context, id, runID string, eventData []byte) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO graph_events_outbox (id, run_id, event_data)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO NOTHING`, id, runID, eventData)
	return err
}

// PendingEvents returns every outbox event for a run not yet marked emitted.
func (s *CheckpointStore) PendingEvents(ctx context.Context, runID string) (ids []string, payloads [][]byte, err error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, event_data FROM graph_events_outbox
		WHERE run_id = $1 AND emitted_at IS NULL
		ORDER BY created_at ASC`, runID)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		var data []byte
		if err := rows.Scan(&id, &data); err != nil {
			return nil, nil, err
		}
		ids = append(ids, id)
		payloads = append(payloads, data)
	}
	return ids, payloads, rows.Err()
}

// PendingEventsAny returns up to limit not-yet-emitted outbox events across
// every run, oldest first, for a background publisher that doesn't know
// run IDs up front.
func (s *CheckpointStore) PendingEventsAny(ctx context.Context, limit int) (ids, runIDs []string, payloads [][]byte, err error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, run_id, event_data FROM graph_events_outbox
		WHERE emitted_at IS NULL ORDER BY created_at ASC LIMIT $1`, limit)
	if err != nil {
		return nil, nil, nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id, runID string
		var data []byte
		if err := rows.Scan(&id, &runID, &data); err != nil {
			return nil, nil, nil, err
		}
		ids = append(ids, id)
		runIDs = append(runIDs, runID)
		payloads = append(payloads, data)
	}
	return ids, runIDs, payloads, rows.Err()
}

// MarkEventsEmitted stamps the outbox rows named by ids as emitted.
func (s *CheckpointStore) MarkEventsEmitted(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE graph_events_outbox SET emitted_at = now() WHERE id = ANY($1)`, ids)
	return err
}
