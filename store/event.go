package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/amelia-run/amelia/workflow"
)

// EventStore persists the append-only, gap-free workflow event log.
type EventStore struct {
	pool querier
}

// Save inserts one event. The UNIQUE(workflow_id, sequence) constraint
// makes a duplicate sequence number for the same workflow a conflict
// rather than a silent overwrite — the caller (the sequencer in package
// eventbus) is responsible for gap-free, monotonic sequence assignment.
func (s *EventStore) Save(ctx context.Context, e workflow.Event) error {
	data, err := marshalNullable(e.Data)
	if err != nil {
		return fmt.Errorf("store: marshal event data: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO workflow_log
			(id, workflow_id, sequence, timestamp, level, event_type, agent,
			 message, data, is_error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		e.ID, e.WorkflowID, e.Sequence, e.Timestamp, e.Level, e.EventType,
		e.Agent, e.Message, data, e.IsError)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

// MaxSequence returns the highest sequence number recorded for workflowID,
// or 0 if no events exist yet. The sequencer calls this once, at
// get-or-create time, to resume numbering after a restart.
func (s *EventStore) MaxSequence(ctx context.Context, workflowID string) (int64, error) {
	var max int64
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(MAX(sequence), 0) FROM workflow_log WHERE workflow_id = $1`,
		workflowID).Scan(&max)
	return max, err
}

// List returns every event for a workflow in sequence order, optionally
// starting after afterSequence (pass 0 for the full log).
func (s *EventStore) List(ctx context.Context, workflowID string, afterSequence int64) ([]workflow.Event, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, workflow_id, sequence, timestamp, level, event_type, agent,
		       message, data, is_error
		FROM workflow_log
		WHERE workflow_id = $1 AND sequence > $2
		ORDER BY sequence ASC`, workflowID, afterSequence)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []workflow.Event
	for rows.Next() {
		var e workflow.Event
		var data []byte
		if err := rows.Scan(&e.ID, &e.WorkflowID, &e.Sequence, &e.Timestamp,
			&e.Level, &e.EventType, &e.Agent, &e.Message, &data, &e.IsError); err != nil {
			return nil, err
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &e.Data); err != nil {
				return nil, fmt.Errorf("store: unmarshal event data: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
