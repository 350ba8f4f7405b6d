package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/amelia-run/amelia/workflow"
)

// ErrNotFound is returned when a lookup by ID or unique key matches nothing.
var ErrNotFound = errors.New("store: not found")

// ErrConflict is returned when an insert would violate the active-worktree
// or active-profile uniqueness constraint.
var ErrConflict = errors.New("store: conflict")

// WorkflowStore persists workflow.Workflow records.
type WorkflowStore struct {
	pool querier
}

// Create inserts a new workflow. It returns ErrConflict if an active
// (pending/in_progress/blocked) workflow already owns w.WorktreePath.
func (s *WorkflowStore) Create(ctx context.Context, w workflow.Workflow) error {
	planCache, err := marshalNullable(w.PlanCache)
	if err != nil {
		return fmt.Errorf("store: marshal plan_cache: %w", err)
	}
	issueCache, err := marshalNullable(w.IssueCache)
	if err != nil {
		return fmt.Errorf("store: marshal issue_cache: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO workflows
			(id, issue_id, worktree_path, profile_id, status, workflow_type,
			 issue_description, failure_reason, plan_cache, issue_cache,
			 created_at, started_at, planned_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		w.ID, w.IssueID, w.WorktreePath, w.ProfileID, w.Status, w.Type,
		w.IssueDescription, w.FailureReason, planCache, issueCache, w.CreatedAt,
		w.StartedAt, w.PlannedAt, w.CompletedAt)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

// Get fetches a workflow by ID.
func (s *WorkflowStore) Get(ctx context.Context, id string) (workflow.Workflow, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, issue_id, worktree_path, profile_id, status, workflow_type,
		       issue_description, failure_reason, plan_cache, issue_cache,
		       created_at, started_at, planned_at, completed_at
		FROM workflows WHERE id = $1`, id)
	return scanWorkflow(row)
}

// SetStatus transitions a workflow's status, stamping the matching
// timestamp column. The caller is responsible for checking
// Workflow.CanTransition before calling this.
func (s *WorkflowStore) SetStatus(ctx context.Context, id string, status workflow.Status, failureReason string) error {
	var column string
	switch status {
	case workflow.StatusInProgress:
		column = "started_at"
	case workflow.StatusBlocked:
		column = "planned_at"
	case workflow.StatusCompleted, workflow.StatusFailed, workflow.StatusCancelled:
		column = "completed_at"
	}
	if column == "" {
		_, err := s.pool.Exec(ctx, `
			UPDATE workflows SET status = $1, failure_reason = $2 WHERE id = $3`,
			status, failureReason, id)
		return err
	}
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
		UPDATE workflows SET status = $1, failure_reason = $2, %s = now()
		WHERE id = $3`, column), status, failureReason, id)
	return err
}

// UpdateCaches overwrites the display-only plan/issue cache snapshots.
func (s *WorkflowStore) UpdateCaches(ctx context.Context, id string, planCache, issueCache map[string]any) error {
	plan, err := marshalNullable(planCache)
	if err != nil {
		return err
	}
	issue, err := marshalNullable(issueCache)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		UPDATE workflows SET plan_cache = $1, issue_cache = $2 WHERE id = $3`,
		plan, issue, id)
	return err
}

// ListActive returns every workflow whose status is pending, in_progress,
// or blocked, ordered by creation time. The scheduler uses this on startup
// to mark workflows left active by a previous process as failed.
func (s *WorkflowStore) ListActive(ctx context.Context) ([]workflow.Workflow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, issue_id, worktree_path, profile_id, status, workflow_type,
		       issue_description, failure_reason, plan_cache, issue_cache,
		       created_at, started_at, planned_at, completed_at
		FROM workflows
		WHERE status IN ('pending', 'in_progress', 'blocked')
		ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []workflow.Workflow
	for rows.Next() {
		w, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// List returns workflows matching status and/or worktree, most recent
// first. An empty filter value matches every row for that column.
func (s *WorkflowStore) List(ctx context.Context, status workflow.Status, worktreePath string) ([]workflow.Workflow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, issue_id, worktree_path, profile_id, status, workflow_type,
		       issue_description, failure_reason, plan_cache, issue_cache,
		       created_at, started_at, planned_at, completed_at
		FROM workflows
		WHERE ($1 = '' OR status = $1) AND ($2 = '' OR worktree_path = $2)
		ORDER BY created_at DESC`, status, worktreePath)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []workflow.Workflow
	for rows.Next() {
		w, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkflow(row rowScanner) (workflow.Workflow, error) {
	var w workflow.Workflow
	var planCache, issueCache []byte
	err := row.Scan(&w.ID, &w.IssueID, &w.WorktreePath, &w.ProfileID, &w.Status,
		&w.Type, &w.IssueDescription, &w.FailureReason, &planCache, &issueCache,
		&w.CreatedAt, &w.StartedAt, &w.PlannedAt, &w.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return workflow.Workflow{}, ErrNotFound
	}
	if err != nil {
		return workflow.Workflow{}, err
	}
	if len(planCache) > 0 {
		if err := json.Unmarshal(planCache, &w.PlanCache); err != nil {
			return workflow.Workflow{}, fmt.Errorf("store: unmarshal plan_cache: %w", err)
		}
	}
	if len(issueCache) > 0 {
		if err := json.Unmarshal(issueCache, &w.IssueCache); err != nil {
			return workflow.Workflow{}, fmt.Errorf("store: unmarshal issue_cache: %w", err)
		}
	}
	return w, nil
}

func marshalNullable(v map[string]any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func isUniqueViolation(err error) bool {
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) {
		return pgErr.SQLState() == "23505"
	}
	return false
}
