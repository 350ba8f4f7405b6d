package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/amelia-run/amelia/workflow"
)

// ProfileStore persists Profile configuration bundles. Exactly one profile
// may be active at a time, enforced by a partial unique index.
type ProfileStore struct {
	pool querier
}

// Create inserts a new profile, inactive by default.
func (s *ProfileStore) Create(ctx context.Context, p workflow.Profile) error {
	agents, err := json.Marshal(p.Agents)
	if err != nil {
		return fmt.Errorf("store: marshal agents: %w", err)
	}
	sandbox, err := json.Marshal(p.Sandbox)
	if err != nil {
		return fmt.Errorf("store: marshal sandbox: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO profiles
			(id, name, tracker, working_dir_root, plan_output_dir,
			 max_review_iterations, agents, sandbox, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		p.ID, p.Name, p.Tracker, p.WorkingDirRoot, p.PlanOutputDir,
		p.MaxReviewIters, agents, sandbox, p.Active, p.CreatedAt, p.UpdatedAt)
	return err
}

// Update overwrites a profile's mutable fields, bumping UpdatedAt.
func (s *ProfileStore) Update(ctx context.Context, p workflow.Profile) error {
	agents, err := json.Marshal(p.Agents)
	if err != nil {
		return fmt.Errorf("store: marshal agents: %w", err)
	}
	sandbox, err := json.Marshal(p.Sandbox)
	if err != nil {
		return fmt.Errorf("store: marshal sandbox: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		UPDATE profiles SET
			name = $1, tracker = $2, working_dir_root = $3, plan_output_dir = $4,
			max_review_iterations = $5, agents = $6, sandbox = $7, updated_at = now()
		WHERE id = $8`,
		p.Name, p.Tracker, p.WorkingDirRoot, p.PlanOutputDir, p.MaxReviewIters,
		agents, sandbox, p.ID)
	return err
}

// Delete removes a profile by ID.
func (s *ProfileStore) Delete(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM profiles WHERE id = $1`, id)
	return err
}

// Get fetches a profile by ID.
func (s *ProfileStore) Get(ctx context.Context, id string) (workflow.Profile, error) {
	return scanProfile(s.pool.QueryRow(ctx, profileSelect+`WHERE id = $1`, id))
}

// List returns every profile, most recently updated first.
func (s *ProfileStore) List(ctx context.Context) ([]workflow.Profile, error) {
	rows, err := s.pool.Query(ctx, profileSelect+`ORDER BY updated_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []workflow.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetActive returns the single active profile, or ErrNotFound if none is set.
func (s *ProfileStore) GetActive(ctx context.Context) (workflow.Profile, error) {
	return scanProfile(s.pool.QueryRow(ctx, profileSelect+`WHERE active`))
}

// beginner is satisfied by *pgxpool.Pool; it lets SetActive open its own
// transaction without the store package depending on pgxpool here.
type beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// SetActive atomically deactivates every other profile and activates id,
// so the partial unique index on active profiles is never violated
// mid-swap.
func (s *ProfileStore) SetActive(ctx context.Context, id string) error {
	b, ok := s.pool.(beginner)
	if !ok {
		return errors.New("store: SetActive requires a connection pool, not a transaction")
	}
	tx, err := b.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `UPDATE profiles SET active = FALSE WHERE active`); err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, `UPDATE profiles SET active = TRUE, updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return tx.Commit(ctx)
}

const profileSelect = `
	SELECT id, name, tracker, working_dir_root, plan_output_dir,
	       max_review_iterations, agents, sandbox, active, created_at, updated_at
	FROM profiles `

func scanProfile(row rowScanner) (workflow.Profile, error) {
	var p workflow.Profile
	var agents, sandbox []byte
	err := row.Scan(&p.ID, &p.Name, &p.Tracker, &p.WorkingDirRoot, &p.PlanOutputDir,
		&p.MaxReviewIters, &agents, &sandbox, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return workflow.Profile{}, ErrNotFound
	}
	if err != nil {
		return workflow.Profile{}, err
	}
	if err := json.Unmarshal(agents, &p.Agents); err != nil {
		return workflow.Profile{}, fmt.Errorf("store: unmarshal agents: %w", err)
	}
	if err := json.Unmarshal(sandbox, &p.Sandbox); err != nil {
		return workflow.Profile{}, fmt.Errorf("store: unmarshal sandbox: %w", err)
	}
	return p, nil
}
