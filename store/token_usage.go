package store

import (
	"context"

	"github.com/amelia-run/amelia/workflow"
)

// TokenUsageStore persists per-agent cost and token accounting records.
type TokenUsageStore struct {
	pool querier
}

// Save inserts one usage record.
func (s *TokenUsageStore) Save(ctx context.Context, u workflow.TokenUsage) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO token_usage
			(id, workflow_id, agent, model, input_tokens, output_tokens,
			 cache_read_tokens, cache_creation_tokens, cost_usd, duration_ms,
			 num_turns, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		u.ID, u.WorkflowID, u.Agent, u.Model, u.InputTokens, u.OutputTokens,
		u.CacheReadTokens, u.CacheCreateTokens, u.CostUSD, u.DurationMs,
		u.NumTurns, u.Timestamp)
	return err
}

// ListByWorkflow returns every usage record for a workflow, oldest first.
func (s *TokenUsageStore) ListByWorkflow(ctx context.Context, workflowID string) ([]workflow.TokenUsage, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, workflow_id, agent, model, input_tokens, output_tokens,
		       cache_read_tokens, cache_creation_tokens, cost_usd, duration_ms,
		       num_turns, timestamp
		FROM token_usage WHERE workflow_id = $1 ORDER BY timestamp ASC`, workflowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []workflow.TokenUsage
	for rows.Next() {
		var u workflow.TokenUsage
		if err := rows.Scan(&u.ID, &u.WorkflowID, &u.Agent, &u.Model,
			&u.InputTokens, &u.OutputTokens, &u.CacheReadTokens,
			&u.CacheCreateTokens, &u.CostUSD, &u.DurationMs, &u.NumTurns,
			&u.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// Aggregate sums cost and token counts across every record for a workflow.
type Aggregate struct {
	InputTokens  int64
	OutputTokens int64
	CostUSD      float64
}

// Aggregate computes the running total for a workflow.
func (s *TokenUsageStore) Aggregate(ctx context.Context, workflowID string) (Aggregate, error) {
	var a Aggregate
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0),
		       COALESCE(SUM(cost_usd), 0)
		FROM token_usage WHERE workflow_id = $1`, workflowID).
		Scan(&a.InputTokens, &a.OutputTokens, &a.CostUSD)
	return a, err
}
