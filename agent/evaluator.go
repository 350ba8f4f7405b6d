package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/amelia-run/amelia/ameliaerr"
	"github.com/amelia-run/amelia/driver"
	"github.com/amelia-run/amelia/eventbus"
)

// EvaluationVerdict is the evaluator's structured output: a final,
// single-turn judgment over a completed workflow.
type EvaluationVerdict struct {
	Score    float64  `json:"score"`
	Passed   bool     `json:"passed"`
	Findings []string `json:"findings,omitempty"`
}

const evaluationVerdictSchema = `{
	"type": "object",
	"required": ["score", "passed"],
	"properties": {
		"score": {"type": "number", "minimum": 0, "maximum": 1},
		"passed": {"type": "boolean"},
		"findings": {"type": "array", "items": {"type": "string"}}
	}
}`

// Evaluator produces a single-turn structured verdict over a completed
// workflow's summary, independent of the reviewer's per-task checks.
type Evaluator struct {
	runner    *Runner
	validator *driver.SchemaValidator
}

// NewEvaluator constructs an Evaluator backed by d.
func NewEvaluator(d driver.Driver, recorder *eventbus.Recorder) (*Evaluator, error) {
	validator, err := driver.NewSchemaValidator("amelia://evaluator/verdict", []byte(evaluationVerdictSchema))
	if err != nil {
		return nil, fmt.Errorf("agent: compile evaluation verdict schema: %w", err)
	}
	return &Evaluator{runner: NewRunner(RoleEvaluator, d, recorder), validator: validator}, nil
}

// Evaluate runs one turn over summary (the issue, the plan, and the
// completed work) and returns an EvaluationVerdict.
func (e *Evaluator) Evaluate(ctx context.Context, workflowID, summary string) (EvaluationVerdict, error) {
	t, err := e.runner.Run(ctx, workflowID, driver.Turn{
		SystemPrompt: evaluatorSystemPrompt,
		History: []driver.HistoryMessage{
			{Role: "user", Content: summary},
		},
	})
	if err != nil {
		return EvaluationVerdict{}, err
	}
	if err := e.validator.Validate([]byte(t.Result)); err != nil {
		return EvaluationVerdict{}, ameliaerr.SchemaValidation("evaluator verdict did not match the expected schema", err)
	}
	var verdict EvaluationVerdict
	if err := json.Unmarshal([]byte(t.Result), &verdict); err != nil {
		return EvaluationVerdict{}, ameliaerr.SchemaValidation("evaluator verdict is not valid JSON", err)
	}
	return verdict, nil
}

const evaluatorSystemPrompt = `You are the evaluator agent. Given a summary of the issue, the plan that
was executed, and the resulting changes, produce a final judgment. Respond
with JSON: {"score": number between 0 and 1, "passed": bool, "findings":
[string, ...]}. findings lists concrete gaps or risks worth a human's
attention; leave it empty when there are none.`
