package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/amelia-run/amelia/ameliaerr"
	"github.com/amelia-run/amelia/driver"
	"github.com/amelia-run/amelia/eventbus"
)

// ReviewVerdict is the reviewer's structured output for one completed
// developer turn: either the task is accepted, or comments describe what
// needs to change before the developer re-runs.
type ReviewVerdict struct {
	Approved bool     `json:"approved"`
	Comments []string `json:"comments,omitempty"`
}

const reviewVerdictSchema = `{
	"type": "object",
	"required": ["approved"],
	"properties": {
		"approved": {"type": "boolean"},
		"comments": {"type": "array", "items": {"type": "string"}}
	}
}`

// Reviewer checks a developer's transcript for one task against the task
// description and produces a ReviewVerdict.
type Reviewer struct {
	runner    *Runner
	validator *driver.SchemaValidator
}

// NewReviewer constructs a Reviewer backed by d.
func NewReviewer(d driver.Driver, recorder *eventbus.Recorder) (*Reviewer, error) {
	validator, err := driver.NewSchemaValidator("amelia://reviewer/verdict", []byte(reviewVerdictSchema))
	if err != nil {
		return nil, fmt.Errorf("agent: compile review verdict schema: %w", err)
	}
	return &Reviewer{runner: NewRunner(RoleReviewer, d, recorder), validator: validator}, nil
}

// Review evaluates the developer's transcript against task and returns a
// ReviewVerdict. priorComments, if non-empty, are the comments from a
// previous review iteration already addressed by the developer.
func (r *Reviewer) Review(ctx context.Context, workflowID string, task PlanTask, transcript Transcript, priorComments []string) (ReviewVerdict, error) {
	history := []driver.HistoryMessage{
		{Role: "user", Content: fmt.Sprintf("Current Task (%s): %s\n\n%s", task.ID, task.Title, task.Description)},
		{Role: "assistant", Content: transcript.Result},
	}
	if len(priorComments) > 0 {
		commentsJSON, err := json.Marshal(priorComments)
		if err != nil {
			return ReviewVerdict{}, fmt.Errorf("agent: marshal prior comments: %w", err)
		}
		history = append(history, driver.HistoryMessage{
			Role:    "user",
			Content: fmt.Sprintf("Previously requested changes: %s", commentsJSON),
		})
	}
	t, err := r.runner.Run(ctx, workflowID, driver.Turn{
		SystemPrompt: reviewerSystemPrompt,
		History:      history,
	})
	if err != nil {
		return ReviewVerdict{}, err
	}
	if err := r.validator.Validate([]byte(t.Result)); err != nil {
		return ReviewVerdict{}, ameliaerr.SchemaValidation("reviewer verdict did not match the expected schema", err)
	}
	var verdict ReviewVerdict
	if err := json.Unmarshal([]byte(t.Result), &verdict); err != nil {
		return ReviewVerdict{}, ameliaerr.SchemaValidation("reviewer verdict is not valid JSON", err)
	}
	return verdict, nil
}

const reviewerSystemPrompt = `You are the reviewer agent. Given the current task and the developer's
reported changes, decide whether the task is satisfied. Respond with JSON:
{"approved": bool, "comments": [string, ...]}. Leave comments empty when
approved; otherwise list concrete, actionable changes the developer must
make before the task can be accepted.`
