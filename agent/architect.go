package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/amelia-run/amelia/ameliaerr"
	"github.com/amelia-run/amelia/driver"
	"github.com/amelia-run/amelia/eventbus"
)

// Plan is the architect's structured output: an ordered set of tasks the
// developer will execute one at a time, validated against planSchema
// before the pipeline accepts it.
type Plan struct {
	Summary string     `json:"summary"`
	Tasks   []PlanTask `json:"tasks"`
}

// PlanTask is a single unit of work within a Plan.
type PlanTask struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Files       []string `json:"files,omitempty"`
}

// planSchema constrains the architect's JSON output to the Plan shape.
const planSchema = `{
	"type": "object",
	"required": ["summary", "tasks"],
	"properties": {
		"summary": {"type": "string"},
		"tasks": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["id", "title", "description"],
				"properties": {
					"id": {"type": "string"},
					"title": {"type": "string"},
					"description": {"type": "string"},
					"files": {"type": "array", "items": {"type": "string"}}
				}
			}
		}
	}
}`

// Architect turns an issue description into a Plan.
type Architect struct {
	runner    *Runner
	validator *driver.SchemaValidator
}

// NewArchitect constructs an Architect backed by d, emitting events
// through recorder.
func NewArchitect(d driver.Driver, recorder *eventbus.Recorder) (*Architect, error) {
	validator, err := driver.NewSchemaValidator("amelia://architect/plan", []byte(planSchema))
	if err != nil {
		return nil, fmt.Errorf("agent: compile plan schema: %w", err)
	}
	return &Architect{runner: NewRunner(RoleArchitect, d, recorder), validator: validator}, nil
}

// renderMarkdown synthesizes the "### Task N: <title>" document
// PlanValidator's structural check runs against. Plan itself stays the
// schema-validated JSON shape the architect actually emits; this exists
// only to give the validator's literal header contract something to match.
func (p Plan) renderMarkdown() string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(p.Summary))
	b.WriteString("\n\n")
	for i, task := range p.Tasks {
		fmt.Fprintf(&b, "### Task %d: %s\n%s\n\n", i+1, task.Title, task.Description)
	}
	return b.String()
}

// Draft runs one architect turn over the issue description and returns the
// resulting Plan plus the driver session it ran under. When priorIssues is
// non-empty (a prior PlanValidationResult's Issues, fed back on the
// plan_validator -> architect revise edge) it is appended to history as
// validator feedback so the revision sees exactly what was wrong instead of
// redrafting blind; sessionID, when set, resumes the same driver session so
// that feedback lands in a continued conversation rather than a fresh one.
// An ameliaerr.Content(SchemaValidation) error is returned if the model's
// output doesn't conform to planSchema.
func (a *Architect) Draft(ctx context.Context, workflowID, issueDescription string, priorIssues []string, sessionID string) (Plan, string, error) {
	history := []driver.HistoryMessage{{Role: "user", Content: issueDescription}}
	if len(priorIssues) > 0 {
		issuesJSON, err := json.Marshal(priorIssues)
		if err != nil {
			return Plan{}, "", fmt.Errorf("agent: marshal validator feedback: %w", err)
		}
		history = append(history, driver.HistoryMessage{
			Role:    "user",
			Content: fmt.Sprintf("The previous plan failed validation. Revise it to address: %s", issuesJSON),
		})
	}

	t, err := a.runner.Run(ctx, workflowID, driver.Turn{
		SystemPrompt: architectSystemPrompt,
		History:      history,
		SessionID:    sessionID,
	})
	if err != nil {
		return Plan{}, "", err
	}
	if err := a.validator.Validate([]byte(t.Result)); err != nil {
		return Plan{}, t.SessionID, ameliaerr.SchemaValidation("architect plan did not match the expected schema", err)
	}
	var plan Plan
	if err := json.Unmarshal([]byte(t.Result), &plan); err != nil {
		return Plan{}, t.SessionID, ameliaerr.SchemaValidation("architect plan is not valid JSON", err)
	}
	return plan, t.SessionID, nil
}

const architectSystemPrompt = `You are the architect agent. Given an issue description, produce a JSON
plan with a short summary and an ordered list of tasks. Each task must have
a stable id, a one-line title, and a description precise enough for a
developer agent to implement without further clarification. Output only
the JSON plan, nothing else.`
