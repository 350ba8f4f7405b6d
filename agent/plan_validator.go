package agent

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/amelia-run/amelia/eventbus"
	"github.com/amelia-run/amelia/workflow"
)

// Severity classifies how urgent a PlanValidationResult's issues are.
// Routing does not depend on it: once plan revisions are exhausted, the
// pipeline escalates an invalid plan to human approval whatever its
// severity.
type Severity string

const (
	SeverityNone     Severity = ""
	SeverityWarning  Severity = "warning"
	SeverityBlocking Severity = "blocking"
)

// PlanValidationResult is the plan validator's structural verdict.
type PlanValidationResult struct {
	Valid    bool     `json:"valid"`
	Issues   []string `json:"issues,omitempty"`
	Severity Severity `json:"severity,omitempty"`
}

const (
	minTaskDescriptionLen = 10
	minPlanDocLen         = 40
)

var taskHeaderPattern = regexp.MustCompile(`(?m)^### Task \d+:`)

// PlanValidator checks an architect Plan against a fixed structural
// contract — at least one "### Task N:" section, a stated goal, and
// enough per-task detail to implement without further clarification —
// before it reaches the human approval gate. Deliberately not an agent
// turn: the check is cheap, deterministic, and must never itself need to
// be retried for a transient provider failure the way an LLM-backed
// verdict would.
type PlanValidator struct {
	recorder *eventbus.Recorder
}

// NewPlanValidator constructs a PlanValidator. recorder may be nil; Check
// then simply skips emitting validation telemetry.
func NewPlanValidator(recorder *eventbus.Recorder) *PlanValidator {
	return &PlanValidator{recorder: recorder}
}

// Check runs the structural contract against plan and returns a
// PlanValidationResult summarizing every violation found.
func (v *PlanValidator) Check(ctx context.Context, workflowID string, plan Plan) (PlanValidationResult, error) {
	doc := plan.renderMarkdown()
	var issues []string
	severity := SeverityNone

	if strings.TrimSpace(plan.Summary) == "" {
		issues = append(issues, "plan is missing a goal")
		severity = SeverityWarning
	}
	if !taskHeaderPattern.MatchString(doc) {
		issues = append(issues, `plan has no "### Task N:" sections`)
		severity = SeverityBlocking
	}
	for i, task := range plan.Tasks {
		if len(strings.TrimSpace(task.Description)) < minTaskDescriptionLen {
			issues = append(issues, fmt.Sprintf("task %d (%s) description is too short to implement without clarification", i+1, task.ID))
			if severity != SeverityBlocking {
				severity = SeverityWarning
			}
		}
	}
	if len(strings.TrimSpace(doc)) < minPlanDocLen {
		issues = append(issues, "plan is too short to be actionable")
		if severity != SeverityBlocking {
			severity = SeverityWarning
		}
	}

	result := PlanValidationResult{Valid: len(issues) == 0, Issues: issues, Severity: severity}
	if v.recorder != nil {
		_, _ = v.recorder.Record(ctx, workflow.Event{
			WorkflowID: workflowID,
			Level:      workflow.LevelInfo,
			EventType:  workflow.EventStageCompleted,
			Agent:      string(RolePlanValidator),
			Message:    fmt.Sprintf("plan validation: valid=%v severity=%s issues=%d", result.Valid, severity, len(issues)),
		})
	}
	return result, nil
}
