package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/amelia-run/amelia/driver"
	"github.com/amelia-run/amelia/eventbus"
)

// Developer implements a single PlanTask against the workflow's worktree,
// using whatever tools its driver.Turn allows (file edits, shell commands).
type Developer struct {
	runner *Runner
}

// NewDeveloper constructs a Developer backed by d.
func NewDeveloper(d driver.Driver, recorder *eventbus.Recorder) *Developer {
	return &Developer{runner: NewRunner(RoleDeveloper, d, recorder)}
}

// Implement runs the developer over a single task and returns the turn's
// transcript, including every tool call it issued against the worktree.
// When requestedChanges is non-empty (a prior rejecting ReviewVerdict's
// Comments, fed back on the reviewer -> developer revise edge) it is
// appended to history so the re-run sees exactly what the reviewer asked
// for instead of redoing the task blind; sessionID, when set, resumes the
// same driver session so the requested changes land in the conversation
// that already has the original implementation's context.
func (dev *Developer) Implement(ctx context.Context, workflowID string, task PlanTask, allowedTools []string, requestedChanges []string, sessionID string) (Transcript, error) {
	history := []driver.HistoryMessage{
		{Role: "user", Content: fmt.Sprintf("Task %s: %s\n\n%s", task.ID, task.Title, task.Description)},
	}
	if len(requestedChanges) > 0 {
		changesJSON, err := json.Marshal(requestedChanges)
		if err != nil {
			return Transcript{}, fmt.Errorf("agent: marshal requested changes: %w", err)
		}
		history = append(history, driver.HistoryMessage{
			Role:    "user",
			Content: fmt.Sprintf("Requested changes from the previous review: %s", changesJSON),
		})
	}

	t, err := dev.runner.Run(ctx, workflowID, driver.Turn{
		SystemPrompt: developerSystemPrompt,
		History:      history,
		AllowedTools: allowedTools,
		SessionID:    sessionID,
	})
	if err != nil {
		return Transcript{}, err
	}
	return t, nil
}

const developerSystemPrompt = `You are the developer agent. Implement exactly the task described, using
the available tools to read and modify files in the worktree and run
shell commands as needed. Keep changes scoped to the task; do not touch
unrelated code. Report what you changed in your final response.`
