// Package agent is the C4 Agents layer: the five fixed roles (architect,
// plan_validator, developer, reviewer, evaluator) a pipeline node invokes.
// Architect, developer, reviewer, and evaluator each wrap a driver.Driver
// with their own system prompt, schema, and event-emission contract;
// plan_validator is a deterministic check that calls no driver. Oracle is
// modeled separately (oracle.go) as an out-of-core collaborator client
// rather than a driver-backed role.
package agent

import (
	"context"
	"fmt"

	"github.com/amelia-run/amelia/driver"
	"github.com/amelia-run/amelia/eventbus"
	"github.com/amelia-run/amelia/workflow"
)

// Role names the fixed agent vocabulary the pipeline invokes. Unlike
// goa-ai's open-ended Planner contract (one implementation per use case),
// Amelia's roles are a closed set with role-specific input/output shapes,
// so each gets its own thin wrapper rather than a single generic
// interface.
type Role string

const (
	RoleArchitect     Role = "architect"
	RolePlanValidator Role = "plan_validator"
	RoleDeveloper     Role = "developer"
	RoleReviewer      Role = "reviewer"
	RoleEvaluator     Role = "evaluator"
)

// Runner executes one turn of an agent role and accumulates its streamed
// AgenticMessages into a final transcript, emitting bus events as it goes.
// Each role wrapper (Architect, Developer, ...) composes a Runner rather
// than re-implementing stream draining.
type Runner struct {
	role     Role
	driver   driver.Driver
	recorder *eventbus.Recorder
}

// NewRunner builds a Runner for role, backed by d, emitting events through
// recorder.
func NewRunner(role Role, d driver.Driver, recorder *eventbus.Recorder) *Runner {
	return &Runner{role: role, driver: d, recorder: recorder}
}

// Transcript is the accumulated output of one driver turn: every thinking
// block and tool interaction observed, plus the turn's final result text
// and usage, in emission order.
type Transcript struct {
	Thinking    []string
	ToolCalls   []driver.ToolCall
	ToolResults []driver.ToolResult
	Result      string
	Usage       *driver.Usage

	// SessionID is the driver session this turn ran under, captured from a
	// KindSession message if the driver reported one. A later turn for the
	// same role passes this back as driver.Turn.SessionID to continue the
	// same underlying conversation instead of starting fresh.
	SessionID string
}

// Run drains one driver turn to completion, recording an EventAgentThinking
// event for every thinking block, an EventToolCall/EventToolResult pair for
// every tool interaction, and an EventAgentResult event once the turn
// produces its final text. It returns the accumulated Transcript.
func (r *Runner) Run(ctx context.Context, workflowID string, turn driver.Turn) (Transcript, error) {
	stream, err := r.driver.Run(ctx, turn)
	if err != nil {
		return Transcript{}, fmt.Errorf("agent: start %s turn: %w", r.role, err)
	}
	defer stream.Close()

	var t Transcript
	for stream.Next(ctx) {
		msg := stream.Message()
		switch msg.Kind {
		case driver.KindThinking:
			t.Thinking = append(t.Thinking, msg.Thinking)
			r.emit(ctx, workflowID, workflow.EventAgentThinking, msg.Thinking, nil, false)
		case driver.KindToolCall:
			t.ToolCalls = append(t.ToolCalls, *msg.ToolCall)
			r.emit(ctx, workflowID, workflow.EventToolCall, msg.ToolCall.Name, map[string]any{
				"tool_call_id": msg.ToolCall.ID,
				"input":        string(msg.ToolCall.Input),
			}, false)
		case driver.KindToolResult:
			t.ToolResults = append(t.ToolResults, *msg.ToolResult)
			r.emit(ctx, workflowID, workflow.EventToolResult, msg.ToolResult.Content, map[string]any{
				"tool_call_id": msg.ToolResult.ToolCallID,
			}, msg.ToolResult.IsError)
		case driver.KindResult:
			t.Result += msg.Result
		case driver.KindUsage:
			t.Usage = msg.Usage
		case driver.KindSession:
			t.SessionID = msg.SessionID
		}
	}
	if err := stream.Err(); err != nil {
		return t, fmt.Errorf("agent: %s turn: %w", r.role, err)
	}
	if t.Result != "" {
		r.emit(ctx, workflowID, workflow.EventAgentResult, t.Result, nil, false)
	}
	return t, nil
}

func (r *Runner) emit(ctx context.Context, workflowID string, eventType workflow.EventType, message string, data map[string]any, isError bool) {
	level := workflow.LevelInfo
	if isError {
		level = workflow.LevelError
	}
	_, _ = r.recorder.Record(ctx, workflow.Event{
		WorkflowID: workflowID,
		Level:      level,
		EventType:  eventType,
		Agent:      string(r.role),
		Message:    message,
		Data:       data,
		IsError:    isError,
	})
}
