// Package container implements driver.Driver by delegating tool execution
// to a sandboxed container rather than the host: the agent turn itself
// still runs as a CLI subprocess, but every run_shell_command tool call it
// issues is routed through an Execer bound to one workflow's sandbox
// session instead of running directly on the host filesystem. Other tool
// calls pass through unchanged.
package container

import (
	"context"
	"encoding/json"

	"github.com/amelia-run/amelia/driver"
)

func unmarshalInput(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}

// Execer runs a single shell command inside a workflow's sandbox and
// returns its combined output. It is satisfied by sandbox.Session.
type Execer interface {
	Exec(ctx context.Context, command string, args []string) (stdout string, exitCode int, err error)
}

// Driver wraps an inner driver.Driver (normally a cli.Driver configured to
// emit tool calls rather than execute them directly) and intercepts every
// KindToolCall message whose name is run_shell_command, executing it
// through Execer instead of letting it reach the host.
type Driver struct {
	inner driver.Driver
	exec  Execer
}

// New wraps inner so its shell tool calls are satisfied by exec instead of
// running on the host.
func New(inner driver.Driver, exec Execer) *Driver {
	return &Driver{inner: inner, exec: exec}
}

// Run implements driver.Driver.
func (d *Driver) Run(ctx context.Context, turn driver.Turn) (driver.Stream, error) {
	inner, err := d.inner.Run(ctx, turn)
	if err != nil {
		return nil, err
	}
	return &stream{inner: inner, exec: d.exec}, nil
}

// CleanupSession delegates to the inner driver.
func (d *Driver) CleanupSession(ctx context.Context, sessionID string) error {
	return d.inner.CleanupSession(ctx, sessionID)
}

// stream wraps an inner driver.Stream, substituting the result of a
// sandboxed Exec call for any run_shell_command tool call before handing
// the message on to the caller.
type stream struct {
	inner driver.Stream
	exec  Execer
	cur   driver.AgenticMessage
}

func (s *stream) Next(ctx context.Context) bool {
	if !s.inner.Next(ctx) {
		return false
	}
	s.cur = s.inner.Message()
	if s.cur.Kind == driver.KindToolCall && s.cur.ToolCall != nil && s.cur.ToolCall.Name == "run_shell_command" {
		s.cur = s.execInSandbox(ctx, s.cur)
	}
	return true
}

func (s *stream) execInSandbox(ctx context.Context, msg driver.AgenticMessage) driver.AgenticMessage {
	var input struct {
		Command string   `json:"command"`
		Args    []string `json:"args"`
	}
	_ = unmarshalInput(msg.ToolCall.Input, &input)

	stdout, exitCode, err := s.exec.Exec(ctx, input.Command, input.Args)
	isError := err != nil || exitCode != 0
	content := stdout
	if err != nil {
		content = err.Error()
	}
	return driver.AgenticMessage{
		Kind: driver.KindToolResult,
		ToolResult: &driver.ToolResult{
			ToolCallID: msg.ToolCall.ID,
			Content:    content,
			IsError:    isError,
		},
	}
}

func (s *stream) Message() driver.AgenticMessage { return s.cur }
func (s *stream) Err() error                     { return s.inner.Err() }
func (s *stream) Close() error                   { return s.inner.Close() }
