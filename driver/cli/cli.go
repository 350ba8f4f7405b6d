// Package cli implements driver.Driver over a CLI subprocess (the claude
// or codex command-line tools), which stream newline-delimited JSON
// events on stdout as an agent turn progresses.
package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/amelia-run/amelia/driver"
)

// Options configures a subprocess-backed driver.
type Options struct {
	// Command is the executable name ("claude" or "codex"), resolved via
	// PATH unless it's an absolute path.
	Command string
	// Dir is the working directory the subprocess runs in — normally the
	// workflow's worktree.
	Dir string
	// Env is appended to the subprocess's inherited environment.
	Env []string
	// ExtraArgs are appended after the driver's own fixed flags.
	ExtraArgs []string
}

// Driver runs one agent turn as a subprocess invocation, parsing its
// stdout as newline-delimited JSON events.
type Driver struct {
	opts Options
}

// New constructs a subprocess-backed driver.Driver.
func New(opts Options) (*Driver, error) {
	if opts.Command == "" {
		return nil, errors.New("cli: command is required")
	}
	return &Driver{opts: opts}, nil
}

// Run implements driver.Driver: it starts the subprocess, feeds it the
// turn as JSON on stdin, and returns a Stream that parses stdout as the
// process runs.
func (d *Driver) Run(ctx context.Context, turn driver.Turn) (driver.Stream, error) {
	args := append(append([]string{}, commandArgs(d.opts.Command, turn)...), d.opts.ExtraArgs...)
	cmd := exec.CommandContext(ctx, d.opts.Command, args...)
	if d.opts.Dir != "" {
		cmd.Dir = d.opts.Dir
	}
	if len(d.opts.Env) > 0 {
		cmd.Env = append(os.Environ(), d.opts.Env...)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("cli: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("cli: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("cli: stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("cli: start %s: %w", d.opts.Command, err)
	}

	s := &stream{cmd: cmd, messages: make(chan driver.AgenticMessage, 16), done: make(chan struct{})}

	payload, err := json.Marshal(turnRequest{
		SystemPrompt: turn.SystemPrompt,
		History:      turn.History,
		AllowedTools: turn.AllowedTools,
		Model:        turn.Model,
		SessionID:    turn.SessionID,
	})
	if err != nil {
		_ = cmd.Process.Kill()
		return nil, fmt.Errorf("cli: marshal turn: %w", err)
	}
	if _, err := stdin.Write(payload); err != nil {
		_ = cmd.Process.Kill()
		return nil, fmt.Errorf("cli: write turn: %w", err)
	}
	_ = stdin.Close()

	var stderrBuf strings.Builder
	go func() {
		_, _ = io.Copy(&stderrBuf, stderr)
	}()

	go s.readLoop(stdout, &stderrBuf)

	return s, nil
}

// turnRequest is the JSON payload fed to the subprocess on stdin.
type turnRequest struct {
	SystemPrompt string                  `json:"system_prompt"`
	History      []driver.HistoryMessage `json:"history"`
	AllowedTools []string                `json:"allowed_tools"`
	Model        string                  `json:"model,omitempty"`
	// SessionID, when set, asks the CLI to resume an existing session
	// (the claude/codex --resume token) instead of starting fresh.
	SessionID string `json:"session_id,omitempty"`
}

// cliEvent is one line of the subprocess's newline-delimited JSON output.
// The claude and codex CLIs both emit this vocabulary, which is a strict
// subset of driver.MessageKind plus the tool's own native tool names
// (canonicalized on the way into an AgenticMessage).
type cliEvent struct {
	Type       string          `json:"type"`
	Thinking   string          `json:"thinking,omitempty"`
	ToolUseID  string          `json:"tool_use_id,omitempty"`
	ToolName   string          `json:"tool_name,omitempty"`
	ToolInput  json.RawMessage `json:"tool_input,omitempty"`
	ToolOutput string          `json:"tool_output,omitempty"`
	IsError    bool            `json:"is_error,omitempty"`
	Result     string          `json:"result,omitempty"`
	Model      string          `json:"model,omitempty"`
	SessionID  string          `json:"session_id,omitempty"`
	Usage      *struct {
		InputTokens       int64   `json:"input_tokens"`
		OutputTokens      int64   `json:"output_tokens"`
		CacheReadTokens   int64   `json:"cache_read_tokens"`
		CacheCreateTokens int64   `json:"cache_creation_tokens"`
		CostUSD           float64 `json:"cost_usd"`
		DurationMs        int64   `json:"duration_ms"`
		NumTurns          int     `json:"num_turns"`
	} `json:"usage,omitempty"`
}

func commandArgs(command string, turn driver.Turn) []string {
	base := []string{"--print", "--output-format", "stream-json"}
	if strings.HasSuffix(command, "codex") {
		base = []string{"exec", "--json"}
	}
	if turn.Model != "" {
		base = append(base, "--model", turn.Model)
	}
	if turn.SessionID != "" {
		base = append(base, "--resume", turn.SessionID)
	}
	return base
}

type stream struct {
	cmd      *exec.Cmd
	messages chan driver.AgenticMessage
	cur      driver.AgenticMessage
	done     chan struct{}
	closeOne sync.Once
	err      error
}

func (s *stream) readLoop(stdout io.Reader, stderrBuf *strings.Builder) {
	defer close(s.messages)
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var ev cliEvent
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			continue
		}
		s.messages <- toAgenticMessage(ev)
	}

	waitErr := s.cmd.Wait()
	if err := scanner.Err(); err != nil {
		s.err = fmt.Errorf("cli: read stdout: %w", err)
		return
	}
	if waitErr != nil {
		s.err = fmt.Errorf("cli: %s exited: %w: %s", s.cmd.Path, waitErr, stderrBuf.String())
	}
}

func toAgenticMessage(ev cliEvent) driver.AgenticMessage {
	switch ev.Type {
	case "thinking":
		return driver.AgenticMessage{Kind: driver.KindThinking, Thinking: ev.Thinking}
	case "tool_call":
		return driver.AgenticMessage{Kind: driver.KindToolCall, ToolCall: &driver.ToolCall{
			ID:    ev.ToolUseID,
			Name:  driver.CanonicalToolName(ev.ToolName),
			Input: ev.ToolInput,
		}}
	case "tool_result":
		return driver.AgenticMessage{Kind: driver.KindToolResult, ToolResult: &driver.ToolResult{
			ToolCallID: ev.ToolUseID,
			Content:    ev.ToolOutput,
			IsError:    ev.IsError,
		}}
	case "usage":
		u := &driver.Usage{Model: ev.Model}
		if ev.Usage != nil {
			u.InputTokens = ev.Usage.InputTokens
			u.OutputTokens = ev.Usage.OutputTokens
			u.CacheReadTokens = ev.Usage.CacheReadTokens
			u.CacheCreateTokens = ev.Usage.CacheCreateTokens
			u.CostUSD = ev.Usage.CostUSD
			u.DurationMs = ev.Usage.DurationMs
			u.NumTurns = ev.Usage.NumTurns
		}
		return driver.AgenticMessage{Kind: driver.KindUsage, Usage: u}
	case "session":
		return driver.AgenticMessage{Kind: driver.KindSession, SessionID: ev.SessionID}
	default:
		return driver.AgenticMessage{Kind: driver.KindResult, Result: ev.Result}
	}
}

func (s *stream) Next(ctx context.Context) bool {
	select {
	case m, ok := <-s.messages:
		if !ok {
			return false
		}
		s.cur = m
		return true
	case <-ctx.Done():
		s.err = ctx.Err()
		return false
	}
}

// CleanupSession removes the subprocess's on-disk session state for
// sessionID, if any was left behind under opts.Dir.
func (d *Driver) CleanupSession(_ context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	path := filepath.Join(d.opts.Dir, ".amelia", "sessions", sessionID+".json")
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("cli: cleanup session %s: %w", sessionID, err)
	}
	return nil
}

func (s *stream) Message() driver.AgenticMessage { return s.cur }
func (s *stream) Err() error                     { return s.err }

func (s *stream) Close() error {
	s.closeOne.Do(func() {
		if s.cmd.ProcessState == nil {
			_ = s.cmd.Process.Kill()
		}
	})
	return nil
}
