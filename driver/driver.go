// Package driver is the C3 Driver Layer: a single abstraction over three
// ways an agent turn can actually execute — a CLI subprocess (claude,
// codex), a direct provider API call (Anthropic, OpenAI, Bedrock), or a
// sandboxed container — unified into one lazily-produced sequence of
// AgenticMessage values.
package driver

import (
	"context"
	"encoding/json"
)

// MessageKind discriminates the tagged union of messages a Driver emits as
// an agent turn progresses.
type MessageKind string

const (
	KindThinking   MessageKind = "thinking"
	KindToolCall   MessageKind = "tool_call"
	KindToolResult MessageKind = "tool_result"
	KindResult     MessageKind = "result"
	KindUsage      MessageKind = "usage"
	KindSession    MessageKind = "session"
)

// AgenticMessage is one item in the lazy sequence a Driver produces for a
// single agent turn. Exactly the fields relevant to Kind are populated;
// the rest are zero-valued.
type AgenticMessage struct {
	Kind MessageKind

	// Thinking carries provider reasoning text when Kind is KindThinking.
	Thinking string

	// ToolCall carries a requested tool invocation when Kind is KindToolCall.
	ToolCall *ToolCall

	// ToolResult carries a tool's outcome when Kind is KindToolResult, fed
	// back into the next turn's context.
	ToolResult *ToolResult

	// Result carries the turn's final assistant text when Kind is KindResult.
	Result string

	// Usage carries token accounting when Kind is KindUsage. Usage messages
	// may be interleaved with other kinds or emitted once at turn end,
	// depending on the driver.
	Usage *Usage

	// SessionID carries the driver-assigned session identifier when Kind
	// is KindSession — the handle a later Turn passes back as
	// Turn.SessionID to resume the same underlying conversation (e.g. a
	// CLI subprocess's own --resume token) instead of starting fresh.
	SessionID string
}

// ToolCall is a single tool invocation requested by the model, with its
// name already canonicalized (see CanonicalToolName in canonical.go).
type ToolCall struct {
	ID    string
	Name  string
	Input json.RawMessage
}

// ToolResult is the outcome of executing a ToolCall.
type ToolResult struct {
	ToolCallID string
	Content    string
	IsError    bool
}

// Usage reports token and cost accounting for one model call.
type Usage struct {
	Model             string
	InputTokens       int64
	OutputTokens      int64
	CacheReadTokens   int64
	CacheCreateTokens int64
	CostUSD           float64
	DurationMs        int64
	NumTurns          int
}

// Turn is one request to a Driver: the conversation so far plus the tools
// the agent is allowed to use this turn.
type Turn struct {
	SystemPrompt string
	History      []HistoryMessage
	AllowedTools []string
	Model        string

	// SessionID resumes an existing driver session instead of starting a
	// fresh one. Empty starts fresh; the driver reports back whichever
	// session ID the turn actually ran under via a KindSession message.
	SessionID string
}

// HistoryMessage is one already-completed message in a turn's transcript.
type HistoryMessage struct {
	Role    string // "user" | "assistant" | "tool"
	Content string
	// ToolResults, when Role is "tool", carries the results being fed back.
	ToolResults []ToolResult
}

// Stream is the lazy sequence of AgenticMessage values a Driver produces
// for one Turn. Callers must drain it to completion (Next returning false)
// or Close it early.
type Stream interface {
	// Next advances to the next message. It returns false once the turn is
	// complete or an unrecoverable error occurred; callers should always
	// check Err after Next returns false.
	Next(ctx context.Context) bool
	// Message returns the message most recently produced by Next.
	Message() AgenticMessage
	// Err returns the error that ended the stream, if any.
	Err() error
	// Close releases resources (subprocess, HTTP connection, container
	// exec session) associated with the stream.
	Close() error
}

// Driver executes one agent turn and returns its message stream.
type Driver interface {
	// Run starts executing turn and returns a Stream of AgenticMessage
	// values. Run itself should not block on the full turn completing;
	// long-running work happens as the caller drains the Stream.
	Run(ctx context.Context, turn Turn) (Stream, error)

	// CleanupSession releases whatever session-scoped resources the
	// driver attached to sessionID (a subprocess's persisted session
	// file, a container's exec handle). Safe to call with an empty or
	// already-released sessionID.
	CleanupSession(ctx context.Context, sessionID string) error
}
