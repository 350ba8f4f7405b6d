// Package workflow holds the persisted data model: workflows, events, token
// usage, profiles, and their nested configuration types.
package workflow

import "time"

// Status is the workflow lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusBlocked    Status = "blocked"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Type distinguishes the three pipeline shapes a workflow can run.
type Type string

const (
	TypeFull       Type = "full"
	TypePlanOnly   Type = "plan-only"
	TypeReviewOnly Type = "review-only"
)

// Workflow is a single run of a pipeline for one issue, identified by ID.
// At most one Workflow with Status in {pending, in_progress, blocked} may
// exist for a given WorktreePath — enforced by a partial unique index in
// the store.
type Workflow struct {
	ID           string `json:"workflow_id"`
	IssueID      string `json:"issue_id"`
	WorktreePath string `json:"worktree_path"`
	ProfileID    string `json:"profile_id"`

	Status       Status `json:"status"`
	Type         Type   `json:"workflow_type"`
	// IssueDescription carries the issue body to drive with, stamped at
	// creation so a workflow created with start=false (admitted later via
	// AdmitWorkflow) doesn't need the caller to resend it.
	IssueDescription string `json:"issue_description,omitempty"`
	FailureReason     string `json:"failure_reason,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	PlannedAt   *time.Time `json:"planned_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// PlanCache / IssueCache are structured snapshots read by REST while the
	// workflow is blocked awaiting human approval — they avoid a round trip
	// through the graph's checkpoint store for display purposes only.
	PlanCache  map[string]any `json:"plan_cache,omitempty"`
	IssueCache map[string]any `json:"issue_cache,omitempty"`
}

// CanTransition enforces the monotonic lifecycle named by the spec: a
// pending workflow may only go to in_progress or cancelled; in_progress may
// go to blocked, completed, failed, or cancelled; blocked may only return to
// in_progress or go to cancelled; completed/failed/cancelled are terminal.
func (w Workflow) CanTransition(to Status) bool {
	switch w.Status {
	case StatusPending:
		return to == StatusInProgress || to == StatusCancelled
	case StatusInProgress:
		return to == StatusBlocked || to == StatusCompleted || to == StatusFailed || to == StatusCancelled
	case StatusBlocked:
		return to == StatusInProgress || to == StatusCancelled
	default:
		return false
	}
}

// Level is the severity of an Event.
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
	LevelDebug   Level = "debug"
	LevelTrace   Level = "trace"
)

// EventType enumerates the fixed, domain-grouped event vocabulary. The
// oracle, brainstorm, and token_usage types have no emitter in this module,
// and the store does not check event_type at insert time.
type EventType string

const (
	EventWorkflowStarted   EventType = "workflow.started"
	EventWorkflowCompleted EventType = "workflow.completed"
	EventWorkflowFailed    EventType = "workflow.failed"
	EventWorkflowRetry     EventType = "workflow.retry"
	EventWorkflowCancelled EventType = "workflow.cancelled"

	EventStageStarted   EventType = "stage.started"
	EventStageCompleted EventType = "stage.completed"

	EventApprovalRequired EventType = "approval.required"
	EventApprovalGranted  EventType = "approval.granted"
	EventApprovalRejected EventType = "approval.rejected"

	EventAgentThinking   EventType = "agent.thinking"
	EventAgentResult     EventType = "agent.result"
	EventToolCall        EventType = "tool.call"
	EventToolResult      EventType = "tool.result"
	EventOracleConsulted EventType = "oracle.consulted"

	EventBrainstormMessage  EventType = "brainstorm.message"
	EventBrainstormArtifact EventType = "brainstorm.artifact"

	EventTokenUsageRecorded EventType = "token_usage.recorded"
)

// Event is a single entry in a workflow's append-only, gap-free log.
type Event struct {
	ID         string         `json:"id"`
	WorkflowID string         `json:"workflow_id"`
	Sequence   int64          `json:"sequence"`
	Timestamp  time.Time      `json:"timestamp"`
	Level      Level          `json:"level"`
	EventType  EventType      `json:"event_type"`
	Agent      string         `json:"agent,omitempty"`
	Message    string         `json:"message"`
	Data       map[string]any `json:"data,omitempty"`
	IsError    bool           `json:"is_error"`
}

// TokenUsage is a per-agent accounting record.
type TokenUsage struct {
	ID              string    `json:"id"`
	WorkflowID      string    `json:"workflow_id"`
	Agent           string    `json:"agent"`
	Model           string    `json:"model"`
	InputTokens     int64     `json:"input_tokens"`
	OutputTokens    int64     `json:"output_tokens"`
	CacheReadTokens int64     `json:"cache_read_tokens"`
	CacheCreateTokens int64   `json:"cache_creation_tokens"`
	CostUSD         float64   `json:"cost_usd"`
	DurationMs      int64     `json:"duration_ms"`
	NumTurns        int       `json:"num_turns"`
	Timestamp       time.Time `json:"timestamp"`
}

// Driver identifies which execution mode an AgentConfig routes through.
type Driver string

const (
	DriverClaude Driver = "claude"
	DriverCodex  Driver = "codex"
	DriverAPI    Driver = "api"
)

// AgentConfig configures a single agent role within a Profile.
type AgentConfig struct {
	Driver      Driver         `json:"driver"`
	Model       string         `json:"model"`
	Options     map[string]any `json:"options,omitempty"`
	AllowedTools []string      `json:"allowed_tools,omitempty"`
}

// SandboxMode selects whether agent tool calls run against the host or an
// isolated container.
type SandboxMode string

const (
	SandboxNone      SandboxMode = "none"
	SandboxContainer SandboxMode = "container"
)

// SandboxConfig configures the C7 Sandbox Provider for a Profile.
type SandboxConfig struct {
	Mode                    SandboxMode `json:"mode"`
	Image                   string      `json:"image,omitempty"`
	NetworkAllowlistEnabled bool        `json:"network_allowlist_enabled"`
	NetworkAllowedHosts     []string    `json:"network_allowed_hosts,omitempty"`
}

// TrackerKind names the issue-tracker integration a Profile targets. The
// tracker itself is a declared collaborator (out of core); only its kind
// discriminator is modeled here.
type TrackerKind string

const (
	TrackerNoop   TrackerKind = "noop"
	TrackerGithub TrackerKind = "github"
	TrackerLinear TrackerKind = "linear"
)

// Profile is a declarative configuration bundle for an invocation. Exactly
// one Profile is "active" at a time (tracked by the store, not here).
type Profile struct {
	ID               string                 `json:"id"`
	Name             string                 `json:"name"`
	Tracker          TrackerKind            `json:"tracker"`
	WorkingDirRoot   string                 `json:"working_dir_root"`
	PlanOutputDir    string                 `json:"plan_output_dir"`
	MaxReviewIters   int                    `json:"max_review_iterations"`
	Agents           map[string]AgentConfig `json:"agents"`
	Sandbox          SandboxConfig          `json:"sandbox"`
	Active           bool                   `json:"active"`
	CreatedAt        time.Time              `json:"created_at"`
	UpdatedAt        time.Time              `json:"updated_at"`
}

// BrainstormSession has a table per SPEC_FULL.md §3 (no store method reads
// or writes it) and is never referenced by the scheduler or pipeline graph — its interaction with the orchestrator
// is an open question the spec leaves unspecified.
type BrainstormSession struct {
	ID        string    `json:"id"`
	ProfileID string    `json:"profile_id"`
	Topic     string    `json:"topic"`
	CreatedAt time.Time `json:"created_at"`
}

// BrainstormMessage is one turn in a BrainstormSession.
type BrainstormMessage struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// BrainstormArtifact is a file or snippet produced during a BrainstormSession.
type BrainstormArtifact struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Path      string    `json:"path"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}
