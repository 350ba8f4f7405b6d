package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/amelia-run/amelia/driver"
	"github.com/amelia-run/amelia/eventbus"
	"github.com/amelia-run/amelia/workflow"
)

// fakeStream replays a fixed sequence of messages, matching the shape every
// driver.Stream implementation in this module produces.
type fakeStream struct {
	messages []driver.AgenticMessage
	pos      int
	cur      driver.AgenticMessage
	err      error
}

func (s *fakeStream) Next(_ context.Context) bool {
	if s.pos >= len(s.messages) {
		return false
	}
	s.cur = s.messages[s.pos]
	s.pos++
	return true
}
func (s *fakeStream) Message() driver.AgenticMessage { return s.cur }
func (s *fakeStream) Err() error                     { return s.err }
func (s *fakeStream) Close() error                   { return nil }

type fakeDriver struct {
	stream  *fakeStream
	err     error
	gotTurn driver.Turn
}

func (d *fakeDriver) Run(_ context.Context, turn driver.Turn) (driver.Stream, error) {
	d.gotTurn = turn
	if d.err != nil {
		return nil, d.err
	}
	return d.stream, nil
}

func (d *fakeDriver) CleanupSession(_ context.Context, _ string) error { return nil }

type fakeMaxSequence struct{}

func (fakeMaxSequence) MaxSequence(_ context.Context, _ string) (int64, error) { return 0, nil }

func newTestRecorder() (*eventbus.Recorder, *captureSubscriber) {
	bus := eventbus.NewBus()
	cap := &captureSubscriber{}
	_, _ = bus.Register(cap)
	seq := eventbus.NewSequencer(fakeMaxSequence{})
	return eventbus.NewRecorder(seq, noopEventStore{}, bus), cap
}

type noopEventStore struct{}

func (noopEventStore) Save(_ context.Context, _ workflow.Event) error { return nil }

type captureSubscriber struct {
	events []workflow.Event
}

func (c *captureSubscriber) HandleEvent(_ context.Context, e workflow.Event) error {
	c.events = append(c.events, e)
	return nil
}

func resultDriver(result string) *fakeDriver {
	return &fakeDriver{stream: &fakeStream{messages: []driver.AgenticMessage{
		{Kind: driver.KindResult, Result: result},
	}}}
}

func TestRunnerRecordsThinkingToolAndResultEvents(t *testing.T) {
	d := &fakeDriver{stream: &fakeStream{messages: []driver.AgenticMessage{
		{Kind: driver.KindThinking, Thinking: "considering the plan"},
		{Kind: driver.KindToolCall, ToolCall: &driver.ToolCall{ID: "t1", Name: "read_file"}},
		{Kind: driver.KindToolResult, ToolResult: &driver.ToolResult{ToolCallID: "t1", Content: "file contents"}},
		{Kind: driver.KindResult, Result: "done"},
		{Kind: driver.KindUsage, Usage: &driver.Usage{InputTokens: 10}},
	}}}
	recorder, cap := newTestRecorder()
	runner := NewRunner(RoleArchitect, d, recorder)

	transcript, err := runner.Run(context.Background(), "wf-1", driver.Turn{})
	require.NoError(t, err)

	require.Equal(t, []string{"considering the plan"}, transcript.Thinking)
	require.Len(t, transcript.ToolCalls, 1)
	require.Len(t, transcript.ToolResults, 1)
	require.Equal(t, "done", transcript.Result)
	require.NotNil(t, transcript.Usage)

	require.Len(t, cap.events, 4)
	require.Equal(t, workflow.EventAgentThinking, cap.events[0].EventType)
	require.Equal(t, workflow.EventToolCall, cap.events[1].EventType)
	require.Equal(t, workflow.EventToolResult, cap.events[2].EventType)
	require.Equal(t, workflow.EventAgentResult, cap.events[3].EventType)
	for _, ev := range cap.events {
		require.Equal(t, "wf-1", ev.WorkflowID)
		require.Equal(t, string(RoleArchitect), ev.Agent)
	}
}

func TestRunnerCapturesSessionIDFromStream(t *testing.T) {
	d := &fakeDriver{stream: &fakeStream{messages: []driver.AgenticMessage{
		{Kind: driver.KindSession, SessionID: "sess-1"},
		{Kind: driver.KindResult, Result: "done"},
	}}}
	recorder, _ := newTestRecorder()
	runner := NewRunner(RoleDeveloper, d, recorder)

	transcript, err := runner.Run(context.Background(), "wf-1", driver.Turn{})
	require.NoError(t, err)
	require.Equal(t, "sess-1", transcript.SessionID)
}

func TestRunnerReturnsErrorWhenDriverFailsToStart(t *testing.T) {
	boom := errors.New("subprocess failed")
	recorder, _ := newTestRecorder()
	runner := NewRunner(RoleDeveloper, &fakeDriver{err: boom}, recorder)

	_, err := runner.Run(context.Background(), "wf-1", driver.Turn{})
	require.ErrorIs(t, err, boom)
}

func TestRunnerReturnsErrorWhenStreamFails(t *testing.T) {
	boom := errors.New("stream interrupted")
	d := &fakeDriver{stream: &fakeStream{err: boom}}
	recorder, _ := newTestRecorder()
	runner := NewRunner(RoleDeveloper, d, recorder)

	_, err := runner.Run(context.Background(), "wf-1", driver.Turn{})
	require.ErrorIs(t, err, boom)
}

func TestArchitectDraftParsesValidPlan(t *testing.T) {
	planJSON := `{"summary": "add a feature", "tasks": [{"id": "t1", "title": "do it", "description": "implement the feature"}]}`
	recorder, _ := newTestRecorder()
	a, err := NewArchitect(resultDriver(planJSON), recorder)
	require.NoError(t, err)

	plan, _, err := a.Draft(context.Background(), "wf-1", "add a feature to the app", nil, "")
	require.NoError(t, err)
	require.Equal(t, "add a feature", plan.Summary)
	require.Len(t, plan.Tasks, 1)
	require.Equal(t, "t1", plan.Tasks[0].ID)
}

func TestArchitectDraftRejectsSchemaViolation(t *testing.T) {
	recorder, _ := newTestRecorder()
	a, err := NewArchitect(resultDriver(`{"summary": "missing tasks field"}`), recorder)
	require.NoError(t, err)

	_, _, err = a.Draft(context.Background(), "wf-1", "an issue", nil, "")
	require.Error(t, err)
}

func TestArchitectDraftRejectsMalformedJSON(t *testing.T) {
	recorder, _ := newTestRecorder()
	a, err := NewArchitect(resultDriver(`not json at all`), recorder)
	require.NoError(t, err)

	_, _, err = a.Draft(context.Background(), "wf-1", "an issue", nil, "")
	require.Error(t, err)
}

func TestArchitectDraftAppendsPriorValidationIssuesToHistory(t *testing.T) {
	planJSON := `{"summary": "add a feature", "tasks": [{"id": "t1", "title": "do it", "description": "implement the feature"}]}`
	d := resultDriver(planJSON)
	recorder, _ := newTestRecorder()
	a, err := NewArchitect(d, recorder)
	require.NoError(t, err)

	_, _, err = a.Draft(context.Background(), "wf-1", "add a feature", []string{`plan has no "### Task N:" sections`}, "")
	require.NoError(t, err)

	require.Len(t, d.gotTurn.History, 2)
	require.Contains(t, d.gotTurn.History[1].Content, "### Task N:")
}

func TestArchitectDraftThreadsSessionIDThroughAndReturnsIt(t *testing.T) {
	planJSON := `{"summary": "add a feature", "tasks": [{"id": "t1", "title": "do it", "description": "implement the feature"}]}`
	d := resultDriver(planJSON)
	d.stream.messages = append(d.stream.messages, driver.AgenticMessage{Kind: driver.KindSession, SessionID: "sess-2"})
	recorder, _ := newTestRecorder()
	a, err := NewArchitect(d, recorder)
	require.NoError(t, err)

	_, sessionID, err := a.Draft(context.Background(), "wf-1", "add a feature", nil, "sess-1")
	require.NoError(t, err)
	require.Equal(t, "sess-1", d.gotTurn.SessionID)
	require.Equal(t, "sess-2", sessionID)
}

func TestPlanValidatorCheckAcceptsAWellFormedPlan(t *testing.T) {
	v := NewPlanValidator(nil)
	plan := Plan{
		Summary: "add a feature to the app",
		Tasks: []PlanTask{
			{ID: "t1", Title: "do it", Description: "implement the widget end to end with tests"},
		},
	}

	result, err := v.Check(context.Background(), "wf-1", plan)
	require.NoError(t, err)
	require.True(t, result.Valid)
	require.Empty(t, result.Issues)
	require.Equal(t, SeverityNone, result.Severity)
}

func TestPlanValidatorCheckFlagsAPlanWithNoTasksAsBlocking(t *testing.T) {
	v := NewPlanValidator(nil)

	result, err := v.Check(context.Background(), "wf-1", Plan{Summary: "add a feature"})
	require.NoError(t, err)
	require.False(t, result.Valid)
	require.Equal(t, SeverityBlocking, result.Severity)
	require.NotEmpty(t, result.Issues)
}

func TestPlanValidatorCheckFlagsAShortTaskDescriptionAsWarning(t *testing.T) {
	v := NewPlanValidator(nil)
	plan := Plan{
		Summary: "add a feature",
		Tasks:   []PlanTask{{ID: "t1", Title: "do it", Description: "tiny"}},
	}

	result, err := v.Check(context.Background(), "wf-1", plan)
	require.NoError(t, err)
	require.False(t, result.Valid)
	require.Equal(t, SeverityWarning, result.Severity)
}

func TestDeveloperImplementReturnsTranscript(t *testing.T) {
	recorder, _ := newTestRecorder()
	dev := NewDeveloper(resultDriver("implemented the change"), recorder)

	transcript, err := dev.Implement(context.Background(), "wf-1", PlanTask{ID: "t1", Title: "do it"}, []string{"edit_file"}, nil, "")
	require.NoError(t, err)
	require.Equal(t, "implemented the change", transcript.Result)
}

func TestDeveloperImplementAppendsRequestedChangesToHistory(t *testing.T) {
	d := resultDriver("implemented the change")
	recorder, _ := newTestRecorder()
	dev := NewDeveloper(d, recorder)

	_, err := dev.Implement(context.Background(), "wf-1", PlanTask{ID: "t1", Title: "do it"}, []string{"edit_file"}, []string{"add a test"}, "sess-1")
	require.NoError(t, err)

	require.Equal(t, "sess-1", d.gotTurn.SessionID)
	require.Len(t, d.gotTurn.History, 2)
	require.Contains(t, d.gotTurn.History[1].Content, "add a test")
}

func TestReviewerReviewParsesApproval(t *testing.T) {
	recorder, _ := newTestRecorder()
	r, err := NewReviewer(resultDriver(`{"approved": true}`), recorder)
	require.NoError(t, err)

	verdict, err := r.Review(context.Background(), "wf-1", PlanTask{ID: "t1"}, Transcript{Result: "done"}, nil)
	require.NoError(t, err)
	require.True(t, verdict.Approved)
}

func TestReviewerReviewParsesRejectionWithComments(t *testing.T) {
	recorder, _ := newTestRecorder()
	r, err := NewReviewer(resultDriver(`{"approved": false, "comments": ["add a test"]}`), recorder)
	require.NoError(t, err)

	verdict, err := r.Review(context.Background(), "wf-1", PlanTask{ID: "t1"}, Transcript{Result: "done"}, []string{"prior comment"})
	require.NoError(t, err)
	require.False(t, verdict.Approved)
	require.Equal(t, []string{"add a test"}, verdict.Comments)
}
