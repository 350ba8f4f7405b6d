package pipeline

import (
	"context"
	"testing"

	"github.com/dshills/langgraph-go/graph/emit"
	"github.com/stretchr/testify/require"
)

type capturingLogger struct {
	debugMsgs []string
	keyvals   [][]any
}

func (l *capturingLogger) Debug(_ context.Context, msg string, keyvals ...any) {
	l.debugMsgs = append(l.debugMsgs, msg)
	l.keyvals = append(l.keyvals, keyvals)
}
func (l *capturingLogger) Info(_ context.Context, _ string, _ ...any)  {}
func (l *capturingLogger) Warn(_ context.Context, _ string, _ ...any)  {}
func (l *capturingLogger) Error(_ context.Context, _ string, _ ...any) {}

func TestLogEmitterEmitWritesDebugLine(t *testing.T) {
	log := &capturingLogger{}
	e := NewLogEmitter(log)

	e.Emit(emit.Event{RunID: "run-1", Step: 2, NodeID: "developer", Msg: "node started"})
	require.Equal(t, []string{"node started"}, log.debugMsgs)
	require.Contains(t, log.keyvals[0], "run-1")
	require.Contains(t, log.keyvals[0], "developer")
}

func TestLogEmitterEmitBatchWritesEveryEvent(t *testing.T) {
	log := &capturingLogger{}
	e := NewLogEmitter(log)

	err := e.EmitBatch(context.Background(), []emit.Event{
		{RunID: "run-1", Msg: "first"},
		{RunID: "run-1", Msg: "second"},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"first", "second"}, log.debugMsgs)
}

func TestLogEmitterFlushIsNoop(t *testing.T) {
	e := NewLogEmitter(&capturingLogger{})
	require.NoError(t, e.Flush(context.Background()))
}
