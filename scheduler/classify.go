// Package scheduler is the C6 Orchestrator Scheduler: it admits workflows
// under per-worktree exclusion and a process-wide concurrency ceiling,
// drives each admitted workflow's compiled pipeline graph to completion or
// suspension, translates graph execution into the workflow.Event stream,
// and classifies failures so only transient faults are retried.
package scheduler

import (
	"errors"

	"github.com/amelia-run/amelia/ameliaerr"
)

// Class is the scheduler's dispatch target for a failed node or run:
// only Transient ever loops back through the retry policy.
type Class int

const (
	ClassUser Class = iota
	ClassConflict
	ClassCapacity
	ClassTransient
	ClassContent
	ClassFatal
	ClassCancelled
)

func (c Class) String() string {
	switch c {
	case ClassUser:
		return "user"
	case ClassConflict:
		return "conflict"
	case ClassCapacity:
		return "capacity"
	case ClassTransient:
		return "transient"
	case ClassContent:
		return "content"
	case ClassCancelled:
		return "cancelled"
	default:
		return "fatal"
	}
}

// Classify maps err onto the failure taxonomy described in the package
// doc. An *ameliaerr.Error carries its own Kind; any other error (a plain
// context.Canceled, a programming fault that escaped the driver/agent
// layers without being wrapped) is treated as Fatal, matching
// "SchemaValidationError and any non-AmeliaError programming fault ->
// immediate failed".
func Classify(err error) Class {
	if err == nil {
		return ClassFatal
	}
	if errors.Is(err, errCancelled) {
		return ClassCancelled
	}
	ae, ok := ameliaerr.As(err)
	if !ok {
		return ClassFatal
	}
	switch ae.Kind {
	case ameliaerr.KindUser:
		return ClassUser
	case ameliaerr.KindConflict:
		return ClassConflict
	case ameliaerr.KindCapacity:
		return ClassCapacity
	case ameliaerr.KindTransient:
		return ClassTransient
	case ameliaerr.KindContent:
		return ClassContent
	case ameliaerr.KindCancelled:
		return ClassCancelled
	default:
		return ClassFatal
	}
}

var errCancelled = errors.New("scheduler: workflow cancelled")
