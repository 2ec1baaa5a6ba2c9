package core

import (
	"fmt"
	"path/filepath"
	"runtime"
	"time"
)

// Location records where a task was posted from.
type Location struct {
	Function string
	File     string
	Line     int
}

// FromHere captures the caller's location.
func FromHere() Location {
	return locationAt(2)
}

func locationAt(skip int) Location {
	pc, file, line, ok := runtime.Caller(skip)
	if !ok {
		return Location{}
	}
	loc := Location{File: file, Line: line}
	if fn := runtime.FuncForPC(pc); fn != nil {
		loc.Function = fn.Name()
	}
	return loc
}

func (l Location) String() string {
	if l.File == "" {
		return "unknown"
	}
	if l.Function == "" {
		return fmt.Sprintf("%s:%d", filepath.Base(l.File), l.Line)
	}
	return fmt.Sprintf("%s@%s:%d", l.Function, filepath.Base(l.File), l.Line)
}

// PendingTask is a task waiting in one of a TaskQueue's containers.
//
// SequenceNum is assigned when the task is queued and never changes.
// DelayedRunTime is zero for immediate tasks; it is cleared when the task
// moves from the delayed heap to the incoming queue.
type PendingTask struct {
	Task           Task
	PostedFrom     Location
	SequenceNum    uint64
	DelayedRunTime time.Time
	Nestable       bool
}

// Before orders delayed tasks: earlier run time first, then lower sequence
// number. For immediate tasks it reduces to plain posting order.
func (t *PendingTask) Before(other *PendingTask) bool {
	if t.DelayedRunTime.Before(other.DelayedRunTime) {
		return true
	}
	if other.DelayedRunTime.Before(t.DelayedRunTime) {
		return false
	}
	return t.SequenceNum < other.SequenceNum
}

// IsOlderThan reports whether t was queued before other.
func (t *PendingTask) IsOlderThan(other *PendingTask) bool {
	return t.SequenceNum < other.SequenceNum
}
