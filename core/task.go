package core

import (
	"context"
	"time"
)

// Task is the unit of work (Closure)
type Task func(ctx context.Context)

// =============================================================================
// QueuePriority: Selection class of a TaskQueue
// =============================================================================

// QueuePriority orders queues for selection. Lower values are selected first.
type QueuePriority int

const (
	// QueuePriorityControl is reserved for scheduler bookkeeping.
	// A non-empty control queue is always selected first and never starved.
	QueuePriorityControl QueuePriority = iota

	// QueuePriorityHigh is selected before Normal and BestEffort work.
	QueuePriorityHigh

	// QueuePriorityNormal: Default priority
	QueuePriorityNormal

	// QueuePriorityBestEffort: Lowest runnable priority
	QueuePriorityBestEffort

	// QueuePriorityDisabled: the queue keeps accepting tasks but is never selected.
	QueuePriorityDisabled

	numQueuePriorities
)

func (p QueuePriority) String() string {
	switch p {
	case QueuePriorityControl:
		return "control"
	case QueuePriorityHigh:
		return "high"
	case QueuePriorityNormal:
		return "normal"
	case QueuePriorityBestEffort:
		return "best_effort"
	case QueuePriorityDisabled:
		return "disabled"
	default:
		return "unknown"
	}
}

// ParseQueuePriority converts a priority name back to a QueuePriority.
func ParseQueuePriority(s string) (QueuePriority, bool) {
	for p := QueuePriorityControl; p < numQueuePriorities; p++ {
		if p.String() == s {
			return p, true
		}
	}
	return QueuePriorityNormal, false
}

// =============================================================================
// PumpPolicy: When incoming work becomes runnable
// =============================================================================

type PumpPolicy int

const (
	// PumpPolicyAuto pumps incoming tasks into the work queue whenever it runs dry.
	PumpPolicyAuto PumpPolicy = iota

	// PumpPolicyAfterWakeup pumps only after a task from another source ran.
	// Tasks a queue posts to itself never wake it up.
	PumpPolicyAfterWakeup

	// PumpPolicyManual pumps only on an explicit PumpQueue call.
	PumpPolicyManual
)

func (p PumpPolicy) String() string {
	switch p {
	case PumpPolicyAuto:
		return "auto"
	case PumpPolicyAfterWakeup:
		return "after_wakeup"
	case PumpPolicyManual:
		return "manual"
	default:
		return "unknown"
	}
}

// ParsePumpPolicy converts a policy name back to a PumpPolicy.
func ParsePumpPolicy(s string) (PumpPolicy, bool) {
	for _, p := range []PumpPolicy{PumpPolicyAuto, PumpPolicyAfterWakeup, PumpPolicyManual} {
		if p.String() == s {
			return p, true
		}
	}
	return PumpPolicyAuto, false
}

// =============================================================================
// WakeupPolicy: Whether running a queue's task counts as a wakeup for others
// =============================================================================

type WakeupPolicy int

const (
	// WakeupPolicyCanWakeOtherQueues lets tasks from this queue pump
	// PumpPolicyAfterWakeup queues.
	WakeupPolicyCanWakeOtherQueues WakeupPolicy = iota

	// WakeupPolicyDontWakeOtherQueues keeps this queue's tasks from pumping
	// PumpPolicyAfterWakeup queues.
	WakeupPolicyDontWakeOtherQueues
)

func (p WakeupPolicy) String() string {
	switch p {
	case WakeupPolicyCanWakeOtherQueues:
		return "can_wake_other_queues"
	case WakeupPolicyDontWakeOtherQueues:
		return "dont_wake_other_queues"
	default:
		return "unknown"
	}
}

// ParseWakeupPolicy converts a policy name back to a WakeupPolicy.
func ParseWakeupPolicy(s string) (WakeupPolicy, bool) {
	switch s {
	case WakeupPolicyCanWakeOtherQueues.String():
		return WakeupPolicyCanWakeOtherQueues, true
	case WakeupPolicyDontWakeOtherQueues.String():
		return WakeupPolicyDontWakeOtherQueues, true
	}
	return WakeupPolicyCanWakeOtherQueues, false
}

// QueueState summarizes what a queue needs before the next selection round.
type QueueState int

const (
	QueueStateEmpty QueueState = iota
	QueueStateNeedsPumping
	QueueStateHasWork
)

func (s QueueState) String() string {
	switch s {
	case QueueStateEmpty:
		return "empty"
	case QueueStateNeedsPumping:
		return "needs_pumping"
	case QueueStateHasWork:
		return "has_work"
	default:
		return "unknown"
	}
}

// =============================================================================
// TaskQueueSpec: Construction parameters for a TaskQueue
// =============================================================================

type TaskQueueSpec struct {
	Name                    string
	PumpPolicy              PumpPolicy
	WakeupPolicy            WakeupPolicy
	ShouldMonitorQuiescence bool
}

// NewTaskQueueSpec returns a spec with the default AUTO pump policy.
func NewTaskQueueSpec(name string) TaskQueueSpec {
	return TaskQueueSpec{Name: name}
}

// =============================================================================
// HostRunner: The execution context that drives the manager
// =============================================================================

// HostRunner is the capability a TaskQueueManager needs from its host loop.
// PostTask schedules fn to run once, soon; PostDelayedTask schedules fn to run
// no earlier than delay from now. Both are called from any goroutine.
// Tasks must run on a single consumer goroutine, one at a time.
type HostRunner interface {
	PostTask(task Task)
	PostDelayedTask(task Task, delay time.Duration)
}

// =============================================================================
// Context Helper
// =============================================================================
type taskQueueKeyType struct{}

var taskQueueKey taskQueueKeyType

// GetCurrentTaskQueue returns the queue whose task is running on ctx, or nil.
func GetCurrentTaskQueue(ctx context.Context) *TaskQueue {
	if v := ctx.Value(taskQueueKey); v != nil {
		return v.(*TaskQueue)
	}
	return nil
}
