package taskqueue

import "github.com/Swind/go-taskqueue/core"

// Re-export commonly used types from core package for convenience.
// This allows users to import only the taskqueue package for most use cases.

// Task is the unit of work (Closure)
type Task = core.Task

// TaskQueue is one logical queue of work owned by a TaskQueueManager
type TaskQueue = core.TaskQueue

// TaskQueueSpec holds construction parameters for a TaskQueue
type TaskQueueSpec = core.TaskQueueSpec

// TaskQueueManager multiplexes TaskQueues onto one host goroutine
type TaskQueueManager = core.TaskQueueManager

// MainLoop is the default host for a TaskQueueManager
type MainLoop = core.MainLoop

// Location records where a task was posted from
type Location = core.Location

// QueuePriority defines the selection class of a queue
type QueuePriority = core.QueuePriority

// PumpPolicy defines when incoming tasks become runnable
type PumpPolicy = core.PumpPolicy

// WakeupPolicy defines whether a queue's tasks wake AFTER_WAKEUP queues
type WakeupPolicy = core.WakeupPolicy

// Priority constants
const (
	QueuePriorityControl    QueuePriority = core.QueuePriorityControl
	QueuePriorityHigh       QueuePriority = core.QueuePriorityHigh
	QueuePriorityNormal     QueuePriority = core.QueuePriorityNormal
	QueuePriorityBestEffort QueuePriority = core.QueuePriorityBestEffort
	QueuePriorityDisabled   QueuePriority = core.QueuePriorityDisabled
)

// Pump policy constants
const (
	PumpPolicyAuto        PumpPolicy = core.PumpPolicyAuto
	PumpPolicyAfterWakeup PumpPolicy = core.PumpPolicyAfterWakeup
	PumpPolicyManual      PumpPolicy = core.PumpPolicyManual
)

// Wakeup policy constants
const (
	WakeupPolicyCanWakeOtherQueues  WakeupPolicy = core.WakeupPolicyCanWakeOtherQueues
	WakeupPolicyDontWakeOtherQueues WakeupPolicy = core.WakeupPolicyDontWakeOtherQueues
)

var (
	// FromHere captures the caller's location for PostTask
	FromHere = core.FromHere

	// NewTaskQueueSpec returns a spec with the default AUTO pump policy
	NewTaskQueueSpec = core.NewTaskQueueSpec

	// GetCurrentTaskQueue retrieves the running task's queue from context
	GetCurrentTaskQueue = core.GetCurrentTaskQueue
)
