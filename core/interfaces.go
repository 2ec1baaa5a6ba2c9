package core

import (
	"context"
	"time"
)

// =============================================================================
// PanicHandler: Interface for handling task panics
// =============================================================================

// PanicHandler is called when a task panics during execution.
// The manager recovers the panic, reports it here, and keeps dispatching.
//
// Implementations should be thread-safe.
type PanicHandler interface {
	// HandlePanic is called when a task panics.
	//
	// Parameters:
	// - ctx: The context the task ran with (GetCurrentTaskQueue works on it)
	// - queueName: The name of the queue the task was taken from
	// - postedFrom: Where the task was posted
	// - panicInfo: The panic value recovered from the task
	// - stackTrace: The stack trace at the time of panic
	HandlePanic(ctx context.Context, queueName string, postedFrom Location, panicInfo any, stackTrace []byte)
}

// DefaultPanicHandler logs the panic at error level.
type DefaultPanicHandler struct {
	Logger Logger
}

// HandlePanic logs panic information.
func (h *DefaultPanicHandler) HandlePanic(ctx context.Context, queueName string, postedFrom Location, panicInfo any, stackTrace []byte) {
	if h.Logger == nil {
		return
	}
	h.Logger.Error("task panicked",
		F("queue", queueName),
		F("posted_from", postedFrom.String()),
		F("panic", panicInfo),
		F("stack", string(stackTrace)),
	)
}

// =============================================================================
// Metrics: Interface for observability and monitoring
// =============================================================================

// Metrics defines the interface for collecting task execution metrics.
// Methods should be non-blocking and fast; they run on the dispatch path.
type Metrics interface {
	// RecordTaskDuration records how long a task took to execute.
	RecordTaskDuration(queueName string, priority QueuePriority, duration time.Duration)

	// RecordTaskPanic records that a task panicked during execution.
	RecordTaskPanic(queueName string, panicInfo any)

	// RecordQueueDepth records the number of tasks held by a queue
	// (incoming + work + delayed) after a dispatch.
	RecordQueueDepth(queueName string, depth int)

	// RecordTaskRejected records that a post was refused (e.g., after shutdown).
	RecordTaskRejected(queueName string, reason string)
}

// NilMetrics provides a no-op metrics implementation that does nothing.
// This is the default when no metrics interface is provided.
type NilMetrics struct{}

// RecordTaskDuration is a no-op.
func (m *NilMetrics) RecordTaskDuration(queueName string, priority QueuePriority, duration time.Duration) {
}

// RecordTaskPanic is a no-op.
func (m *NilMetrics) RecordTaskPanic(queueName string, panicInfo any) {
}

// RecordQueueDepth is a no-op.
func (m *NilMetrics) RecordQueueDepth(queueName string, depth int) {
}

// RecordTaskRejected is a no-op.
func (m *NilMetrics) RecordTaskRejected(queueName string, reason string) {
}

// =============================================================================
// RejectedTaskHandler: Interface for handling rejected tasks
// =============================================================================

// RejectedTaskHandler is called when a post is refused because the queue has
// been detached from its manager. Producers may race with teardown, so this
// is informational rather than an error.
//
// Implementations should be thread-safe as they may be called concurrently.
type RejectedTaskHandler interface {
	HandleRejectedTask(queueName string, reason string)
}

// DefaultRejectedTaskHandler logs rejected tasks at debug level.
type DefaultRejectedTaskHandler struct {
	Logger Logger
}

// HandleRejectedTask logs the rejected task.
func (h *DefaultRejectedTaskHandler) HandleRejectedTask(queueName string, reason string) {
	if h.Logger == nil {
		return
	}
	h.Logger.Debug("task rejected", F("queue", queueName), F("reason", reason))
}

// =============================================================================
// TaskObserver: Hooks around every dispatched task
// =============================================================================

// TaskObserver is notified on the consumer goroutine before and after each task.
type TaskObserver interface {
	WillProcessTask(queueName string, task *PendingTask)
	DidProcessTask(queueName string, task *PendingTask)
}

// =============================================================================
// TraceSink: Optional receiver of scheduler snapshots
// =============================================================================

// TraceSink receives a snapshot after every DoWork that ran a task.
// It is called on the consumer goroutine and must not block.
type TraceSink interface {
	EmitSnapshot(snapshot ManagerSnapshot)
}

// =============================================================================
// TaskQueueManagerConfig: Configuration for TaskQueueManager
// =============================================================================

// TaskQueueManagerConfig holds configuration options for TaskQueueManager.
// Zero-valued fields are replaced with defaults.
type TaskQueueManagerConfig struct {
	// Logger receives lifecycle and error logs. Defaults to NoOpLogger.
	Logger Logger

	// PanicHandler is called when a task panics. Defaults to DefaultPanicHandler.
	PanicHandler PanicHandler

	// Metrics is called to record task execution metrics. Defaults to NilMetrics.
	Metrics Metrics

	// RejectedTaskHandler is called when a task is rejected. Defaults to DefaultRejectedTaskHandler.
	RejectedTaskHandler RejectedTaskHandler

	// Clock is the time source for delayed tasks. Defaults to SystemClock.
	Clock Clock

	// TraceSink, when set, receives a snapshot after each DoWork that ran a task.
	TraceSink TraceSink

	// WorkBatchSize is the maximum number of tasks run per DoWork. Defaults to 1.
	WorkBatchSize int

	// MaxStarvationTasks is the number of consecutive High selections after
	// which one Normal task is served. Zero disables the rule.
	MaxStarvationTasks int

	// HistoryCapacity bounds the execution history ring. Defaults to 100.
	HistoryCapacity int
}

// DefaultTaskQueueManagerConfig returns a config with default handlers.
func DefaultTaskQueueManagerConfig() *TaskQueueManagerConfig {
	logger := NewNoOpLogger()
	return &TaskQueueManagerConfig{
		Logger:              logger,
		PanicHandler:        &DefaultPanicHandler{Logger: logger},
		Metrics:             &NilMetrics{},
		RejectedTaskHandler: &DefaultRejectedTaskHandler{Logger: logger},
		Clock:               SystemClock{},
		WorkBatchSize:       1,
		HistoryCapacity:     defaultTaskHistoryCapacity,
	}
}

func (c *TaskQueueManagerConfig) withDefaults() TaskQueueManagerConfig {
	var out TaskQueueManagerConfig
	if c != nil {
		out = *c
	}
	if out.Logger == nil {
		out.Logger = NewNoOpLogger()
	}
	if out.PanicHandler == nil {
		out.PanicHandler = &DefaultPanicHandler{Logger: out.Logger}
	}
	if out.Metrics == nil {
		out.Metrics = &NilMetrics{}
	}
	if out.RejectedTaskHandler == nil {
		out.RejectedTaskHandler = &DefaultRejectedTaskHandler{Logger: out.Logger}
	}
	if out.Clock == nil {
		out.Clock = SystemClock{}
	}
	if out.WorkBatchSize < 1 {
		out.WorkBatchSize = 1
	}
	if out.MaxStarvationTasks < 0 {
		out.MaxStarvationTasks = 0
	}
	if out.HistoryCapacity < 1 {
		out.HistoryCapacity = defaultTaskHistoryCapacity
	}
	return out
}
