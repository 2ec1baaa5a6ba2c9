package core

import (
	"context"
	"fmt"
	"runtime/debug"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// TaskQueueManager owns a set of TaskQueues and dispatches their tasks one at
// a time on the host's consumer goroutine.
//
// Posting is safe from any goroutine. DoWork, Shutdown, DeleteTaskQueue and
// the queue policy setters must run on the consumer goroutine, normally as
// tasks on the HostRunner.
type TaskQueueManager struct {
	host     HostRunner
	selector *TaskQueueSelector

	logger              Logger
	panicHandler        PanicHandler
	metrics             Metrics
	rejectedTaskHandler RejectedTaskHandler
	clock               Clock
	traceSink           TraceSink
	workBatchSize       int

	sequenceNum   atomic.Uint64
	doWorkPending atomic.Bool
	activeDoWork  atomic.Int32 // guard for reentrancy assertion
	taskWasRun    atomic.Bool  // any monitored queue ran a task since last check
	tasksRun      atomic.Int64
	tasksRejected atomic.Int64
	shutDown      atomic.Bool

	queuesMu  sync.Mutex
	queues    []*TaskQueue
	nextIndex int

	updatableMu sync.Mutex
	updatable   map[*TaskQueue]struct{}

	observersMu sync.Mutex
	observers   []TaskObserver

	history *executionHistory
}

func NewTaskQueueManager(host HostRunner, config *TaskQueueManagerConfig) *TaskQueueManager {
	cfg := config.withDefaults()
	return &TaskQueueManager{
		host:                host,
		selector:            NewTaskQueueSelector(cfg.MaxStarvationTasks),
		logger:              cfg.Logger,
		panicHandler:        cfg.PanicHandler,
		metrics:             cfg.Metrics,
		rejectedTaskHandler: cfg.RejectedTaskHandler,
		clock:               cfg.Clock,
		traceSink:           cfg.TraceSink,
		workBatchSize:       cfg.WorkBatchSize,
		updatable:           make(map[*TaskQueue]struct{}),
		history:             newExecutionHistory(cfg.HistoryCapacity),
	}
}

// =============================================================================
// Queues
// =============================================================================

// NewTaskQueue creates a queue with Normal priority.
// After Shutdown the returned queue is already detached.
func (m *TaskQueueManager) NewTaskQueue(spec TaskQueueSpec) *TaskQueue {
	m.queuesMu.Lock()
	q := newTaskQueue(m, spec, m.nextIndex)
	m.nextIndex++
	if m.shutDown.Load() {
		m.queuesMu.Unlock()
		q.detach()
		return q
	}
	m.queues = append(m.queues, q)
	m.queuesMu.Unlock()

	m.logger.Debug("task queue created",
		F("queue", q.name),
		F("id", q.id),
		F("pump_policy", spec.PumpPolicy.String()),
	)
	return q
}

// DeleteTaskQueue detaches q and drops its tasks. Later posts to q fail.
func (m *TaskQueueManager) DeleteTaskQueue(q *TaskQueue) {
	m.queuesMu.Lock()
	i := slices.Index(m.queues, q)
	if i < 0 {
		m.queuesMu.Unlock()
		return
	}
	m.queues = slices.Delete(m.queues, i, i+1)
	m.queuesMu.Unlock()

	m.selector.RemoveQueue(q)
	q.detach()
	m.logger.Debug("task queue deleted", F("queue", q.name), F("id", q.id))
}

// Queues returns the live queues in creation order.
func (m *TaskQueueManager) Queues() []*TaskQueue {
	m.queuesMu.Lock()
	defer m.queuesMu.Unlock()
	return slices.Clone(m.queues)
}

// =============================================================================
// Sequence numbers
// =============================================================================

// GetNextSequenceNumber returns a globally unique, strictly increasing number.
// Safe on any goroutine; independent of every queue lock.
func (m *TaskQueueManager) GetNextSequenceNumber() uint64 {
	return m.sequenceNum.Add(1)
}

// DidQueueTask stamps task with the next sequence number.
func (m *TaskQueueManager) DidQueueTask(task *PendingTask) {
	task.SequenceNum = m.GetNextSequenceNumber()
}

// =============================================================================
// Updatable queues
// =============================================================================

// RegisterAsUpdatableTaskQueue marks q as having incoming work to pump.
func (m *TaskQueueManager) RegisterAsUpdatableTaskQueue(q *TaskQueue) {
	m.updatableMu.Lock()
	m.updatable[q] = struct{}{}
	m.updatableMu.Unlock()
}

// UnregisterAsUpdatableTaskQueue clears the mark set by RegisterAsUpdatableTaskQueue.
func (m *TaskQueueManager) UnregisterAsUpdatableTaskQueue(q *TaskQueue) {
	m.updatableMu.Lock()
	delete(m.updatable, q)
	m.updatableMu.Unlock()
}

func (m *TaskQueueManager) updatableQueues() []*TaskQueue {
	m.updatableMu.Lock()
	queues := make([]*TaskQueue, 0, len(m.updatable))
	for q := range m.updatable {
		queues = append(queues, q)
	}
	m.updatableMu.Unlock()

	slices.SortFunc(queues, func(a, b *TaskQueue) int { return a.index - b.index })
	return queues
}

// updateWorkQueues gives every updatable queue a chance to refill its work
// queue. Queue locks are taken one at a time and never with updatableMu held.
func (m *TaskQueueManager) updateWorkQueues(lazyNow *LazyNow, previousTask *PendingTask, previousQueue *TaskQueue) {
	triggerWakeup := previousQueue != nil && previousQueue.wakeupPolicy == WakeupPolicyCanWakeOtherQueues
	for _, q := range m.updatableQueues() {
		q.UpdateWorkQueue(lazyNow, triggerWakeup, previousTask)
	}
}

// =============================================================================
// Host scheduling
// =============================================================================

// PostDelayedTask forwards a delayed task to the host. Queues use it for
// delayed-task kicks. Returns false after Shutdown.
func (m *TaskQueueManager) PostDelayedTask(task Task, delay time.Duration) bool {
	if m.shutDown.Load() {
		return false
	}
	m.host.PostDelayedTask(task, delay)
	return true
}

// MaybePostDoWorkOnMainRunner posts DoWork to the host unless a DoWork is
// already pending. Redundant calls are free.
func (m *TaskQueueManager) MaybePostDoWorkOnMainRunner() {
	if m.shutDown.Load() {
		return
	}
	if !m.doWorkPending.CompareAndSwap(false, true) {
		return
	}
	m.host.PostTask(m.doWorkTask)
}

func (m *TaskQueueManager) doWorkTask(ctx context.Context) {
	m.doWork(ctx)
}

// =============================================================================
// Dispatch (consumer goroutine)
// =============================================================================

// DoWork pumps updatable queues, selects the next queue and runs up to
// WorkBatchSize tasks. Returns false when there was nothing to run.
func (m *TaskQueueManager) DoWork() bool {
	return m.doWork(context.Background())
}

func (m *TaskQueueManager) doWork(ctx context.Context) bool {
	// Assertion: DoWork must not be re-entered from a task
	if n := m.activeDoWork.Add(1); n > 1 {
		m.activeDoWork.Add(-1)
		panic(fmt.Sprintf("TaskQueueManager: reentrant DoWork detected (count=%d)", n))
	}
	defer m.activeDoWork.Add(-1)

	m.doWorkPending.Store(false)
	if m.shutDown.Load() {
		return false
	}

	// A nil previous task keeps after-wakeup queues asleep.
	m.updateWorkQueues(NewLazyNow(m.clock), nil, nil)

	ranTask := false
	for range m.workBatchSize {
		q, ok := m.selector.SelectNextQueue()
		if !ok {
			break
		}
		// Keep one DoWork queued behind this task.
		m.MaybePostDoWorkOnMainRunner()

		task := q.TakeTaskFromWorkQueue()
		m.processTask(ctx, q, &task)
		ranTask = true

		if m.shutDown.Load() {
			return true
		}
		m.updateWorkQueues(NewLazyNow(m.clock), &task, q)
	}

	if ranTask && m.traceSink != nil {
		snap := m.Snapshot()
		sel := m.selector.Snapshot()
		snap.Selector = &sel
		m.traceSink.EmitSnapshot(snap)
	}
	return ranTask
}

func (m *TaskQueueManager) processTask(ctx context.Context, q *TaskQueue, task *PendingTask) {
	if q.monitorQuiescence {
		m.taskWasRun.Store(true)
	}
	priority := q.Priority()
	runCtx := context.WithValue(ctx, taskQueueKey, q)

	observers := m.taskObservers()
	for _, o := range observers {
		o.WillProcessTask(q.name, task)
	}

	startedAt := time.Now()
	panicked := m.runTask(runCtx, q, task)
	finishedAt := time.Now()
	m.tasksRun.Add(1)

	m.metrics.RecordTaskDuration(q.name, priority, finishedAt.Sub(startedAt))
	m.metrics.RecordQueueDepth(q.name, q.pendingCount())
	m.history.Add(TaskExecutionRecord{
		SequenceNum: task.SequenceNum,
		QueueName:   q.name,
		PostedFrom:  task.PostedFrom.String(),
		Priority:    priority,
		StartedAt:   startedAt,
		FinishedAt:  finishedAt,
		Duration:    finishedAt.Sub(startedAt),
		Panicked:    panicked,
	})

	for _, o := range observers {
		o.DidProcessTask(q.name, task)
	}
}

// runTask invokes the callback outside every lock and recovers panics.
func (m *TaskQueueManager) runTask(ctx context.Context, q *TaskQueue, task *PendingTask) (panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			panicked = true
			m.panicHandler.HandlePanic(ctx, q.name, task.PostedFrom, r, debug.Stack())
			m.metrics.RecordTaskPanic(q.name, r)
		}
	}()
	task.Task(ctx)
	return false
}

// =============================================================================
// Observers
// =============================================================================

func (m *TaskQueueManager) AddTaskObserver(o TaskObserver) {
	m.observersMu.Lock()
	defer m.observersMu.Unlock()
	m.observers = append(slices.Clone(m.observers), o)
}

func (m *TaskQueueManager) RemoveTaskObserver(o TaskObserver) {
	m.observersMu.Lock()
	defer m.observersMu.Unlock()
	if i := slices.Index(m.observers, o); i >= 0 {
		m.observers = slices.Delete(slices.Clone(m.observers), i, i+1)
	}
}

func (m *TaskQueueManager) taskObservers() []TaskObserver {
	m.observersMu.Lock()
	defer m.observersMu.Unlock()
	return m.observers
}

// =============================================================================
// Introspection
// =============================================================================

// GetAndClearSystemIsQuiescentBit reports whether no task from a queue with
// ShouldMonitorQuiescence ran since the previous call.
func (m *TaskQueueManager) GetAndClearSystemIsQuiescentBit() bool {
	return !m.taskWasRun.Swap(false)
}

// NextPendingDelayedTaskRunTime returns the earliest delayed run time across
// all queues.
func (m *TaskQueueManager) NextPendingDelayedTaskRunTime() (time.Time, bool) {
	var (
		next  time.Time
		found bool
	)
	for _, q := range m.Queues() {
		t, ok := q.NextPendingDelayedTaskRunTime()
		if ok && (!found || t.Before(next)) {
			next, found = t, true
		}
	}
	return next, found
}

// HasPendingImmediateWork reports whether any queue holds runnable work.
func (m *TaskQueueManager) HasPendingImmediateWork() bool {
	for _, q := range m.Queues() {
		if q.HasPendingImmediateWork() {
			return true
		}
	}
	return false
}

// RecentTasks returns up to limit execution records, newest first.
func (m *TaskQueueManager) RecentTasks(limit int) []TaskExecutionRecord {
	return m.history.Recent(limit)
}

// LastTask returns the most recent execution record.
func (m *TaskQueueManager) LastTask() (TaskExecutionRecord, bool) {
	return m.history.Last()
}

// Snapshot returns queue sizes and counters. Safe on any goroutine; the
// selector view is only attached to snapshots sent to the TraceSink.
func (m *TaskQueueManager) Snapshot() ManagerSnapshot {
	queues := m.Queues()
	snap := ManagerSnapshot{
		Queues:        make([]QueueSnapshot, 0, len(queues)),
		SequenceNum:   m.sequenceNum.Load(),
		DoWorkPending: m.doWorkPending.Load(),
		TasksRun:      m.tasksRun.Load(),
		TasksRejected: m.tasksRejected.Load(),
		ShutDown:      m.shutDown.Load(),
		TakenAt:       time.Now(),
	}
	for _, q := range queues {
		snap.Queues = append(snap.Queues, q.Snapshot())
	}
	m.updatableMu.Lock()
	snap.Updatable = len(m.updatable)
	m.updatableMu.Unlock()
	return snap
}

// =============================================================================
// Shutdown
// =============================================================================

// Shutdown detaches every queue and drops all queued tasks. Handles issued
// earlier stay valid but their posts return false. Repeated calls are no-ops.
func (m *TaskQueueManager) Shutdown() {
	if !m.shutDown.CompareAndSwap(false, true) {
		return
	}

	m.queuesMu.Lock()
	queues := m.queues
	m.queues = nil
	m.queuesMu.Unlock()

	for _, q := range queues {
		q.detach()
	}
	m.selector.Clear()

	m.updatableMu.Lock()
	clear(m.updatable)
	m.updatableMu.Unlock()

	m.logger.Info("task queue manager shut down",
		F("queues", len(queues)),
		F("tasks_run", m.tasksRun.Load()),
	)
}

// IsShutDown reports whether Shutdown has been called.
func (m *TaskQueueManager) IsShutDown() bool {
	return m.shutDown.Load()
}
