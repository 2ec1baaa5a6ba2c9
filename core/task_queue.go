package core

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// TaskQueue is one logical queue of work owned by a TaskQueueManager.
//
// Producers on any goroutine post into the incoming queue or the delayed heap,
// both guarded by mu. The work queue is drained only by the goroutine that
// runs DoWork and is never locked.
type TaskQueue struct {
	name              string
	id                string
	index             int
	wakeupPolicy      WakeupPolicy
	monitorQuiescence bool

	selector      *TaskQueueSelector
	rejected      RejectedTaskHandler
	metrics       Metrics
	rejectedTotal *atomic.Int64

	mu            sync.Mutex
	manager       *TaskQueueManager // nil once detached
	pumpPolicy    PumpPolicy
	incoming      taskDeque
	delayed       delayedTaskHeap
	inFlightKicks map[int64]struct{}

	// Consumer goroutine only.
	work taskDeque

	// Mirrors for readers on other goroutines.
	workLen       atomic.Int64
	priority      atomic.Int32
	rejectedCount atomic.Int64
}

func newTaskQueue(m *TaskQueueManager, spec TaskQueueSpec, index int) *TaskQueue {
	q := &TaskQueue{
		name:              spec.Name,
		id:                uuid.NewString(),
		index:             index,
		wakeupPolicy:      spec.WakeupPolicy,
		monitorQuiescence: spec.ShouldMonitorQuiescence,
		selector:          m.selector,
		rejected:          m.rejectedTaskHandler,
		metrics:           m.metrics,
		rejectedTotal:     &m.tasksRejected,
		manager:           m,
		pumpPolicy:        spec.PumpPolicy,
		incoming:          newTaskDeque(),
		delayed:           make(delayedTaskHeap, 0),
		inFlightKicks:     make(map[int64]struct{}),
		work:              newTaskDeque(),
	}
	if q.name == "" {
		q.name = fmt.Sprintf("queue-%d", index)
	}
	q.priority.Store(int32(QueuePriorityNormal))
	return q
}

// Name returns the queue name given at construction.
func (q *TaskQueue) Name() string { return q.name }

// ID returns an opaque identifier unique to this queue.
func (q *TaskQueue) ID() string { return q.id }

func (q *TaskQueue) WakeupPolicy() WakeupPolicy { return q.wakeupPolicy }

func (q *TaskQueue) Priority() QueuePriority {
	return QueuePriority(q.priority.Load())
}

func (q *TaskQueue) PumpPolicy() PumpPolicy {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pumpPolicy
}

// =============================================================================
// Posting (any goroutine)
// =============================================================================

// PostTask queues task for immediate execution.
// Returns false if the queue has been detached from its manager.
func (q *TaskQueue) PostTask(from Location, task Task) bool {
	return q.postDelayedTaskImpl(from, task, 0, true)
}

// PostNonNestableTask is PostTask for tasks that must not run in a nested loop.
func (q *TaskQueue) PostNonNestableTask(from Location, task Task) bool {
	return q.postDelayedTaskImpl(from, task, 0, false)
}

// PostDelayedTask queues task to become runnable after delay.
// A delay of zero is an immediate post.
func (q *TaskQueue) PostDelayedTask(from Location, task Task, delay time.Duration) bool {
	return q.postDelayedTaskImpl(from, task, delay, true)
}

func (q *TaskQueue) postDelayedTaskImpl(from Location, task Task, delay time.Duration, nestable bool) bool {
	dcheck(task != nil, "nil task posted from %s", from)
	dcheck(delay >= 0, "negative delay %v posted from %s", delay, from)

	q.mu.Lock()
	if q.manager == nil {
		q.mu.Unlock()
		q.reportRejected("shutdown")
		return false
	}

	pending := PendingTask{Task: task, PostedFrom: from, Nestable: nestable}
	q.manager.DidQueueTask(&pending)

	if delay > 0 {
		lazyNow := NewLazyNow(q.manager.clock)
		pending.DelayedRunTime = lazyNow.Now().Add(delay)
		q.delayed.PushTask(&pending)
		if q.delayed.Peek() == &pending {
			q.scheduleKickLocked(pending.DelayedRunTime, lazyNow)
		}
	} else {
		q.enqueueTaskLocked(pending)
	}
	q.mu.Unlock()
	return true
}

func (q *TaskQueue) reportRejected(reason string) {
	q.rejectedCount.Add(1)
	q.rejectedTotal.Add(1)
	q.rejected.HandleRejectedTask(q.name, reason)
	q.metrics.RecordTaskRejected(q.name, reason)
}

func (q *TaskQueue) enqueueTaskLocked(task PendingTask) {
	if q.manager == nil {
		return
	}
	if q.incoming.IsEmpty() {
		q.manager.RegisterAsUpdatableTaskQueue(q)
		if q.pumpPolicy == PumpPolicyAuto {
			q.manager.MaybePostDoWorkOnMainRunner()
		}
	}
	task.DelayedRunTime = time.Time{}
	q.incoming.Push(task)
}

// =============================================================================
// Delayed tasks
// =============================================================================

// scheduleKickLocked asks the manager for a wake-up at runAt unless one is
// already in flight for that exact run time.
func (q *TaskQueue) scheduleKickLocked(runAt time.Time, lazyNow *LazyNow) {
	key := runAt.UnixNano()
	if _, ok := q.inFlightKicks[key]; ok {
		return
	}
	q.inFlightKicks[key] = struct{}{}
	delay := max(runAt.Sub(lazyNow.Now()), 0)
	q.manager.logger.Debug("delayed kick scheduled", F("queue", q.name), F("delay", delay))
	q.manager.PostDelayedTask(func(ctx context.Context) { q.kick(runAt) }, delay)
}

func (q *TaskQueue) kick(runAt time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inFlightKicks, runAt.UnixNano())
	if q.manager == nil {
		return
	}
	q.moveReadyDelayedTasksLocked(NewLazyNow(q.manager.clock))
}

// MoveReadyDelayedTasksToIncomingQueue moves every delayed task whose run
// time has arrived into the incoming queue, earliest first.
func (q *TaskQueue) MoveReadyDelayedTasksToIncomingQueue() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.manager == nil {
		return
	}
	q.moveReadyDelayedTasksLocked(NewLazyNow(q.manager.clock))
}

func (q *TaskQueue) moveReadyDelayedTasksLocked(lazyNow *LazyNow) {
	for {
		top := q.delayed.Peek()
		if top == nil || top.DelayedRunTime.After(lazyNow.Now()) {
			break
		}
		q.enqueueTaskLocked(*q.delayed.PopTask())
	}
	if top := q.delayed.Peek(); top != nil {
		q.scheduleKickLocked(top.DelayedRunTime, lazyNow)
	}
}

// NextPendingDelayedTaskRunTime returns the earliest delayed run time, if any.
func (q *TaskQueue) NextPendingDelayedTaskRunTime() (time.Time, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if top := q.delayed.Peek(); top != nil {
		return top.DelayedRunTime, true
	}
	return time.Time{}, false
}

// =============================================================================
// Pumping (consumer goroutine)
// =============================================================================

// PumpQueue promotes ready delayed tasks, then moves the whole incoming queue
// into the work queue regardless of pump policy.
func (q *TaskQueue) PumpQueue() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.manager == nil {
		return
	}
	q.moveReadyDelayedTasksLocked(NewLazyNow(q.manager.clock))
	q.pumpQueueLocked()
}

func (q *TaskQueue) pumpQueueLocked() {
	wasEmpty := q.work.IsEmpty()
	if q.incoming.MoveAllTo(&q.work) == 0 {
		return
	}
	q.workLen.Store(int64(q.work.Len()))
	q.manager.UnregisterAsUpdatableTaskQueue(q)
	if wasEmpty {
		q.selector.OnQueueBecameNonEmpty(q)
	}
	q.manager.MaybePostDoWorkOnMainRunner()
}

// UpdateWorkQueue refills an empty work queue according to the pump policy.
// triggerWakeup is true when the previously run task may wake other queues;
// previousTask is nil before any task has run in this DoWork.
// Returns whether the work queue holds tasks afterwards.
func (q *TaskQueue) UpdateWorkQueue(lazyNow *LazyNow, triggerWakeup bool, previousTask *PendingTask) bool {
	if !q.work.IsEmpty() {
		return true
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.manager == nil {
		return false
	}
	q.moveReadyDelayedTasksLocked(lazyNow)
	if !q.shouldAutoPumpLocked(triggerWakeup, previousTask) {
		return false
	}
	q.pumpQueueLocked()
	return !q.work.IsEmpty()
}

func (q *TaskQueue) shouldAutoPumpLocked(triggerWakeup bool, previousTask *PendingTask) bool {
	switch q.pumpPolicy {
	case PumpPolicyManual:
		return false
	case PumpPolicyAfterWakeup:
		if !triggerWakeup || q.taskIsOlderThanQueuedTasksLocked(previousTask) {
			return false
		}
	}
	return !q.incoming.IsEmpty()
}

// TaskIsOlderThanQueuedTasks reports whether task was queued before every task
// waiting in the incoming queue. A nil task or an empty incoming queue
// reports true, so neither can wake a PumpPolicyAfterWakeup queue.
func (q *TaskQueue) TaskIsOlderThanQueuedTasks(task *PendingTask) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.taskIsOlderThanQueuedTasksLocked(task)
}

func (q *TaskQueue) taskIsOlderThanQueuedTasksLocked(task *PendingTask) bool {
	if task == nil {
		return true
	}
	oldest := q.incoming.Front()
	if oldest == nil {
		return true
	}
	return task.IsOlderThan(oldest)
}

// TakeTaskFromWorkQueue pops the front of the work queue.
// The work queue must not be empty.
func (q *TaskQueue) TakeTaskFromWorkQueue() PendingTask {
	task, ok := q.work.Pop()
	if !ok {
		panic(fmt.Sprintf("taskqueue: TakeTaskFromWorkQueue on empty work queue %q", q.name))
	}
	q.workLen.Store(int64(q.work.Len()))
	if q.work.IsEmpty() {
		q.selector.OnQueueBecameEmpty(q)
	}
	return task
}

func (q *TaskQueue) frontSequenceNum() (uint64, bool) {
	front := q.work.Front()
	if front == nil {
		return 0, false
	}
	return front.SequenceNum, true
}

// =============================================================================
// Policy (consumer goroutine)
// =============================================================================

// SetPumpPolicy changes the pump policy. Switching to PumpPolicyAuto pumps
// the queue immediately.
func (q *TaskQueue) SetPumpPolicy(policy PumpPolicy) {
	q.mu.Lock()
	defer q.mu.Unlock()
	old := q.pumpPolicy
	q.pumpPolicy = policy
	if policy == PumpPolicyAuto && old != PumpPolicyAuto && q.manager != nil {
		q.moveReadyDelayedTasksLocked(NewLazyNow(q.manager.clock))
		q.pumpQueueLocked()
	}
}

// SetPriority moves the queue to another selector bucket. Queue contents are
// untouched. Re-enabling a queue that holds work schedules a DoWork.
func (q *TaskQueue) SetPriority(priority QueuePriority) {
	dcheck(priority >= QueuePriorityControl && priority < numQueuePriorities, "invalid priority %d", priority)
	old := q.Priority()
	if old == priority {
		return
	}
	q.selector.SetQueuePriority(q, priority)
	if old == QueuePriorityDisabled && q.GetQueueState() != QueueStateEmpty {
		q.mu.Lock()
		if q.manager != nil {
			q.manager.MaybePostDoWorkOnMainRunner()
		}
		q.mu.Unlock()
	}
}

// IsQueueEnabled reports whether the selector may pick this queue.
func (q *TaskQueue) IsQueueEnabled() bool {
	return q.selector.IsQueueEnabled(q)
}

// =============================================================================
// State
// =============================================================================

// GetQueueState must be called on the consumer goroutine.
func (q *TaskQueue) GetQueueState() QueueState {
	if !q.work.IsEmpty() {
		return QueueStateHasWork
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.incoming.IsEmpty() {
		return QueueStateNeedsPumping
	}
	return QueueStateEmpty
}

// IsQueueEmpty reports whether no immediate task is queued. Delayed tasks
// that have not reached their run time do not count.
func (q *TaskQueue) IsQueueEmpty() bool {
	return q.GetQueueState() == QueueStateEmpty
}

// HasPendingImmediateWork reports whether the queue holds a task that could
// run now, including delayed tasks whose run time has passed.
func (q *TaskQueue) HasPendingImmediateWork() bool {
	if q.workLen.Load() > 0 {
		return true
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.incoming.IsEmpty() {
		return true
	}
	top := q.delayed.Peek()
	if top == nil || q.manager == nil {
		return false
	}
	return !top.DelayedRunTime.After(q.manager.clock.Now())
}

func (q *TaskQueue) pendingCount() int {
	q.mu.Lock()
	n := q.incoming.Len() + q.delayed.Len()
	q.mu.Unlock()
	return n + int(q.workLen.Load())
}

// Snapshot returns the queue's sizes and policies. Safe on any goroutine.
func (q *TaskQueue) Snapshot() QueueSnapshot {
	q.mu.Lock()
	s := QueueSnapshot{
		Name:         q.name,
		ID:           q.id,
		PumpPolicy:   q.pumpPolicy.String(),
		WakeupPolicy: q.wakeupPolicy.String(),
		Incoming:     q.incoming.Len(),
		Delayed:      q.delayed.Len(),
		InFlightKick: len(q.inFlightKicks),
		Detached:     q.manager == nil,
	}
	if top := q.delayed.Peek(); top != nil {
		s.NextDelayed = top.DelayedRunTime
	}
	q.mu.Unlock()

	s.Priority = q.Priority().String()
	s.Work = int(q.workLen.Load())
	s.Rejected = q.rejectedCount.Load()
	return s
}

// detach drops every task and cuts the link to the manager. Later posts fail.
// Must run on the consumer goroutine.
func (q *TaskQueue) detach() {
	q.mu.Lock()
	if q.manager != nil {
		q.manager.UnregisterAsUpdatableTaskQueue(q)
	}
	q.manager = nil
	q.incoming.Clear()
	q.delayed = make(delayedTaskHeap, 0)
	clear(q.inFlightKicks)
	q.mu.Unlock()

	q.work.Clear()
	q.workLen.Store(0)
}
