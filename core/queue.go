package core

import (
	"container/heap"
)

const (
	defaultQueueCap     = 16
	compactMinCap       = 64 // Don't compact if capacity is less than this
	compactShrinkFactor = 4  // Trigger compaction when len < cap/4
)

// =============================================================================
// taskDeque: FIFO of pending tasks. Not synchronized; the owner locks.
// =============================================================================

type taskDeque struct {
	tasks []PendingTask
}

func newTaskDeque() taskDeque {
	return taskDeque{tasks: make([]PendingTask, 0, defaultQueueCap)}
}

func (q *taskDeque) Push(t PendingTask) {
	q.tasks = append(q.tasks, t)
}

// Front returns a pointer to the oldest task; valid until the next mutation.
func (q *taskDeque) Front() *PendingTask {
	if len(q.tasks) == 0 {
		return nil
	}
	return &q.tasks[0]
}

func (q *taskDeque) Pop() (PendingTask, bool) {
	if len(q.tasks) == 0 {
		return PendingTask{}, false
	}

	item := q.tasks[0]
	// Zero out the element in the underlying array to prevent memory leak
	q.tasks[0] = PendingTask{}
	q.tasks = q.tasks[1:]
	q.maybeCompact()

	return item, true
}

// MoveAllTo appends every task to dst in FIFO order and empties q.
// Returns the number of tasks moved.
func (q *taskDeque) MoveAllTo(dst *taskDeque) int {
	n := len(q.tasks)
	if n == 0 {
		return 0
	}
	if len(dst.tasks) == 0 {
		// Swap backing arrays; dst is empty so order is preserved.
		q.tasks, dst.tasks = dst.tasks[:0], q.tasks
		return n
	}
	dst.tasks = append(dst.tasks, q.tasks...)
	clear(q.tasks)
	q.tasks = q.tasks[:0]
	return n
}

func (q *taskDeque) maybeCompact() {
	n := len(q.tasks)
	c := cap(q.tasks)

	if c < compactMinCap {
		return
	}
	if n == 0 {
		q.tasks = make([]PendingTask, 0, defaultQueueCap)
		return
	}
	if n*compactShrinkFactor >= c {
		return
	}

	newCap := max(max(c/2, defaultQueueCap), n)

	newSlice := make([]PendingTask, n, newCap)
	copy(newSlice, q.tasks)
	q.tasks = newSlice
}

func (q *taskDeque) Len() int { return len(q.tasks) }

func (q *taskDeque) IsEmpty() bool { return len(q.tasks) == 0 }

// Clear removes all tasks and releases their closures.
func (q *taskDeque) Clear() {
	q.tasks = make([]PendingTask, 0, defaultQueueCap)
}

// =============================================================================
// delayedTaskHeap: Min-heap of delayed tasks ordered by PendingTask.Before
// =============================================================================

type delayedTaskHeap []*PendingTask

func (h delayedTaskHeap) Len() int           { return len(h) }
func (h delayedTaskHeap) Less(i, j int) bool { return h[i].Before(h[j]) }
func (h delayedTaskHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *delayedTaskHeap) Push(x any) {
	*h = append(*h, x.(*PendingTask))
}

func (h *delayedTaskHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil // avoid memory leak
	*h = old[0 : n-1]
	return item
}

func (h delayedTaskHeap) Peek() *PendingTask {
	if len(h) == 0 {
		return nil
	}
	return h[0]
}

func (h *delayedTaskHeap) PushTask(t *PendingTask) {
	heap.Push(h, t)
}

func (h *delayedTaskHeap) PopTask() *PendingTask {
	return heap.Pop(h).(*PendingTask)
}
