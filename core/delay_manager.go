package core

import (
	"sync"
	"time"
)

// idleWait is how long the timer sleeps when nothing is scheduled. A new
// earliest post always interrupts it.
const idleWait = time.Hour

// DelayManager holds delayed posts for a host that has no delayed queue of
// its own. One goroutine sleeps until the earliest run time and then hands
// every due task to post, earliest first. Ties keep insertion order.
type DelayManager struct {
	post func(Task)

	mu      sync.Mutex
	pending delayedTaskHeap
	nextSeq uint64
	stopped bool

	wakeup chan struct{}
	done   chan struct{}
	once   sync.Once
}

// NewDelayManager starts the timer goroutine. Call Stop to release it.
func NewDelayManager(post func(Task)) *DelayManager {
	dm := &DelayManager{
		post:   post,
		wakeup: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go dm.run()
	return dm
}

// AddDelayedTask schedules task to be posted once delay has elapsed.
// Ignored after Stop.
func (dm *DelayManager) AddDelayedTask(task Task, delay time.Duration) {
	dm.mu.Lock()
	if dm.stopped {
		dm.mu.Unlock()
		return
	}
	dm.pushLocked(task, time.Now().Add(delay))
	earliest := dm.pending.Peek().SequenceNum == dm.nextSeq
	dm.mu.Unlock()

	if earliest {
		dm.kick()
	}
}

func (dm *DelayManager) pushLocked(task Task, runAt time.Time) {
	dm.nextSeq++
	dm.pending.PushTask(&PendingTask{
		Task:           task,
		SequenceNum:    dm.nextSeq,
		DelayedRunTime: runAt,
	})
}

func (dm *DelayManager) kick() {
	select {
	case dm.wakeup <- struct{}{}:
	default:
	}
}

func (dm *DelayManager) run() {
	timer := time.NewTimer(idleWait)
	defer timer.Stop()

	for {
		timer.Reset(dm.untilNext())

		select {
		case <-dm.done:
			return
		case <-dm.wakeup:
			// Go 1.23 timers drop stale fires on Reset.
		case <-timer.C:
			for _, task := range dm.takeDue(time.Now()) {
				dm.post(task)
			}
		}
	}
}

func (dm *DelayManager) untilNext() time.Duration {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	next := dm.pending.Peek()
	if next == nil {
		return idleWait
	}
	return max(time.Until(next.DelayedRunTime), 0)
}

// takeDue pops every post due at now. The caller posts them without the lock
// so post may call back into AddDelayedTask.
func (dm *DelayManager) takeDue(now time.Time) []Task {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	var due []Task
	for next := dm.pending.Peek(); next != nil && !next.DelayedRunTime.After(now); next = dm.pending.Peek() {
		due = append(due, dm.pending.PopTask().Task)
	}
	return due
}

// Stop ends the timer goroutine and drops every pending post.
func (dm *DelayManager) Stop() {
	dm.once.Do(func() {
		dm.mu.Lock()
		dm.stopped = true
		dm.pending = nil
		dm.mu.Unlock()
		close(dm.done)
	})
}

// TaskCount returns the number of posts not yet due.
func (dm *DelayManager) TaskCount() int {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return dm.pending.Len()
}
