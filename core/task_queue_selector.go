package core

import "slices"

// TaskQueueSelector picks the next queue to service.
//
// Queues with a non-empty work queue sit in the bucket matching their
// priority. Selection scans buckets from Control down to BestEffort; the
// Disabled bucket is never scanned. Within a bucket the queue whose front
// task has the lowest sequence number wins, so equal-priority queues are
// served in global posting order and none of them starves.
//
// The selector has no lock: it is only touched by the goroutine that runs
// DoWork.
type TaskQueueSelector struct {
	buckets    [numQueuePriorities][]*TaskQueue
	membership map[*TaskQueue]QueuePriority

	// High selections since Normal was last served.
	starvationCount    int
	maxStarvationTasks int
}

func NewTaskQueueSelector(maxStarvationTasks int) *TaskQueueSelector {
	return &TaskQueueSelector{
		membership:         make(map[*TaskQueue]QueuePriority),
		maxStarvationTasks: maxStarvationTasks,
	}
}

// OnQueueBecameNonEmpty adds q to the bucket of its current priority.
func (s *TaskQueueSelector) OnQueueBecameNonEmpty(q *TaskQueue) {
	if _, ok := s.membership[q]; ok {
		return
	}
	p := q.Priority()
	s.buckets[p] = append(s.buckets[p], q)
	s.membership[q] = p
}

// OnQueueBecameEmpty removes q from its bucket.
func (s *TaskQueueSelector) OnQueueBecameEmpty(q *TaskQueue) {
	p, ok := s.membership[q]
	if !ok {
		return
	}
	s.removeFromBucket(p, q)
	delete(s.membership, q)
}

// SetQueuePriority records the new priority on q and moves its bucket
// membership in one step.
func (s *TaskQueueSelector) SetQueuePriority(q *TaskQueue, priority QueuePriority) {
	q.priority.Store(int32(priority))
	old, ok := s.membership[q]
	if !ok || old == priority {
		return
	}
	s.removeFromBucket(old, q)
	s.buckets[priority] = append(s.buckets[priority], q)
	s.membership[q] = priority
}

// IsQueueEnabled reports whether q can ever be selected.
func (s *TaskQueueSelector) IsQueueEnabled(q *TaskQueue) bool {
	return q.Priority() != QueuePriorityDisabled
}

// SelectNextQueue returns the queue to take the next task from.
func (s *TaskQueueSelector) SelectNextQueue() (*TaskQueue, bool) {
	if q := s.oldestWithPriority(QueuePriorityControl); q != nil {
		return q, true
	}

	if s.maxStarvationTasks > 0 && s.starvationCount >= s.maxStarvationTasks {
		if q := s.oldestWithPriority(QueuePriorityNormal); q != nil {
			s.starvationCount = 0
			return q, true
		}
	}

	for p := QueuePriorityHigh; p < QueuePriorityDisabled; p++ {
		q := s.oldestWithPriority(p)
		if q == nil {
			continue
		}
		if p == QueuePriorityHigh {
			s.starvationCount++
		} else {
			s.starvationCount = 0
		}
		return q, true
	}
	return nil, false
}

func (s *TaskQueueSelector) oldestWithPriority(p QueuePriority) *TaskQueue {
	var (
		best    *TaskQueue
		bestSeq uint64
	)
	for _, q := range s.buckets[p] {
		seq, ok := q.frontSequenceNum()
		if !ok {
			continue
		}
		if best == nil || seq < bestSeq {
			best, bestSeq = q, seq
		}
	}
	return best
}

func (s *TaskQueueSelector) removeFromBucket(p QueuePriority, q *TaskQueue) {
	bucket := s.buckets[p]
	if i := slices.Index(bucket, q); i >= 0 {
		s.buckets[p] = slices.Delete(bucket, i, i+1)
	}
}

// RemoveQueue forgets q entirely.
func (s *TaskQueueSelector) RemoveQueue(q *TaskQueue) {
	s.OnQueueBecameEmpty(q)
}

// Clear drops every bucket.
func (s *TaskQueueSelector) Clear() {
	for p := range s.buckets {
		s.buckets[p] = nil
	}
	clear(s.membership)
	s.starvationCount = 0
}

// Snapshot lists bucket contents by priority name. Consumer goroutine only.
func (s *TaskQueueSelector) Snapshot() SelectorSnapshot {
	buckets := make(map[string][]string, len(s.buckets))
	for p, bucket := range s.buckets {
		if len(bucket) == 0 {
			continue
		}
		names := make([]string, len(bucket))
		for i, q := range bucket {
			names[i] = q.Name()
		}
		buckets[QueuePriority(p).String()] = names
	}
	return SelectorSnapshot{Buckets: buckets, StarvationCount: s.starvationCount}
}
