package core

import (
	"sync"
)

const defaultTaskHistoryCapacity = 100

// executionHistory keeps the most recent TaskExecutionRecords in a fixed ring.
// written counts every Add since the last Clear; slot written%len(items) is next.
type executionHistory struct {
	mu      sync.Mutex
	items   []TaskExecutionRecord
	written uint64
}

func newExecutionHistory(capacity int) *executionHistory {
	if capacity < 1 {
		capacity = defaultTaskHistoryCapacity
	}
	return &executionHistory{items: make([]TaskExecutionRecord, capacity)}
}

func (h *executionHistory) Add(record TaskExecutionRecord) {
	h.mu.Lock()
	h.items[h.written%uint64(len(h.items))] = record
	h.written++
	h.mu.Unlock()
}

// Recent returns up to limit records, newest first. limit <= 0 returns all.
func (h *executionHistory) Recent(limit int) []TaskExecutionRecord {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := h.lenLocked()
	if n == 0 {
		return nil
	}
	if limit > 0 {
		n = min(n, limit)
	}

	out := make([]TaskExecutionRecord, n)
	for i := range out {
		out[i] = h.atLocked(i)
	}
	return out
}

func (h *executionHistory) Last() (TaskExecutionRecord, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.written == 0 {
		return TaskExecutionRecord{}, false
	}
	return h.atLocked(0), true
}

func (h *executionHistory) Clear() {
	h.mu.Lock()
	clear(h.items)
	h.written = 0
	h.mu.Unlock()
}

func (h *executionHistory) lenLocked() int {
	return int(min(h.written, uint64(len(h.items))))
}

// atLocked returns the record age steps back from the newest one.
func (h *executionHistory) atLocked(age int) TaskExecutionRecord {
	idx := (h.written - 1 - uint64(age)) % uint64(len(h.items))
	return h.items[idx]
}
