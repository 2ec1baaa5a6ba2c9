package core

import (
	"testing"
)

func TestExecutionHistory_RecentNewestFirst(t *testing.T) {
	h := newExecutionHistory(3)
	for i := uint64(1); i <= 5; i++ {
		h.Add(TaskExecutionRecord{SequenceNum: i})
	}

	got := h.Recent(0)
	want := []uint64{5, 4, 3}
	if len(got) != len(want) {
		t.Fatalf("Recent(0) len = %d, want %d", len(got), len(want))
	}
	for i, seq := range want {
		if got[i].SequenceNum != seq {
			t.Errorf("Recent(0)[%d] = %d, want %d", i, got[i].SequenceNum, seq)
		}
	}

	if got := h.Recent(2); len(got) != 2 || got[0].SequenceNum != 5 {
		t.Errorf("Recent(2) = %+v", got)
	}
	if last, ok := h.Last(); !ok || last.SequenceNum != 5 {
		t.Errorf("Last() = %+v, %v", last, ok)
	}
}

func TestExecutionHistory_EmptyAndClear(t *testing.T) {
	h := newExecutionHistory(0)
	if len(h.items) != defaultTaskHistoryCapacity {
		t.Errorf("capacity = %d, want %d", len(h.items), defaultTaskHistoryCapacity)
	}
	if got := h.Recent(5); got != nil {
		t.Errorf("Recent on empty history = %v, want nil", got)
	}
	if _, ok := h.Last(); ok {
		t.Error("Last() on empty history ok = true")
	}

	h.Add(TaskExecutionRecord{SequenceNum: 1})
	h.Clear()

	if _, ok := h.Last(); ok {
		t.Error("Last() after Clear ok = true")
	}
}
