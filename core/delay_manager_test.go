package core

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type collectingPoster struct {
	mu    sync.Mutex
	tasks []Task
	ch    chan struct{}
}

func newCollectingPoster() *collectingPoster {
	return &collectingPoster{ch: make(chan struct{}, 1024)}
}

func (p *collectingPoster) post(task Task) {
	p.mu.Lock()
	p.tasks = append(p.tasks, task)
	p.mu.Unlock()
	p.ch <- struct{}{}
}

func (p *collectingPoster) waitFor(t *testing.T, n int, timeout time.Duration) {
	t.Helper()
	deadline := time.After(timeout)
	for range n {
		select {
		case <-p.ch:
		case <-deadline:
			t.Fatalf("timed out waiting for %d posts", n)
		}
	}
}

func (p *collectingPoster) runAll() {
	p.mu.Lock()
	tasks := p.tasks
	p.tasks = nil
	p.mu.Unlock()
	for _, task := range tasks {
		task(context.Background())
	}
}

// TestDelayManager_PostsWhenDue verifies delayed hand-off
// Given: A DelayManager with tasks at 10ms and 40ms
// When: 25ms pass
// Then: Only the 10ms task has been posted
func TestDelayManager_PostsWhenDue(t *testing.T) {
	// Arrange
	poster := newCollectingPoster()
	dm := NewDelayManager(poster.post)
	defer dm.Stop()
	log := &orderLog{}

	// Act
	dm.AddDelayedTask(log.task("late"), 40*time.Millisecond)
	dm.AddDelayedTask(log.task("early"), 10*time.Millisecond)
	poster.waitFor(t, 1, time.Second)
	poster.runAll()

	// Assert
	assertOrder(t, log.Labels(), []string{"early"})
	if n := dm.TaskCount(); n != 1 {
		t.Errorf("TaskCount() = %d, want 1", n)
	}

	poster.waitFor(t, 1, time.Second)
	poster.runAll()
	assertOrder(t, log.Labels(), []string{"early", "late"})
}

// TestDelayManager_EqualRunTimesStayFIFO verifies tie ordering
// Given: Many tasks added with the same delay
// When: They come due together
// Then: They are posted in the order they were added
func TestDelayManager_EqualRunTimesStayFIFO(t *testing.T) {
	poster := newCollectingPoster()
	dm := NewDelayManager(poster.post)
	defer dm.Stop()

	var (
		mu    sync.Mutex
		order []int
	)
	// A fixed run time for every task keeps the tie intact
	dm.mu.Lock()
	runAt := time.Now().Add(20 * time.Millisecond)
	for i := range 50 {
		dm.pushLocked(func(ctx context.Context) {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}, runAt)
	}
	dm.mu.Unlock()
	dm.kick()

	poster.waitFor(t, 50, time.Second)
	poster.runAll()

	for i, v := range order {
		if v != i {
			t.Fatalf("position %d = %d, want %d", i, v, i)
		}
	}
}

// TestDelayManager_StopDropsTasks verifies Stop
func TestDelayManager_StopDropsTasks(t *testing.T) {
	var posted atomic.Int32
	dm := NewDelayManager(func(Task) { posted.Add(1) })

	dm.AddDelayedTask(func(ctx context.Context) {}, 20*time.Millisecond)
	dm.Stop()
	dm.AddDelayedTask(func(ctx context.Context) {}, time.Millisecond)

	time.Sleep(50 * time.Millisecond)

	if n := posted.Load(); n != 0 {
		t.Errorf("posted after Stop = %d, want 0", n)
	}
	if n := dm.TaskCount(); n != 0 {
		t.Errorf("TaskCount() after Stop = %d, want 0", n)
	}
}
