package core

import (
	"context"
	"sync"
	"testing"
	"time"
)

// =============================================================================
// manualClock: Clock advanced by hand
// =============================================================================

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// =============================================================================
// recordingHost: HostRunner that only records posts
// =============================================================================

type hostDelayedPost struct {
	task  Task
	delay time.Duration
}

type recordingHost struct {
	mu        sync.Mutex
	immediate []Task
	delayed   []hostDelayedPost
}

func (h *recordingHost) PostTask(task Task) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.immediate = append(h.immediate, task)
}

func (h *recordingHost) PostDelayedTask(task Task, delay time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.delayed = append(h.delayed, hostDelayedPost{task: task, delay: delay})
}

func (h *recordingHost) ImmediateCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.immediate)
}

func (h *recordingHost) DelayedPosts() []hostDelayedPost {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]hostDelayedPost, len(h.delayed))
	copy(out, h.delayed)
	return out
}

// RunImmediate runs posted tasks in order, including ones they post, until
// none are left. Returns the number run.
func (h *recordingHost) RunImmediate() int {
	n := 0
	for {
		h.mu.Lock()
		if len(h.immediate) == 0 {
			h.mu.Unlock()
			return n
		}
		task := h.immediate[0]
		h.immediate = h.immediate[1:]
		h.mu.Unlock()

		task(context.Background())
		n++
	}
}

// RunDelayed runs every delayed post recorded so far, ignoring delays.
// Posts made while running are kept for the next call.
func (h *recordingHost) RunDelayed() int {
	h.mu.Lock()
	batch := h.delayed
	h.delayed = nil
	h.mu.Unlock()

	for _, p := range batch {
		p.task(context.Background())
	}
	return len(batch)
}

// =============================================================================
// Recorders for the manager hooks
// =============================================================================

type panicCall struct {
	QueueName  string
	PostedFrom Location
	PanicInfo  any
}

type recordingPanicHandler struct {
	mu    sync.Mutex
	calls []panicCall
}

func (h *recordingPanicHandler) HandlePanic(ctx context.Context, queueName string, postedFrom Location, panicInfo any, stackTrace []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, panicCall{QueueName: queueName, PostedFrom: postedFrom, PanicInfo: panicInfo})
}

func (h *recordingPanicHandler) Calls() []panicCall {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]panicCall(nil), h.calls...)
}

type recordingRejectedHandler struct {
	mu      sync.Mutex
	reasons map[string][]string
}

func (h *recordingRejectedHandler) HandleRejectedTask(queueName string, reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.reasons == nil {
		h.reasons = make(map[string][]string)
	}
	h.reasons[queueName] = append(h.reasons[queueName], reason)
}

func (h *recordingRejectedHandler) Reasons(queueName string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.reasons[queueName]...)
}

type recordingMetrics struct {
	mu        sync.Mutex
	durations map[string]int
	panics    map[string]int
	depths    map[string]int
	rejected  map[string]int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{
		durations: make(map[string]int),
		panics:    make(map[string]int),
		depths:    make(map[string]int),
		rejected:  make(map[string]int),
	}
}

func (m *recordingMetrics) RecordTaskDuration(queueName string, priority QueuePriority, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.durations[queueName]++
}

func (m *recordingMetrics) RecordTaskPanic(queueName string, panicInfo any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.panics[queueName]++
}

func (m *recordingMetrics) RecordQueueDepth(queueName string, depth int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.depths[queueName] = depth
}

func (m *recordingMetrics) RecordTaskRejected(queueName string, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejected[queueName]++
}

// =============================================================================
// Fixtures
// =============================================================================

type testEnv struct {
	manager *TaskQueueManager
	host    *recordingHost
	clock   *manualClock
}

func newTestEnv(t *testing.T, mutate func(cfg *TaskQueueManagerConfig)) *testEnv {
	t.Helper()
	env := &testEnv{host: &recordingHost{}, clock: newManualClock()}
	cfg := DefaultTaskQueueManagerConfig()
	cfg.Clock = env.clock
	if mutate != nil {
		mutate(cfg)
	}
	env.manager = NewTaskQueueManager(env.host, cfg)
	return env
}

// drain calls DoWork until it reports no work and returns how many ran.
func (e *testEnv) drain() int {
	n := 0
	for e.manager.DoWork() {
		n++
	}
	return n
}

// orderLog records labels from tasks in execution order.
type orderLog struct {
	mu     sync.Mutex
	labels []string
}

func (l *orderLog) task(label string) Task {
	return func(ctx context.Context) {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.labels = append(l.labels, label)
	}
}

func (l *orderLog) Labels() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.labels...)
}

func assertOrder(t *testing.T, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("order = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}
