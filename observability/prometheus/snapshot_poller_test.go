package prometheus

import (
	"context"
	"testing"
	"time"

	"github.com/Swind/go-taskqueue/core"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type managerStub struct {
	snap core.ManagerSnapshot
}

func (s managerStub) Snapshot() core.ManagerSnapshot { return s.snap }

func TestSnapshotPoller_CollectsQueueAndManagerStats(t *testing.T) {
	reg := prom.NewRegistry()
	poller, err := NewSnapshotPoller(reg, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("NewSnapshotPoller failed: %v", err)
	}

	poller.AddManager("main", managerStub{snap: core.ManagerSnapshot{
		Queues: []core.QueueSnapshot{{
			Name:     "input",
			Priority: "high",
			Incoming: 3,
			Work:     1,
			Delayed:  2,
			Rejected: 4,
		}},
		TasksRun:      10,
		TasksRejected: 4,
		Updatable:     1,
		ShutDown:      true,
	}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	poller.Start(ctx)
	defer poller.Stop()

	assertEventually(t, 2*time.Second, func() bool {
		incoming := testutil.ToFloat64(poller.queueIncoming.WithLabelValues("main", "input"))
		run := testutil.ToFloat64(poller.managerTasksRun.WithLabelValues("main"))
		return incoming == 3 && run == 10
	})

	if got := testutil.ToFloat64(poller.queueDelayed.WithLabelValues("main", "input")); got != 2 {
		t.Fatalf("delayed gauge = %v, want 2", got)
	}
	if got := testutil.ToFloat64(poller.queuePriority.WithLabelValues("main", "input", "high")); got != 1 {
		t.Fatalf("high priority gauge = %v, want 1", got)
	}
	if got := testutil.ToFloat64(poller.queuePriority.WithLabelValues("main", "input", "normal")); got != 0 {
		t.Fatalf("normal priority gauge = %v, want 0", got)
	}
	if got := testutil.ToFloat64(poller.managerShutDown.WithLabelValues("main")); got != 1 {
		t.Fatalf("shut down gauge = %v, want 1", got)
	}
}

func TestSnapshotPoller_ReadsLiveManager(t *testing.T) {
	reg := prom.NewRegistry()
	poller, err := NewSnapshotPoller(reg, time.Hour)
	if err != nil {
		t.Fatalf("NewSnapshotPoller failed: %v", err)
	}
	host := &manualHost{}
	manager := core.NewTaskQueueManager(host, nil)
	q := manager.NewTaskQueue(core.NewTaskQueueSpec("live"))
	q.PostTask(core.FromHere(), func(ctx context.Context) {})
	q.PostDelayedTask(core.FromHere(), func(ctx context.Context) {}, time.Hour)

	poller.AddManager("", manager)
	poller.collectOnce()

	if got := testutil.ToFloat64(poller.queueIncoming.WithLabelValues("manager", "live")); got != 1 {
		t.Errorf("incoming gauge = %v, want 1", got)
	}
	if got := testutil.ToFloat64(poller.queueDelayed.WithLabelValues("manager", "live")); got != 1 {
		t.Errorf("delayed gauge = %v, want 1", got)
	}
	if got := testutil.ToFloat64(poller.managerUpdatable.WithLabelValues("manager")); got != 1 {
		t.Errorf("updatable gauge = %v, want 1", got)
	}
}

func TestSnapshotPoller_StartStop_Idempotent(t *testing.T) {
	reg := prom.NewRegistry()
	poller, err := NewSnapshotPoller(reg, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("NewSnapshotPoller failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	poller.Start(ctx)
	poller.Start(ctx)
	poller.Stop()
	poller.Stop()
}

func assertEventually(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}
