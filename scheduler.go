package taskqueue

import (
	"context"
	"sync"

	"github.com/Swind/go-taskqueue/core"
)

// Scheduler pairs a TaskQueueManager with the MainLoop that hosts it.
// Every task posted to its queues runs on the loop's goroutine.
type Scheduler struct {
	loop    *core.MainLoop
	manager *core.TaskQueueManager
}

// NewScheduler starts a MainLoop and builds a manager on it.
// A nil config uses core defaults.
func NewScheduler(name string, config *core.TaskQueueManagerConfig) *Scheduler {
	var logger core.Logger
	if config != nil {
		logger = config.Logger
	}
	loop := core.NewMainLoop(name, logger)
	return &Scheduler{
		loop:    loop,
		manager: core.NewTaskQueueManager(loop, config),
	}
}

func (s *Scheduler) Manager() *core.TaskQueueManager { return s.manager }

func (s *Scheduler) Loop() *core.MainLoop { return s.loop }

// NewTaskQueue creates a queue on the manager. Safe from any goroutine.
func (s *Scheduler) NewTaskQueue(spec core.TaskQueueSpec) *core.TaskQueue {
	return s.manager.NewTaskQueue(spec)
}

// NewTaskQueueWithPriority creates a queue and sets its priority on the loop.
func (s *Scheduler) NewTaskQueueWithPriority(ctx context.Context, spec core.TaskQueueSpec, priority core.QueuePriority) (*core.TaskQueue, error) {
	q := s.manager.NewTaskQueue(spec)
	if priority == core.QueuePriorityNormal {
		return q, nil
	}
	err := s.RunSync(ctx, func(ctx context.Context) error {
		q.SetPriority(priority)
		return nil
	})
	return q, err
}

// RunSync runs fn on the loop goroutine, where consumer-only calls such as
// SetPriority, SetPumpPolicy, PumpQueue and DeleteTaskQueue are allowed.
func (s *Scheduler) RunSync(ctx context.Context, fn func(ctx context.Context) error) error {
	return s.loop.RunSync(ctx, fn)
}

// WaitIdle blocks until every task posted to the loop so far has run.
func (s *Scheduler) WaitIdle(ctx context.Context) error {
	return s.loop.WaitIdle(ctx)
}

// Snapshot returns the manager snapshot. Safe from any goroutine.
func (s *Scheduler) Snapshot() core.ManagerSnapshot {
	return s.manager.Snapshot()
}

// Shutdown shuts the manager down on the loop, then stops the loop.
// Must not be called from a task on the loop.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	err := s.loop.RunSync(ctx, func(context.Context) error {
		s.manager.Shutdown()
		return nil
	})
	s.loop.Stop()
	return err
}

// =============================================================================
// Global Scheduler Helper (Singleton)
// =============================================================================

var (
	globalScheduler *Scheduler
	globalMu        sync.Mutex
)

// InitGlobalScheduler creates the process-wide scheduler.
// Repeated calls keep the first instance.
func InitGlobalScheduler(name string, config *core.TaskQueueManagerConfig) {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalScheduler != nil {
		return
	}
	globalScheduler = NewScheduler(name, config)
}

// GetGlobalScheduler returns the process-wide scheduler.
// It panics if InitGlobalScheduler has not been called.
func GetGlobalScheduler() *Scheduler {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalScheduler == nil {
		panic("GlobalScheduler not initialized. Call InitGlobalScheduler() first.")
	}
	return globalScheduler
}

// ShutdownGlobalScheduler shuts the global scheduler down and clears it.
func ShutdownGlobalScheduler() {
	globalMu.Lock()
	s := globalScheduler
	globalScheduler = nil
	globalMu.Unlock()

	if s != nil {
		_ = s.Shutdown(context.Background())
	}
}

// CreateTaskQueue creates a queue on the global scheduler.
func CreateTaskQueue(name string) *TaskQueue {
	return GetGlobalScheduler().NewTaskQueue(core.NewTaskQueueSpec(name))
}
