// Package taskqueue provides a multi-priority task scheduler with delayed
// tasks for Go.
//
// Work is posted to logical TaskQueues rather than to goroutines. A
// TaskQueueManager multiplexes every queue onto one host goroutine (a
// MainLoop), choosing the next task by queue priority and running tasks one at
// a time. Producers may post from any goroutine.
//
// # Quick Start
//
//	s := taskqueue.NewScheduler("main", nil)
//	defer s.Shutdown(context.Background())
//
//	input, _ := s.NewTaskQueueWithPriority(ctx, taskqueue.NewTaskQueueSpec("input"), taskqueue.QueuePriorityHigh)
//	background := s.NewTaskQueue(taskqueue.NewTaskQueueSpec("background"))
//
//	input.PostTask(taskqueue.FromHere(), func(ctx context.Context) {
//		// Runs before any queued background work
//	})
//	background.PostDelayedTask(taskqueue.FromHere(), func(ctx context.Context) {
//		// Runs no earlier than one second from now
//	}, time.Second)
//
// # Key Concepts
//
// TaskQueue: a FIFO of tasks with an incoming queue (written by producers under
// a lock), a work queue (read by the host goroutine without locking) and a
// heap of delayed tasks.
//
// QueuePriority: Control, High, Normal, BestEffort or Disabled. Higher classes
// always run first; among equal priority the queue holding the oldest task
// runs. Disabled queues keep accepting tasks but are never selected.
//
// PumpPolicy: when incoming tasks become runnable. Auto pumps whenever the
// work queue runs dry, AfterWakeup waits until a newer task from another queue
// has run, Manual waits for an explicit PumpQueue.
//
// # Thread Safety
//
// Posting and Snapshot are safe from any goroutine. Priority and pump policy
// changes, PumpQueue, DeleteTaskQueue and Shutdown run on the host goroutine;
// use Scheduler.RunSync to get there.
package taskqueue
