package core

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

// ErrMainLoopClosed is returned by MainLoop methods once the loop has been shut down.
var ErrMainLoopClosed = errors.New("main loop is closed")

// MainLoop is a HostRunner that runs every posted task on one dedicated
// goroutine, in posting order. It is the usual host for a TaskQueueManager.
//
// The pending list is unbounded so tasks running on the loop can post to it
// without blocking themselves. Delayed tasks wait in a DelayManager and are
// appended to the pending list when they come due.
type MainLoop struct {
	name   string
	logger Logger

	mu      sync.Mutex
	pending []Task
	wake    chan struct{}
	delays  *DelayManager

	// Lifecycle control
	ctx    context.Context
	cancel context.CancelFunc

	stopped      chan struct{}
	stopOnce     sync.Once
	closed       atomic.Bool
	shutdownChan chan struct{}
	shutdownOnce sync.Once
}

type mainLoopKeyType struct{}

var mainLoopKey mainLoopKeyType

// GetCurrentMainLoop returns the MainLoop running the task that received ctx, or nil.
func GetCurrentMainLoop(ctx context.Context) *MainLoop {
	if v := ctx.Value(mainLoopKey); v != nil {
		return v.(*MainLoop)
	}
	return nil
}

// NewMainLoop creates and starts a MainLoop. A nil logger discards output.
func NewMainLoop(name string, logger Logger) *MainLoop {
	if logger == nil {
		logger = NewNoOpLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	l := &MainLoop{
		name:         name,
		logger:       logger,
		wake:         make(chan struct{}, 1),
		ctx:          ctx,
		cancel:       cancel,
		stopped:      make(chan struct{}),
		shutdownChan: make(chan struct{}),
	}

	l.delays = NewDelayManager(l.PostTask)
	go l.runLoop()

	return l
}

func (l *MainLoop) Name() string { return l.name }

// PostTask appends task to the loop. Dropped after Shutdown.
func (l *MainLoop) PostTask(task Task) {
	if l.closed.Load() {
		return
	}
	l.mu.Lock()
	l.pending = append(l.pending, task)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// PostDelayedTask posts task once delay has elapsed.
func (l *MainLoop) PostDelayedTask(task Task, delay time.Duration) {
	if l.closed.Load() {
		return
	}
	if delay <= 0 {
		l.PostTask(task)
		return
	}

	l.delays.AddDelayedTask(task, delay)
}

// PendingDelayedTasks returns the number of delayed posts not yet due.
func (l *MainLoop) PendingDelayedTasks() int {
	return l.delays.TaskCount()
}

func (l *MainLoop) runLoop() {
	defer close(l.stopped)

	runCtx := context.WithValue(l.ctx, mainLoopKey, l)

	for {
		l.mu.Lock()
		batch := l.pending
		l.pending = nil
		l.mu.Unlock()

		for _, task := range batch {
			if l.ctx.Err() != nil {
				return
			}
			l.runTask(runCtx, task)
		}

		select {
		case <-l.wake:
		case <-l.ctx.Done():
			return
		}
	}
}

func (l *MainLoop) runTask(ctx context.Context, task Task) {
	defer func() {
		if rec := recover(); rec != nil {
			l.logger.Error("main loop task panicked",
				F("loop", l.name),
				F("panic", rec),
				F("stack", string(debug.Stack())),
			)
		}
	}()
	task(ctx)
}

// Shutdown stops accepting tasks, drops delayed posts and signals
// WaitShutdown. It does not wait for the loop goroutine, so a task may call it.
func (l *MainLoop) Shutdown() {
	l.shutdownOnce.Do(func() {
		l.closed.Store(true)
		l.delays.Stop()

		l.mu.Lock()
		l.pending = nil
		l.mu.Unlock()

		l.cancel()
		close(l.shutdownChan)
		l.logger.Debug("main loop shut down", F("loop", l.name))
	})
}

// Stop shuts the loop down and waits for the running task to finish.
// Must not be called from a task on this loop.
func (l *MainLoop) Stop() {
	l.stopOnce.Do(func() {
		l.Shutdown()
		<-l.stopped
	})
}

// IsClosed reports whether Shutdown or Stop has been called.
func (l *MainLoop) IsClosed() bool {
	return l.closed.Load()
}

// WaitIdle blocks until every task posted before the call has run.
// Delayed tasks whose timers have not fired are not waited for.
func (l *MainLoop) WaitIdle(ctx context.Context) error {
	if l.IsClosed() {
		return ErrMainLoopClosed
	}

	done := make(chan struct{})
	l.PostTask(func(context.Context) {
		close(done)
	})

	select {
	case <-done:
		return nil
	case <-l.shutdownChan:
		return ErrMainLoopClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunSync runs task on the loop and waits for it to return.
// A panic inside task is reported as an error.
func (l *MainLoop) RunSync(ctx context.Context, task func(ctx context.Context) error) error {
	if l.IsClosed() {
		return ErrMainLoopClosed
	}

	result := make(chan error, 1)
	l.PostTask(func(taskCtx context.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				result <- fmt.Errorf("task panicked: %v", rec)
			}
		}()
		result <- task(taskCtx)
	})

	select {
	case err := <-result:
		return err
	case <-l.shutdownChan:
		return ErrMainLoopClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitShutdown blocks until Shutdown is called.
func (l *MainLoop) WaitShutdown(ctx context.Context) error {
	select {
	case <-l.shutdownChan:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
