package cli

import (
	"context"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	taskqueue "github.com/Swind/go-taskqueue"
	"github.com/Swind/go-taskqueue/core"
	"github.com/Swind/go-taskqueue/internal/config"
)

// manualPumpInterval is how often MANUAL queues are pumped while the workload runs.
const manualPumpInterval = 100 * time.Millisecond

// followUpOneIn is the odds that a generated task posts a follow-up to its own queue.
const followUpOneIn = 10

// WorkloadStats counts what the producers did.
type WorkloadStats struct {
	Posted   int64 `json:"posted"`
	Delayed  int64 `json:"delayed"`
	FollowUp int64 `json:"follow_up"`
	Rejected int64 `json:"rejected"`
	Executed int64 `json:"executed"`
}

// Workload posts synthetic tasks to a set of queues from several producers.
type Workload struct {
	cfg       config.WorkloadConfig
	scheduler *taskqueue.Scheduler
	queues    []*core.TaskQueue
	weights   []int
	total     int
	logger    *zap.Logger

	posted   atomic.Int64
	delayed  atomic.Int64
	followUp atomic.Int64
	rejected atomic.Int64
	executed atomic.Int64
}

// NewWorkload returns a workload over queues. weights[i] is the share of
// posts that go to queues[i]; if every weight is zero posts are uniform.
func NewWorkload(cfg config.WorkloadConfig, scheduler *taskqueue.Scheduler, queues []*core.TaskQueue, weights []int, logger *zap.Logger) *Workload {
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &Workload{
		cfg:       cfg,
		scheduler: scheduler,
		queues:    queues,
		weights:   weights,
		logger:    logger,
	}
	for _, wt := range weights {
		w.total += wt
	}
	return w
}

// Run produces until ctx is done. MANUAL queues are pumped periodically.
func (w *Workload) Run(ctx context.Context) error {
	if len(w.queues) == 0 {
		<-ctx.Done()
		return nil
	}

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.cfg.Producers; i++ {
		id := i
		g.Go(func() error {
			w.produce(ctx, id)
			return nil
		})
	}

	var manual []*core.TaskQueue
	for _, q := range w.queues {
		if q.PumpPolicy() == core.PumpPolicyManual {
			manual = append(manual, q)
		}
	}
	if len(manual) > 0 {
		g.Go(func() error {
			w.pumpManual(ctx, manual)
			return nil
		})
	}
	return g.Wait()
}

func (w *Workload) produce(ctx context.Context, id int) {
	rng := rand.New(rand.NewPCG(uint64(id), uint64(time.Now().UnixNano())))
	interval := time.Second / time.Duration(max(w.cfg.Rate, 1))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	w.logger.Debug("producer started", zap.Int("producer", id), zap.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.postOne(rng)
		}
	}
}

func (w *Workload) postOne(rng *rand.Rand) {
	q := w.pickQueue(rng)
	task := w.newTask(rng.IntN(followUpOneIn) == 0)

	var ok bool
	if w.cfg.DelayedPercent > 0 && rng.IntN(100) < w.cfg.DelayedPercent {
		delay := time.Duration(rng.Int64N(int64(w.cfg.MaxDelay))) + 1
		ok = q.PostDelayedTask(core.FromHere(), task, delay)
		if ok {
			w.delayed.Add(1)
		}
	} else {
		ok = q.PostTask(core.FromHere(), task)
	}

	if ok {
		w.posted.Add(1)
	} else {
		w.rejected.Add(1)
	}
}

func (w *Workload) newTask(followUp bool) core.Task {
	return func(ctx context.Context) {
		if w.cfg.TaskCost > 0 {
			time.Sleep(w.cfg.TaskCost)
		}
		w.executed.Add(1)

		if !followUp {
			return
		}
		if q := core.GetCurrentTaskQueue(ctx); q != nil {
			if q.PostTask(core.FromHere(), w.newTask(false)) {
				w.followUp.Add(1)
			}
		}
	}
}

func (w *Workload) pickQueue(rng *rand.Rand) *core.TaskQueue {
	if w.total <= 0 {
		return w.queues[rng.IntN(len(w.queues))]
	}
	n := rng.IntN(w.total)
	for i, wt := range w.weights {
		if n < wt {
			return w.queues[i]
		}
		n -= wt
	}
	return w.queues[len(w.queues)-1]
}

func (w *Workload) pumpManual(ctx context.Context, queues []*core.TaskQueue) {
	ticker := time.NewTicker(manualPumpInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := w.scheduler.RunSync(ctx, func(context.Context) error {
				for _, q := range queues {
					q.PumpQueue()
				}
				return nil
			})
			if err != nil && ctx.Err() == nil {
				w.logger.Warn("manual pump failed", zap.Error(err))
			}
		}
	}
}

// Stats returns the current counters.
func (w *Workload) Stats() WorkloadStats {
	return WorkloadStats{
		Posted:   w.posted.Load(),
		Delayed:  w.delayed.Load(),
		FollowUp: w.followUp.Load(),
		Rejected: w.rejected.Load(),
		Executed: w.executed.Load(),
	}
}
