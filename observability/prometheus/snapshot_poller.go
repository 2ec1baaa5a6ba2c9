package prometheus

import (
	"context"
	"sync"
	"time"

	"github.com/Swind/go-taskqueue/core"
	prom "github.com/prometheus/client_golang/prometheus"
)

// ManagerSnapshotProvider provides current scheduler snapshots.
// *core.TaskQueueManager satisfies it.
type ManagerSnapshotProvider interface {
	Snapshot() core.ManagerSnapshot
}

// SnapshotPoller periodically exports manager Snapshot() values into Prometheus gauges.
type SnapshotPoller struct {
	interval time.Duration

	managersMu sync.RWMutex
	managers   map[string]ManagerSnapshotProvider

	queueIncoming *prom.GaugeVec
	queueWork     *prom.GaugeVec
	queueDelayed  *prom.GaugeVec
	queueRejected *prom.GaugeVec
	queuePriority *prom.GaugeVec

	managerTasksRun      *prom.GaugeVec
	managerTasksRejected *prom.GaugeVec
	managerUpdatable     *prom.GaugeVec
	managerShutDown      *prom.GaugeVec

	stateMu sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSnapshotPoller creates a snapshot poller and registers its collectors.
func NewSnapshotPoller(reg prom.Registerer, interval time.Duration) (*SnapshotPoller, error) {
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	if interval <= 0 {
		interval = time.Second
	}

	queueIncoming := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "taskqueue",
		Name:      "queue_incoming",
		Help:      "Tasks waiting to be pumped per queue.",
	}, []string{"manager", "queue"})
	queueWork := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "taskqueue",
		Name:      "queue_work",
		Help:      "Runnable tasks per queue.",
	}, []string{"manager", "queue"})
	queueDelayed := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "taskqueue",
		Name:      "queue_delayed",
		Help:      "Delayed tasks not yet due per queue.",
	}, []string{"manager", "queue"})
	queueRejected := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "taskqueue",
		Name:      "queue_rejected_total",
		Help:      "Queue rejected post count snapshot.",
	}, []string{"manager", "queue"})
	queuePriority := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "taskqueue",
		Name:      "queue_priority",
		Help:      "Current queue priority (1 on the active priority label).",
	}, []string{"manager", "queue", "priority"})

	managerTasksRun := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "taskqueue",
		Name:      "manager_tasks_run",
		Help:      "Tasks run by the manager snapshot.",
	}, []string{"manager"})
	managerTasksRejected := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "taskqueue",
		Name:      "manager_tasks_rejected",
		Help:      "Posts rejected across all queues.",
	}, []string{"manager"})
	managerUpdatable := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "taskqueue",
		Name:      "manager_updatable_queues",
		Help:      "Queues with incoming work waiting for a pump.",
	}, []string{"manager"})
	managerShutDown := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "taskqueue",
		Name:      "manager_shut_down",
		Help:      "Manager shutdown state (1=shut down, 0=running).",
	}, []string{"manager"})

	var err error
	if queueIncoming, err = registerCollector(reg, queueIncoming); err != nil {
		return nil, err
	}
	if queueWork, err = registerCollector(reg, queueWork); err != nil {
		return nil, err
	}
	if queueDelayed, err = registerCollector(reg, queueDelayed); err != nil {
		return nil, err
	}
	if queueRejected, err = registerCollector(reg, queueRejected); err != nil {
		return nil, err
	}
	if queuePriority, err = registerCollector(reg, queuePriority); err != nil {
		return nil, err
	}
	if managerTasksRun, err = registerCollector(reg, managerTasksRun); err != nil {
		return nil, err
	}
	if managerTasksRejected, err = registerCollector(reg, managerTasksRejected); err != nil {
		return nil, err
	}
	if managerUpdatable, err = registerCollector(reg, managerUpdatable); err != nil {
		return nil, err
	}
	if managerShutDown, err = registerCollector(reg, managerShutDown); err != nil {
		return nil, err
	}

	return &SnapshotPoller{
		interval:             interval,
		managers:             make(map[string]ManagerSnapshotProvider),
		queueIncoming:        queueIncoming,
		queueWork:            queueWork,
		queueDelayed:         queueDelayed,
		queueRejected:        queueRejected,
		queuePriority:        queuePriority,
		managerTasksRun:      managerTasksRun,
		managerTasksRejected: managerTasksRejected,
		managerUpdatable:     managerUpdatable,
		managerShutDown:      managerShutDown,
	}, nil
}

// AddManager adds or replaces a snapshot provider by name.
func (p *SnapshotPoller) AddManager(name string, provider ManagerSnapshotProvider) {
	if p == nil || provider == nil {
		return
	}
	name = normalizeLabel(name, "manager")
	p.managersMu.Lock()
	p.managers[name] = provider
	p.managersMu.Unlock()
}

// Start begins periodic polling; repeated calls are no-ops.
func (p *SnapshotPoller) Start(ctx context.Context) {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if p.running {
		p.stateMu.Unlock()
		return
	}
	pollCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true
	p.stateMu.Unlock()

	go p.loop(pollCtx)
}

// Stop stops periodic polling; repeated calls are safe.
func (p *SnapshotPoller) Stop() {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if !p.running {
		p.stateMu.Unlock()
		return
	}
	cancel := p.cancel
	done := p.done
	p.stateMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	p.stateMu.Lock()
	p.running = false
	p.cancel = nil
	p.done = nil
	p.stateMu.Unlock()
}

func (p *SnapshotPoller) loop(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.collectOnce()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.collectOnce()
		}
	}
}

func (p *SnapshotPoller) collectOnce() {
	p.managersMu.RLock()
	defer p.managersMu.RUnlock()

	for name, provider := range p.managers {
		snap := provider.Snapshot()
		p.managerTasksRun.WithLabelValues(name).Set(float64(snap.TasksRun))
		p.managerTasksRejected.WithLabelValues(name).Set(float64(snap.TasksRejected))
		p.managerUpdatable.WithLabelValues(name).Set(float64(snap.Updatable))
		if snap.ShutDown {
			p.managerShutDown.WithLabelValues(name).Set(1)
		} else {
			p.managerShutDown.WithLabelValues(name).Set(0)
		}

		for _, q := range snap.Queues {
			queue := normalizeLabel(q.Name, "unknown")
			p.queueIncoming.WithLabelValues(name, queue).Set(float64(q.Incoming))
			p.queueWork.WithLabelValues(name, queue).Set(float64(q.Work))
			p.queueDelayed.WithLabelValues(name, queue).Set(float64(q.Delayed))
			p.queueRejected.WithLabelValues(name, queue).Set(float64(q.Rejected))
			p.setPriority(name, queue, q.Priority)
		}
	}
}

// setPriority marks the active priority label with 1 and the others with 0.
func (p *SnapshotPoller) setPriority(manager, queue, active string) {
	for prio := core.QueuePriorityControl; prio <= core.QueuePriorityDisabled; prio++ {
		label := prio.String()
		v := 0.0
		if label == active {
			v = 1
		}
		p.queuePriority.WithLabelValues(manager, queue, label).Set(v)
	}
}
