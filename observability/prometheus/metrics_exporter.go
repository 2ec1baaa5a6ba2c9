package prometheus

import (
	"errors"
	"fmt"
	"time"

	"github.com/Swind/go-taskqueue/core"
	prom "github.com/prometheus/client_golang/prometheus"
)

// ExporterOptions controls collector configuration.
type ExporterOptions struct {
	DurationBuckets []float64
}

// MetricsExporter turns scheduler callbacks into Prometheus series.
//
// It serves three hooks on a TaskQueueManager: core.Metrics (config.Metrics),
// core.TaskObserver (AddTaskObserver) and core.TraceSink (config.TraceSink).
// Any subset may be wired.
type MetricsExporter struct {
	// core.Metrics
	durations  *prom.HistogramVec
	panics     *prom.CounterVec
	rejections *prom.CounterVec
	depth      *prom.GaugeVec

	// core.TaskObserver
	started    *prom.CounterVec
	inProgress *prom.GaugeVec

	// core.TraceSink
	doWorkRuns  prom.Counter
	starvation  prom.Gauge
	sequenceNum prom.Gauge
}

var (
	_ core.Metrics      = (*MetricsExporter)(nil)
	_ core.TaskObserver = (*MetricsExporter)(nil)
	_ core.TraceSink    = (*MetricsExporter)(nil)
)

// NewMetricsExporter creates and registers the exporter's collectors.
// Registering twice on one registry reuses the existing collectors.
func NewMetricsExporter(namespace string, reg prom.Registerer, opts ExporterOptions) (*MetricsExporter, error) {
	if namespace == "" {
		namespace = "taskqueue"
	}
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	buckets := opts.DurationBuckets
	if len(buckets) == 0 {
		buckets = prom.DefBuckets
	}

	m := &MetricsExporter{
		durations: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Task execution duration in seconds.",
			Buckets:   buckets,
		}, []string{"queue", "priority"}),
		panics: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "task_panic_total",
			Help:      "Total number of task panics.",
		}, []string{"queue"}),
		rejections: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "task_rejected_total",
			Help:      "Total number of rejected posts.",
		}, []string{"queue", "reason"}),
		depth: prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Tasks held by a queue after its last dispatch.",
		}, []string{"queue"}),
		started: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "task_started_total",
			Help:      "Tasks handed to observers before running.",
		}, []string{"queue"}),
		inProgress: prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "task_in_progress",
			Help:      "Tasks currently running per queue (0 or 1 on a single host).",
		}, []string{"queue"}),
		doWorkRuns: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "do_work_runs_total",
			Help:      "DoWork passes that ran at least one task.",
		}),
		starvation: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "selector_starvation_count",
			Help:      "Consecutive High selections since Normal work was last served.",
		}),
		sequenceNum: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "sequence_number",
			Help:      "Last sequence number handed out by the manager.",
		}),
	}

	var err error
	if m.durations, err = registerCollector(reg, m.durations); err != nil {
		return nil, err
	}
	if m.panics, err = registerCollector(reg, m.panics); err != nil {
		return nil, err
	}
	if m.rejections, err = registerCollector(reg, m.rejections); err != nil {
		return nil, err
	}
	if m.depth, err = registerCollector(reg, m.depth); err != nil {
		return nil, err
	}
	if m.started, err = registerCollector(reg, m.started); err != nil {
		return nil, err
	}
	if m.inProgress, err = registerCollector(reg, m.inProgress); err != nil {
		return nil, err
	}
	if m.doWorkRuns, err = registerCollector(reg, m.doWorkRuns); err != nil {
		return nil, err
	}
	if m.starvation, err = registerCollector(reg, m.starvation); err != nil {
		return nil, err
	}
	if m.sequenceNum, err = registerCollector(reg, m.sequenceNum); err != nil {
		return nil, err
	}
	return m, nil
}

// =============================================================================
// core.Metrics
// =============================================================================

func (m *MetricsExporter) RecordTaskDuration(queueName string, priority core.QueuePriority, duration time.Duration) {
	if m == nil {
		return
	}
	m.durations.WithLabelValues(queueLabel(queueName), priorityLabel(priority)).Observe(duration.Seconds())
}

func (m *MetricsExporter) RecordTaskPanic(queueName string, panicInfo any) {
	if m == nil {
		return
	}
	m.panics.WithLabelValues(queueLabel(queueName)).Inc()
}

func (m *MetricsExporter) RecordQueueDepth(queueName string, depth int) {
	if m == nil {
		return
	}
	m.depth.WithLabelValues(queueLabel(queueName)).Set(float64(depth))
}

// RecordTaskRejected counts posts refused by detached queues.
func (m *MetricsExporter) RecordTaskRejected(queueName string, reason string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(queueLabel(queueName), normalizeLabel(reason, "unknown")).Inc()
}

// =============================================================================
// core.TaskObserver
// =============================================================================

func (m *MetricsExporter) WillProcessTask(queueName string, task *core.PendingTask) {
	if m == nil {
		return
	}
	q := queueLabel(queueName)
	m.started.WithLabelValues(q).Inc()
	m.inProgress.WithLabelValues(q).Inc()
}

func (m *MetricsExporter) DidProcessTask(queueName string, task *core.PendingTask) {
	if m == nil {
		return
	}
	m.inProgress.WithLabelValues(queueLabel(queueName)).Dec()
}

// =============================================================================
// core.TraceSink
// =============================================================================

// EmitSnapshot records one DoWork pass. Runs on the host goroutine.
func (m *MetricsExporter) EmitSnapshot(snapshot core.ManagerSnapshot) {
	if m == nil {
		return
	}
	m.doWorkRuns.Inc()
	m.sequenceNum.Set(float64(snapshot.SequenceNum))
	if snapshot.Selector != nil {
		m.starvation.Set(float64(snapshot.Selector.StarvationCount))
	}
}

func queueLabel(name string) string {
	return normalizeLabel(name, "unknown")
}

func normalizeLabel(v string, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func priorityLabel(priority core.QueuePriority) string {
	if _, ok := core.ParseQueuePriority(priority.String()); ok {
		return priority.String()
	}
	return "unknown"
}

// registerCollector registers c, or returns the collector already registered
// under the same descriptor.
func registerCollector[T prom.Collector](reg prom.Registerer, c T) (T, error) {
	err := reg.Register(c)
	if err == nil {
		return c, nil
	}

	var already prom.AlreadyRegisteredError
	if !errors.As(err, &already) {
		return c, err
	}
	existing, ok := already.ExistingCollector.(T)
	if !ok {
		return c, fmt.Errorf("collector type mismatch for %T", c)
	}
	return existing, nil
}
