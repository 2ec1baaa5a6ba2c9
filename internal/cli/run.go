package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	taskqueue "github.com/Swind/go-taskqueue"
	"github.com/Swind/go-taskqueue/core"
	"github.com/Swind/go-taskqueue/internal/config"
	tqprom "github.com/Swind/go-taskqueue/observability/prometheus"
)

const (
	schedulerName   = "tqdemo"
	shutdownTimeout = 5 * time.Second
	drainTimeout    = 2 * time.Second
)

// Summary is what a run reports when it finishes.
type Summary struct {
	Workload WorkloadStats        `json:"workload"`
	Manager  core.ManagerSnapshot `json:"manager"`
	Elapsed  time.Duration        `json:"elapsed"`
}

func newRunCommand(opts *rootOptions) *cobra.Command {
	var duration time.Duration
	var addr string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a synthetic workload through the scheduler",
		Long: `Run creates the configured task queues on a single main loop, starts
producers that post immediate and delayed tasks for workload.duration,
serves /metrics and /debug endpoints, then shuts down and prints a summary.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if duration > 0 {
				cfg.Workload.Duration = duration
			}
			if cmd.Flags().Changed("addr") {
				cfg.HTTP.Addr = addr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			_, err = Run(ctx, cfg, cmd.OutOrStdout())
			return err
		},
	}

	cmd.Flags().DurationVar(&duration, "duration", 0, "override workload.duration")
	cmd.Flags().StringVar(&addr, "addr", "", "override http.addr (empty disables the debug server)")
	return cmd
}

// Run executes one workload and writes a summary to out.
func Run(ctx context.Context, cfg *config.Config, out io.Writer) (*Summary, error) {
	zl, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}
	defer func() { _ = zl.Sync() }()

	reg := prom.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	exporter, err := tqprom.NewMetricsExporter(cfg.Manager.MetricsNamespace, reg, tqprom.ExporterOptions{})
	if err != nil {
		return nil, fmt.Errorf("metrics exporter: %w", err)
	}

	opts := cfg.ManagerOptions(core.NewZapLogger(zl))
	opts.Metrics = exporter
	opts.TraceSink = exporter
	scheduler := taskqueue.NewScheduler(schedulerName, opts)
	scheduler.Manager().AddTaskObserver(exporter)

	queues := make([]*core.TaskQueue, 0, len(cfg.Queues))
	weights := make([]int, 0, len(cfg.Queues))
	for _, qc := range cfg.Queues {
		spec, priority := qc.Spec()
		q, err := scheduler.NewTaskQueueWithPriority(ctx, spec, priority)
		if err != nil {
			_ = scheduler.Shutdown(context.Background())
			return nil, fmt.Errorf("create queue %s: %w", qc.Name, err)
		}
		queues = append(queues, q)
		weights = append(weights, qc.Weight)
	}

	poller, err := tqprom.NewSnapshotPoller(reg, cfg.Manager.SnapshotInterval)
	if err != nil {
		_ = scheduler.Shutdown(context.Background())
		return nil, fmt.Errorf("snapshot poller: %w", err)
	}
	poller.AddManager(schedulerName, scheduler.Manager())
	poller.Start(ctx)
	defer poller.Stop()

	workload := NewWorkload(cfg.Workload, scheduler, queues, weights, zl)

	zl.Info("workload started",
		zap.Int("queues", len(queues)),
		zap.Int("producers", cfg.Workload.Producers),
		zap.Duration("duration", cfg.Workload.Duration),
		zap.String("http_addr", cfg.HTTP.Addr),
	)
	start := time.Now()

	runCtx, cancel := context.WithTimeout(ctx, cfg.Workload.Duration)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)
	if cfg.HTTP.Addr != "" {
		srv := &http.Server{
			Addr:              cfg.HTTP.Addr,
			Handler:           NewDebugServer(scheduler, reg, zl).Router(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			zl.Info("debug server listening", zap.String("addr", cfg.HTTP.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("debug server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				_ = srv.Close()
				return fmt.Errorf("debug server shutdown: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		return workload.Run(gctx)
	})
	runErr := g.Wait()

	drainCtx, drainCancel := context.WithTimeout(context.Background(), drainTimeout)
	defer drainCancel()
	if err := scheduler.WaitIdle(drainCtx); err != nil {
		zl.Warn("drain incomplete", zap.Error(err))
	}

	summary := &Summary{
		Workload: workload.Stats(),
		Manager:  scheduler.Snapshot(),
		Elapsed:  time.Since(start),
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := scheduler.Shutdown(shutdownCtx); err != nil {
		zl.Warn("scheduler shutdown", zap.Error(err))
	}
	zl.Info("workload finished",
		zap.Int64("posted", summary.Workload.Posted),
		zap.Int64("tasks_run", summary.Manager.TasksRun),
		zap.Duration("elapsed", summary.Elapsed),
	)

	if out != nil {
		writeSummary(out, summary)
	}
	return summary, runErr
}

func writeSummary(out io.Writer, s *Summary) {
	fmt.Fprintf(out, "elapsed:    %s\n", s.Elapsed.Round(time.Millisecond))
	fmt.Fprintf(out, "posted:     %d (delayed %d, follow-up %d)\n", s.Workload.Posted, s.Workload.Delayed, s.Workload.FollowUp)
	fmt.Fprintf(out, "executed:   %d\n", s.Workload.Executed)
	fmt.Fprintf(out, "tasks run:  %d\n", s.Manager.TasksRun)
	fmt.Fprintf(out, "rejected:   %d\n", s.Manager.TasksRejected)
	fmt.Fprintln(out)

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "QUEUE\tPRIORITY\tPUMP\tINCOMING\tWORK\tDELAYED\tREJECTED")
	for _, q := range s.Manager.Queues {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%d\n",
			q.Name, q.Priority, q.PumpPolicy, q.Incoming, q.Work, q.Delayed, q.Rejected)
	}
	_ = tw.Flush()
}
