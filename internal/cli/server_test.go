package cli

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	taskqueue "github.com/Swind/go-taskqueue"
	"github.com/Swind/go-taskqueue/core"
	tqprom "github.com/Swind/go-taskqueue/observability/prometheus"
)

func newTestScheduler(t *testing.T) (*taskqueue.Scheduler, *prom.Registry) {
	t.Helper()
	reg := prom.NewRegistry()
	exporter, err := tqprom.NewMetricsExporter("tqtest", reg, tqprom.ExporterOptions{})
	require.NoError(t, err)

	opts := core.DefaultTaskQueueManagerConfig()
	opts.Metrics = exporter
	s := taskqueue.NewScheduler("test", opts)
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })
	return s, reg
}

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	res, err := http.Get(url)
	require.NoError(t, err)
	defer res.Body.Close()
	if v != nil {
		require.NoError(t, json.NewDecoder(res.Body).Decode(v))
	}
	return res.StatusCode
}

func TestDebugServer_Queues(t *testing.T) {
	s, reg := newTestScheduler(t)
	q := s.NewTaskQueue(core.NewTaskQueueSpec("alpha"))
	q.PostDelayedTask(core.FromHere(), func(ctx context.Context) {}, time.Hour)

	ts := httptest.NewServer(NewDebugServer(s, reg, nil).Router())
	defer ts.Close()

	var snap core.ManagerSnapshot
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/debug/queues", &snap))
	require.Len(t, snap.Queues, 1)
	assert.Equal(t, "alpha", snap.Queues[0].Name)
	assert.Equal(t, 1, snap.Queues[0].Delayed)

	var one core.QueueSnapshot
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/debug/queues/alpha", &one))
	assert.Equal(t, "normal", one.Priority)

	var notFound errorResponse
	require.Equal(t, http.StatusNotFound, getJSON(t, ts.URL+"/debug/queues/missing", &notFound))
	assert.Equal(t, "queue_not_found", notFound.Code)
}

func TestDebugServer_PumpManualQueue(t *testing.T) {
	s, reg := newTestScheduler(t)
	spec := core.NewTaskQueueSpec("manual")
	spec.PumpPolicy = core.PumpPolicyManual
	q := s.NewTaskQueue(spec)

	ran := make(chan struct{})
	require.True(t, q.PostTask(core.FromHere(), func(ctx context.Context) { close(ran) }))

	ts := httptest.NewServer(NewDebugServer(s, reg, nil).Router())
	defer ts.Close()

	select {
	case <-ran:
		t.Fatal("manual queue ran before it was pumped")
	case <-time.After(50 * time.Millisecond):
	}

	res, err := http.Post(ts.URL+"/debug/queues/manual/pump", "application/json", nil)
	require.NoError(t, err)
	res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("pumped task never ran")
	}
}

func TestDebugServer_TasksAndMetrics(t *testing.T) {
	s, reg := newTestScheduler(t)
	q := s.NewTaskQueue(core.NewTaskQueueSpec("beta"))

	done := make(chan struct{})
	q.PostTask(core.FromHere(), func(ctx context.Context) {})
	q.PostTask(core.FromHere(), func(ctx context.Context) { close(done) })
	<-done
	require.NoError(t, s.WaitIdle(context.Background()))

	ts := httptest.NewServer(NewDebugServer(s, reg, nil).Router())
	defer ts.Close()

	require.Eventually(t, func() bool {
		var records []core.TaskExecutionRecord
		getJSON(t, ts.URL+"/debug/tasks?limit=1", &records)
		return len(records) == 1 && records[0].QueueName == "beta"
	}, 2*time.Second, 10*time.Millisecond)

	var bad errorResponse
	assert.Equal(t, http.StatusBadRequest, getJSON(t, ts.URL+"/debug/tasks?limit=x", &bad))

	res, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `tqtest_task_duration_seconds_count{priority="normal",queue="beta"} 2`)
}

func TestDebugServer_HealthAndQuiescence(t *testing.T) {
	s, reg := newTestScheduler(t)
	ts := httptest.NewServer(NewDebugServer(s, reg, nil).Router())
	defer ts.Close()

	var health map[string]any
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/healthz", &health))
	assert.Equal(t, "ok", health["status"])

	var quiet map[string]bool
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/debug/quiescence", &quiet))
	assert.True(t, quiet["quiescent"])
}
