package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Swind/go-taskqueue/internal/config"
)

func quickConfig() *config.Config {
	cfg := config.Default()
	cfg.Logging.Level = "error"
	cfg.HTTP.Addr = ""
	cfg.Workload.Duration = 150 * time.Millisecond
	cfg.Workload.Rate = 200
	cfg.Workload.MaxDelay = 10 * time.Millisecond
	cfg.Workload.TaskCost = 0
	cfg.Manager.SnapshotInterval = 20 * time.Millisecond
	return cfg
}

func TestRun_ExecutesWorkload(t *testing.T) {
	cfg := quickConfig()
	cfg.Queues = append(cfg.Queues, config.QueueConfig{
		Name:       "manual",
		Priority:   "normal",
		PumpPolicy: "manual",
		Weight:     1,
	})

	var out bytes.Buffer
	summary, err := Run(context.Background(), cfg, &out)
	require.NoError(t, err)

	assert.Positive(t, summary.Workload.Posted)
	assert.Positive(t, summary.Workload.Executed)
	assert.Positive(t, summary.Manager.TasksRun)
	assert.Zero(t, summary.Workload.Rejected)
	require.Len(t, summary.Manager.Queues, 4)

	text := out.String()
	assert.Contains(t, text, "tasks run:")
	assert.Contains(t, text, "QUEUE")
	assert.Contains(t, text, "idle")
	assert.Contains(t, text, "manual")
}

func TestRun_CancelledContextStopsEarly(t *testing.T) {
	cfg := quickConfig()
	cfg.Workload.Duration = time.Minute

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	start := time.Now()
	_, err := Run(ctx, cfg, nil)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestRun_InvalidLogLevel(t *testing.T) {
	cfg := quickConfig()
	cfg.Logging.Level = "loud"

	_, err := Run(context.Background(), cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log level")
}

func TestInspectConfigCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tq.yaml")
	require.NoError(t, os.WriteFile(path, []byte("manager:\n  work_batch_size: 9\n"), 0o644))

	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"inspect-config", "--config", path})
	require.NoError(t, cmd.Execute())

	var got config.Config
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.Equal(t, 9, got.Manager.WorkBatchSize)
	assert.Len(t, got.Queues, len(config.Default().Queues))
}

func TestInspectConfigCommand_InvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tq.yaml")
	require.NoError(t, os.WriteFile(path, []byte("workload:\n  rate: 0\n"), 0o644))

	cmd := NewRootCommand()
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{"inspect-config", "-c", path})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "workload.rate")
}

func TestRunCommand_Flags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tq.yaml")
	content := "logging:\n  level: error\nworkload:\n  producers: 1\n  task_cost: 0s\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"run", "-c", path, "--duration", "100ms", "--addr", ""})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "posted:")
}
