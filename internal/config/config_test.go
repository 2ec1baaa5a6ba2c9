package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Swind/go-taskqueue/core"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	assert.Empty(t, cfg.Validate())
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Len(t, cfg.Queues, 3)
}

func TestLoad_NoFileUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	want := Default()
	assert.Equal(t, want.Manager, cfg.Manager)
	assert.Equal(t, want.Workload, cfg.Workload)
	assert.Equal(t, want.Queues, cfg.Queues)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tq.yaml")
	content := `
logging:
  level: debug
  format: json
manager:
  work_batch_size: 8
  max_starvation_tasks: 3
queues:
  - name: control
    priority: control
  - name: lazy
    priority: normal
    pump_policy: manual
    wakeup_policy: dont_wake_other_queues
    weight: 2
workload:
  duration: 2s
  max_delay: 50ms
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 8, cfg.Manager.WorkBatchSize)
	assert.Equal(t, 3, cfg.Manager.MaxStarvationTasks)
	assert.Equal(t, 2*time.Second, cfg.Workload.Duration)
	assert.Equal(t, 50*time.Millisecond, cfg.Workload.MaxDelay)
	// Untouched keys keep their defaults.
	assert.Equal(t, Default().Workload.Rate, cfg.Workload.Rate)

	require.Len(t, cfg.Queues, 2)
	spec, priority := cfg.Queues[1].Spec()
	assert.Equal(t, "lazy", spec.Name)
	assert.Equal(t, core.PumpPolicyManual, spec.PumpPolicy)
	assert.Equal(t, core.WakeupPolicyDontWakeOtherQueues, spec.WakeupPolicy)
	assert.Equal(t, core.QueuePriorityNormal, priority)

	_, priority = cfg.Queues[0].Spec()
	assert.Equal(t, core.QueuePriorityControl, priority)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("TQ_HTTP_ADDR", ":9999")
	t.Setenv("TQ_MANAGER_WORK_BATCH_SIZE", "16")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.HTTP.Addr)
	assert.Equal(t, 16, cfg.Manager.WorkBatchSize)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}

func TestLoad_InvalidValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	content := `
logging:
  level: loud
queues:
  - name: a
    priority: urgent
  - name: a
    pump_policy: sometimes
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	_, err := Load(path)
	require.Error(t, err)

	var verrs ValidationErrors
	require.True(t, errors.As(err, &verrs))

	fields := make([]string, 0, len(verrs))
	for _, e := range verrs {
		fields = append(fields, e.Field)
	}
	assert.Contains(t, fields, "logging.level")
	assert.Contains(t, fields, "queues[0].priority")
	assert.Contains(t, fields, "queues[1].name")
	assert.Contains(t, fields, "queues[1].pump_policy")
}

func TestValidate_Workload(t *testing.T) {
	cfg := Default()
	cfg.Workload.DelayedPercent = 150
	cfg.Workload.Rate = 0
	cfg.Manager.WorkBatchSize = 0

	errs := cfg.Validate()
	require.Len(t, errs, 3)
	assert.Contains(t, ValidationErrors(errs).Error(), "3 validation errors")
}

func TestManagerOptions(t *testing.T) {
	cfg := Default()
	cfg.Manager.WorkBatchSize = 7
	cfg.Manager.MaxStarvationTasks = 2

	logger := core.NewNoOpLogger()
	opts := cfg.ManagerOptions(logger)
	assert.Equal(t, 7, opts.WorkBatchSize)
	assert.Equal(t, 2, opts.MaxStarvationTasks)
	assert.Same(t, logger, opts.Logger)
	assert.NotNil(t, opts.PanicHandler)
	assert.NotNil(t, opts.RejectedTaskHandler)
}
