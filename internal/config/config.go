package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Swind/go-taskqueue/core"
)

// EnvPrefix is prepended to environment overrides, e.g. TQ_HTTP_ADDR for http.addr.
const EnvPrefix = "TQ"

// Config is the complete tqdemo configuration
type Config struct {
	Logging  LoggingConfig  `mapstructure:"logging" json:"logging"`
	HTTP     HTTPConfig     `mapstructure:"http" json:"http"`
	Manager  ManagerConfig  `mapstructure:"manager" json:"manager"`
	Queues   []QueueConfig  `mapstructure:"queues" json:"queues"`
	Workload WorkloadConfig `mapstructure:"workload" json:"workload"`
}

// LoggingConfig controls the zap logger
type LoggingConfig struct {
	// Level is one of "debug", "info", "warn", "error"
	Level string `mapstructure:"level" json:"level"`
	// Format is "json" or "console"
	Format string `mapstructure:"format" json:"format"`
}

// HTTPConfig controls the debug server. An empty Addr disables it.
type HTTPConfig struct {
	Addr string `mapstructure:"addr" json:"addr"`
}

// ManagerConfig maps onto core.TaskQueueManagerConfig
type ManagerConfig struct {
	WorkBatchSize      int    `mapstructure:"work_batch_size" json:"work_batch_size"`
	MaxStarvationTasks int    `mapstructure:"max_starvation_tasks" json:"max_starvation_tasks"`
	HistoryCapacity    int    `mapstructure:"history_capacity" json:"history_capacity"`
	MetricsNamespace   string `mapstructure:"metrics_namespace" json:"metrics_namespace"`
	// SnapshotInterval is how often queue gauges are refreshed
	SnapshotInterval time.Duration `mapstructure:"snapshot_interval" json:"snapshot_interval"`
}

// QueueConfig describes one task queue
type QueueConfig struct {
	Name              string `mapstructure:"name" json:"name"`
	Priority          string `mapstructure:"priority" json:"priority"`
	PumpPolicy        string `mapstructure:"pump_policy" json:"pump_policy"`
	WakeupPolicy      string `mapstructure:"wakeup_policy" json:"wakeup_policy"`
	MonitorQuiescence bool   `mapstructure:"monitor_quiescence" json:"monitor_quiescence"`
	// Weight is the relative share of generated tasks posted to this queue
	Weight int `mapstructure:"weight" json:"weight"`
}

// WorkloadConfig drives the synthetic producers
type WorkloadConfig struct {
	Duration  time.Duration `mapstructure:"duration" json:"duration"`
	Producers int           `mapstructure:"producers" json:"producers"`
	// Rate is tasks per second per producer
	Rate int `mapstructure:"rate" json:"rate"`
	// DelayedPercent is the share of tasks posted with a delay (0-100)
	DelayedPercent int           `mapstructure:"delayed_percent" json:"delayed_percent"`
	MaxDelay       time.Duration `mapstructure:"max_delay" json:"max_delay"`
	// TaskCost is how long each generated task busy-waits
	TaskCost time.Duration `mapstructure:"task_cost" json:"task_cost"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		HTTP: HTTPConfig{
			Addr: "127.0.0.1:8089",
		},
		Manager: ManagerConfig{
			WorkBatchSize:      4,
			MaxStarvationTasks: 0,
			HistoryCapacity:    100,
			MetricsNamespace:   "taskqueue",
			SnapshotInterval:   time.Second,
		},
		Queues: []QueueConfig{
			{Name: "input", Priority: "high", PumpPolicy: "auto", WakeupPolicy: "can_wake_other_queues", MonitorQuiescence: true, Weight: 1},
			{Name: "default", Priority: "normal", PumpPolicy: "auto", WakeupPolicy: "can_wake_other_queues", MonitorQuiescence: true, Weight: 3},
			{Name: "idle", Priority: "best_effort", PumpPolicy: "after_wakeup", WakeupPolicy: "dont_wake_other_queues", Weight: 1},
		},
		Workload: WorkloadConfig{
			Duration:       5 * time.Second,
			Producers:      2,
			Rate:           50,
			DelayedPercent: 20,
			MaxDelay:       200 * time.Millisecond,
			TaskCost:       time.Millisecond,
		},
	}
}

// SetDefaults registers every default on v so env overrides resolve
func SetDefaults(v *viper.Viper) {
	defaults := Default()

	// Logging defaults
	v.SetDefault("logging.level", defaults.Logging.Level)
	v.SetDefault("logging.format", defaults.Logging.Format)

	// HTTP defaults
	v.SetDefault("http.addr", defaults.HTTP.Addr)

	// Manager defaults
	v.SetDefault("manager.work_batch_size", defaults.Manager.WorkBatchSize)
	v.SetDefault("manager.max_starvation_tasks", defaults.Manager.MaxStarvationTasks)
	v.SetDefault("manager.history_capacity", defaults.Manager.HistoryCapacity)
	v.SetDefault("manager.metrics_namespace", defaults.Manager.MetricsNamespace)
	v.SetDefault("manager.snapshot_interval", defaults.Manager.SnapshotInterval)

	// Queue defaults
	queues := make([]map[string]any, 0, len(defaults.Queues))
	for _, q := range defaults.Queues {
		queues = append(queues, map[string]any{
			"name":               q.Name,
			"priority":           q.Priority,
			"pump_policy":        q.PumpPolicy,
			"wakeup_policy":      q.WakeupPolicy,
			"monitor_quiescence": q.MonitorQuiescence,
			"weight":             q.Weight,
		})
	}
	v.SetDefault("queues", queues)

	// Workload defaults
	v.SetDefault("workload.duration", defaults.Workload.Duration)
	v.SetDefault("workload.producers", defaults.Workload.Producers)
	v.SetDefault("workload.rate", defaults.Workload.Rate)
	v.SetDefault("workload.delayed_percent", defaults.Workload.DelayedPercent)
	v.SetDefault("workload.max_delay", defaults.Workload.MaxDelay)
	v.SetDefault("workload.task_cost", defaults.Workload.TaskCost)
}

// New returns a viper instance with defaults and env overrides configured.
// When path is non-empty the file is read; a missing file is an error.
func New(path string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	return v, nil
}

// Load reads the configuration from path (optional) plus env and validates it
func Load(path string) (*Config, error) {
	v, err := New(path)
	if err != nil {
		return nil, err
	}
	return FromViper(v)
}

// FromViper unmarshals and validates v
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}
	return &cfg, nil
}

// ManagerOptions converts the manager section into core options whose
// default handlers log through logger.
func (c *Config) ManagerOptions(logger core.Logger) *core.TaskQueueManagerConfig {
	opts := core.DefaultTaskQueueManagerConfig()
	if logger != nil {
		opts.Logger = logger
		opts.PanicHandler = &core.DefaultPanicHandler{Logger: logger}
		opts.RejectedTaskHandler = &core.DefaultRejectedTaskHandler{Logger: logger}
	}
	opts.WorkBatchSize = c.Manager.WorkBatchSize
	opts.MaxStarvationTasks = c.Manager.MaxStarvationTasks
	opts.HistoryCapacity = c.Manager.HistoryCapacity
	return opts
}

// Spec converts a validated queue entry into a TaskQueueSpec and its priority.
func (q QueueConfig) Spec() (core.TaskQueueSpec, core.QueuePriority) {
	spec := core.NewTaskQueueSpec(q.Name)
	if p, ok := core.ParsePumpPolicy(q.PumpPolicy); ok {
		spec.PumpPolicy = p
	}
	if w, ok := core.ParseWakeupPolicy(q.WakeupPolicy); ok {
		spec.WakeupPolicy = w
	}
	spec.ShouldMonitorQuiescence = q.MonitorQuiescence

	priority, ok := core.ParseQueuePriority(q.Priority)
	if !ok {
		priority = core.QueuePriorityNormal
	}
	return spec, priority
}
