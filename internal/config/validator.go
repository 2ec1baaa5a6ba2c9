package config

import (
	"fmt"
	"slices"
	"strings"

	"github.com/Swind/go-taskqueue/core"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "queues[0].priority")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// ValidLogFormats returns the list of valid log encodings
func ValidLogFormats() []string {
	return []string{"json", "console"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateLogging()...)
	errors = append(errors, c.validateManager()...)
	errors = append(errors, c.validateQueues()...)
	errors = append(errors, c.validateWorkload()...)

	return errors
}

func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError
	if !slices.Contains(ValidLogLevels(), c.Logging.Level) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: "must be one of " + strings.Join(ValidLogLevels(), ", "),
		})
	}
	if !slices.Contains(ValidLogFormats(), c.Logging.Format) {
		errors = append(errors, ValidationError{
			Field:   "logging.format",
			Value:   c.Logging.Format,
			Message: "must be one of " + strings.Join(ValidLogFormats(), ", "),
		})
	}
	return errors
}

func (c *Config) validateManager() []ValidationError {
	var errors []ValidationError
	if c.Manager.WorkBatchSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "manager.work_batch_size",
			Value:   c.Manager.WorkBatchSize,
			Message: "must be at least 1",
		})
	}
	if c.Manager.MaxStarvationTasks < 0 {
		errors = append(errors, ValidationError{
			Field:   "manager.max_starvation_tasks",
			Value:   c.Manager.MaxStarvationTasks,
			Message: "must be non-negative (0 disables)",
		})
	}
	if c.Manager.HistoryCapacity < 0 {
		errors = append(errors, ValidationError{
			Field:   "manager.history_capacity",
			Value:   c.Manager.HistoryCapacity,
			Message: "must be non-negative",
		})
	}
	if c.Manager.SnapshotInterval <= 0 {
		errors = append(errors, ValidationError{
			Field:   "manager.snapshot_interval",
			Value:   c.Manager.SnapshotInterval,
			Message: "must be positive",
		})
	}
	return errors
}

func (c *Config) validateQueues() []ValidationError {
	var errors []ValidationError
	if len(c.Queues) == 0 {
		return []ValidationError{{Field: "queues", Value: 0, Message: "at least one queue is required"}}
	}

	seen := make(map[string]bool, len(c.Queues))
	for i, q := range c.Queues {
		prefix := fmt.Sprintf("queues[%d]", i)
		if q.Name == "" {
			errors = append(errors, ValidationError{Field: prefix + ".name", Value: q.Name, Message: "must not be empty"})
		} else if seen[q.Name] {
			errors = append(errors, ValidationError{Field: prefix + ".name", Value: q.Name, Message: "duplicate queue name"})
		}
		seen[q.Name] = true

		// Empty policy fields fall back to the core defaults.
		if _, ok := core.ParseQueuePriority(q.Priority); q.Priority != "" && !ok {
			errors = append(errors, ValidationError{Field: prefix + ".priority", Value: q.Priority, Message: "unknown priority"})
		}
		if _, ok := core.ParsePumpPolicy(q.PumpPolicy); q.PumpPolicy != "" && !ok {
			errors = append(errors, ValidationError{Field: prefix + ".pump_policy", Value: q.PumpPolicy, Message: "unknown pump policy"})
		}
		if _, ok := core.ParseWakeupPolicy(q.WakeupPolicy); q.WakeupPolicy != "" && !ok {
			errors = append(errors, ValidationError{Field: prefix + ".wakeup_policy", Value: q.WakeupPolicy, Message: "unknown wakeup policy"})
		}
		if q.Weight < 0 {
			errors = append(errors, ValidationError{Field: prefix + ".weight", Value: q.Weight, Message: "must be non-negative"})
		}
	}
	return errors
}

func (c *Config) validateWorkload() []ValidationError {
	var errors []ValidationError
	w := c.Workload
	if w.Duration <= 0 {
		errors = append(errors, ValidationError{Field: "workload.duration", Value: w.Duration, Message: "must be positive"})
	}
	if w.Producers < 0 {
		errors = append(errors, ValidationError{Field: "workload.producers", Value: w.Producers, Message: "must be non-negative"})
	}
	if w.Rate < 1 {
		errors = append(errors, ValidationError{Field: "workload.rate", Value: w.Rate, Message: "must be at least 1"})
	}
	if w.DelayedPercent < 0 || w.DelayedPercent > 100 {
		errors = append(errors, ValidationError{Field: "workload.delayed_percent", Value: w.DelayedPercent, Message: "must be between 0 and 100"})
	}
	if w.DelayedPercent > 0 && w.MaxDelay <= 0 {
		errors = append(errors, ValidationError{Field: "workload.max_delay", Value: w.MaxDelay, Message: "must be positive when delayed_percent is set"})
	}
	if w.TaskCost < 0 {
		errors = append(errors, ValidationError{Field: "workload.task_cost", Value: w.TaskCost, Message: "must be non-negative"})
	}
	return errors
}
