package core

import "time"

// TaskExecutionRecord captures a completed task execution event.
type TaskExecutionRecord struct {
	SequenceNum uint64        `json:"sequence_num"`
	QueueName   string        `json:"queue"`
	PostedFrom  string        `json:"posted_from"`
	Priority    QueuePriority `json:"priority"`
	StartedAt   time.Time     `json:"started_at"`
	FinishedAt  time.Time     `json:"finished_at"`
	Duration    time.Duration `json:"duration"`
	Panicked    bool          `json:"panicked"`
}

// QueueSnapshot is a point-in-time view of one TaskQueue.
type QueueSnapshot struct {
	Name         string    `json:"name"`
	ID           string    `json:"id"`
	Priority     string    `json:"priority"`
	PumpPolicy   string    `json:"pump_policy"`
	WakeupPolicy string    `json:"wakeup_policy"`
	Incoming     int       `json:"incoming"`
	Work         int       `json:"work"`
	Delayed      int       `json:"delayed"`
	InFlightKick int       `json:"in_flight_kicks"`
	NextDelayed  time.Time `json:"next_delayed_run_time,omitempty"`
	Rejected     int64     `json:"rejected"`
	Detached     bool      `json:"detached"`
}

// Pending returns the number of tasks held by the queue.
func (s QueueSnapshot) Pending() int {
	return s.Incoming + s.Work + s.Delayed
}

// SelectorSnapshot is a point-in-time view of the selector buckets.
type SelectorSnapshot struct {
	Buckets         map[string][]string `json:"buckets"`
	StarvationCount int                 `json:"starvation_count"`
}

// ManagerSnapshot is a serializable view of the whole scheduler.
type ManagerSnapshot struct {
	Queues        []QueueSnapshot   `json:"queues"`
	Selector      *SelectorSnapshot `json:"selector,omitempty"`
	SequenceNum   uint64            `json:"sequence_num"`
	Updatable     int               `json:"updatable_queues"`
	DoWorkPending bool              `json:"do_work_pending"`
	TasksRun      int64             `json:"tasks_run"`
	TasksRejected int64             `json:"tasks_rejected"`
	ShutDown      bool              `json:"shut_down"`
	TakenAt       time.Time         `json:"taken_at"`
}
