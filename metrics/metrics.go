package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TasksProcessed counts stage executions by stage and result.
	TasksProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "podqueued_stage_executions_total",
			Help: "Total number of stage executions",
		},
		[]string{"stage", "result"},
	)

	// RetriesScheduled counts backoff retries scheduled.
	RetriesScheduled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "podqueued_retries_scheduled_total",
			Help: "Total number of retries scheduled with backoff",
		},
	)

	// QueueDepth tracks the number of tasks per queue state.
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "podqueued_queue_depth",
			Help: "Number of tasks per queue state",
		},
		[]string{"state"},
	)

	// DLQAdded counts tasks routed to the dead letter queue.
	DLQAdded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "podqueued_dead_letter_added_total",
			Help: "Total number of tasks moved to the dead letter queue",
		},
		[]string{"error_type"},
	)

	// DLQActions counts operator actions on dead letter entries.
	DLQActions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "podqueued_dead_letter_actions_total",
			Help: "Total number of operator actions on dead letter entries",
		},
		[]string{"action"},
	)

	// StageDuration tracks stage execution latency.
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "podqueued_stage_duration_seconds",
			Help:    "Stage execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)
)
