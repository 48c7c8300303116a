package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "branchsim"

	// TargetLabel is where a task ran: "local" or "remote".
	TargetLabel = "target"

	// OutcomeLabel is "ok", "failed" or "aborted".
	OutcomeLabel = "outcome"

	// MessageLabel is the protocol message type.
	MessageLabel = "message"
)

var (
	TasksQueued = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "dispatch",
		Name:      "tasks_queued_total",
		Help:      "Number of tasks added to the task queue, including requeued tasks.",
	})

	TasksDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "dispatch",
		Name:      "tasks_dispatched_total",
		Help:      "Number of tasks taken off the queue by a local worker or sent to a remote node.",
	}, []string{
		TargetLabel,
	})

	TasksRequeued = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "dispatch",
		Name:      "tasks_requeued_total",
		Help:      "Number of tasks put back at the head of the queue after a failed send or a lost connection.",
	})

	ResultsRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "dispatch",
		Name:      "results_recorded_total",
		Help:      "Number of results written into the result matrix.",
	}, []string{
		TargetLabel,
		OutcomeLabel,
	})

	StaleMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stale_messages_total",
		Help:      "Number of tasks, results and task requests dropped because their session was superseded.",
	}, []string{
		MessageLabel,
	})

	QueueLength = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "dispatch",
		Name:      "queue_length",
		Help:      "Number of tasks waiting in the task queue.",
	})

	ServerConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "worker",
		Name:      "connections",
		Help:      "Number of client connections served by this node.",
	})

	ServerTasks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "worker",
		Name:      "tasks_total",
		Help:      "Number of tasks executed by this node.",
	}, []string{
		OutcomeLabel,
	})

	SimulationDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "simulation_duration_seconds",
		Buckets:   prometheus.ExponentialBuckets(0.01, 4, 9),
		Help:      "Wall time of a single simulation job.",
	}, []string{
		TargetLabel,
	})
)

func Outcome(ok bool) string {
	if ok {
		return "ok"
	}
	return "failed"
}
