package notifications

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "courier"

var (
	notificationQueueSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "size",
			Help:      "Number of queue items by status",
		},
		[]string{"status"},
	)

	notificationsEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "enqueued_total",
			Help:      "Total enqueue requests by kind and result",
		},
		[]string{"kind", "result"},
	)

	notificationsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "processed_total",
			Help:      "Total claimed items by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	notificationDispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "dispatch_duration_seconds",
			Help:      "Time from claim to successful delivery",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"kind"},
	)

	schedulerTicks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "ticks_total",
			Help:      "Scheduler ticks by result",
		},
		[]string{"result"},
	)

	rateLimitPauses = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "rate_limit_pause_seconds",
			Help:      "Length of provider rate limit pauses",
			Buckets:   []float64{1, 2, 5, 10, 30, 60, 120, 300},
		},
	)

	staleRequeued = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "stale_requeued_total",
			Help:      "Processing items returned to pending by the stale sweep",
		},
	)

	auditFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "write_failures_total",
			Help:      "Delivery log writes that failed",
		},
	)
)

func recordEnqueue(kind Kind, result string) {
	notificationsEnqueued.WithLabelValues(string(kind), result).Inc()
}

func recordProcessed(kind Kind, outcome string) {
	notificationsProcessed.WithLabelValues(string(kind), outcome).Inc()
}

func recordDuration(kind Kind, d time.Duration) {
	notificationDispatchDuration.WithLabelValues(string(kind)).Observe(d.Seconds())
}

func recordTick(result string) {
	schedulerTicks.WithLabelValues(result).Inc()
}

func recordRateLimitPause(d time.Duration) {
	rateLimitPauses.Observe(d.Seconds())
}

func recordStaleRequeued(n int64) {
	staleRequeued.Add(float64(n))
}

func recordAuditFailure() {
	auditFailures.Inc()
}

// RecordQueueStats updates queue size metrics.
func RecordQueueStats(stats *QueueStats) {
	notificationQueueSize.WithLabelValues(string(QueueStatusPending)).Set(float64(stats.Pending))
	notificationQueueSize.WithLabelValues(string(QueueStatusProcessing)).Set(float64(stats.Processing))
	notificationQueueSize.WithLabelValues(string(QueueStatusCompleted)).Set(float64(stats.Completed))
	notificationQueueSize.WithLabelValues(string(QueueStatusDeadLetter)).Set(float64(stats.DeadLetter))
}
