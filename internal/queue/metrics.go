// This file exposes Prometheus instrumentation for the delivery queue
// processor. Counters track row outcomes per pass; the histogram tracks how
// long a full tick takes. Labels are deliberately absent: outcomes are
// already split across counters and per-recipient labels would be unbounded.
package queue

import "github.com/prometheus/client_golang/prometheus"

var (
	// queueProcessed counts every claimed row, whatever its outcome.
	queueProcessed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notification_queue_processed_total",
		Help: "Total number of queue rows processed.",
	})

	// queueSent counts rows delivered to at least one endpoint.
	queueSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notification_queue_sent_total",
		Help: "Total number of queue rows marked sent.",
	})

	// queueFailed counts rows that reached a terminal failure.
	queueFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notification_queue_failed_total",
		Help: "Total number of queue rows marked failed.",
	})

	// queueRetried counts delivery passes that failed but left the row
	// pending for a later tick.
	queueRetried = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notification_queue_retried_total",
		Help: "Total number of queue rows scheduled for retry.",
	})

	// queueTickDur records how long one processing tick takes end to end.
	queueTickDur = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "notification_queue_tick_duration_seconds",
		Help:    "Duration of queue processing ticks in seconds.",
		Buckets: prometheus.DefBuckets,
	})

	// queueSwept counts rows removed by the retention sweep.
	queueSwept = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notification_queue_swept_total",
		Help: "Total number of terminal queue rows deleted by the sweep.",
	})
)

func init() {
	prometheus.MustRegister(queueProcessed, queueSent, queueFailed, queueRetried, queueTickDur, queueSwept)
}
