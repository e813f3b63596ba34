package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	EventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "presshook_events_total",
			Help: "Total number of content-lifecycle trigger events accepted.",
		},
		[]string{"action"}, // publish, update, unpublish
	)

	DeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "presshook_deliveries_total",
			Help: "Total number of delivery jobs reaching a terminal state.",
		},
		[]string{"status"}, // success, failed
	)

	RetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "presshook_retries_total",
			Help: "Total number of delivery retries by reason.",
		},
		[]string{"reason"}, // e.g. http_5xx, http_429, timeout, network
	)

	ReplaysTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "presshook_manual_replays_total",
			Help: "Total number of operator-initiated replays.",
		},
	)

	DeliveryLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "presshook_delivery_latency_seconds",
			Help:    "Latency of individual delivery attempts.",
			Buckets: prometheus.DefBuckets,
		},
	)

	RetentionDeletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "presshook_retention_deleted_total",
			Help: "Total number of records removed by retention sweeps.",
		},
		[]string{"kind"}, // delivery, audit
	)

	QueueBacklog = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "presshook_queue_backlog",
			Help: "Depth of the revalidations topic on the worker channel.",
		},
	)
)

func MustRegister(reg *prometheus.Registry) {
	reg.MustRegister(
		EventsTotal,
		DeliveriesTotal,
		RetriesTotal,
		ReplaysTotal,
		DeliveryLatency,
		RetentionDeletedTotal,
		QueueBacklog,
	)
}

// RecordEvent counts an accepted trigger event
func RecordEvent(action string) {
	EventsTotal.WithLabelValues(action).Inc()
}

// RecordTerminal counts a delivery job reaching a terminal status
func RecordTerminal(status string) {
	DeliveriesTotal.WithLabelValues(status).Inc()
}

// RecordRetry counts a scheduled retry by failure reason
func RecordRetry(reason string) {
	RetriesTotal.WithLabelValues(reason).Inc()
}

// RecordAttemptLatency observes one attempt's round-trip time
func RecordAttemptLatency(d time.Duration) {
	DeliveryLatency.Observe(d.Seconds())
}

// RecordRetentionDeleted counts rows removed by a sweep
func RecordRetentionDeleted(kind string, n int64) {
	RetentionDeletedTotal.WithLabelValues(kind).Add(float64(n))
}
