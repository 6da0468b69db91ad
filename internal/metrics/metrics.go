package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	EventsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhookhub_events_published_total",
			Help: "Total number of inbound events accepted and fanned out to deliveries, by source.",
		},
		[]string{"source_name"},
	)

	EventsDuplicateTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhookhub_events_duplicate_total",
			Help: "Total number of inbound events short-circuited by the idempotency guard, by source.",
		},
		[]string{"source_name"},
	)

	DeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhookhub_deliveries_total",
			Help: "Total number of delivery attempts, by outcome status.",
		},
		[]string{"status", "source_name", "destination_id"},
	)

	DeliveryLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "webhookhub_delivery_latency_seconds",
			Help:    "Time spent on one delivery attempt end-to-end, by source.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source_name"},
	)

	HTTPDeliveryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "webhookhub_http_delivery_duration_seconds",
			Help:    "HTTP round-trip duration for a single destination POST.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source_name", "destination_id", "status_code"},
	)

	RetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhookhub_retries_total",
			Help: "Total number of delivery retries, by classified failure reason.",
		},
		[]string{"reason"}, // worker emits network, http_429, http_5xx, or http_<code>
	)

	DLQTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhookhub_dlq_total",
			Help: "Total number of delivery messages nacked to the dead-letter queue, by reason.",
		},
		[]string{"reason"},
	)

	WorkerBacklog = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "webhookhub_worker_backlog",
			Help: "Depth of the main deliveries queue as last observed by the worker.",
		},
	)

	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "webhookhub_queue_depth",
			Help: "Message count per broker queue, as last sampled by a passive queue declare.",
		},
		[]string{"queue", "consumer"},
	)
)

// MustRegister registers all collectors on reg. Call once per registry.
func MustRegister(reg *prometheus.Registry) {
	reg.MustRegister(
		EventsPublishedTotal,
		EventsDuplicateTotal,
		DeliveriesTotal,
		DeliveryLatencySeconds,
		HTTPDeliveryDuration,
		RetriesTotal,
		DLQTotal,
		WorkerBacklog,
		QueueDepth,
	)
}

func RecordEventPublished(sourceName string) {
	EventsPublishedTotal.WithLabelValues(sourceName).Inc()
}

func RecordEventDuplicate(sourceName string) {
	EventsDuplicateTotal.WithLabelValues(sourceName).Inc()
}

func RecordDelivery(status, sourceName, destinationID string, d time.Duration) {
	DeliveriesTotal.WithLabelValues(status, sourceName, destinationID).Inc()
	DeliveryLatencySeconds.WithLabelValues(sourceName).Observe(d.Seconds())
}

func RecordHTTPDelivery(sourceName, destinationID, statusCode string, d time.Duration) {
	HTTPDeliveryDuration.WithLabelValues(sourceName, destinationID, statusCode).Observe(d.Seconds())
}

func RecordRetry(reason string) {
	RetriesTotal.WithLabelValues(reason).Inc()
}

func RecordDLQ(reason string) {
	DLQTotal.WithLabelValues(reason).Inc()
}

func UpdateWorkerBacklog(count float64) {
	WorkerBacklog.Set(count)
}

func UpdateQueueDepth(queue, consumer string, depth float64) {
	QueueDepth.WithLabelValues(queue, consumer).Set(depth)
}
