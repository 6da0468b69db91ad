package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMustRegister(t *testing.T) {
	registry := prometheus.NewRegistry()

	defer func() {
		if r := recover(); r != nil {
			t.Errorf("MustRegister() panicked: %v", r)
		}
	}()

	MustRegister(registry)

	RecordEventPublished("test-source")
	RecordDelivery("delivered", "test-source", "test-destination", 100*time.Millisecond)
	RecordRetry("timeout")
	RecordDLQ("max_attempts_exceeded")
	UpdateWorkerBacklog(5)
	UpdateQueueDepth("webhookhub.deliveries", "worker", 3)

	metricFamilies, err := registry.Gather()
	if err != nil {
		t.Fatalf("Registry.Gather() error: %v", err)
	}

	expectedMetrics := []string{
		"webhookhub_events_published_total",
		"webhookhub_deliveries_total",
		"webhookhub_delivery_latency_seconds",
		"webhookhub_worker_backlog",
		"webhookhub_retries_total",
		"webhookhub_dlq_total",
		"webhookhub_queue_depth",
	}

	registered := make(map[string]bool)
	for _, mf := range metricFamilies {
		registered[mf.GetName()] = true
	}

	for _, name := range expectedMetrics {
		if !registered[name] {
			t.Errorf("expected metric %s not found in registry", name)
		}
	}
}

func TestRecordEventPublished(t *testing.T) {
	EventsPublishedTotal.Reset()

	tests := []struct {
		name       string
		sourceName string
		calls      int
	}{
		{name: "single event", sourceName: "stripe", calls: 1},
		{name: "multiple events", sourceName: "github", calls: 5},
		{name: "empty source name", sourceName: "", calls: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for i := 0; i < tt.calls; i++ {
				RecordEventPublished(tt.sourceName)
			}

			value := testutil.ToFloat64(EventsPublishedTotal.WithLabelValues(tt.sourceName))
			if value != float64(tt.calls) {
				t.Errorf("RecordEventPublished() counter = %f, want %f", value, float64(tt.calls))
			}
		})
	}
}

func TestRecordDelivery(t *testing.T) {
	DeliveriesTotal.Reset()
	DeliveryLatencySeconds.Reset()

	tests := []struct {
		name          string
		status        string
		sourceName    string
		destinationID string
		duration      time.Duration
		calls         int
	}{
		{name: "delivered", status: "delivered", sourceName: "stripe", destinationID: "dest-abc", duration: 100 * time.Millisecond, calls: 1},
		{name: "retrying", status: "retrying", sourceName: "github", destinationID: "dest-def", duration: 2 * time.Second, calls: 3},
		{name: "dead", status: "dead", sourceName: "shopify", destinationID: "dest-ghi", duration: 30 * time.Second, calls: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for i := 0; i < tt.calls; i++ {
				RecordDelivery(tt.status, tt.sourceName, tt.destinationID, tt.duration)
			}

			value := testutil.ToFloat64(DeliveriesTotal.WithLabelValues(tt.status, tt.sourceName, tt.destinationID))
			if value != float64(tt.calls) {
				t.Errorf("RecordDelivery() counter = %f, want %f", value, float64(tt.calls))
			}

			if DeliveryLatencySeconds.WithLabelValues(tt.sourceName) == nil {
				t.Error("RecordDelivery() latency histogram should not be nil after recording")
			}
		})
	}
}

func TestRecordHTTPDelivery(t *testing.T) {
	HTTPDeliveryDuration.Reset()

	tests := []struct {
		name          string
		sourceName    string
		destinationID string
		statusCode    string
		duration      time.Duration
		calls         int
	}{
		{name: "200 OK", sourceName: "stripe", destinationID: "dest-abc", statusCode: "200", duration: 50 * time.Millisecond, calls: 1},
		{name: "500 error", sourceName: "github", destinationID: "dest-def", statusCode: "500", duration: 1 * time.Second, calls: 2},
		{name: "timeout", sourceName: "shopify", destinationID: "dest-ghi", statusCode: "timeout", duration: 30 * time.Second, calls: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for i := 0; i < tt.calls; i++ {
				RecordHTTPDelivery(tt.sourceName, tt.destinationID, tt.statusCode, tt.duration)
			}

			if HTTPDeliveryDuration.WithLabelValues(tt.sourceName, tt.destinationID, tt.statusCode) == nil {
				t.Error("RecordHTTPDelivery() histogram should not be nil after recording")
			}
		})
	}
}

func TestRecordRetry(t *testing.T) {
	RetriesTotal.Reset()

	tests := []struct {
		name   string
		reason string
		calls  int
	}{
		{name: "http 5xx", reason: "http_5xx", calls: 1},
		{name: "timeout", reason: "timeout", calls: 3},
		{name: "network", reason: "network", calls: 2},
		{name: "dns error", reason: "dns_error", calls: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for i := 0; i < tt.calls; i++ {
				RecordRetry(tt.reason)
			}

			value := testutil.ToFloat64(RetriesTotal.WithLabelValues(tt.reason))
			if value != float64(tt.calls) {
				t.Errorf("RecordRetry() counter = %f, want %f", value, float64(tt.calls))
			}
		})
	}
}

func TestRecordDLQ(t *testing.T) {
	DLQTotal.Reset()

	tests := []struct {
		name   string
		reason string
		calls  int
	}{
		{name: "max attempts exceeded", reason: "max_attempts_exceeded", calls: 1},
		{name: "permanent failure", reason: "http_4xx", calls: 2},
		{name: "timeout", reason: "timeout", calls: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for i := 0; i < tt.calls; i++ {
				RecordDLQ(tt.reason)
			}

			value := testutil.ToFloat64(DLQTotal.WithLabelValues(tt.reason))
			if value != float64(tt.calls) {
				t.Errorf("RecordDLQ() counter = %f, want %f", value, float64(tt.calls))
			}
		})
	}
}

func TestUpdateWorkerBacklog(t *testing.T) {
	tests := []struct {
		name  string
		count float64
	}{
		{name: "zero backlog", count: 0},
		{name: "positive backlog", count: 42},
		{name: "large backlog", count: 10000},
		{name: "fractional backlog", count: 123.45},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			UpdateWorkerBacklog(tt.count)

			value := testutil.ToFloat64(WorkerBacklog)
			if value != tt.count {
				t.Errorf("UpdateWorkerBacklog() gauge = %f, want %f", value, tt.count)
			}
		})
	}
}

func TestUpdateQueueDepth(t *testing.T) {
	QueueDepth.Reset()

	tests := []struct {
		name     string
		queue    string
		consumer string
		depth    float64
	}{
		{name: "main deliveries queue", queue: "webhookhub.deliveries", consumer: "worker", depth: 10},
		{name: "retry queue", queue: "deliveries.retry.q", consumer: "none", depth: 0},
		{name: "dlq", queue: "deliveries.dlq", consumer: "whctl", depth: 50000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			UpdateQueueDepth(tt.queue, tt.consumer, tt.depth)

			value := testutil.ToFloat64(QueueDepth.WithLabelValues(tt.queue, tt.consumer))
			if value != tt.depth {
				t.Errorf("UpdateQueueDepth() gauge = %f, want %f", value, tt.depth)
			}
		})
	}
}

func TestMetricsIntegration(t *testing.T) {
	registry := prometheus.NewRegistry()
	MustRegister(registry)

	RecordEventPublished("source-integration")
	RecordDelivery("delivered", "source-integration", "destination-integration", 100*time.Millisecond)
	RecordHTTPDelivery("source-integration", "destination-integration", "200", 50*time.Millisecond)
	RecordRetry("timeout")
	RecordDLQ("max_attempts_exceeded")
	UpdateWorkerBacklog(5)
	UpdateQueueDepth("webhookhub.deliveries", "worker", 3)

	metricFamilies, err := registry.Gather()
	if err != nil {
		t.Fatalf("Registry.Gather() error: %v", err)
	}

	if len(metricFamilies) == 0 {
		t.Fatal("expected metrics to be present after recording")
	}

	found := make(map[string]bool)
	for _, mf := range metricFamilies {
		found[mf.GetName()] = true
	}

	requiredMetrics := []string{
		"webhookhub_events_published_total",
		"webhookhub_deliveries_total",
		"webhookhub_worker_backlog",
	}

	for _, name := range requiredMetrics {
		if !found[name] {
			t.Errorf("expected metric %s not found in gathered metrics", name)
		}
	}
}

func TestPrometheusTextOutputPrefix(t *testing.T) {
	registry := prometheus.NewRegistry()
	MustRegister(registry)

	RecordEventPublished("test-source")
	UpdateWorkerBacklog(42)

	metricFamilies, err := registry.Gather()
	if err != nil {
		t.Fatalf("Registry.Gather() error: %v", err)
	}

	if len(metricFamilies) == 0 {
		t.Fatal("expected non-empty metrics output")
	}

	for _, mf := range metricFamilies {
		name := mf.GetName()
		if !strings.HasPrefix(name, "webhookhub_") {
			t.Errorf("metric name %s does not have expected prefix 'webhookhub_'", name)
		}
	}
}
