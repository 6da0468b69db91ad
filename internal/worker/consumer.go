package worker

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel/attribute"

	"github.com/cvieirasp/webhookhub/internal/broker"
	"github.com/cvieirasp/webhookhub/internal/job"
	"github.com/cvieirasp/webhookhub/internal/logging"
	"github.com/cvieirasp/webhookhub/internal/metrics"
	"github.com/cvieirasp/webhookhub/internal/store"
	"github.com/cvieirasp/webhookhub/internal/tracing"
)

// DefaultPrefetch is the bound on unacknowledged messages per consumer,
// chosen to match the worker's DB pool size so every in-flight message can
// acquire a connection.
const DefaultPrefetch = 5

// queueDepthInterval is how often the consumer samples the main queue's
// message count for the queue-depth gauge.
const queueDepthInterval = 30 * time.Second

// Run subscribes to the main delivery queue with manual ack and the given
// prefetch (DefaultPrefetch when <= 0), and processes messages until ctx is
// cancelled or the delivery channel closes.
func Run(ctx context.Context, ch *amqp.Channel, w *Worker, logger *logging.Logger, prefetch int) error {
	if prefetch <= 0 {
		prefetch = DefaultPrefetch
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		return err
	}

	deliveries, err := ch.Consume(broker.MainQueue, "", false, false, false, false, nil)
	if err != nil {
		return err
	}

	go pollQueueDepth(ctx, ch)

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-deliveries:
			if !ok {
				return nil
			}
			handleMessage(ctx, w, logger, msg)
		}
	}
}

// pollQueueDepth samples the main queue's backlog via a passive declare until
// ctx is cancelled.
func pollQueueDepth(ctx context.Context, ch *amqp.Channel) {
	ticker := time.NewTicker(queueDepthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q, err := ch.QueueInspect(broker.MainQueue)
			if err != nil {
				return
			}
			metrics.UpdateWorkerBacklog(float64(q.Messages))
			metrics.UpdateQueueDepth(broker.MainQueue, "worker", float64(q.Messages))
		}
	}
}

// handleMessage implements the exact ack/nack discipline of the delivery
// state machine.
func handleMessage(ctx context.Context, w *Worker, logger *logging.Logger, msg amqp.Delivery) {
	j, err := job.Decode(msg.Body)
	if err != nil {
		logger.Plain().WithError(err).Error("undecodable delivery job, dead-lettering")
		metrics.RecordDLQ("decode_error")
		_ = msg.Nack(false, false)
		return
	}

	// Continue the trace the ingest side started, if the message carries one.
	ctx = tracing.ExtractAMQPHeaders(ctx, msg.Headers)
	ctx, span := tracing.StartSpan(ctx, "delivery.process",
		attribute.String("delivery.id", j.DeliveryID),
		attribute.String("event.id", j.EventID),
		attribute.Int("delivery.attempt", j.Attempt),
	)
	defer span.End()

	log := logger.WithContext(ctx).WithDelivery(j.DeliveryID).WithEvent(j.EventID).WithField("attempt", j.Attempt)

	start := time.Now()
	outcome, err := w.Process(ctx, j)
	elapsed := time.Since(start)
	if err != nil {
		// Unhandled infrastructure failure (DB write, republish, or codec
		// error after decode): nack(requeue=false) routes to deliveries.dlq
		// for manual inspection. The ack never precedes the durable write —
		// Process only returns nil after that write has already committed.
		tracing.SetSpanError(ctx, err)
		log.WithError(err).Error("infrastructure failure processing delivery")
		metrics.RecordDLQ("infrastructure_failure")
		_ = msg.Nack(false, false)
		return
	}

	switch outcome.Status {
	case store.StatusDelivered:
		metrics.RecordDelivery("delivered", "", "", elapsed)
		log.Info("delivered")
	case store.StatusRetrying:
		metrics.RecordDelivery("retrying", "", "", elapsed)
		metrics.RecordRetry(failureReason(outcome.StatusCode))
		log.WithField("status_code", outcome.StatusCode).Info("retrying")
	case store.StatusDead:
		metrics.RecordDelivery("dead", "", "", elapsed)
		log.WithField("status_code", outcome.StatusCode).Warn("dead")
	}

	_ = msg.Ack(false)
}

// failureReason buckets a failed attempt's status code for the retry counter.
func failureReason(statusCode int) string {
	switch {
	case statusCode == 0:
		return "network"
	case statusCode == 429:
		return "http_429"
	case statusCode >= 500 && statusCode <= 599:
		return fmt.Sprintf("http_%dxx", statusCode/100)
	default:
		return fmt.Sprintf("http_%d", statusCode)
	}
}
