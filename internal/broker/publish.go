package broker

import (
	"context"
	"strconv"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/cvieirasp/webhookhub/internal/job"
	"github.com/cvieirasp/webhookhub/internal/tracing"
)

// Publisher is the narrow slice of *amqp.Channel the rest of the core talks
// through; it exists so ingest and worker code can be exercised against a
// fake in tests without a live broker.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// PublishJob publishes a first-attempt (or, in principle, any-attempt) job
// onto the main exchange with the fixed routing key, persistent delivery
// mode, and no expiration.
func PublishJob(ctx context.Context, ch Publisher, j job.DeliveryJob) error {
	body, err := job.Encode(j)
	if err != nil {
		return err
	}
	return ch.PublishWithContext(ctx, MainExchange, RoutingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Headers:      tracing.InjectAMQPHeaders(ctx),
		Body:         body,
	})
}

// PublishRetry parks the next attempt on the retry queue with a per-message
// expiration equal to the backoff delay. The queue has no consumer: the
// message expires in place and is dead-lettered back onto MainQueue by the
// queue's own DLX/DLRK configuration. This is the entire scheduling
// mechanism — no in-process timer is involved.
//
// The retry queue is addressed via the default exchange, where the routing
// key is taken as the destination queue name.
func PublishRetry(ctx context.Context, ch Publisher, j job.DeliveryJob, delay time.Duration) error {
	body, err := job.Encode(j)
	if err != nil {
		return err
	}
	return ch.PublishWithContext(ctx, "", RetryQueue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Headers:      tracing.InjectAMQPHeaders(ctx),
		Expiration:   strconv.FormatInt(delay.Milliseconds(), 10),
		Body:         body,
	})
}
