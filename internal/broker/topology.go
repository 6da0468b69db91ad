// Package broker owns the RabbitMQ topology backing delivery: the main
// exchange/queue, the per-message-TTL retry holding queue, and the
// dead-letter exchange/queue, plus the publish helpers that bind them into a
// correct retry loop.
package broker

import (
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	// MainExchange is the durable direct exchange ingest publishes new jobs to.
	MainExchange = "webhookhub"
	// DeadLetterExchange is the fanout exchange poison/terminal messages land on.
	DeadLetterExchange = "deliveries.dlx"

	// MainQueue is the queue the worker consumes from.
	MainQueue = "webhookhub.deliveries"
	// RetryQueue has no consumer; messages parked here expire in place and
	// are dead-lettered back onto MainQueue. This is the entire backoff
	// mechanism — no in-process timer is used.
	RetryQueue = "deliveries.retry.q"
	// DeadLetterQueue is the terminal, manually-replayed destination for
	// poison messages and nacked deliveries.
	DeadLetterQueue = "deliveries.dlq"

	// RoutingKey is used both for the main exchange binding and as the
	// dead-letter routing key retry messages are returned to.
	RoutingKey = "delivery"

	// MainQueueTTLMillis is the safety-net TTL on the main queue: a message
	// must be consumed, decided on, and acked or republished-to-retry within
	// this window, or it is treated as poison and dead-lettered.
	MainQueueTTLMillis = 1_800_000
)

// Declare idempotently declares the five broker resources (two exchanges,
// three queues) and their bindings.
// Called on every startup of both ingest and worker; re-declaration with
// identical arguments is a no-op. Declaring with divergent arguments against
// an existing resource is a fatal configuration error surfaced by amqp091-go
// itself (a 406 PRECONDITION_FAILED channel exception), which the caller
// should treat as non-recoverable.
func Declare(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(MainExchange, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return err
	}
	if err := ch.ExchangeDeclare(DeadLetterExchange, amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
		return err
	}

	if _, err := ch.QueueDeclare(MainQueue, true, false, false, false, amqp.Table{
		"x-message-ttl":          int32(MainQueueTTLMillis),
		"x-dead-letter-exchange": DeadLetterExchange,
	}); err != nil {
		return err
	}

	if _, err := ch.QueueDeclare(RetryQueue, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    MainExchange,
		"x-dead-letter-routing-key": RoutingKey,
	}); err != nil {
		return err
	}

	if _, err := ch.QueueDeclare(DeadLetterQueue, true, false, false, false, nil); err != nil {
		return err
	}

	if err := ch.QueueBind(MainQueue, RoutingKey, MainExchange, false, nil); err != nil {
		return err
	}
	// RetryQueue is published to via the default exchange (routing key =
	// queue name); it needs no explicit binding.
	if err := ch.QueueBind(DeadLetterQueue, "", DeadLetterExchange, false, nil); err != nil {
		return err
	}

	return nil
}
