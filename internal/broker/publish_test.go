package broker

import (
	"context"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/cvieirasp/webhookhub/internal/job"
)

type fakePublisher struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

func (f *fakePublisher) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	f.exchange = exchange
	f.key = key
	f.msg = msg
	return nil
}

func TestPublishJob(t *testing.T) {
	fp := &fakePublisher{}
	j := job.DeliveryJob{DeliveryID: "d1", EventID: "e1", TargetURL: "https://example.com/hook", PayloadJSON: `{"a":1}`, Attempt: 1}

	if err := PublishJob(context.Background(), fp, j); err != nil {
		t.Fatalf("PublishJob() error = %v", err)
	}

	if fp.exchange != MainExchange {
		t.Errorf("exchange = %q, want %q", fp.exchange, MainExchange)
	}
	if fp.key != RoutingKey {
		t.Errorf("key = %q, want %q", fp.key, RoutingKey)
	}
	if fp.msg.Expiration != "" {
		t.Errorf("Expiration = %q, want empty for a first-attempt publish", fp.msg.Expiration)
	}
	if fp.msg.DeliveryMode != amqp.Persistent {
		t.Errorf("DeliveryMode = %v, want Persistent", fp.msg.DeliveryMode)
	}

	decoded, err := job.Decode(fp.msg.Body)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if decoded != j {
		t.Errorf("decoded job = %+v, want %+v", decoded, j)
	}
}

func TestPublishRetry(t *testing.T) {
	fp := &fakePublisher{}
	j := job.DeliveryJob{DeliveryID: "d1", EventID: "e1", TargetURL: "https://example.com/hook", PayloadJSON: `{}`, Attempt: 2}

	if err := PublishRetry(context.Background(), fp, j, 2*time.Minute); err != nil {
		t.Fatalf("PublishRetry() error = %v", err)
	}

	if fp.exchange != "" {
		t.Errorf("exchange = %q, want default exchange \"\"", fp.exchange)
	}
	if fp.key != RetryQueue {
		t.Errorf("key = %q, want retry queue name %q", fp.key, RetryQueue)
	}
	if fp.msg.Expiration != "120000" {
		t.Errorf("Expiration = %q, want 120000ms", fp.msg.Expiration)
	}
}
