// Package worker implements the delivery state machine: consumption of
// delivery jobs, HTTP dispatch, durable status updates sequenced before
// acknowledgement, and broker-scheduled exponential-backoff retry.
package worker

import (
	"context"
	"time"

	"github.com/cvieirasp/webhookhub/internal/broker"
	"github.com/cvieirasp/webhookhub/internal/dispatch"
	"github.com/cvieirasp/webhookhub/internal/job"
	"github.com/cvieirasp/webhookhub/internal/store"
)

// Store is the slice of the persistence layer the worker depends on.
type Store interface {
	GetDelivery(ctx context.Context, deliveryID string) (*store.Delivery, error)
	MarkDelivered(ctx context.Context, deliveryID string, attempts int, deliveredAt time.Time) error
	MarkFailure(ctx context.Context, deliveryID string, status store.DeliveryStatus, attempts int, lastError string, at time.Time) error
}

// Dispatcher is the slice of the HTTP delivery client the worker depends on.
type Dispatcher interface {
	Post(ctx context.Context, url string, payloadJSON []byte) dispatch.Result
}

// Clock abstracts time.Now so tests can control timestamps; defaults to
// time.Now via New.
type Clock func() time.Time

// Worker processes one DeliveryJob at a time. It holds no retry state of
// its own; all scheduling is delegated to the broker.
type Worker struct {
	Store     Store
	Dispatch  Dispatcher
	Publisher broker.Publisher
	Now       Clock

	// Schedule overrides the default backoff table when non-empty, indexed by
	// failed attempt (1-based); attempts past the end clamp to the last entry.
	Schedule []time.Duration
}

// New builds a Worker. now defaults to time.Now when nil.
func New(st Store, d Dispatcher, pub broker.Publisher, now Clock) *Worker {
	if now == nil {
		now = time.Now
	}
	return &Worker{Store: st, Dispatch: d, Publisher: pub, Now: now}
}

// Outcome describes what happened to one processed job, for logging/metrics
// at the call site; it never changes what the worker already wrote/published.
type Outcome struct {
	Status     store.DeliveryStatus
	Retried    bool
	StatusCode int
}

// Backoff returns the delay before the next attempt given the attempt number
// that just failed (1-indexed). Attempt 4 and beyond clamp to the final
// bucket; the caller is responsible for checking attempts against
// maxAttempts before scheduling a retry at all.
func Backoff(failedAttempt int) time.Duration {
	switch {
	case failedAttempt <= 1:
		return 30 * time.Second
	case failedAttempt == 2:
		return 2 * time.Minute
	case failedAttempt == 3:
		return 10 * time.Minute
	default:
		return 30 * time.Minute
	}
}

func (w *Worker) backoffFor(failedAttempt int) time.Duration {
	if len(w.Schedule) == 0 {
		return Backoff(failedAttempt)
	}
	i := failedAttempt - 1
	if i < 0 {
		i = 0
	}
	if i >= len(w.Schedule) {
		i = len(w.Schedule) - 1
	}
	return w.Schedule[i]
}

// Process runs the per-message algorithm against an already-decoded job. The
// caller (the broker consumer loop) is responsible for ack/nack: Process
// returns an error only for infrastructure failures that call for
// nack(requeue=false); a nil error means the durable write (and any retry
// republish) already happened and the message should be acked.
func (w *Worker) Process(ctx context.Context, j job.DeliveryJob) (Outcome, error) {
	result := w.Dispatch.Post(ctx, j.TargetURL, []byte(j.PayloadJSON))

	if result.Success {
		deliveredAt := w.Now()
		if err := w.Store.MarkDelivered(ctx, j.DeliveryID, j.Attempt, deliveredAt); err != nil {
			return Outcome{}, err
		}
		return Outcome{Status: store.StatusDelivered}, nil
	}

	delivery, err := w.Store.GetDelivery(ctx, j.DeliveryID)
	if err != nil {
		return Outcome{}, err
	}

	exceeded := j.Attempt >= delivery.MaxAttempts
	nextStatus := store.StatusRetrying
	if exceeded || !result.Failure.Retryable {
		nextStatus = store.StatusDead
	}

	attemptAt := w.Now()
	if err := w.Store.MarkFailure(ctx, j.DeliveryID, nextStatus, j.Attempt, result.Failure.Message, attemptAt); err != nil {
		return Outcome{}, err
	}

	if nextStatus == store.StatusRetrying {
		next := j.NextAttempt()
		delay := w.backoffFor(j.Attempt)
		if err := broker.PublishRetry(ctx, w.Publisher, next, delay); err != nil {
			return Outcome{}, err
		}
		return Outcome{Status: nextStatus, Retried: true, StatusCode: result.Failure.StatusCode}, nil
	}

	return Outcome{Status: nextStatus, StatusCode: result.Failure.StatusCode}, nil
}
