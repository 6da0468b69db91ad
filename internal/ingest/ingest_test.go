package ingest

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/cvieirasp/webhookhub/internal/store"
	"github.com/cvieirasp/webhookhub/internal/verify"
)

// fakeTx embeds the pgx.Tx interface so it satisfies it without implementing
// every method; only Commit/Rollback are exercised by the pipeline.
type fakeTx struct {
	pgx.Tx
	committed  bool
	rolledBack bool
}

func (f *fakeTx) Commit(ctx context.Context) error   { f.committed = true; return nil }
func (f *fakeTx) Rollback(ctx context.Context) error { f.rolledBack = true; return nil }

type fakeStore struct {
	source             *store.Source
	sourceErr          error
	tx                 *fakeTx
	eventID            string
	created            bool
	insertErr          error
	destinations       []store.Destination
	destinationsErr    error
	insertDeliveryErrs map[string]error
	insertedDeliveries []string
}

func (f *fakeStore) GetSourceByName(ctx context.Context, name string) (*store.Source, error) {
	return f.source, f.sourceErr
}

func (f *fakeStore) BeginIngestTx(ctx context.Context) (pgx.Tx, error) {
	f.tx = &fakeTx{}
	return f.tx, nil
}

func (f *fakeStore) InsertEventIdempotent(ctx context.Context, tx pgx.Tx, ev store.Event) (string, bool, error) {
	return f.eventID, f.created, f.insertErr
}

func (f *fakeStore) MatchingActiveDestinations(ctx context.Context, tx pgx.Tx, sourceName, eventType string) ([]store.Destination, error) {
	return f.destinations, f.destinationsErr
}

func (f *fakeStore) InsertPendingDelivery(ctx context.Context, tx pgx.Tx, eventID, destinationID string, maxAttempts int) (string, error) {
	f.insertedDeliveries = append(f.insertedDeliveries, destinationID)
	deliveryID := "delivery-" + destinationID
	return deliveryID, f.insertDeliveryErrs[destinationID]
}

type fakePublisher struct {
	published []amqp.Publishing
	failNext  bool
}

func (f *fakePublisher) PublishWithContext(_ context.Context, _, _ string, _, _ bool, msg amqp.Publishing) error {
	if f.failNext {
		return errors.New("publish failed")
	}
	f.published = append(f.published, msg)
	return nil
}

const testSecret = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"

func TestIngestHappyPath(t *testing.T) {
	body := []byte(`{"hello":"world"}`)
	sig := verify.Sign(testSecret, body)

	st := &fakeStore{
		source:       &store.Source{Name: "github", HMACSecret: testSecret, Active: true},
		eventID:      "event-1",
		created:      true,
		destinations: []store.Destination{{ID: "dest-1", TargetURL: "https://example.com/hook"}},
	}
	pub := &fakePublisher{}
	svc := New(st, pub)

	out, err := svc.Ingest(context.Background(), Input{
		SourceName:        "github",
		EventType:         "push",
		RawBody:           body,
		ProvidedSignature: sig,
	})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if out.Duplicate {
		t.Error("Duplicate = true, want false")
	}
	if out.DeliveryCount != 1 {
		t.Errorf("DeliveryCount = %d, want 1", out.DeliveryCount)
	}
	if !st.tx.committed {
		t.Error("transaction was not committed")
	}
	if len(pub.published) != 1 {
		t.Fatalf("published %d jobs, want 1", len(pub.published))
	}
}

func TestIngestDuplicateSkipsFanOut(t *testing.T) {
	body := []byte(`{}`)
	sig := verify.Sign(testSecret, body)

	st := &fakeStore{
		source:  &store.Source{Name: "github", HMACSecret: testSecret, Active: true},
		eventID: "event-1",
		created: false,
	}
	pub := &fakePublisher{}
	svc := New(st, pub)

	out, err := svc.Ingest(context.Background(), Input{SourceName: "github", EventType: "push", RawBody: body, ProvidedSignature: sig})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if !out.Duplicate {
		t.Error("Duplicate = false, want true")
	}
	if len(pub.published) != 0 {
		t.Error("a duplicate must not publish any job")
	}
	if !st.tx.committed {
		t.Error("duplicate path must still commit")
	}
}

func TestIngestUnknownSourceIsNotFound(t *testing.T) {
	st := &fakeStore{sourceErr: store.ErrNotFound}
	svc := New(st, &fakePublisher{})

	_, err := svc.Ingest(context.Background(), Input{SourceName: "ghost", EventType: "push", RawBody: []byte(`{}`)})
	var ierr *Error
	if !errors.As(err, &ierr) || ierr.Kind != KindNotFound {
		t.Fatalf("Ingest() error = %v, want KindNotFound", err)
	}
}

func TestIngestInactiveSourceIsUnauthorized(t *testing.T) {
	st := &fakeStore{source: &store.Source{Name: "github", HMACSecret: testSecret, Active: false}}
	svc := New(st, &fakePublisher{})

	_, err := svc.Ingest(context.Background(), Input{SourceName: "github", EventType: "push", RawBody: []byte(`{}`)})
	var ierr *Error
	if !errors.As(err, &ierr) || ierr.Kind != KindUnauthorized {
		t.Fatalf("Ingest() error = %v, want KindUnauthorized", err)
	}
}

func TestIngestBadSignatureIsUnauthorized(t *testing.T) {
	st := &fakeStore{source: &store.Source{Name: "github", HMACSecret: testSecret, Active: true}}
	svc := New(st, &fakePublisher{})

	_, err := svc.Ingest(context.Background(), Input{
		SourceName:        "github",
		EventType:         "push",
		RawBody:           []byte(`{}`),
		ProvidedSignature: "deadbeef",
	})
	var ierr *Error
	if !errors.As(err, &ierr) || ierr.Kind != KindUnauthorized {
		t.Fatalf("Ingest() error = %v, want KindUnauthorized", err)
	}
}

func TestIngestBlankEventTypeIsBadRequest(t *testing.T) {
	svc := New(&fakeStore{}, &fakePublisher{})

	_, err := svc.Ingest(context.Background(), Input{SourceName: "github", EventType: "", RawBody: []byte(`{}`)})
	var ierr *Error
	if !errors.As(err, &ierr) || ierr.Kind != KindBadRequest {
		t.Fatalf("Ingest() error = %v, want KindBadRequest", err)
	}
}

func TestIngestPublishFailureAfterCommitIsInternal(t *testing.T) {
	body := []byte(`{}`)
	sig := verify.Sign(testSecret, body)

	st := &fakeStore{
		source:       &store.Source{Name: "github", HMACSecret: testSecret, Active: true},
		eventID:      "event-1",
		created:      true,
		destinations: []store.Destination{{ID: "dest-1", TargetURL: "https://example.com/hook"}},
	}
	pub := &fakePublisher{failNext: true}
	svc := New(st, pub)

	_, err := svc.Ingest(context.Background(), Input{SourceName: "github", EventType: "push", RawBody: body, ProvidedSignature: sig})
	var ierr *Error
	if !errors.As(err, &ierr) || ierr.Kind != KindInternal {
		t.Fatalf("Ingest() error = %v, want KindInternal", err)
	}
	if !st.tx.committed {
		t.Error("commit must already have happened before the publish step")
	}
}

func TestDeriveIdempotencyKeyPrefersHeader(t *testing.T) {
	got := deriveIdempotencyKey("client-supplied-key", "github", "push", []byte(`{}`))
	if got != "client-supplied-key" {
		t.Errorf("deriveIdempotencyKey() = %q, want the header verbatim", got)
	}
}

func TestDeriveIdempotencyKeyIsDeterministic(t *testing.T) {
	a := deriveIdempotencyKey("", "github", "push", []byte(`{"a":1}`))
	b := deriveIdempotencyKey("", "github", "push", []byte(`{"a":1}`))
	if a != b {
		t.Error("derived key must be deterministic for identical inputs")
	}
	c := deriveIdempotencyKey("", "github", "push", []byte(`{"a":2}`))
	if a == c {
		t.Error("derived key must differ for different bodies")
	}
}
