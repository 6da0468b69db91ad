// Package ingest implements the ingest pipeline: signature
// verification, idempotent event capture, destination fan-out, and job
// enqueue, all under a single committing boundary.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/cvieirasp/webhookhub/internal/broker"
	"github.com/cvieirasp/webhookhub/internal/job"
	"github.com/cvieirasp/webhookhub/internal/store"
	"github.com/cvieirasp/webhookhub/internal/verify"
)

// Kind classifies an ingest failure for HTTP status mapping at the boundary.
type Kind string

const (
	KindBadRequest   Kind = "BadRequest"
	KindUnauthorized Kind = "Unauthorized"
	KindNotFound     Kind = "NotFound"
	KindInternal     Kind = "Internal"
)

// Error is the structured error type returned by Ingest; its Kind drives the
// HTTP response mapping at the edge.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string { return e.Message }

func badRequest(msg string) error   { return &Error{Kind: KindBadRequest, Message: msg} }
func unauthorized(msg string) error { return &Error{Kind: KindUnauthorized, Message: msg} }
func notFound(msg string) error     { return &Error{Kind: KindNotFound, Message: msg} }
func internal(msg string) error     { return &Error{Kind: KindInternal, Message: msg} }

// DefaultMaxAttempts is the per-delivery retry budget recorded at insert
// time. The deliveries.max_attempts column is authoritative from then on.
const DefaultMaxAttempts = 5

// Store is the slice of the persistence layer the ingest pipeline depends
// on, narrowed to an interface so the pipeline can be exercised against a
// fake in tests.
type Store interface {
	GetSourceByName(ctx context.Context, name string) (*store.Source, error)
	BeginIngestTx(ctx context.Context) (pgx.Tx, error)
	InsertEventIdempotent(ctx context.Context, tx pgx.Tx, ev store.Event) (id string, created bool, err error)
	MatchingActiveDestinations(ctx context.Context, tx pgx.Tx, sourceName, eventType string) ([]store.Destination, error)
	InsertPendingDelivery(ctx context.Context, tx pgx.Tx, eventID, destinationID string, maxAttempts int) (string, error)
}

// Outcome is the result of a successful Ingest call, successful meaning the
// request is accepted with 202 regardless of whether it was new or a
// duplicate.
type Outcome struct {
	EventID       string
	Duplicate     bool
	DeliveryCount int
}

// Service wires the ingest pipeline's dependencies: the store and the
// broker publisher.
type Service struct {
	Store     Store
	Publisher broker.Publisher

	// MaxAttempts is recorded on each new delivery row; the column is
	// authoritative from then on. Zero falls back to DefaultMaxAttempts.
	MaxAttempts int
}

// New builds an ingest Service.
func New(st Store, pub broker.Publisher) *Service {
	return &Service{Store: st, Publisher: pub}
}

// Input bundles one inbound ingest request.
type Input struct {
	SourceName        string
	EventType         string
	RawBody           []byte
	ProvidedSignature string
	CorrelationID     string
	IdempotencyHeader string // X-Idempotency-Key, if the caller supplied one
}

// Ingest runs the full pipeline:
//  1. load + validate the source
//  2. verify the signature
//  3. derive the idempotency key
//  4. insert the event row transactionally; on a unique-key collision this
//     is the duplicate path — commit harmlessly, create no deliveries
//  5. on the new path, fan out to every matching active destination and
//     insert one PENDING delivery per match
//  6. commit the transaction
//  7. only after a successful commit, publish one DeliveryJob per new
//     delivery; a publish failure here leaves an orphan PENDING row for an
//     external reconciler to pick up
func (s *Service) Ingest(ctx context.Context, in Input) (Outcome, error) {
	if strings.TrimSpace(in.EventType) == "" {
		return Outcome{}, badRequest("eventType must not be blank")
	}

	src, err := s.Store.GetSourceByName(ctx, in.SourceName)
	if err != nil {
		if err == store.ErrNotFound {
			return Outcome{}, notFound(fmt.Sprintf("unknown source %q", in.SourceName))
		}
		return Outcome{}, internal(fmt.Sprintf("load source: %v", err))
	}
	if !src.Active {
		return Outcome{}, unauthorized("source is inactive")
	}

	if !verify.Verify(src.HMACSecret, in.RawBody, in.ProvidedSignature) {
		return Outcome{}, unauthorized("invalid signature")
	}

	idempotencyKey := deriveIdempotencyKey(in.IdempotencyHeader, in.SourceName, in.EventType, in.RawBody)

	tx, err := s.Store.BeginIngestTx(ctx)
	if err != nil {
		return Outcome{}, internal(fmt.Sprintf("begin tx: %v", err))
	}
	defer tx.Rollback(ctx) // no-op after a successful Commit

	eventID, created, err := s.Store.InsertEventIdempotent(ctx, tx, store.Event{
		SourceName:     in.SourceName,
		EventType:      in.EventType,
		IdempotencyKey: idempotencyKey,
		PayloadJSON:    string(in.RawBody),
		CorrelationID:  in.CorrelationID,
	})
	if err != nil {
		return Outcome{}, internal(fmt.Sprintf("insert event: %v", err))
	}

	if !created {
		if err := tx.Commit(ctx); err != nil {
			return Outcome{}, internal(fmt.Sprintf("commit duplicate: %v", err))
		}
		return Outcome{EventID: eventID, Duplicate: true}, nil
	}

	destinations, err := s.Store.MatchingActiveDestinations(ctx, tx, in.SourceName, in.EventType)
	if err != nil {
		return Outcome{}, internal(fmt.Sprintf("match destinations: %v", err))
	}

	type created1 struct {
		deliveryID string
		targetURL  string
	}
	maxAttempts := s.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	var newDeliveries []created1
	for _, dst := range destinations {
		deliveryID, err := s.Store.InsertPendingDelivery(ctx, tx, eventID, dst.ID, maxAttempts)
		if err != nil {
			return Outcome{}, internal(fmt.Sprintf("insert delivery: %v", err))
		}
		newDeliveries = append(newDeliveries, created1{deliveryID: deliveryID, targetURL: dst.TargetURL})
	}

	if err := tx.Commit(ctx); err != nil {
		return Outcome{}, internal(fmt.Sprintf("commit: %v", err))
	}

	// Broker publish happens-after commit. A publish failure
	// here is a deliberate, documented limit on inbound exactly-once: it
	// leaves an orphan PENDING row that a re-ingest of the same event will
	// not self-heal, because the idempotency guard will now short-circuit.
	for _, d := range newDeliveries {
		j := job.DeliveryJob{
			DeliveryID:  d.deliveryID,
			EventID:     eventID,
			TargetURL:   d.targetURL,
			PayloadJSON: string(in.RawBody),
			Attempt:     1,
		}
		if err := broker.PublishJob(ctx, s.Publisher, j); err != nil {
			return Outcome{}, internal(fmt.Sprintf("publish job: %v", err))
		}
	}

	return Outcome{EventID: eventID, DeliveryCount: len(newDeliveries)}, nil
}

// deriveIdempotencyKey fixes the event's natural key: an externally-supplied
// X-Idempotency-Key header wins verbatim when present and non-blank;
// otherwise the key is derived from request metadata as
// sha256(sourceName || 0x00 || eventType || 0x00 || rawBody), hex-encoded.
func deriveIdempotencyKey(header, sourceName, eventType string, rawBody []byte) string {
	if strings.TrimSpace(header) != "" {
		return header
	}
	h := sha256.New()
	h.Write([]byte(sourceName))
	h.Write([]byte{0})
	h.Write([]byte(eventType))
	h.Write([]byte{0})
	h.Write(rawBody)
	return hex.EncodeToString(h.Sum(nil))
}
