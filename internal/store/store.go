// Package store is the Postgres persistence layer: sources, destinations,
// destination rules, events, and deliveries.
package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Connect establishes a connection pool to the database and verifies it with
// a ping before returning.
func Connect(ctx context.Context, dsn string, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = maxConns

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	ctxPing, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctxPing); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// DeliveryStatus is the lifecycle state of one delivery attempt row.
type DeliveryStatus string

const (
	StatusPending  DeliveryStatus = "PENDING"
	StatusRetrying DeliveryStatus = "RETRYING"
	StatusDelivered DeliveryStatus = "DELIVERED"
	StatusDead     DeliveryStatus = "DEAD"
)

// Source is an inbound webhook origin registered with its HMAC secret.
type Source struct {
	ID         string
	Name       string
	HMACSecret string
	Active     bool
	CreatedAt  time.Time
}

// Destination is a target URL that events can be fanned out to.
type Destination struct {
	ID        string
	Name      string
	TargetURL string
	Active    bool
	CreatedAt time.Time
}

// DestinationRule binds a destination to the (sourceName, eventType) pairs it
// wants to receive.
type DestinationRule struct {
	ID            string
	DestinationID string
	SourceName    string
	EventType     string
}

// Event is one accepted, idempotency-deduplicated inbound payload.
type Event struct {
	ID             string
	SourceName     string
	EventType      string
	IdempotencyKey string
	PayloadJSON    string
	CorrelationID  string
	ReceivedAt     time.Time
}

// Delivery is one attempt (and its retry lineage) of relaying an Event to a
// Destination.
type Delivery struct {
	ID            string
	EventID       string
	DestinationID string
	Status        DeliveryStatus
	Attempts      int
	MaxAttempts   int
	LastError     *string
	LastAttemptAt *time.Time
	DeliveredAt   *time.Time
	CreatedAt     time.Time

	// TargetURL and PayloadJSON are denormalized onto the row at read time
	// (joined from Destination/Event) for the worker's convenience; they are
	// never stored redundantly.
	TargetURL   string
	PayloadJSON string
}
