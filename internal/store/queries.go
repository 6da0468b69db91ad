package store

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a lookup by unique key finds no row.
var ErrNotFound = errors.New("store: not found")

// Store wraps the connection pool with the query methods exposed to the
// ingest pipeline, the worker, and the admin surfaces.
type Store struct {
	Pool *pgxpool.Pool
}

// New wraps an already-connected pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{Pool: pool}
}

// newHMACSecret returns a 64-char lowercase hex string, generated with a CSPRNG.
func newHMACSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// --- admin CRUD ---

// CreateSource inserts a new Source with a freshly generated HMAC secret.
// The secret is returned once, here, and never again.
func (s *Store) CreateSource(ctx context.Context, name string) (*Source, error) {
	secret, err := newHMACSecret()
	if err != nil {
		return nil, fmt.Errorf("generate hmac secret: %w", err)
	}
	src := &Source{ID: uuid.NewString(), Name: name, HMACSecret: secret, Active: true}
	err = s.Pool.QueryRow(ctx, `
		INSERT INTO sources(id, name, hmac_secret, active)
		VALUES ($1, $2, $3, true)
		RETURNING created_at`,
		src.ID, src.Name, src.HMACSecret,
	).Scan(&src.CreatedAt)
	if err != nil {
		return nil, err
	}
	return src, nil
}

// CreateDestination inserts a Destination together with its initial rule set.
// At least one rule is required.
func (s *Store) CreateDestination(ctx context.Context, name, targetURL string, rules []DestinationRule) (*Destination, error) {
	if len(rules) == 0 {
		return nil, fmt.Errorf("destination %q requires at least one rule", name)
	}
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	dst := &Destination{ID: uuid.NewString(), Name: name, TargetURL: targetURL, Active: true}
	if err := tx.QueryRow(ctx, `
		INSERT INTO destinations(id, name, target_url, active)
		VALUES ($1, $2, $3, true)
		RETURNING created_at`,
		dst.ID, dst.Name, dst.TargetURL,
	).Scan(&dst.CreatedAt); err != nil {
		return nil, err
	}

	batch := &pgx.Batch{}
	for _, r := range rules {
		batch.Queue(`
			INSERT INTO destination_rules(id, destination_id, source_name, event_type)
			VALUES ($1, $2, $3, $4)`,
			uuid.NewString(), dst.ID, r.SourceName, r.EventType)
	}
	br := tx.SendBatch(ctx, batch)
	for range rules {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return nil, err
		}
	}
	if err := br.Close(); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return dst, nil
}

// AddDestinationRule appends a rule to an existing destination.
func (s *Store) AddDestinationRule(ctx context.Context, destinationID, sourceName, eventType string) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO destination_rules(id, destination_id, source_name, event_type)
		VALUES ($1, $2, $3, $4)`,
		uuid.NewString(), destinationID, sourceName, eventType)
	return err
}

// ListDeliveries is the read-only delivery query surface; it supports
// optional filtering by event.
func (s *Store) ListDeliveries(ctx context.Context, eventID string, limit int) ([]Delivery, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows pgx.Rows
	var err error
	if eventID != "" {
		rows, err = s.Pool.Query(ctx, `
			SELECT id, event_id, destination_id, status, attempts, max_attempts,
			       last_error, last_attempt_at, delivered_at, created_at
			FROM deliveries
			WHERE event_id = $1
			ORDER BY created_at ASC
			LIMIT $2`, eventID, limit)
	} else {
		rows, err = s.Pool.Query(ctx, `
			SELECT id, event_id, destination_id, status, attempts, max_attempts,
			       last_error, last_attempt_at, delivered_at, created_at
			FROM deliveries
			ORDER BY created_at DESC
			LIMIT $1`, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Delivery
	for rows.Next() {
		var d Delivery
		if err := rows.Scan(&d.ID, &d.EventID, &d.DestinationID, &d.Status, &d.Attempts, &d.MaxAttempts,
			&d.LastError, &d.LastAttemptAt, &d.DeliveredAt, &d.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// --- ingest pipeline support ---

// BeginIngestTx opens the REPEATABLE READ transaction the ingest pipeline
// runs the insert-then-select fan-out in; the elevated isolation keeps the
// insert-then-select race against the unique key well-defined.
func (s *Store) BeginIngestTx(ctx context.Context) (pgx.Tx, error) {
	return s.Pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
}

// GetSourceByName loads a Source row by its unique name. Returns ErrNotFound
// if no such source is registered.
func (s *Store) GetSourceByName(ctx context.Context, name string) (*Source, error) {
	var src Source
	err := s.Pool.QueryRow(ctx, `
		SELECT id, name, hmac_secret, active, created_at
		FROM sources WHERE name = $1`, name,
	).Scan(&src.ID, &src.Name, &src.HMACSecret, &src.Active, &src.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &src, nil
}

// InsertEventIdempotent attempts to insert a new Event row. If a row with the
// same (sourceName, idempotencyKey) already exists, the insert is a no-op and
// created=false is returned along with the pre-existing row's id — this is
// the sole arbiter of ingest dedup under concurrent identical requests.
func (s *Store) InsertEventIdempotent(ctx context.Context, tx pgx.Tx, ev Event) (id string, created bool, err error) {
	id = uuid.NewString()
	ct, err := tx.Exec(ctx, `
		INSERT INTO events(id, source_name, event_type, idempotency_key, payload_json, correlation_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (source_name, idempotency_key) DO NOTHING`,
		id, ev.SourceName, ev.EventType, ev.IdempotencyKey, ev.PayloadJSON, ev.CorrelationID)
	if err != nil {
		return "", false, err
	}
	if ct.RowsAffected() == 1 {
		return id, true, nil
	}

	// Someone else (or a prior attempt of this same request) already won the
	// race; fetch the existing row's id instead.
	var existing string
	err = tx.QueryRow(ctx, `
		SELECT id FROM events WHERE source_name = $1 AND idempotency_key = $2`,
		ev.SourceName, ev.IdempotencyKey,
	).Scan(&existing)
	if err != nil {
		return "", false, err
	}
	return existing, false, nil
}

// MatchingActiveDestinations returns every active Destination with a rule
// matching (sourceName, eventType).
func (s *Store) MatchingActiveDestinations(ctx context.Context, tx pgx.Tx, sourceName, eventType string) ([]Destination, error) {
	rows, err := tx.Query(ctx, `
		SELECT DISTINCT d.id, d.name, d.target_url, d.active, d.created_at
		FROM destinations d
		JOIN destination_rules r ON r.destination_id = d.id
		WHERE d.active = true AND r.source_name = $1 AND r.event_type = $2`,
		sourceName, eventType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Destination
	for rows.Next() {
		var d Destination
		if err := rows.Scan(&d.ID, &d.Name, &d.TargetURL, &d.Active, &d.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// InsertPendingDelivery creates one PENDING delivery row for (eventID, destinationID).
func (s *Store) InsertPendingDelivery(ctx context.Context, tx pgx.Tx, eventID, destinationID string, maxAttempts int) (string, error) {
	id := uuid.NewString()
	_, err := tx.Exec(ctx, `
		INSERT INTO deliveries(id, event_id, destination_id, status, attempts, max_attempts)
		VALUES ($1, $2, $3, 'PENDING', 0, $4)`,
		id, eventID, destinationID, maxAttempts)
	if err != nil {
		return "", err
	}
	return id, nil
}

// GetEvent loads one event row by id.
func (s *Store) GetEvent(ctx context.Context, eventID string) (*Event, error) {
	var ev Event
	var correlationID *string
	err := s.Pool.QueryRow(ctx, `
		SELECT id, source_name, event_type, idempotency_key, payload_json, correlation_id, received_at
		FROM events WHERE id = $1`, eventID,
	).Scan(&ev.ID, &ev.SourceName, &ev.EventType, &ev.IdempotencyKey, &ev.PayloadJSON, &correlationID, &ev.ReceivedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if correlationID != nil {
		ev.CorrelationID = *correlationID
	}
	return &ev, nil
}

// ErrNotReplayable is returned when a replay targets a delivery that is not
// in the DEAD state.
var ErrNotReplayable = errors.New("store: delivery is not DEAD")

// ResetDeliveryForReplay moves a DEAD delivery back to PENDING with its
// attempt counter cleared, for manual replay. Replaying any other state is
// refused: DELIVERED rows are final, and PENDING/RETRYING rows are still
// owned by the broker.
func (s *Store) ResetDeliveryForReplay(ctx context.Context, deliveryID string) error {
	ct, err := s.Pool.Exec(ctx, `
		UPDATE deliveries
		SET status = 'PENDING', attempts = 0, last_error = NULL, last_attempt_at = NULL
		WHERE id = $1 AND status = 'DEAD'`,
		deliveryID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		if _, err := s.GetDelivery(ctx, deliveryID); err != nil {
			return err
		}
		return ErrNotReplayable
	}
	return nil
}

// --- worker support ---

// GetDelivery loads a Delivery row plus its destination's target URL and the
// event's raw payload, joined at read time for the worker's convenience.
func (s *Store) GetDelivery(ctx context.Context, deliveryID string) (*Delivery, error) {
	var d Delivery
	err := s.Pool.QueryRow(ctx, `
		SELECT del.id, del.event_id, del.destination_id, del.status, del.attempts, del.max_attempts,
		       del.last_error, del.last_attempt_at, del.delivered_at, del.created_at,
		       dst.target_url, ev.payload_json
		FROM deliveries del
		JOIN destinations dst ON dst.id = del.destination_id
		JOIN events ev ON ev.id = del.event_id
		WHERE del.id = $1`, deliveryID,
	).Scan(&d.ID, &d.EventID, &d.DestinationID, &d.Status, &d.Attempts, &d.MaxAttempts,
		&d.LastError, &d.LastAttemptAt, &d.DeliveredAt, &d.CreatedAt, &d.TargetURL, &d.PayloadJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// MarkDelivered records a terminal DELIVERED outcome. deliveredAt is captured
// by the caller *after* the 2xx response is received; timestamp precedence
// matters for audit.
func (s *Store) MarkDelivered(ctx context.Context, deliveryID string, attempts int, deliveredAt time.Time) error {
	ct, err := s.Pool.Exec(ctx, `
		UPDATE deliveries
		SET status = 'DELIVERED', attempts = $2, delivered_at = $3, last_attempt_at = $3
		WHERE id = $1`,
		deliveryID, attempts, deliveredAt)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkFailure records an intermediate (RETRYING) or terminal (DEAD) failure.
// This write always precedes the broker ack.
func (s *Store) MarkFailure(ctx context.Context, deliveryID string, status DeliveryStatus, attempts int, lastError string, at time.Time) error {
	ct, err := s.Pool.Exec(ctx, `
		UPDATE deliveries
		SET status = $2, attempts = $3, last_error = $4, last_attempt_at = $5
		WHERE id = $1`,
		deliveryID, status, attempts, lastError, at)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
