package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"presshook/internal/hook"
)

var (
	// ErrNotFound: no delivery record with that id.
	ErrNotFound = errors.New("delivery record not found")
	// ErrNotPending: a transition expected the record to be in flight.
	ErrNotPending = errors.New("delivery record is not pending")
	// ErrNotRetryable: manual replay requested on a non-failed record.
	ErrNotRetryable = errors.New("delivery record is not in a retryable state")
)

// Querier is the subset of pgxpool.Pool the stores use. pgxmock satisfies
// it in tests.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const schema = `
CREATE SCHEMA IF NOT EXISTS presshook;
CREATE TABLE IF NOT EXISTS presshook.delivery_records (
	id uuid PRIMARY KEY,
	target_url text NOT NULL,
	payload jsonb NOT NULL,
	status text NOT NULL,
	attempt int NOT NULL DEFAULT 0,
	response_status int,
	last_error text,
	created_at timestamptz NOT NULL DEFAULT now(),
	updated_at timestamptz NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_delivery_records_status ON presshook.delivery_records(status, updated_at);
CREATE TABLE IF NOT EXISTS presshook.audit_records (
	id uuid PRIMARY KEY,
	actor text NOT NULL,
	action text NOT NULL,
	target_type text NOT NULL,
	target_id text NOT NULL,
	created_at timestamptz NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_audit_records_created_at ON presshook.audit_records(created_at);
`

// EnsureSchema creates the presshook tables if they do not exist yet.
func EnsureSchema(ctx context.Context, q Querier) error {
	_, err := q.Exec(ctx, schema)
	return err
}

// DeliveryStore owns the delivery_records table. All status transitions are
// conditional updates keyed on the current status, which serializes retry
// progress against manual replay per record.
type DeliveryStore struct {
	q Querier
}

func NewDeliveryStore(q Querier) *DeliveryStore {
	return &DeliveryStore{q: q}
}

// Create inserts a new pending record with attempt 0 and fills in the
// database-assigned timestamps.
func (s *DeliveryStore) Create(ctx context.Context, rec *hook.Record) error {
	payload, err := json.Marshal(rec.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	rec.Status = hook.StatusPending
	rec.Attempt = 0
	err = s.q.QueryRow(ctx, `
		INSERT INTO presshook.delivery_records(id, target_url, payload, status, attempt)
		VALUES ($1, $2, $3::jsonb, 'pending', 0)
		RETURNING created_at, updated_at`,
		rec.ID, rec.TargetURL, string(payload),
	).Scan(&rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert delivery record: %w", err)
	}
	return nil
}

// RecordAttempt increments the lifetime attempt counter and stores the
// attempt's result. Only a pending record accepts attempts, so a record
// that already reached success or failed can never gain another one.
// Returns the new attempt count.
func (s *DeliveryStore) RecordAttempt(ctx context.Context, id string, responseStatus *int, lastError string) (int, error) {
	var attempt int
	err := s.q.QueryRow(ctx, `
		UPDATE presshook.delivery_records
		SET attempt = attempt + 1,
		    response_status = $2,
		    last_error = NULLIF($3, ''),
		    updated_at = now()
		WHERE id = $1 AND status = 'pending'
		RETURNING attempt`,
		id, responseStatus, lastError,
	).Scan(&attempt)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotPending
	}
	if err != nil {
		return 0, fmt.Errorf("record attempt: %w", err)
	}
	return attempt, nil
}

// Finalize moves a pending record to a terminal status. Success is
// immutable afterwards: no conditional update will match it again.
func (s *DeliveryStore) Finalize(ctx context.Context, id string, status hook.Status) error {
	if !status.Terminal() {
		return fmt.Errorf("finalize with non-terminal status %q", status)
	}
	ct, err := s.q.Exec(ctx, `
		UPDATE presshook.delivery_records
		SET status = $2, updated_at = now()
		WHERE id = $1 AND status = 'pending'`,
		id, string(status),
	)
	if err != nil {
		return fmt.Errorf("finalize delivery record: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotPending
	}
	return nil
}

// ClaimRetry atomically flips a failed record back to pending and returns
// its current state for re-dispatch. Exactly one caller can win; a record
// that is pending (an automatic retry in flight) or already succeeded
// yields ErrNotRetryable.
func (s *DeliveryStore) ClaimRetry(ctx context.Context, id string) (*hook.Record, error) {
	rec := hook.Record{ID: id, Status: hook.StatusPending}
	var payload []byte
	err := s.q.QueryRow(ctx, `
		UPDATE presshook.delivery_records
		SET status = 'pending', updated_at = now()
		WHERE id = $1 AND status = 'failed'
		RETURNING target_url, payload, attempt, response_status, COALESCE(last_error, ''), created_at, updated_at`,
		id,
	).Scan(&rec.TargetURL, &payload, &rec.Attempt, &rec.ResponseStatus, &rec.LastError, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		// Distinguish a missing record from one in the wrong state.
		if _, getErr := s.Get(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, ErrNotRetryable
	}
	if err != nil {
		return nil, fmt.Errorf("claim retry: %w", err)
	}
	if err := json.Unmarshal(payload, &rec.Payload); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	return &rec, nil
}

// Get fetches one record by id.
func (s *DeliveryStore) Get(ctx context.Context, id string) (*hook.Record, error) {
	rec := hook.Record{ID: id}
	var payload []byte
	var status string
	err := s.q.QueryRow(ctx, `
		SELECT target_url, payload, status, attempt, response_status, COALESCE(last_error, ''), created_at, updated_at
		FROM presshook.delivery_records
		WHERE id = $1`,
		id,
	).Scan(&rec.TargetURL, &payload, &status, &rec.Attempt, &rec.ResponseStatus, &rec.LastError, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get delivery record: %w", err)
	}
	rec.Status = hook.Status(status)
	if err := json.Unmarshal(payload, &rec.Payload); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	return &rec, nil
}

// ListFilter narrows and pages the delivery history.
type ListFilter struct {
	Status string // empty means all statuses
	Limit  int
	Offset int
}

// List returns delivery records newest-first.
func (s *DeliveryStore) List(ctx context.Context, f ListFilter) ([]hook.Record, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	args := []any{f.Limit, f.Offset}
	where := ""
	if f.Status != "" {
		where = "WHERE status = $3"
		args = append(args, f.Status)
	}
	rows, err := s.q.Query(ctx, fmt.Sprintf(`
		SELECT id, target_url, payload, status, attempt, response_status, COALESCE(last_error, ''), created_at, updated_at
		FROM presshook.delivery_records
		%s
		ORDER BY updated_at DESC
		LIMIT $1 OFFSET $2`, where),
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("list delivery records: %w", err)
	}
	defer rows.Close()

	var out []hook.Record
	for rows.Next() {
		var rec hook.Record
		var payload []byte
		var status string
		if err := rows.Scan(&rec.ID, &rec.TargetURL, &payload, &status, &rec.Attempt,
			&rec.ResponseStatus, &rec.LastError, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		rec.Status = hook.Status(status)
		if err := json.Unmarshal(payload, &rec.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal payload: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// DeleteSucceededBefore removes successful records older than the cutoff.
// Failed records are kept indefinitely for postmortem; pending records are
// live and never touched, so the sweep is safe alongside dispatch.
func (s *DeliveryStore) DeleteSucceededBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	ct, err := s.q.Exec(ctx, `
		DELETE FROM presshook.delivery_records
		WHERE status = 'success' AND updated_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("delete succeeded records: %w", err)
	}
	return ct.RowsAffected(), nil
}
